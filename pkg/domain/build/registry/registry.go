package registry

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
)

// Interface is the registry-side view of build artifacts.
//
// Builds publish images from inside the cluster. shipfab itself only asks
// the registry whether an artifact is there already, which is what makes
// rebuilding a known revision a no-op.
type Interface interface {
	// true when the artifact is already in the registry.
	//
	// Args
	//
	// - ctx context.Context
	//
	// - tag string: image reference, as domain.ArtifactTagFor derives it.
	//
	// Returns
	//
	// - bool: true when the registry has a manifest for the tag.
	// false (with nil error) when it has none.
	//
	// - error: the tag does not parse, or the registry could not be asked.
	// Errors here say nothing about the artifact; callers treat them
	// as transient.
	Exists(ctx context.Context, tag string) (bool, error)
}

type client struct {
	keychain authn.Keychain
	insecure bool
}

var _ Interface = &client{}

type Option func(*client) *client

// authenticate with the given keychain instead of the ambient docker config.
func WithKeychain(kc authn.Keychain) Option {
	return func(c *client) *client {
		c.keychain = kc
		return c
	}
}

// WithBasicAuth resolves every registry to one set of credentials.
//
// Empty username means anonymous access.
func WithBasicAuth(username string, password string) Option {
	return func(c *client) *client {
		if username == "" {
			return c
		}
		c.keychain = staticKeychain{username: username, password: password}
		return c
	}
}

// Insecure allows reaching registries over plain http.
func Insecure() Option {
	return func(c *client) *client {
		c.insecure = true
		return c
	}
}

func New(options ...Option) Interface {
	c := &client{keychain: authn.DefaultKeychain}
	for _, opt := range options {
		c = opt(c)
	}
	return c
}

type staticKeychain struct {
	username string
	password string
}

func (s staticKeychain) Resolve(authn.Resource) (authn.Authenticator, error) {
	return &authn.Basic{Username: s.username, Password: s.password}, nil
}

func (c *client) Exists(ctx context.Context, tag string) (bool, error) {
	opts := []name.Option{}
	if c.insecure {
		opts = append(opts, name.Insecure)
	}

	ref, err := name.ParseReference(tag, opts...)
	if err != nil {
		return false, err
	}

	_, err = remote.Head(
		ref,
		remote.WithContext(ctx),
		remote.WithAuthFromKeychain(c.keychain),
	)
	if err == nil {
		return true, nil
	}

	terr := new(transport.Error)
	if errors.As(err, &terr) && terr.StatusCode == http.StatusNotFound {
		return false, nil
	}
	return false, err
}
