package handlers

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	apideps "github.com/opst/shipfab/pkg/api/types/deployments"
	apierr "github.com/opst/shipfab/pkg/api/types/errors"
	oconf "github.com/opst/shipfab/pkg/configs/orchestrator"
	"github.com/opst/shipfab/pkg/domain"
	kerrors "github.com/opst/shipfab/pkg/domain/errors"
)

// headers a webhook sender authenticates with.
const (
	HeaderShipToken     = "X-Ship-Token"
	HeaderShipSignature = "X-Ship-Signature-256"
)

// Trigger is the accept side of the deployment pipeline.
type Trigger interface {
	// Submit takes a normalized push into the pipeline and returns at once.
	Submit(req domain.DeploymentRequest) error
}

// PushHookHandler handles webhook deliveries notifying a pushed revision.
//
// The sender is authenticated per conf: a shared secret header, an HMAC-SHA256
// signature over the body, or an HS256 bearer token. Accepted pushes are
// submitted to trigger and acknowledged with 202 at once; how the deployment
// went is the event log's business, not this response's.
//
// Error responses: 400 (malformed payload), 401 (not authenticated),
// 409 (the same push is queued already), 503 (the queue is full; the sender
// should retry, with backoff).
func PushHookHandler(trigger Trigger, conf *oconf.TriggerConfig) echo.HandlerFunc {
	return func(c echo.Context) error {
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return apierr.BadRequest("can not read the request body", err)
		}

		if err := authenticate(c, body, conf); err != nil {
			return apierr.Unauthorized("webhook delivery is not authenticated", err)
		}

		push := apideps.Push{}
		decoder := json.NewDecoder(bytes.NewReader(body))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&push); err != nil {
			return apierr.NewErrorMessage(
				http.StatusBadRequest,
				"format error",
				apierr.WithAdvice(err.Error()),
				apierr.WithError(err),
			)
		}

		req := domain.DeploymentRequest{
			Repository: push.Repository,
			RevisionID: push.Revision,
			Ref:        push.Ref,
			Author:     push.Author,
			Message:    push.Message,
		}
		if push.PushedAt != nil {
			req.PushedAt = push.PushedAt.Time()
		} else {
			// no sender clock in the payload. the arrival clock stands in.
			req.PushedAt = time.Now()
		}

		if err := trigger.Submit(req); err != nil {
			switch {
			case errors.Is(err, kerrors.ErrInvalidRequest):
				return apierr.BadRequest("a push needs its repository and revision", err)
			case errors.Is(err, domain.ErrDeploymentCoalesced):
				return apierr.Conflict("already queued", apierr.WithError(err))
			case errors.Is(err, kerrors.ErrBackpressure):
				return apierr.ServiceUnavailable(
					"the pipeline queue is full. retry later, with backoff", err,
				)
			default:
				return apierr.InternalServerError(err)
			}
		}

		return c.JSON(http.StatusAccepted, apideps.Receipt{
			Repository: push.Repository,
			Revision:   push.Revision,
			Ref:        push.Ref,
		})
	}
}

func authenticate(c echo.Context, body []byte, conf *oconf.TriggerConfig) error {
	switch conf.Mode() {
	case oconf.TriggerModeSecret:
		token := c.Request().Header.Get(HeaderShipToken)
		if token == "" {
			return fmt.Errorf("%w: no %s header", kerrors.ErrUnauthorized, HeaderShipToken)
		}
		if !hmac.Equal([]byte(token), []byte(conf.Secret())) {
			return fmt.Errorf("%w: the shared secret does not match", kerrors.ErrUnauthorized)
		}
		return nil

	case oconf.TriggerModeHMAC:
		sig := c.Request().Header.Get(HeaderShipSignature)
		if sig == "" {
			return fmt.Errorf("%w: no %s header", kerrors.ErrUnauthorized, HeaderShipSignature)
		}
		want, ok := strings.CutPrefix(sig, "sha256=")
		if !ok {
			return fmt.Errorf(
				"%w: the signature should be formatted as sha256=HEX", kerrors.ErrUnauthorized,
			)
		}
		mac := hmac.New(sha256.New, []byte(conf.Secret()))
		mac.Write(body)
		got := hex.EncodeToString(mac.Sum(nil))
		if !hmac.Equal([]byte(got), []byte(strings.ToLower(want))) {
			return fmt.Errorf("%w: the signature does not match", kerrors.ErrUnauthorized)
		}
		return nil

	case oconf.TriggerModeToken:
		auth := c.Request().Header.Get(echo.HeaderAuthorization)
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok {
			return fmt.Errorf("%w: no bearer token", kerrors.ErrUnauthorized)
		}
		options := []jwt.ParserOption{
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		}
		if issuer := conf.Issuer(); issuer != "" {
			options = append(options, jwt.WithIssuer(issuer))
		}
		if audience := conf.Audience(); audience != "" {
			options = append(options, jwt.WithAudience(audience))
		}
		if _, err := jwt.Parse(
			token,
			func(t *jwt.Token) (interface{}, error) { return []byte(conf.Secret()), nil },
			options...,
		); err != nil {
			return errors.Join(kerrors.ErrUnauthorized, err)
		}
		return nil
	}

	// config sealing refuses unknown modes. this is unreachable from a loaded config.
	return fmt.Errorf("unknown trigger mode: %s", conf.Mode())
}
