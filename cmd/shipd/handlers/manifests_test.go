package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/opst/shipfab/cmd/shipd/handlers"
	httptestutil "github.com/opst/shipfab/internal/testutils/http"
	apimanifests "github.com/opst/shipfab/pkg/api/types/manifests"
	"github.com/opst/shipfab/pkg/domain"
	manifestmock "github.com/opst/shipfab/pkg/domain/manifest/db/mock"
	"github.com/opst/shipfab/pkg/utils/cmp"
	"github.com/opst/shipfab/pkg/utils/rfctime"
	"github.com/opst/shipfab/pkg/utils/slices"
	"github.com/opst/shipfab/pkg/utils/try"
)

func TestManifestHistoryHandler(t *testing.T) {

	createdAt := try.To(rfctime.ParseRFC3339DateTime(
		"2024-04-01T12:02:00.250+00:00",
	)).OrFatal(t).Time()
	entries := []domain.ManifestRevision{
		{
			Sequence:         5,
			RevisionID:       "aaaa0000",
			ArtifactTag:      "registry.invalid/app:rev-aaaa0000",
			PreviousSequence: 4,
			Author:           "dev@example.invalid",
			CreatedAt:        createdAt,
			Health:           domain.HealthVerified,
		},
		{
			Sequence:         6,
			RevisionID:       "bbbb1111",
			ArtifactTag:      "registry.invalid/app:rev-bbbb1111",
			PreviousSequence: 5,
			Author:           "dev@example.invalid",
			CreatedAt:        createdAt.Add(10 * time.Minute),
			Health:           domain.HealthUnknown,
		},
	}

	t.Run("it returns OK with manifest log entries", func(t *testing.T) {
		type when struct {
			request string
		}
		type then struct {
			since int64
		}

		for name, testcase := range map[string]struct {
			when
			then
		}{
			"when query is empty, it lists the whole log": {
				when{request: "/api/manifests"},
				then{since: 0},
			},
			"when query has since, it lists entries from that sequence": {
				when{request: "/api/manifests?since=5"},
				then{since: 5},
			},
		} {
			t.Run(name, func(t *testing.T) {
				mockManifest := manifestmock.NewManifestInterface()
				mockManifest.Impl.History = func(ctx context.Context, since int64) ([]domain.ManifestRevision, error) {
					return entries, nil
				}

				e := echo.New()
				c, respRec := httptestutil.Get(e, testcase.when.request)

				testee := handlers.ManifestHistoryHandler(mockManifest)
				if err := testee(c); err != nil {
					t.Fatal(err)
				}

				if !cmp.SliceEq(
					mockManifest.Calls.History, []int64{testcase.then.since},
				) {
					t.Errorf(
						"since does not match. (actual, expected) = (%+v, %d)",
						mockManifest.Calls.History, testcase.then.since,
					)
				}

				{
					actual := respRec.Result().StatusCode
					expected := http.StatusOK
					if actual != expected {
						t.Errorf("unmatch: status code: %d != %d", actual, expected)
					}
				}

				{
					actual := []apimanifests.Entry{}
					if err := json.Unmarshal(respRec.Body.Bytes(), &actual); err != nil {
						t.Fatalf("response is not json: error = %v", err)
					}
					expected := slices.Map(entries, apimanifests.ComposeEntry)
					if !cmp.SliceEqWith(actual, expected, apimanifests.Entry.Equal) {
						t.Errorf(
							"data does not match. (actual, expected) = \n(%+v, \n%+v)",
							actual, expected,
						)
					}
				}
			})
		}
	})

	t.Run("it responds error", func(t *testing.T) {
		type when struct {
			request string
			history func(context.Context, int64) ([]domain.ManifestRevision, error)
		}
		type then struct {
			statusCode int
		}

		for name, testcase := range map[string]struct {
			when
			then
		}{
			`(Bad Request) when "since" is not an integer`: {
				when{request: "/api/manifests?since=head"},
				then{statusCode: http.StatusBadRequest},
			},
			"(Internal Server Error) when the manifest log fails": {
				when{
					request: "/api/manifests",
					history: func(context.Context, int64) ([]domain.ManifestRevision, error) {
						return nil, errors.New("fake error")
					},
				},
				then{statusCode: http.StatusInternalServerError},
			},
		} {
			t.Run(name, func(t *testing.T) {
				mockManifest := manifestmock.NewManifestInterface()
				mockManifest.Impl.History = testcase.when.history

				e := echo.New()
				c, _ := httptestutil.Get(e, testcase.when.request)

				testee := handlers.ManifestHistoryHandler(mockManifest)
				err := testee(c)

				var echoErr *echo.HTTPError
				if !errors.As(err, &echoErr) {
					t.Fatalf("error is not echo.HTTPError. actual = %#v", err)
				}
				if echoErr.Code != testcase.then.statusCode {
					t.Errorf(
						"unmatch error code:%d, expected:%d",
						echoErr.Code, testcase.then.statusCode,
					)
				}
			})
		}
	})
}

func TestManifestHeadHandler(t *testing.T) {

	t.Run("it returns OK with the newest entry", func(t *testing.T) {
		head := domain.ManifestRevision{
			Sequence:         6,
			RevisionID:       "bbbb1111",
			ArtifactTag:      "registry.invalid/app:rev-bbbb1111",
			PreviousSequence: 5,
			Author:           "dev@example.invalid",
			CreatedAt: try.To(rfctime.ParseRFC3339DateTime(
				"2024-04-01T12:12:00.250+00:00",
			)).OrFatal(t).Time(),
			Health: domain.HealthVerified,
		}

		mockManifest := manifestmock.NewManifestInterface()
		mockManifest.Impl.Head = func(ctx context.Context) (*domain.ManifestRevision, error) {
			return &head, nil
		}

		e := echo.New()
		c, respRec := httptestutil.Get(e, "/api/manifests/head")

		testee := handlers.ManifestHeadHandler(mockManifest)
		if err := testee(c); err != nil {
			t.Fatal(err)
		}

		if len(mockManifest.Calls.Head) != 1 {
			t.Errorf("unexpected number of Head calls: %d", len(mockManifest.Calls.Head))
		}

		{
			actual := respRec.Result().StatusCode
			expected := http.StatusOK
			if actual != expected {
				t.Errorf("unmatch: status code: %d != %d", actual, expected)
			}
		}

		{
			actual := apimanifests.Entry{}
			if err := json.Unmarshal(respRec.Body.Bytes(), &actual); err != nil {
				t.Fatalf("response is not json: error = %v", err)
			}
			expected := apimanifests.ComposeEntry(head)
			if !actual.Equal(expected) {
				t.Errorf(
					"data does not match. (actual, expected) = \n(%+v, \n%+v)",
					actual, expected,
				)
			}
		}
	})

	t.Run("it responds error", func(t *testing.T) {
		type when struct {
			head func(context.Context) (*domain.ManifestRevision, error)
		}
		type then struct {
			statusCode int
		}

		for name, testcase := range map[string]struct {
			when
			then
		}{
			"(Not Found) while the log is empty": {
				when{
					head: func(context.Context) (*domain.ManifestRevision, error) {
						return nil, nil
					},
				},
				then{statusCode: http.StatusNotFound},
			},
			"(Internal Server Error) when the manifest log fails": {
				when{
					head: func(context.Context) (*domain.ManifestRevision, error) {
						return nil, errors.New("fake error")
					},
				},
				then{statusCode: http.StatusInternalServerError},
			},
		} {
			t.Run(name, func(t *testing.T) {
				mockManifest := manifestmock.NewManifestInterface()
				mockManifest.Impl.Head = testcase.when.head

				e := echo.New()
				c, _ := httptestutil.Get(e, "/api/manifests/head")

				testee := handlers.ManifestHeadHandler(mockManifest)
				err := testee(c)

				var echoErr *echo.HTTPError
				if !errors.As(err, &echoErr) {
					t.Fatalf("error is not echo.HTTPError. actual = %#v", err)
				}
				if echoErr.Code != testcase.then.statusCode {
					t.Errorf(
						"unmatch error code:%d, expected:%d",
						echoErr.Code, testcase.then.statusCode,
					)
				}
			})
		}
	})
}
