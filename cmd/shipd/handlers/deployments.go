package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	apideps "github.com/opst/shipfab/pkg/api/types/deployments"
	apierr "github.com/opst/shipfab/pkg/api/types/errors"
	apievents "github.com/opst/shipfab/pkg/api/types/events"
	"github.com/opst/shipfab/pkg/domain"
	kdepdb "github.com/opst/shipfab/pkg/domain/deployment/db"
	kevdb "github.com/opst/shipfab/pkg/domain/eventlog/db"
	"github.com/opst/shipfab/pkg/utils/rfctime"
	"github.com/opst/shipfab/pkg/utils/slices"
	kstrings "github.com/opst/shipfab/pkg/utils/strings"
)

func FindDeploymentHandler(dbDeploy kdepdb.Interface) echo.HandlerFunc {

	return func(c echo.Context) error {
		c.Response().Header().Add("Content-Type", "application/json")
		query, err := func(c echo.Context) (domain.DeploymentFindQuery, error) {

			result := domain.DeploymentFindQuery{
				Repository:   kstrings.SplitIfNotEmpty(c.QueryParam("repository"), ","),
				RevisionID:   kstrings.SplitIfNotEmpty(c.QueryParam("revision"), ","),
				Status:       []domain.DeploymentStatus{},
				UpdatedSince: nil,
				UpdatedUntil: nil,
			}

			for _, p := range kstrings.SplitIfNotEmpty(c.QueryParam("status"), ",") {
				s, err := domain.AsDeploymentStatus(p)
				if err != nil {
					return domain.DeploymentFindQuery{}, apierr.BadRequest(
						`"status" should be one of "received", "building", "built", "manifest-updated", "syncing", "verifying", "rolling-back", "deployed" or "aborted"`,
						nil,
					)
				}
				result.Status = append(result.Status, s)
			}

			since := c.QueryParam("since")
			if since != "" {
				t, err := rfctime.ParseRFC3339DateTime(since)
				if err != nil {
					return domain.DeploymentFindQuery{}, apierr.BadRequest(
						`"since" should be a RFC3339 date-time format`,
						err,
					)
				}
				_t := t.Time()
				result.UpdatedSince = &_t
			}

			duration := c.QueryParam("duration")
			if duration != "" {
				if result.UpdatedSince == nil {
					return domain.DeploymentFindQuery{}, apierr.BadRequest(
						`"duration" needs "since"`,
						nil,
					)
				}
				d, err := time.ParseDuration(duration)
				if err != nil {
					return domain.DeploymentFindQuery{}, apierr.BadRequest(
						`"duration" should be a Go duration format`,
						err,
					)
				}
				_t := result.UpdatedSince.Add(d)
				result.UpdatedUntil = &_t
			}

			return result, nil
		}(c)

		if err != nil {
			return err
		}
		ctx := c.Request().Context()

		deploymentIds, err := dbDeploy.Find(ctx, query)
		if err != nil {
			return apierr.InternalServerError(err)
		}

		result, err := dbDeploy.Get(ctx, deploymentIds)
		if err != nil {
			return apierr.InternalServerError(err)
		}

		resp := make([]apideps.Detail, 0, len(result))
		for _, id := range deploymentIds {
			if d, ok := result[id]; ok {
				resp = append(resp, apideps.ComposeDetail(d))
			}
		}

		c.JSON(http.StatusOK, resp)

		return nil
	}
}

// GetDeploymentsForRevisionHandler lists every attempt made for a revision,
// oldest first. 404 when the revision has never been submitted.
func GetDeploymentsForRevisionHandler(dbDeploy kdepdb.Interface, paramKey string) echo.HandlerFunc {

	return func(c echo.Context) error {
		c.Response().Header().Add("Content-Type", "application/json")
		revision := c.Param(paramKey)
		ctx := c.Request().Context()

		deploymentIds, err := dbDeploy.Find(ctx, domain.DeploymentFindQuery{
			RevisionID: []string{revision},
		})
		if err != nil {
			return apierr.InternalServerError(err)
		}
		if len(deploymentIds) == 0 {
			return apierr.NotFound()
		}

		result, err := dbDeploy.Get(ctx, deploymentIds)
		if err != nil {
			return apierr.InternalServerError(err)
		}

		resp := make([]apideps.Detail, 0, len(result))
		for _, id := range deploymentIds {
			if d, ok := result[id]; ok {
				resp = append(resp, apideps.ComposeDetail(d))
			}
		}

		c.JSON(http.StatusOK, resp)

		return nil
	}
}

// GetEventsForRevisionHandler lists every transition event of every attempt
// for a revision, oldest first. A revision without events gets an empty list.
func GetEventsForRevisionHandler(dbEvents kevdb.Interface, paramKey string) echo.HandlerFunc {

	return func(c echo.Context) error {
		c.Response().Header().Add("Content-Type", "application/json")
		revision := c.Param(paramKey)
		ctx := c.Request().Context()

		evs, err := dbEvents.ByRevision(ctx, revision)
		if err != nil {
			return apierr.InternalServerError(err)
		}

		c.JSON(http.StatusOK, slices.Map(evs, apievents.ComposeEvent))

		return nil
	}
}
