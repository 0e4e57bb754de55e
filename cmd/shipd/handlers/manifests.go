package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	apierr "github.com/opst/shipfab/pkg/api/types/errors"
	apimanifests "github.com/opst/shipfab/pkg/api/types/manifests"
	kmanifestdb "github.com/opst/shipfab/pkg/domain/manifest/db"
	"github.com/opst/shipfab/pkg/utils/slices"
)

// ManifestHistoryHandler lists manifest log entries, oldest first.
// `since` narrows to entries with that sequence or above.
func ManifestHistoryHandler(dbManifest kmanifestdb.Interface) echo.HandlerFunc {

	return func(c echo.Context) error {
		c.Response().Header().Add("Content-Type", "application/json")

		since := int64(0)
		if p := c.QueryParam("since"); p != "" {
			s, err := strconv.ParseInt(p, 10, 64)
			if err != nil {
				return apierr.BadRequest(`"since" should be an integer sequence`, err)
			}
			since = s
		}

		ctx := c.Request().Context()
		entries, err := dbManifest.History(ctx, since)
		if err != nil {
			return apierr.InternalServerError(err)
		}

		c.JSON(http.StatusOK, slices.Map(entries, apimanifests.ComposeEntry))

		return nil
	}
}

// ManifestHeadHandler serves the newest manifest log entry, the desired state
// of the cluster. 404 while the log is empty.
func ManifestHeadHandler(dbManifest kmanifestdb.Interface) echo.HandlerFunc {

	return func(c echo.Context) error {
		c.Response().Header().Add("Content-Type", "application/json")
		ctx := c.Request().Context()

		head, err := dbManifest.Head(ctx)
		if err != nil {
			return apierr.InternalServerError(err)
		}
		if head == nil {
			return apierr.NotFound()
		}

		c.JSON(http.StatusOK, apimanifests.ComposeEntry(*head))

		return nil
	}
}

