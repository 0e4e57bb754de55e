package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	apierr "github.com/opst/shipfab/pkg/api/types/errors"
	apievents "github.com/opst/shipfab/pkg/api/types/events"
	kevdb "github.com/opst/shipfab/pkg/domain/eventlog/db"
	"github.com/opst/shipfab/pkg/utils/slices"
)

// FindEventHandler lists transition events from the whole log, oldest first.
// `since` is an id cursor (exclusive); `limit` caps the page size.
//
// Pollers page the log with `since` = the largest id they have seen.
func FindEventHandler(dbEvents kevdb.Interface) echo.HandlerFunc {

	return func(c echo.Context) error {
		c.Response().Header().Add("Content-Type", "application/json")

		since := int64(0)
		if p := c.QueryParam("since"); p != "" {
			s, err := strconv.ParseInt(p, 10, 64)
			if err != nil {
				return apierr.BadRequest(`"since" should be an integer event id`, err)
			}
			since = s
		}

		limit := 0
		if p := c.QueryParam("limit"); p != "" {
			l, err := strconv.Atoi(p)
			if err != nil || l < 0 {
				return apierr.BadRequest(`"limit" should be a non-negative integer`, err)
			}
			limit = l
		}

		ctx := c.Request().Context()
		evs, err := dbEvents.Since(ctx, since, limit)
		if err != nil {
			return apierr.InternalServerError(err)
		}

		c.JSON(http.StatusOK, slices.Map(evs, apievents.ComposeEvent))

		return nil
	}
}
