package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/funnelsheet/event-relay/internal/model"
	"github.com/funnelsheet/event-relay/internal/repository"
	"github.com/funnelsheet/event-relay/internal/service/queue"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

type enqueueReq struct {
	OwnerID   int64              `json:"owner_id"`
	EventType string             `json:"event_type"`
	Payload   model.EventPayload `json:"payload"`
}

func enqueueHandler(queueSvc *queue.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req enqueueReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		if req.OwnerID <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "owner_id required"})
		}

		id, err := queueSvc.Enqueue(c.Request().Context(), req.OwnerID, req.EventType, req.Payload)
		if err != nil {
			switch {
			case errors.Is(err, queue.ErrDuplicateCapture):
				return c.JSON(http.StatusConflict, map[string]string{"error": "already captured"})
			case errors.Is(err, queue.ErrInvalidEventType),
				errors.Is(err, model.ErrMissingEventName),
				errors.Is(err, model.ErrMissingClientID):
				return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
			}

			log.Errorf("enqueue failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusAccepted, map[string]any{
			"enqueued":   true,
			"id":         id,
			"event_type": req.EventType,
			"owner_id":   req.OwnerID,
		})
	}
}

// parseStatusFilter returns "all" for empty/invalid input.
func parseStatusFilter(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == repository.StatusAll {
		return repository.StatusAll
	}
	if model.EventStatus(raw).Valid() {
		return raw
	}
	return repository.StatusAll
}

type eventView struct {
	ID        int64  `json:"id"`
	OwnerID   int64  `json:"owner_id"`
	EventType string `json:"event_type"`
	Status    string `json:"status"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func toView(e model.Event) eventView {
	v := eventView{
		ID:        e.ID,
		OwnerID:   e.OwnerID,
		EventType: e.EventType.String(),
		Status:    e.Status.String(),
		Attempts:  e.Attempts,
		CreatedAt: e.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		UpdatedAt: e.UpdatedAt.UTC().Format("2006-01-02 15:04:05"),
	}
	if e.LastError.Valid {
		v.LastError = e.LastError.String
	}
	return v
}

func listEventsHandler(repo repository.EventsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit := 100
		offset := 0
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}
		if v := c.QueryParam("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				offset = n
			}
		}

		status := parseStatusFilter(c.QueryParam("status"))

		events, err := repo.ListByStatus(c.Request().Context(), status, limit, offset)
		if err != nil {
			c.Logger().Errorf("list events failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		views := make([]eventView, 0, len(events))
		for _, e := range events {
			views = append(views, toView(e))
		}

		return c.JSON(http.StatusOK, map[string]any{
			"status":  status,
			"limit":   limit,
			"offset":  offset,
			"count":   len(views),
			"results": views,
		})
	}
}

func countEventsHandler(repo repository.EventsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		counts := map[string]int64{}
		for _, st := range []string{
			repository.StatusAll,
			model.StatusPending.String(),
			model.StatusSent.String(),
			model.StatusFailed.String(),
		} {
			n, err := repo.CountByStatus(ctx, st)
			if err != nil {
				c.Logger().Errorf("count events failed: %v", err)

				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
			}
			counts[st] = n
		}

		return c.JSON(http.StatusOK, counts)
	}
}
