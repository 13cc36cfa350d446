package http

import (
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/funnelsheet/event-relay/internal/repository"
	"github.com/funnelsheet/event-relay/internal/worker"
	"github.com/labstack/echo/v4"
)

func retryEventHandler(w *worker.Worker) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || id <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid event id"})
		}

		res, err := w.RetryOne(c.Request().Context(), id)
		if err != nil {
			switch {
			case errors.Is(err, worker.ErrEventNotFound):
				return c.JSON(http.StatusNotFound, map[string]string{"error": "event not found"})
			case errors.Is(err, worker.ErrAlreadySent):
				return c.JSON(http.StatusConflict, map[string]string{"error": "event already sent"})
			}
			c.Logger().Errorf("retry event %d failed: %v", id, err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "retry failed"})
		}

		// The raw dispatch message is surfaced to the operator.
		return c.JSON(http.StatusOK, map[string]any{
			"success": res.Success,
			"message": res.Message,
		})
	}
}

func retryAllFailedHandler(w *worker.Worker) echo.HandlerFunc {
	return func(c echo.Context) error {
		n, err := w.RetryAllFailed(c.Request().Context())
		if err != nil {
			c.Logger().Errorf("retry all failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "retry failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"success": true,
			"message": fmt.Sprintf("Retried %d failed events", n),
			"count":   n,
		})
	}
}

func testEventHandler(w *worker.Worker) echo.HandlerFunc {
	return func(c echo.Context) error {
		res := w.SendTest(c.Request().Context())

		status := http.StatusOK
		if !res.Success {
			status = http.StatusBadGateway
		}

		return c.JSON(status, map[string]any{
			"success": res.Success,
			"message": res.Message,
		})
	}
}

func processQueueHandler(w *worker.Worker) echo.HandlerFunc {
	return func(c echo.Context) error {
		stats, err := w.ProcessBatch(c.Request().Context())
		if err != nil {
			c.Logger().Errorf("process batch failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "batch failed"})
		}

		return c.JSON(http.StatusOK, stats)
	}
}

// exportEventsHandler streams the filtered event log as CSV.
func exportEventsHandler(repo repository.EventsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		status := parseStatusFilter(c.QueryParam("status"))

		events, err := repo.ListByStatus(c.Request().Context(), status, repository.MaxListRows, 0)
		if err != nil {
			c.Logger().Errorf("export events failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		filename := "events-" + time.Now().UTC().Format("2006-01-02-15-04-05") + ".csv"
		c.Response().Header().Set(echo.HeaderContentType, "text/csv; charset=utf-8")
		c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename=`+filename)
		c.Response().WriteHeader(http.StatusOK)

		cw := csv.NewWriter(c.Response())
		if err := cw.Write([]string{"ID", "Owner ID", "Event Type", "Status", "Attempts", "Created At", "Last Error"}); err != nil {
			return err
		}

		for _, e := range events {
			lastErr := ""
			if e.LastError.Valid {
				lastErr = e.LastError.String
			}
			row := []string{
				strconv.FormatInt(e.ID, 10),
				strconv.FormatInt(e.OwnerID, 10),
				e.EventType.String(),
				e.Status.String(),
				strconv.Itoa(e.Attempts),
				e.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
				lastErr,
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}

		cw.Flush()
		return cw.Error()
	}
}
