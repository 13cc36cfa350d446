package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowCap(t *testing.T) {
	cases := []struct {
		name       string
		rps, burst int
		want       int
	}{
		{"burst above rps stretches the ceiling", 20, 40, 40},
		{"burst below rps is ignored", 20, 10, 20},
		{"no burst configured", 20, 0, 20},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, windowCap(tc.rps, tc.burst))
		})
	}
}

func TestRateLimitMiddlewarePassThrough(t *testing.T) {
	// no Redis and no limit configured: dev mode, every request passes
	cases := []struct {
		name string
		cfg  RateLimitConfig
	}{
		{"no redis", RateLimitConfig{RPS: 20, Burst: 40}},
		{"no limit", RateLimitConfig{RPS: 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/v1/events", nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			called := false
			h := RateLimitMiddleware(tc.cfg)(func(c echo.Context) error {
				called = true
				return c.String(http.StatusOK, "ok")
			})
			require.NoError(t, h(c))
			assert.True(t, called)
			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}
}
