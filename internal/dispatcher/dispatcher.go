// Package dispatcher performs the outbound HTTP call to the configured
// analytics destination. It never lets transport or endpoint errors escape:
// every outcome is folded into a Result with a human-readable message.
package dispatcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/funnelsheet/event-relay/internal/config"
)

// Kind classifies a dispatch outcome for retry policy and metrics.
type Kind string

const (
	KindOK        Kind = "ok"
	KindConfig    Kind = "config"    // missing credentials, no network call made
	KindTransport Kind = "transport" // DNS/TLS/timeout/connection failure
	KindEndpoint  Kind = "endpoint"  // non-success HTTP status
)

// Result is the structured outcome of one dispatch attempt.
type Result struct {
	Success bool
	Kind    Kind
	Message string
}

// maxBodyInMessage bounds how much response body is folded into the message.
const maxBodyInMessage = 512

const defaultGA4Endpoint = "https://www.google-analytics.com/mp/collect"

// Sender is the outbound boundary the worker depends on.
type Sender interface {
	Send(ctx context.Context, wire []byte) Result
}

// Dispatcher sends wire payloads to the destination captured in its config
// snapshot. The snapshot is taken once at construction; it is never re-read
// mid-batch.
type Dispatcher struct {
	dest   config.DestinationConfig
	client *http.Client
}

var _ Sender = (*Dispatcher)(nil)

func NewDispatcher(dest config.DestinationConfig) *Dispatcher {
	timeout := dest.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Dispatcher{
		dest:   dest,
		client: &http.Client{Timeout: timeout},
	}
}

// Send validates configuration before any network call, posts the payload and
// classifies the response.
func (d *Dispatcher) Send(ctx context.Context, wire []byte) Result {
	if d.dest.Type == config.DestinationSGTM {
		return d.sendSGTM(ctx, wire)
	}
	return d.sendGA4(ctx, wire)
}

func (d *Dispatcher) sendGA4(ctx context.Context, wire []byte) Result {
	cfg := d.dest.GA4
	if cfg.MeasurementID == "" || cfg.APISecret == "" {
		return Result{
			Kind:    KindConfig,
			Message: "GA4 measurement ID or API secret not configured",
		}
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultGA4Endpoint
	}

	q := url.Values{}
	q.Set("measurement_id", cfg.MeasurementID)
	q.Set("api_secret", cfg.APISecret)

	return d.post(ctx, "GA4", endpoint+"?"+q.Encode(), "", wire, func(code int) bool {
		return code == http.StatusOK || code == http.StatusNoContent
	})
}

func (d *Dispatcher) sendSGTM(ctx context.Context, wire []byte) Result {
	cfg := d.dest.SGTM
	if cfg.EndpointURL == "" {
		return Result{
			Kind:    KindConfig,
			Message: "sGTM endpoint URL not configured",
		}
	}

	return d.post(ctx, "sGTM", cfg.EndpointURL, cfg.AuthHeader, wire, func(code int) bool {
		return code/100 == 2
	})
}

func (d *Dispatcher) post(ctx context.Context, name, rawURL, auth string, wire []byte, ok func(int) bool) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(wire))
	if err != nil {
		return Result{Kind: KindTransport, Message: err.Error()}
	}

	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}

	res, err := d.client.Do(req)
	if err != nil {
		return Result{Kind: KindTransport, Message: err.Error()}
	}
	defer res.Body.Close()

	if ok(res.StatusCode) {
		return Result{
			Success: true,
			Kind:    KindOK,
			Message: fmt.Sprintf("event sent to %s successfully", name),
		}
	}

	body, _ := io.ReadAll(io.LimitReader(res.Body, maxBodyInMessage))
	return Result{
		Kind:    KindEndpoint,
		Message: fmt.Sprintf("%s returned status %d: %s", name, res.StatusCode, body),
	}
}
