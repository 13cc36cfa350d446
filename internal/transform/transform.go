// Package transform maps stored event payloads into destination wire payloads.
// Everything here is pure: the same stored bytes always produce the same wire
// bytes, so a failed send can be retried verbatim.
package transform

import (
	"errors"
	"fmt"

	"github.com/funnelsheet/event-relay/internal/config"
	"github.com/funnelsheet/event-relay/internal/model"
)

// TransformError marks a payload that can never be sent as stored. Retrying
// will not fix malformed data, so the worker treats it as terminal.
type TransformError struct {
	Reason string
	Err    error
}

func (e *TransformError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transform: %s: %v", e.Reason, e.Err)
	}
	return "transform: " + e.Reason
}

func (e *TransformError) Unwrap() error { return e.Err }

// IsTransformError reports whether err is (or wraps) a TransformError.
func IsTransformError(err error) bool {
	var te *TransformError
	return errors.As(err, &te)
}

// Build produces the wire payload for the configured destination.
//
// GA4 reshapes the payload into Measurement Protocol JSON with hashed user
// data. sGTM forwards the stored bytes untouched; the downstream container is
// expected to do its own normalization.
func Build(dest config.DestinationType, raw []byte) ([]byte, error) {
	parsed, err := model.ParsePayload(raw)
	if err != nil {
		return nil, &TransformError{Reason: "invalid stored payload", Err: err}
	}
	if err := parsed.Validate(); err != nil {
		return nil, &TransformError{Reason: "incomplete payload", Err: err}
	}

	if dest == config.DestinationSGTM {
		return raw, nil
	}

	return buildGA4(parsed)
}
