package syncer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/crmorbit/internal/event"
	"github.com/roach88/crmorbit/internal/transport"
	"github.com/roach88/crmorbit/internal/value"
)

// Version is the envelope format version.
const Version = 1

// Kind discriminates envelopes.
type Kind string

const (
	KindBatch   Kind = "batch"
	KindRequest Kind = "request"
	KindError   Kind = "error"
)

// ErrInvalidEnvelope is returned for payloads that are not a valid
// envelope. It is a protocol violation.
var ErrInvalidEnvelope = fmt.Errorf("%w: invalid sync envelope", transport.ErrProtocolViolation)

// Envelope is the sync payload carried in one frame.
type Envelope struct {
	Version    int           `json:"version"`
	Kind       Kind          `json:"kind"`
	DeviceID   string        `json:"deviceId"`
	DeviceName string        `json:"deviceName,omitempty"`
	Events     []event.Event `json:"events"`
	Error      *ErrorBody    `json:"error,omitempty"`
}

// ErrorBody describes a failure reported by the responder.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes carried in error envelopes.
const (
	CodeBadRequest = "BAD_REQUEST"
	CodeInternal   = "INTERNAL"
)

// Encode returns the canonical JSON encoding of env.
func Encode(env Envelope) ([]byte, error) {
	if env.Events == nil {
		env.Events = []event.Event{}
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return value.Canonicalize(data)
}

// Decode parses and validates an envelope.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if err := env.validate(); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return env, nil
}

func (env Envelope) validate() error {
	var errs []error
	if env.Version != Version {
		errs = append(errs, fmt.Errorf("unsupported version %d", env.Version))
	}
	switch env.Kind {
	case KindBatch, KindRequest:
	case KindError:
		if env.Error == nil {
			errs = append(errs, errors.New("error envelope without error"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown kind %q", env.Kind))
	}
	if env.DeviceID == "" {
		errs = append(errs, errors.New("deviceId is required"))
	}
	return errors.Join(errs...)
}

// ErrorEnvelope builds the response for a failed request.
func ErrorEnvelope(deviceID, code string, err error) Envelope {
	return Envelope{
		Version:  Version,
		Kind:     KindError,
		DeviceID: deviceID,
		Error:    &ErrorBody{Code: code, Message: err.Error()},
	}
}
