package errutil

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

type Detail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type BaseError struct {
	Code    CoreStatus `json:"code"`
	Message string     `json:"message"`
	Details []Detail   `json:"details,omitempty"`
	Err     error      `json:"-"`
}

func (e BaseError) Status() CoreStatus {
	return e.Code
}

func (e BaseError) URL() string {
	values := url.Values{}

	values.Set("error_code", string(e.Code))
	values.Set("error_message", e.Message)

	for _, d := range e.Details {
		values.Set("details["+strings.TrimSpace(d.Field)+"]", d.Message)
	}

	return values.Encode()
}

// JSON renders the error body including the wrapped backend error. Only
// administrative callers should receive it, everyone else gets PublicJSON.
func (e BaseError) JSON() interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"code":    e.Code,
			"message": e.messageWithErr(),
			"details": e.Details,
		},
	}
}

func (e BaseError) PublicJSON() interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"code":    e.Code,
			"message": e.Message,
			"details": e.Details,
		},
	}
}

func (e BaseError) Unwrap() error {
	return e.Err
}

func (e BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s", e.Code, e.messageWithErr())
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e BaseError) messageWithErr() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

type Option func(*BaseError)

func WithDetails(details ...Detail) Option {
	return func(be *BaseError) { be.Details = append(be.Details, details...) }
}

func WithErr(err error) Option {
	return func(be *BaseError) { be.Err = err }
}

func New(code CoreStatus, message string, opts ...Option) error {
	be := BaseError{Code: code, Message: message}
	for _, opt := range opts {
		opt(&be)
	}
	return be
}

func newWithErr(code CoreStatus, msg string, err error, options []Option) error {
	if err != nil {
		options = append([]Option{WithErr(err)}, options...)
	}
	return New(code, msg, options...)
}

// As extracts the BaseError from err. Non BaseError values are reported as
// internal errors so callers always get a machine readable kind.
func As(err error) (BaseError, bool) {
	var be BaseError
	if errors.As(err, &be) {
		return be, true
	}
	return BaseError{Code: StatusInternal, Message: "internal error", Err: err}, false
}

// Is reports whether err carries the given CoreStatus.
func Is(err error, code CoreStatus) bool {
	var be BaseError
	if !errors.As(err, &be) {
		return false
	}
	return be.Code == code
}

func NotFound(msg string, err error, options ...Option) error {
	return newWithErr(StatusNotFound, msg, err, options)
}

func UnprocessableEntity(msg string, err error, options ...Option) error {
	return newWithErr(StatusUnprocessableEntity, msg, err, options)
}

func Conflict(msg string, err error, options ...Option) error {
	return newWithErr(StatusConflict, msg, err, options)
}

func BadRequest(msg string, err error, options ...Option) error {
	return newWithErr(StatusBadRequest, msg, err, options)
}

func ValidationFailed(msg string, err error, options ...Option) error {
	return newWithErr(StatusValidationFailed, msg, err, options)
}

// InvalidTransition reports a state machine violation with the current and
// requested state attached as details.
func InvalidTransition(entity, current, requested string) error {
	return New(StatusInvalidTransition,
		fmt.Sprintf("%s cannot move from %s to %s", entity, current, requested),
		WithDetails(
			Detail{Field: "current", Message: current},
			Detail{Field: "requested", Message: requested},
		),
	)
}

func InsufficientCredits(remaining, requested int64) error {
	return New(StatusInsufficientCredits,
		fmt.Sprintf("insufficient credits: requested %d, remaining %d", requested, remaining),
		WithDetails(
			Detail{Field: "remaining", Message: fmt.Sprintf("%d", remaining)},
			Detail{Field: "requested", Message: fmt.Sprintf("%d", requested)},
		),
	)
}

func Internal(msg string, err error, options ...Option) error {
	return newWithErr(StatusInternal, msg, err, options)
}

func Timeout(msg string, err error, options ...Option) error {
	return newWithErr(StatusTimeout, msg, err, options)
}

func UpstreamUnavailable(msg string, err error, options ...Option) error {
	return newWithErr(StatusUpstreamUnavailable, msg, err, options)
}

// UnknownOutcome is returned when a mutation did not report back in time.
// The write may or may not have been applied; callers must re-query.
func UnknownOutcome(msg string, err error, options ...Option) error {
	return newWithErr(StatusUnknownOutcome, msg, err, options)
}

func Unauthorized(msg string, err error, options ...Option) error {
	return newWithErr(StatusUnauthorized, msg, err, options)
}

func Forbidden(msg string, err error, options ...Option) error {
	return newWithErr(StatusForbidden, msg, err, options)
}

func TooManyRequest(msg string, err error, options ...Option) error {
	return newWithErr(StatusTooManyRequests, msg, err, options)
}

func ClientClosedRequest(msg string, err error, options ...Option) error {
	return newWithErr(StatusClientClosedRequest, msg, err, options)
}

func NotImplemented(msg string, err error, options ...Option) error {
	return newWithErr(StatusNotImplemented, msg, err, options)
}

// FromStore classifies a raw store error. Mutations that hit the deadline
// become UnknownOutcome, reads become UpstreamUnavailable.
func FromStore(err error, mutation bool) error {
	if err == nil {
		return nil
	}

	var be BaseError
	if errors.As(err, &be) {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return ClientClosedRequest("request canceled", err)
	case errors.Is(err, context.DeadlineExceeded):
		if mutation {
			return UnknownOutcome("store did not confirm the write in time", err)
		}
		return UpstreamUnavailable("store did not respond in time", err)
	}

	if mutation {
		return Internal("failed to write to store", err)
	}
	return UpstreamUnavailable("failed to read from store", err)
}
