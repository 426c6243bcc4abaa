package tenant

import (
	"context"
	"errors"
)

// Key for clinic scoping values in context
type contextKey string

const (
	clinicIDKey  contextKey = "clinicID"
	requestIDKey contextKey = "requestID"
)

// ErrClinicIDNotFound is returned when no clinic ID is present in the context.
// Every entity in the system is scoped by clinic, so resolvers treat this as
// fatal for the triggering event.
var ErrClinicIDNotFound = errors.New("clinic ID not found in context")

// WithClinicID adds a clinic ID to the context
func WithClinicID(ctx context.Context, clinicID string) context.Context {
	return context.WithValue(ctx, clinicIDKey, clinicID)
}

// FromContext extracts the clinic ID from the context
func FromContext(ctx context.Context) (string, error) {
	clinicID, ok := ctx.Value(clinicIDKey).(string)
	if !ok || clinicID == "" {
		return "", ErrClinicIDNotFound
	}
	return clinicID, nil
}

// MustFromContext extracts the clinic ID from the context or panics
func MustFromContext(ctx context.Context) string {
	clinicID, err := FromContext(ctx)
	if err != nil {
		panic(err)
	}
	return clinicID
}

// ErrNoRequestIDInContext is returned when no request ID is found in context
var ErrNoRequestIDInContext = errors.New("no request ID found in context")

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// FromRequestIDContext extracts the request ID from the context
func FromRequestIDContext(ctx context.Context) (string, error) {
	requestID, ok := ctx.Value(requestIDKey).(string)
	if !ok || requestID == "" {
		return "", ErrNoRequestIDInContext
	}
	return requestID, nil
}
