// Package tenant carries firm identity through request contexts.
//
// Every stored or queried entity in icmemd belongs to exactly one firm. The
// firm identifier travels in context.Context so that no query path can be
// written without one: extraction fails closed with ErrMissingFirm rather
// than defaulting to "all firms".
package tenant

import (
	"context"
	"errors"
)

// Fail-closed sentinels. A request without a resolvable firm context is an
// error, never an unscoped query.
var (
	// ErrMissingFirm is returned when firm info is absent from context.
	ErrMissingFirm = errors.New("firm context missing")

	// ErrInvalidFirm is returned when the firm identifier is empty or malformed.
	ErrInvalidFirm = errors.New("invalid firm identifier")
)

// firmContextKey is the context key for FirmInfo.
type firmContextKey struct{}

// FirmInfo holds the requesting firm and, optionally, the acting user.
type FirmInfo struct {
	// FirmID is the firm (tenant) identifier. Required.
	FirmID string

	// UserID is the acting user within the firm. Optional; used for
	// vote-ownership visibility checks, not for data scoping.
	UserID string
}

// Validate checks that required fields are present.
func (f *FirmInfo) Validate() error {
	if f.FirmID == "" {
		return ErrInvalidFirm
	}
	return nil
}

// Filter returns the metadata predicate that scopes queries to this firm.
func (f *FirmInfo) Filter() map[string]string {
	return map[string]string{"firm_id": f.FirmID}
}

// ContextWithFirm returns a context carrying the given firm identity.
func ContextWithFirm(ctx context.Context, firm *FirmInfo) context.Context {
	return context.WithValue(ctx, firmContextKey{}, firm)
}

// FromContext extracts FirmInfo from a context.
// Returns ErrMissingFirm if absent - fail closed.
func FromContext(ctx context.Context) (*FirmInfo, error) {
	val := ctx.Value(firmContextKey{})
	if val == nil {
		return nil, ErrMissingFirm
	}
	firm, ok := val.(*FirmInfo)
	if !ok || firm == nil {
		return nil, ErrMissingFirm
	}
	return firm, nil
}

// Has reports whether a firm identity is present in the context.
func Has(ctx context.Context) bool {
	_, err := FromContext(ctx)
	return err == nil
}
