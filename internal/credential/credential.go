package credential

import (
	"context"
	"errors"

	"github.com/lucky7slw/construction-erp-sub001/pkg/state"
)

var (
	// ErrMissingToken is returned when no credential accompanies a handshake.
	ErrMissingToken = errors.New("missing authentication token")
	// ErrInvalidToken is returned for any credential that fails validation.
	// The underlying validator failure is deliberately not exposed.
	ErrInvalidToken = errors.New("invalid authentication token")
)

// Validator decodes a bearer credential into an identity. Implementations may
// do network round-trips; callers bound them with the context.
type Validator interface {
	Validate(ctx context.Context, token string) (state.Identity, error)
}
