package credential

import (
	"context"

	"github.com/lucky7slw/construction-erp-sub001/pkg/state"

	"github.com/golang-jwt/jwt/v5"
)

// AppClaims defines our custom JWT claims structure. The subject carries the
// user id; "tid" carries the tenant.
type AppClaims struct {
	TenantID string   `json:"tid"`
	Roles    []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// JWTValidator validates HMAC-signed bearer tokens locally.
type JWTValidator struct {
	secret []byte
}

func NewJWTValidator(secret string) *JWTValidator {
	return &JWTValidator{secret: []byte(secret)}
}

var _ Validator = (*JWTValidator)(nil)

func (v *JWTValidator) Validate(ctx context.Context, tokenString string) (state.Identity, error) {
	if err := ctx.Err(); err != nil {
		return state.Identity{}, ErrInvalidToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return state.Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(*AppClaims)
	if !ok || claims.Subject == "" {
		return state.Identity{}, ErrInvalidToken
	}

	return state.Identity{
		UserID:   claims.Subject,
		TenantID: claims.TenantID,
		Claims:   claims.Roles,
	}, nil
}
