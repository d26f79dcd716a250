package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"calsync_server/core/domain"
	"calsync_server/pkg/apperr"
)

const (
	stateIssuer = "calsync"
	// tolerated clock drift for iat values slightly in the future
	stateClockSkew = time.Minute
)

type stateClaims struct {
	SubjectType string `json:"sub_type"`
	SubjectID   int64  `json:"sub_id"`
	jwt.RegisteredClaims
}

// StateCodec signs and verifies the OAuth state token. The token is a
// compact HS256 JWT carrying the subject, issuance time and a nonce.
type StateCodec struct {
	key []byte
	now func() time.Time
}

func NewStateCodec(key []byte) *StateCodec {
	return &StateCodec{key: key, now: time.Now}
}

// SetClock overrides the time source.
func (c *StateCodec) SetClock(now func() time.Time) {
	c.now = now
}

// Encode issues a fresh state for subject.
func (c *StateCodec) Encode(subject domain.Subject) (string, domain.OAuthState, error) {
	st := domain.OAuthState{
		Subject:  subject,
		IssuedAt: c.now().Truncate(time.Second),
		Nonce:    uuid.NewString(),
	}

	claims := stateClaims{
		SubjectType: string(subject.Type),
		SubjectID:   subject.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   stateIssuer,
			IssuedAt: jwt.NewNumericDate(st.IssuedAt),
			ID:       st.Nonce,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", domain.OAuthState{}, err
	}
	return signed, st, nil
}

// Decode verifies signature and shape, then enforces StateMaxAge.
func (c *StateCodec) Decode(token string) (domain.OAuthState, error) {
	if token == "" {
		return domain.OAuthState{}, apperr.InvalidState("missing")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		// age is checked below against the injected clock
		jwt.WithoutClaimsValidation(),
	)

	claims := &stateClaims{}
	_, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return c.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return domain.OAuthState{}, apperr.InvalidState("signature mismatch")
		}
		return domain.OAuthState{}, apperr.InvalidState("malformed")
	}

	// WithoutClaimsValidation also skips the issuer check
	if claims.Issuer != stateIssuer {
		return domain.OAuthState{}, apperr.InvalidState("unexpected issuer")
	}

	subject := domain.Subject{Type: domain.SubjectType(claims.SubjectType), ID: claims.SubjectID}
	if !subject.Type.Valid() || subject.ID <= 0 {
		return domain.OAuthState{}, apperr.InvalidState("unknown subject")
	}
	if claims.IssuedAt == nil || claims.ID == "" {
		return domain.OAuthState{}, apperr.InvalidState("missing iat or jti")
	}

	st := domain.OAuthState{
		Subject:  subject,
		IssuedAt: claims.IssuedAt.Time,
		Nonce:    claims.ID,
	}

	age := st.Age(c.now())
	switch {
	case age < -stateClockSkew:
		return domain.OAuthState{}, apperr.InvalidState("issued in the future")
	case age > domain.StateMaxAge:
		return domain.OAuthState{}, apperr.ExpiredState()
	}
	return st, nil
}
