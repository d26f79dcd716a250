package middleware

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"calsync_server/core/domain"
	"calsync_server/pkg/apperr"
	"calsync_server/pkg/logger"
)

// Fiber locals set by this package.
const (
	LocalRequestID = "request_id"
	LocalSubject   = "subject"
)

// SubjectClaims are the bearer token claims identifying the caller.
type SubjectClaims struct {
	SubjectType string `json:"sub_type"`
	SubjectID   any    `json:"sub_id"`
	jwt.RegisteredClaims
}

// Subject converts the claims into a domain subject. sub_id may be a JSON
// number or a decimal string.
func (c *SubjectClaims) Subject() (domain.Subject, error) {
	var id int64
	switch v := c.SubjectID.(type) {
	case float64:
		id = int64(v)
		if float64(id) != v {
			return domain.Subject{}, fmt.Errorf("sub_id %v is not an integer", v)
		}
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return domain.Subject{}, fmt.Errorf("sub_id %q is not an integer", v)
		}
		id = n
	default:
		return domain.Subject{}, fmt.Errorf("missing sub_id")
	}

	s := domain.Subject{Type: domain.SubjectType(c.SubjectType), ID: id}
	if !s.Type.Valid() || s.ID <= 0 {
		return domain.Subject{}, fmt.Errorf("invalid subject %q/%d", c.SubjectType, id)
	}
	return s, nil
}

// JWTAuth validates an HS256 bearer token and stores the caller's subject.
func JWTAuth(secret string) fiber.Handler {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(time.Minute),
		jwt.WithIssuedAt(),
	)

	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || tokenString == "" {
			return apperr.Unauthorized("missing bearer token")
		}

		claims := &SubjectClaims{}
		_, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
			if secret == "" {
				return nil, fmt.Errorf("JWT secret not configured")
			}
			return []byte(secret), nil
		})
		if err != nil {
			logger.WithError(err).Warn("[JWTAuth] JWT validation failed")
			return apperr.Unauthorized("invalid token")
		}

		subject, err := claims.Subject()
		if err != nil {
			logger.WithError(err).Warn("[JWTAuth] Invalid subject claims")
			return apperr.Unauthorized("invalid subject in token")
		}

		c.Locals(LocalSubject, subject)
		return c.Next()
	}
}

// SubjectFrom returns the authenticated subject, if any.
func SubjectFrom(c *fiber.Ctx) (domain.Subject, bool) {
	s, ok := c.Locals(LocalSubject).(domain.Subject)
	return s, ok
}
