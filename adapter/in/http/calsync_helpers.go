package http

import (
	"net/url"

	"github.com/gofiber/fiber/v2"

	"calsync_server/core/domain"
	"calsync_server/infra/middleware"
	"calsync_server/pkg/apperr"
)

// GetSubject extracts the authenticated subject from fiber context.
func GetSubject(c *fiber.Ctx) (domain.Subject, error) {
	subject, ok := middleware.SubjectFrom(c)
	if !ok {
		return domain.Subject{}, apperr.Unauthorized("unauthorized")
	}
	return subject, nil
}

// GetPartner requires the caller to be a partner subject.
func GetPartner(c *fiber.Ctx) (domain.Subject, error) {
	subject, err := GetSubject(c)
	if err != nil {
		return subject, err
	}
	if subject.Type != domain.SubjectPartner {
		return subject, apperr.Forbidden("only partners can sync calendar events")
	}
	return subject, nil
}

// GetIDParam parses a positive int64 route parameter.
func GetIDParam(c *fiber.Ctx, name string) (int64, error) {
	id, err := c.ParamsInt(name)
	if err != nil || id <= 0 {
		return 0, apperr.InvalidInput(name, "must be a positive integer")
	}
	return int64(id), nil
}

// withQuery merges params into base's query string. Base must be absolute.
func withQuery(base string, params url.Values) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
