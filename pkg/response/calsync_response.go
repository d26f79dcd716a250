// Package response provides the JSON envelope used by every handler.
package response

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// Response is the standard API response structure.
type Response struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Timestamp string `json:"timestamp"`
}

// OK returns a successful response.
func OK(c *fiber.Ctx, data any) error {
	return write(c, fiber.StatusOK, data)
}

// Accepted returns a 202 response for work that completed without a remote effect.
func Accepted(c *fiber.Ctx, data any) error {
	return write(c, fiber.StatusAccepted, data)
}

func write(c *fiber.Ctx, status int, data any) error {
	requestID, _ := c.Locals("request_id").(string)
	return c.Status(status).JSON(Response{
		Success:   true,
		Data:      data,
		RequestID: requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
