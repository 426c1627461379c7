package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// SecurityHeaders adds security headers to all responses
func SecurityHeaders() fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Prevent MIME type sniffing
		c.Set("X-Content-Type-Options", "nosniff")

		// Prevent clickjacking
		c.Set("X-Frame-Options", "DENY")

		// Control referrer information
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")

		// Content Security Policy
		c.Set("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none'")

		// Strict Transport Security (enable HTTPS enforcement)
		c.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")

		// Remove server header
		c.Set("Server", "")

		return c.Next()
	}
}

// ValidateContentType ensures mutating requests carry a supported body type.
func ValidateContentType() fiber.Handler {
	return func(c *fiber.Ctx) error {
		method := c.Method()

		if method == "POST" || method == "PUT" || method == "PATCH" {
			contentType := c.Get("Content-Type")
			bodyLen := len(c.Body())

			if bodyLen > 0 {
				if contentType == "" {
					return c.Status(400).JSON(fiber.Map{
						"error": "content-type header required",
						"code":  "MISSING_CONTENT_TYPE",
					})
				}

				allowedTypes := []string{
					"application/json",
					"application/x-www-form-urlencoded",
				}

				valid := false
				for _, t := range allowedTypes {
					if strings.HasPrefix(contentType, t) {
						valid = true
						break
					}
				}

				if !valid {
					return c.Status(415).JSON(fiber.Map{
						"error": "unsupported content type",
						"code":  "UNSUPPORTED_MEDIA_TYPE",
					})
				}
			}
		}

		return c.Next()
	}
}

// MaxBodySize limits request body size for specific endpoints
func MaxBodySize(maxBytes int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if len(c.Body()) > maxBytes {
			return c.Status(413).JSON(fiber.Map{
				"error":    "request body too large",
				"code":     "PAYLOAD_TOO_LARGE",
				"max_size": maxBytes,
			})
		}
		return c.Next()
	}
}
