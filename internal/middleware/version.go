package middleware

import (
	"github.com/gofiber/fiber/v2"
)

// VersionHeader selects the annotation API revision a client targets.
const VersionHeader = "X-Api-Version"

const versionLocal = "apiVersion"

// VersionMiddleware parses the X-Api-Version header and stores the
// normalized version in context
func VersionMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		version := c.Get(VersionHeader, "1.0.0")

		// Support version aliases
		if version == "1.0" {
			version = "1.0.0"
		}

		// Store version in context
		c.Locals(versionLocal, version)

		return c.Next()
	}
}

// APIVersion returns the version negotiated by VersionMiddleware.
func APIVersion(c *fiber.Ctx) string {
	version, _ := c.Locals(versionLocal).(string)
	if version == "" {
		return "1.0.0"
	}
	return version
}
