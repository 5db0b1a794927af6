// Package fiber provides Fiber middleware that gates requests on the
// caller's entitlement tier.
package fiber

import (
	"fmt"

	gofiber "github.com/gofiber/fiber/v2"

	"github.com/mihaimyh/entitled/pkg/entitled"
)

// TierExtractor resolves the caller's entitlement tier from a Fiber context.
// Return an empty tier if the caller is not authenticated.
type TierExtractor func(c *gofiber.Ctx) (entitled.Tier, error)

// UsageExtractor reports how much of the free allowance the caller has
// already consumed.
type UsageExtractor func(c *gofiber.Ctx) (int, error)

// Config holds middleware configuration.
type Config struct {
	// GetTier resolves the caller's tier (required).
	GetTier TierExtractor

	// FreeAllowance is how many uses a free-tier caller gets before the
	// gate closes. Zero means premium-only.
	FreeAllowance int

	// GetUsage reports the free-tier usage count. Required when
	// FreeAllowance is positive.
	GetUsage UsageExtractor

	// OnDenied is called when a free-tier caller is past the allowance.
	// If nil, returns 403 with a JSON error.
	OnDenied func(c *gofiber.Ctx) error

	// OnUnauthorized is called when the caller is not authenticated.
	// If nil, returns 401.
	OnUnauthorized func(c *gofiber.Ctx) error

	// OnError is called when an internal error occurs.
	// If nil, returns 500.
	OnError func(c *gofiber.Ctx, err error) error
}

// Middleware creates a Fiber middleware that lets premium callers through
// and holds free callers to the configured allowance.
func Middleware(config Config) gofiber.Handler {
	if config.GetTier == nil {
		panic("entitled/fiber: Config.GetTier is required")
	}
	if config.FreeAllowance > 0 && config.GetUsage == nil {
		panic("entitled/fiber: Config.GetUsage is required with a free allowance")
	}

	return func(c *gofiber.Ctx) error {
		tier, err := config.GetTier(c)
		if err != nil {
			return handleError(config, c, err)
		}
		if tier == "" {
			if config.OnUnauthorized != nil {
				return config.OnUnauthorized(c)
			}
			return c.Status(gofiber.StatusUnauthorized).JSON(gofiber.Map{"error": "unauthorized"})
		}
		if tier == entitled.TierPremium {
			return c.Next()
		}

		if config.FreeAllowance > 0 {
			used, err := config.GetUsage(c)
			if err != nil {
				return handleError(config, c, err)
			}
			if used < config.FreeAllowance {
				return c.Next()
			}
		}

		if config.OnDenied != nil {
			return config.OnDenied(c)
		}
		return c.Status(gofiber.StatusForbidden).JSON(gofiber.Map{
			"error": fmt.Sprintf("free limit reached (%d), upgrade to premium to continue", config.FreeAllowance),
		})
	}
}

func handleError(config Config, c *gofiber.Ctx, err error) error {
	if config.OnError != nil {
		return config.OnError(c, err)
	}
	return c.Status(gofiber.StatusInternalServerError).JSON(gofiber.Map{"error": "internal error"})
}
