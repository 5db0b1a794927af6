// Package echo provides Echo middleware that gates requests on the caller's
// entitlement tier.
package echo

import (
	"fmt"
	"net/http"

	goecho "github.com/labstack/echo/v4"

	"github.com/mihaimyh/entitled/pkg/entitled"
)

// TierExtractor resolves the caller's entitlement tier from an Echo context.
// Return an empty tier if the caller is not authenticated.
type TierExtractor func(c goecho.Context) (entitled.Tier, error)

// UsageExtractor reports how much of the free allowance the caller has
// already consumed.
type UsageExtractor func(c goecho.Context) (int, error)

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
	OnDenied func(c goecho.Context) error

	// OnUnauthorized is called when the caller is not authenticated.
	// If nil, returns 401.
	OnUnauthorized func(c goecho.Context) error

	// OnError is called when an internal error occurs.
	// If nil, returns 500.
	OnError func(c goecho.Context, err error) error
}

// Middleware creates an Echo middleware that lets premium callers through
// and holds free callers to the configured allowance.
func Middleware(config Config) goecho.MiddlewareFunc {
	if config.GetTier == nil {
		panic("entitled/echo: Config.GetTier is required")
	}
	if config.FreeAllowance > 0 && config.GetUsage == nil {
		panic("entitled/echo: Config.GetUsage is required with a free allowance")
	}

	return func(next goecho.HandlerFunc) goecho.HandlerFunc {
		return func(c goecho.Context) error {
			tier, err := config.GetTier(c)
			if err != nil {
				return handleError(config, c, err)
			}
			if tier == "" {
				if config.OnUnauthorized != nil {
					return config.OnUnauthorized(c)
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			}
			if tier == entitled.TierPremium {
				return next(c)
			}

			if config.FreeAllowance > 0 {
				used, err := config.GetUsage(c)
				if err != nil {
					return handleError(config, c, err)
				}
				if used < config.FreeAllowance {
					return next(c)
				}
			}

			if config.OnDenied != nil {
				return config.OnDenied(c)
			}
			return c.JSON(http.StatusForbidden, map[string]string{
				"error": fmt.Sprintf("free limit reached (%d), upgrade to premium to continue", config.FreeAllowance),
			})
		}
	}
}

func handleError(config Config, c goecho.Context, err error) error {
	if config.OnError != nil {
		return config.OnError(c, err)
	}
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
}
