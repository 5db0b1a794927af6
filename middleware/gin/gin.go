// Package gin provides Gin middleware that gates requests on the caller's
// entitlement tier.
package gin

import (
	"fmt"
	"net/http"

	gongin "github.com/gin-gonic/gin"

	"github.com/mihaimyh/entitled/pkg/entitled"
)

// TierExtractor resolves the caller's entitlement tier from a Gin context.
// Return an empty tier if the caller is not authenticated.
type TierExtractor func(c *gongin.Context) (entitled.Tier, error)

// UsageExtractor reports how much of the free allowance the caller has
// already consumed.
type UsageExtractor func(c *gongin.Context) (int, error)

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
	OnDenied func(c *gongin.Context)

	// OnUnauthorized is called when the caller is not authenticated.
	// If nil, returns 401.
	OnUnauthorized func(c *gongin.Context)

	// OnError is called when an internal error occurs.
	// If nil, returns 500.
	OnError func(c *gongin.Context, err error)
}

// Middleware creates a Gin middleware that lets premium callers through
// and holds free callers to the configured allowance.
func Middleware(config Config) gongin.HandlerFunc {
	if config.GetTier == nil {
		panic("entitled/gin: Config.GetTier is required")
	}
	if config.FreeAllowance > 0 && config.GetUsage == nil {
		panic("entitled/gin: Config.GetUsage is required with a free allowance")
	}

	return func(c *gongin.Context) {
		tier, err := config.GetTier(c)
		if err != nil {
			handleError(config, c, err)
			return
		}
		if tier == "" {
			if config.OnUnauthorized != nil {
				config.OnUnauthorized(c)
			} else {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gongin.H{"error": "unauthorized"})
			}
			return
		}
		if tier == entitled.TierPremium {
			c.Next()
			return
		}

		if config.FreeAllowance > 0 {
			used, err := config.GetUsage(c)
			if err != nil {
				handleError(config, c, err)
				return
			}
			if used < config.FreeAllowance {
				c.Next()
				return
			}
		}

		if config.OnDenied != nil {
			config.OnDenied(c)
		} else {
			c.AbortWithStatusJSON(http.StatusForbidden, gongin.H{
				"error": fmt.Sprintf("free limit reached (%d), upgrade to premium to continue", config.FreeAllowance),
			})
		}
	}
}

func handleError(config Config, c *gongin.Context, err error) {
	if config.OnError != nil {
		config.OnError(c, err)
		return
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, gongin.H{"error": "internal error"})
}
