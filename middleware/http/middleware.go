// Package http provides HTTP middleware that gates requests on the caller's
// entitlement tier.
package http

import (
	"fmt"
	"net/http"

	"github.com/mihaimyh/entitled/pkg/entitled"
)

// TierExtractor resolves the caller's entitlement tier from a request.
// Return an empty tier if the caller is not authenticated.
type TierExtractor func(r *http.Request) (entitled.Tier, error)

// UsageExtractor reports how much of the free allowance the caller has
// already consumed.
type UsageExtractor func(r *http.Request) (int, error)

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
	// If nil, returns 403 Forbidden.
	OnDenied func(w http.ResponseWriter, r *http.Request)

	// OnUnauthorized is called when the caller is not authenticated.
	// If nil, returns 401 Unauthorized.
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnError is called when an internal error occurs.
	// If nil, returns 500 Internal Server Error.
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// Middleware creates an HTTP middleware that lets premium callers through
// and holds free callers to the configured allowance.
func Middleware(config Config) func(http.Handler) http.Handler {
	if config.GetTier == nil {
		panic("entitled/middleware/http: Config.GetTier is required")
	}
	if config.FreeAllowance > 0 && config.GetUsage == nil {
		panic("entitled/middleware/http: Config.GetUsage is required with a free allowance")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tier, err := config.GetTier(r)
			if err != nil {
				handleError(config, w, r, err)
				return
			}
			if tier == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
				}
				return
			}
			if tier == entitled.TierPremium {
				next.ServeHTTP(w, r)
				return
			}

			if config.FreeAllowance > 0 {
				used, err := config.GetUsage(r)
				if err != nil {
					handleError(config, w, r, err)
					return
				}
				if used < config.FreeAllowance {
					next.ServeHTTP(w, r)
					return
				}
			}

			if config.OnDenied != nil {
				config.OnDenied(w, r)
			} else {
				msg := fmt.Sprintf("Free limit reached (%d). Upgrade to premium to continue.", config.FreeAllowance)
				http.Error(w, msg, http.StatusForbidden)
			}
		})
	}
}

func handleError(config Config, w http.ResponseWriter, r *http.Request, err error) {
	if config.OnError != nil {
		config.OnError(w, r, err)
		return
	}
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}
