package middleware

import (
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/cogniscribe/api/internal/audit"
	"github.com/cogniscribe/api/internal/limiter"
	"github.com/cogniscribe/api/pkg/response"
)

// Auditor records admission rejections.
type Auditor interface {
	Record(action, subjectID, outcome, detail string)
}

// RateLimiter turns admission decisions into HTTP responses.
type RateLimiter struct {
	limiter *limiter.Limiter
	audit   Auditor
}

func NewRateLimiter(l *limiter.Limiter, auditor Auditor) *RateLimiter {
	return &RateLimiter{limiter: l, audit: auditor}
}

// SubmitLimit guards the pipeline submission endpoint. Reads and
// cancellations are never limited.
func (rl *RateLimiter) SubmitLimit() fiber.Handler {
	return func(c *fiber.Ctx) error {
		clientID := GetUserID(c)
		if clientID == "" {
			clientID = c.IP()
		}

		decision, err := rl.limiter.Allow(c.Context(), clientID)
		if err != nil {
			// The limiter admits on Redis failure; err is informational.
			log.Printf("Rate limiter degraded: %v", err)
		}

		c.Set("X-RateLimit-Limit", fmt.Sprintf("%d", rl.limiter.Limit()))
		c.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", decision.Remaining))

		if !decision.Allowed {
			c.Set("Retry-After", fmt.Sprintf("%d", int(decision.RetryAfter.Seconds())))
			rl.audit.Record(audit.ActionRateLimited, clientID, audit.OutcomeFailure,
				fmt.Sprintf("window exhausted: %d/%d", decision.Used, rl.limiter.Limit()))
			return response.RateLimited(c)
		}

		return c.Next()
	}
}
