package client

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"roblox-proxy-go/internal/config"
)

// RetryPolicy decides which outbound attempts are repeated and how long to
// wait between them.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first one.
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// RetryableStatuses are the upstream status codes that trigger a retry.
	RetryableStatuses []int
}

// RetryPolicyFromConfig builds a RetryPolicy from upstream.retry settings.
func RetryPolicyFromConfig(cfg config.RetryConfig) RetryPolicy {
	statuses := cfg.RetryableStatuses
	if len(statuses) == 0 {
		statuses = config.DefaultRetryableStatuses
	}
	return RetryPolicy{
		MaxAttempts:       cfg.MaxAttempts,
		BackoffBase:       time.Duration(cfg.BackoffBaseMillis) * time.Millisecond,
		BackoffMax:        time.Duration(cfg.BackoffMaxMillis) * time.Millisecond,
		RetryableStatuses: slices.Clone(statuses),
	}
}

// Retries returns the number of retries after the first attempt.
func (p RetryPolicy) Retries() int {
	if p.MaxAttempts <= 1 {
		return 0
	}
	return p.MaxAttempts - 1
}

// RetryableStatus reports whether an upstream status code should be retried.
func (p RetryPolicy) RetryableStatus(code int) bool {
	return slices.Contains(p.RetryableStatuses, code)
}

// CheckRetry implements retryablehttp.CheckRetry. Transport failures are
// retried unless they can never succeed (bad scheme, invalid certificate,
// malformed headers); responses are retried only for RetryableStatuses.
func (p RetryPolicy) CheckRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, nil, err)
	}
	return p.RetryableStatus(resp.StatusCode), nil
}

// Backoff implements retryablehttp.Backoff: base*2^attempt, or the upstream
// Retry-After on 429/503, never longer than BackoffMax.
func (p RetryPolicy) Backoff(_, _ time.Duration, attemptNum int, resp *http.Response) time.Duration {
	wait := retryablehttp.DefaultBackoff(p.BackoffBase, p.BackoffMax, attemptNum, resp)
	if p.BackoffMax > 0 && wait > p.BackoffMax {
		wait = p.BackoffMax
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}
