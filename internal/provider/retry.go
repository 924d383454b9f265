package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/snowcli/snow/pkg/models"
)

const (
	// DefaultIdleTimeout is how long a stream may go without a business
	// chunk (content/reasoning/tool-call delta) before it's declared stuck.
	// Keep-alive SSE comments do not reset this timer.
	DefaultIdleTimeout = 180 * time.Second

	// MaxRetryAttempts bounds the outer retry loop around the raw
	// generator. A partial stream is never replayed: each attempt starts
	// the request over from scratch.
	MaxRetryAttempts = 10
	// RetryDelay is the fixed delay between retry attempts.
	RetryDelay = 5 * time.Second
)

// ErrEmptyResponse is raised when a stream's channel closes before a Done
// chunk arrives, whether or not business chunks came first.
var ErrEmptyResponse = errors.New("[API_ERROR] [RETRIABLE] EMPTY_RESPONSE")

// ErrStreamIdleTimeout is raised when DefaultIdleTimeout elapses with no
// business chunk.
var ErrStreamIdleTimeout = errors.New("[API_ERROR] [RETRIABLE] StreamIdleTimeout")

// Generator produces one raw attempt at streaming a completion. It must
// not be assumed idempotent beyond "safe to call again from scratch" —
// StreamWithRetry never resumes a partial stream.
type Generator func(ctx context.Context) (<-chan *models.StreamChunk, error)

// IsRetriable classifies an error per §7: network errors, common DNS/
// connection-refused/reset conditions, HTTP 5xx (surfaced by dialect SDKs
// as plain errors whose message we inspect), and anything explicitly
// tagged [RETRIABLE] by this package or a dialect adapter.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrEmptyResponse) || errors.Is(err, ErrStreamIdleTimeout) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	for _, marker := range []string{
		"[RETRIABLE]", "ECONNRESET", "ECONNREFUSED", "ENOTFOUND",
		"connection reset", "connection refused", "EOF",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	for code := 500; code < 600; code++ {
		if strings.Contains(msg, fmt.Sprintf("status %d", code)) || strings.Contains(msg, fmt.Sprintf("%d ", code)+"Internal") {
			return true
		}
	}
	return false
}

// StreamWithRetry wraps gen with the outer retry loop (§4.1/§7) and the
// idle-timeout guard, presenting a single downstream channel whose chunks
// arrive in spec order regardless of how many attempts it took.
func StreamWithRetry(ctx context.Context, gen Generator, idleTimeout time.Duration) <-chan *models.StreamChunk {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	out := make(chan *models.StreamChunk)

	go func() {
		defer close(out)

		for attempt := 1; attempt <= MaxRetryAttempts; attempt++ {
			raw, err := gen(ctx)
			if err != nil {
				if IsRetriable(err) && attempt < MaxRetryAttempts {
					if !sleepOrDone(ctx, RetryDelay) {
						return
					}
					continue
				}
				out <- errChunk(err)
				return
			}

			retriableErr, sawBusiness, sawDone := pumpAttempt(ctx, raw, out, idleTimeout)
			if retriableErr == nil {
				return // attempt reached Done (or ctx died) and forwarded everything
			}
			if !sawBusiness && !sawDone && errors.Is(retriableErr, ErrEmptyResponse) {
				// fall through to retry
			}
			if attempt < MaxRetryAttempts && IsRetriable(retriableErr) {
				if !sleepOrDone(ctx, RetryDelay) {
					return
				}
				continue
			}
			out <- errChunk(retriableErr)
			return
		}
	}()

	return out
}

// pumpAttempt forwards chunks from one raw attempt to out, resetting an
// idle timer on every business chunk. It returns a non-nil retriable error
// if the attempt should be retried (idle timeout, empty response, or a
// retriable error chunk from the dialect adapter); in every other case the
// attempt's outcome (including Done, or a non-retriable error already
// forwarded by the adapter) has fully been delivered to out.
func pumpAttempt(ctx context.Context, raw <-chan *models.StreamChunk, out chan<- *models.StreamChunk, idleTimeout time.Duration) (retriable error, sawBusiness, sawDone bool) {
	timer := time.NewTimer(idleTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, sawBusiness, sawDone

		case <-timer.C:
			return ErrStreamIdleTimeout, sawBusiness, sawDone

		case chunk, ok := <-raw:
			if !ok {
				if !sawDone {
					return ErrEmptyResponse, sawBusiness, sawDone
				}
				return nil, sawBusiness, sawDone
			}
			if chunk.IsBusinessChunk() {
				sawBusiness = true
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(idleTimeout)
			}
			if chunk.Kind == models.ChunkDone {
				sawDone = true
			}
			if chunk.Kind == models.ChunkError {
				if IsRetriable(chunk.Err) {
					return chunk.Err, sawBusiness, sawDone
				}
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return nil, sawBusiness, sawDone
			}
			if chunk.Kind == models.ChunkDone {
				return nil, sawBusiness, sawDone
			}
		}
	}
}

func errChunk(err error) *models.StreamChunk {
	return &models.StreamChunk{Kind: models.ChunkError, Err: err}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
