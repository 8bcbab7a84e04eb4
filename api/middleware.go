/*
middleware.go - Request logging, caller identity and rate limiting

MIDDLEWARE:
  RequestLogger   one logrus line per request (request id, method, path,
                  status, duration)
  Actor           reads X-Actor-ID into the request context
  RateLimiter     token bucket per actor (remote address when anonymous)

IDENTITY:
  There is no authentication. The caller's employee id is taken from the
  X-Actor-ID header and passed explicitly to the rewards service.
*/
package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/warp/recognition-ledger/ledger"
)

// ActorHeader carries the calling employee's id.
const ActorHeader = "X-Actor-ID"

type ctxKey int

const actorKey ctxKey = iota

// =============================================================================
// ACTOR
// =============================================================================

// Actor stores the X-Actor-ID header value in the request context.
func Actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := strings.TrimSpace(r.Header.Get(ActorHeader)); id != "" {
			r = r.WithContext(context.WithValue(r.Context(), actorKey, ledger.EmployeeID(id)))
		}
		next.ServeHTTP(w, r)
	})
}

// ActorFrom returns the caller id, or "" when the header was absent.
func ActorFrom(ctx context.Context) ledger.EmployeeID {
	id, _ := ctx.Value(actorKey).(ledger.EmployeeID)
	return id
}

// =============================================================================
// REQUEST LOGGING
// =============================================================================

// RequestLogger logs every request through log.
func RequestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				entry := log.WithFields(logrus.Fields{
					"request_id": middleware.GetReqID(r.Context()),
					"method":     r.Method,
					"path":       r.URL.Path,
					"status":     ww.Status(),
					"bytes":      ww.BytesWritten(),
					"duration":   time.Since(start).String(),
				})
				if actor := ActorFrom(r.Context()); actor != "" {
					entry = entry.WithField("actor_id", actor)
				}
				if ww.Status() >= http.StatusInternalServerError {
					entry.Warn("request failed")
					return
				}
				entry.Info("request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// =============================================================================
// RATE LIMITING
// =============================================================================

const (
	maxTrackedCallers = 10000
	callerTTL         = 10 * time.Minute
)

// RateLimiter hands out one token bucket per caller. Buckets are dropped
// callerTTL after creation and rebuilt full on the next request.
type RateLimiter struct {
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	limiters *expirable.LRU[string, *rate.Limiter]
	log      logrus.FieldLogger
}

// NewRateLimiter allows rps requests per second with the given burst per
// caller. rps <= 0 disables limiting.
func NewRateLimiter(rps float64, burst int, log logrus.FieldLogger) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rate:     rate.Limit(rps),
		burst:    burst,
		limiters: expirable.NewLRU[string, *rate.Limiter](maxTrackedCallers, nil, callerTTL),
		log:      log,
	}
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if l, ok := rl.limiters.Get(key); ok {
		return l
	}
	l := rate.NewLimiter(rl.rate, rl.burst)
	rl.limiters.Add(key, l)
	return l
}

// Handler rejects requests over the caller's budget with 429.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.rate <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		key := string(ActorFrom(r.Context()))
		if key == "" {
			key = r.RemoteAddr
		}

		if !rl.limiter(key).Allow() {
			rl.log.WithFields(logrus.Fields{
				"key":    key,
				"path":   r.URL.Path,
				"method": r.Method,
			}).Warn("rate limit exceeded")
			writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
				Error: "Too many requests",
				Code:  "rate_limited",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
