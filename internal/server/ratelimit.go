package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/54b3r/kbai-go/internal/logging"
)

const (
	// defaultRateLimit is the sustained requests per second per client and scope.
	defaultRateLimit = 10
	// defaultRateBurst is the bucket size per client and scope.
	defaultRateBurst = 20
	// limiterTTL is how long an idle bucket is kept.
	limiterTTL = 5 * time.Minute
)

// Rate-limit scopes. Each client gets an independent bucket per scope so
// login retries never eat into the chat budget.
const (
	scopeChat  = "chat"
	scopeLogin = "login"
)

// bucketKey identifies one token bucket.
type bucketKey struct {
	client string
	scope  string
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter enforces per-client, per-scope token buckets. Idle buckets are
// evicted every minute.
type rateLimiter struct {
	mu      sync.Mutex
	buckets map[bucketKey]*bucket
	rps     rate.Limit
	burst   int
	log     *slog.Logger
	now     func() time.Time
}

// newRateLimiter constructs a rateLimiter and starts its eviction goroutine,
// which exits when the returned stop function is called.
func newRateLimiter(rps float64, burst int, log *slog.Logger) (*rateLimiter, func()) {
	rl := &rateLimiter{
		buckets: make(map[bucketKey]*bucket),
		rps:     rate.Limit(rps),
		burst:   burst,
		log:     log,
		now:     time.Now,
	}

	stopCh := make(chan struct{})
	go rl.evictLoop(stopCh)

	return rl, func() { close(stopCh) }
}

func (rl *rateLimiter) limiter(key bucketKey) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = rl.now()
	return b.limiter
}

func (rl *rateLimiter) evictLoop(stopCh <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			rl.evict()
		}
	}
}

// evict drops buckets idle for longer than limiterTTL.
func (rl *rateLimiter) evict() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-limiterTTL)
	for key, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
}

// limit wraps next with the bucket for scope. Rejected requests get 429
// with Retry-After set to the whole seconds until a token is available.
func (rl *rateLimiter) limit(scope string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientIP(r)
		lim := rl.limiter(bucketKey{client: client, scope: scope})

		now := rl.now()
		res := lim.ReserveN(now, 1)
		if delay := res.DelayFrom(now); !res.OK() || delay > 0 {
			res.CancelAt(now)
			logging.FromContext(r.Context()).Warn("rate limit exceeded",
				slog.String("ip", client),
				slog.String("scope", scope),
				slog.String("path", r.URL.Path),
			)
			w.Header().Set("Retry-After", retryAfter(delay))
			writeStatus(r.Context(), w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// retryAfter renders d as whole seconds, at least 1.
func retryAfter(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 || d == rate.InfDuration {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// clientIP returns the host part of RemoteAddr. X-Forwarded-For is not
// trusted; deployments behind a proxy rate limit there.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
