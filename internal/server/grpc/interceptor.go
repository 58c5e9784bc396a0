package grpc

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/counselkeeper/internal/common"
	"github.com/dmitrijs2005/counselkeeper/internal/server/auth"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// identityInterceptor resolves the access token into a caller. A missing or
// bad token does not abort the call: the request continues unauthenticated
// so the denial is decided and audited by the record service. A failing
// identity backend aborts with Unavailable.
func (s *GRPCServer) identityInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {

	var accessToken string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		values := md.Get(common.AccessTokenHeaderName)
		if len(values) > 0 {
			accessToken = values[0]
		}
	}

	if accessToken != "" {
		caller, err := s.identity.Resolve(ctx, accessToken)
		switch {
		case err == nil:
			ctx = auth.WithCaller(ctx, caller)
		case errors.Is(err, common.ErrorUnauthorized):
			s.logger.Debug(ctx, "access token rejected", "method", info.FullMethod)
		default:
			s.logger.Error(ctx, "identity lookup failed", "method", info.FullMethod, "error", err)
			return nil, status.Error(codes.Unavailable, "identity lookup failed")
		}
	}

	return handler(ctx, req)
}

func (s *GRPCServer) rateLimitInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if s.limiter == nil {
		return handler(ctx, req)
	}

	key := rateKey(ctx)
	if !s.limiter.allow(key) {
		if s.metrics != nil {
			s.metrics.RateLimited()
		}
		s.logger.Warn(ctx, "rate limited", "method", info.FullMethod, "key", key)
		return nil, toStatus(common.ErrorRateLimited)
	}
	return handler(ctx, req)
}

// rateKey buckets authenticated callers by id and everyone else by peer
// address.
func rateKey(ctx context.Context) string {
	if c := auth.CallerFromContext(ctx); c != nil {
		return "caller:" + c.ID
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return "peer:" + p.Addr.String()
	}
	return "anonymous"
}

const limiterIdleTTL = 10 * time.Minute

type visitor struct {
	lim  *rate.Limiter
	seen time.Time
}

// limiterSet keeps one token bucket per key and drops buckets idle for
// longer than limiterIdleTTL.
type limiterSet struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	now       func() time.Time
	visitors  map[string]*visitor
	lastSweep time.Time
}

func newLimiterSet(rps float64, burst int, now func() time.Time) *limiterSet {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &limiterSet{
		limit:     rate.Limit(rps),
		burst:     burst,
		now:       now,
		visitors:  map[string]*visitor{},
		lastSweep: now(),
	}
}

func (l *limiterSet) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > limiterIdleTTL {
		for k, v := range l.visitors {
			if now.Sub(v.seen) > limiterIdleTTL {
				delete(l.visitors, k)
			}
		}
		l.lastSweep = now
	}

	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{lim: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.seen = now
	return v.lim.AllowN(now, 1)
}
