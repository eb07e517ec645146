package grpcapi

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"gatekeep.org/internal/audit"
	"gatekeep.org/internal/auth"
	"gatekeep.org/internal/ids"
	"gatekeep.org/internal/obs"
)

// Metadata keys every signed call must carry. The user agent of the end
// client travels separately from the transport's own user-agent header.
const (
	MetadataIP        = "x-real-ip"
	MetadataUserAgent = "user-agent-original"
	MetadataRequestID = "x-request-id"

	invalidSignature = "Invalid Request Signature!"
	healthPrefix     = "/grpc.health.v1.Health/"
)

func exempt(fullMethod string) bool {
	return strings.HasPrefix(fullMethod, healthPrefix)
}

func firstValue(md metadata.MD, key string) (string, bool) {
	vals := md.Get(key)
	if len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

// Recovery turns handler panics into Internal.
func Recovery(log obs.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic in handler", "method", info.FullMethod, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
				err = status.Error(codes.Internal, internalMessage)
			}
		}()
		return handler(ctx, req)
	}
}

// Logging assigns a request id, echoes it in the response header and logs
// the call.
func Logging(log obs.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		requestID, ok := firstValue(md, MetadataRequestID)
		if !ok || requestID == "" {
			requestID = ids.New()
		}
		ip, _ := firstValue(md, MetadataIP)
		ctx = audit.WithRequestID(ctx, requestID)
		_ = grpc.SetHeader(ctx, metadata.Pairs(MetadataRequestID, requestID))

		log.Info("rpc", "method", info.FullMethod, "ip", ip, "request_id", requestID)
		start := time.Now()
		resp, err := handler(ctx, req)
		log.Debug("rpc done", "method", info.FullMethod, "request_id", requestID,
			"code", status.Code(err).String(), "duration", time.Since(start))
		return resp, err
	}
}

// Metrics records request count, latency and in-flight gauge.
func Metrics() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		done := obs.RPCStarted(info.FullMethod)
		resp, err := handler(ctx, req)
		done(status.Code(err).String())
		return resp, err
	}
}

// Errors maps service errors onto status codes. Unknown errors are logged
// and hidden behind a generic message.
func Errors(log obs.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		if err == nil {
			return resp, nil
		}
		st, known := toStatus(err)
		if !known {
			log.Error("unhandled error", "method", info.FullMethod,
				"request_id", audit.RequestIDFromContext(ctx), "err", err)
		}
		return nil, st.Err()
	}
}

// Signature rejects calls without the caller IP and user agent and puts them
// on the context as an auth.Client.
func Signature(log obs.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if exempt(info.FullMethod) {
			return handler(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		ip, okIP := firstValue(md, MetadataIP)
		ua, okUA := firstValue(md, MetadataUserAgent)
		if !okIP || !okUA {
			log.Warn("invalid request signature", "method", info.FullMethod)
			return nil, status.Error(codes.Unauthenticated, invalidSignature)
		}
		ctx = auth.ContextWithClient(ctx, auth.Client{IP: ip, UserAgent: ua})
		return handler(ctx, req)
	}
}

// RateLimit applies a token bucket per caller IP. The caller IP comes from
// metadata, falling back to the transport peer.
func RateLimit(perSecond float64, burst int) grpc.UnaryServerInterceptor {
	type bucket struct {
		lim  *rate.Limiter
		seen time.Time
	}
	const idle = 5 * time.Minute
	var (
		mu        sync.Mutex
		buckets   = make(map[string]*bucket)
		lastSweep = time.Now()
	)
	if burst <= 0 {
		burst = max(1, int(perSecond))
	}

	allow := func(key string) bool {
		mu.Lock()
		defer mu.Unlock()
		now := time.Now()
		if now.Sub(lastSweep) > time.Minute {
			for k, b := range buckets {
				if now.Sub(b.seen) > idle {
					delete(buckets, k)
				}
			}
			lastSweep = now
		}
		b, ok := buckets[key]
		if !ok {
			b = &bucket{lim: rate.NewLimiter(rate.Limit(perSecond), burst)}
			buckets[key] = b
		}
		b.seen = now
		return b.lim.Allow()
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if exempt(info.FullMethod) {
			return handler(ctx, req)
		}
		if !allow(callerKey(ctx)) {
			return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
		}
		return handler(ctx, req)
	}
}

func callerKey(ctx context.Context) string {
	if c, ok := auth.ClientFromContext(ctx); ok && c.IP != "" {
		return c.IP
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		addr := p.Addr.String()
		if i := strings.LastIndexByte(addr, ':'); i > 0 {
			return addr[:i]
		}
		return addr
	}
	return "unknown"
}
