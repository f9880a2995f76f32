package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/fhirlite/fhirlite/server/internal/config"
)

// settings is one immutable snapshot of the auth configuration.
type settings struct {
	enabled bool
	header  string
	key     string
}

// Guard checks the shared API key on HTTP requests and gRPC calls.
// Update swaps the key atomically so a config reload takes effect on the
// next request.
type Guard struct {
	cur atomic.Pointer[settings]
}

// NewGuard creates a Guard from cfg.
func NewGuard(cfg config.AuthConfig) *Guard {
	g := &Guard{}
	g.Update(cfg)
	return g
}

// Update replaces the active settings with cfg.
func (g *Guard) Update(cfg config.AuthConfig) {
	g.cur.Store(&settings{
		enabled: cfg.Enabled(),
		header:  strings.ToLower(cfg.EffectiveHeader()),
		key:     cfg.Key(),
	})
}

// allow reports whether presented matches the active key. With auth
// disabled everything is allowed. An enabled guard with no key resolved
// from the environment rejects everything.
func (s *settings) allow(presented string) bool {
	if !s.enabled {
		return true
	}
	if s.key == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(s.key)) == 1
}

// Middleware rejects requests without the correct key with
// 401 {"error":"unauthorized"}.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := g.cur.Load()
		if !s.allow(r.Header.Get(s.header)) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// UnaryInterceptor returns a gRPC UnaryServerInterceptor enforcing the key.
// A missing or incorrect key returns codes.Unauthenticated.
func (g *Guard) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if err := g.checkMetadata(ctx); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamInterceptor is the streaming counterpart of UnaryInterceptor.
func (g *Guard) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		if err := g.checkMetadata(ss.Context()); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

func (g *Guard) checkMetadata(ctx context.Context) error {
	s := g.cur.Load()
	if !s.enabled {
		return nil
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	var presented string
	if vals := md.Get(s.header); len(vals) > 0 {
		presented = vals[0]
	}
	if !s.allow(presented) {
		return status.Error(codes.Unauthenticated, "invalid api key")
	}
	return nil
}
