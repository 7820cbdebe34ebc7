package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"

	"trackresync/internal/config"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const (
	apiKeyHeaderDefault   = "x-api-key"
	apiExtraHeaderDefault = "x-api-extra"
	clientKeyUnknown      = "unknown"

	PermReadStatus   = "read:status"
	PermReadPending  = "read:pending"
	PermWritePending = "write:pending"
	PermWriteResync  = "write:resync"
)

var (
	errMissingHeaders   = errors.New("missing api key headers")
	errInvalidAPIKey    = errors.New("invalid api key")
	errInvalidExtra     = errors.New("invalid extra header")
	errPermissionDenied = errors.New("permission denied")
	errRateLimited      = errors.New("rate limit exceeded")
)

// apiKeys validates an API key pair against the configured clients and checks the
// client's permission list. An empty permission list allows everything.
type apiKeys struct {
	cfg     config.APIConfig
	clients map[string]config.APIClientKey
}

func newAPIKeys(cfg config.APIConfig) *apiKeys {
	m := make(map[string]config.APIClientKey, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		m[k.Key] = k
	}
	return &apiKeys{cfg: cfg, clients: m}
}

func (k *apiKeys) keyHeader() string {
	if h := strings.ToLower(strings.TrimSpace(k.cfg.Auth.HeaderAPIKey)); h != "" {
		return h
	}
	return apiKeyHeaderDefault
}

func (k *apiKeys) extraHeader() string {
	if h := strings.ToLower(strings.TrimSpace(k.cfg.Auth.HeaderExtra)); h != "" {
		return h
	}
	return apiExtraHeaderDefault
}

func (k *apiKeys) check(apiKey, extra, required string) error {
	if apiKey == "" || extra == "" {
		return errMissingHeaders
	}
	client, ok := k.clients[apiKey]
	if !ok {
		return errInvalidAPIKey
	}
	if subtle.ConstantTimeCompare([]byte(client.Extra), []byte(extra)) != 1 {
		return errInvalidExtra
	}

	if required == "" || len(client.Permissions) == 0 {
		return nil
	}
	for _, p := range client.Permissions {
		if strings.TrimSpace(p) == required {
			return nil
		}
	}
	return errPermissionDenied
}

// HTTPAuth provides API-key auth and per-key rate limiting for HTTP endpoints.
type HTTPAuth struct {
	keys    *apiKeys
	limiter *rateLimiter
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	return &HTTPAuth{keys: newAPIKeys(cfg), limiter: newRateLimiter(cfg.RateLimit)}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cfg := a.keys.cfg
		if !cfg.Enabled || r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		if cfg.Auth.Enabled {
			err := a.keys.check(
				strings.TrimSpace(r.Header.Get(a.keys.keyHeader())),
				strings.TrimSpace(r.Header.Get(a.keys.extraHeader())),
				requiredPermissionHTTP(r),
			)
			if err != nil {
				statusCode := http.StatusUnauthorized
				if errors.Is(err, errPermissionDenied) {
					statusCode = http.StatusForbidden
				}
				writeError(w, statusCode, err.Error())
				return
			}
		}

		if !a.limiter.allow(a.clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, errRateLimited.Error())
			return
		}

		next.ServeHTTP(w, r)
	})
}

func requiredPermissionHTTP(r *http.Request) string {
	path := r.URL.Path
	switch {
	case path == "/api/v1/resync":
		return PermWriteResync
	case path == "/api/v1/status":
		return PermReadStatus
	case strings.HasPrefix(path, "/api/v1/progress/"):
		return PermWritePending
	case strings.HasPrefix(path, "/api/v1/pending"):
		if r.Method == http.MethodGet {
			return PermReadPending
		}
		return PermWritePending
	}
	return ""
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(a.keys.keyHeader())); apiKey != "" {
		return apiKey
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}

// AuthInterceptor applies the same API-key rules to gRPC calls.
type AuthInterceptor struct {
	keys    *apiKeys
	limiter *rateLimiter
}

func NewAuthInterceptor(cfg config.APIConfig) *AuthInterceptor {
	return &AuthInterceptor{keys: newAPIKeys(cfg), limiter: newRateLimiter(cfg.RateLimit)}
}

func (a *AuthInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		cfg := a.keys.cfg
		if !cfg.Enabled {
			return handler(ctx, req)
		}

		if cfg.Auth.Enabled {
			md, ok := metadata.FromIncomingContext(ctx)
			if !ok {
				return nil, status.Error(codes.Unauthenticated, "missing metadata")
			}
			err := a.keys.check(first(md.Get(a.keys.keyHeader())), first(md.Get(a.keys.extraHeader())),
				requiredPermission(info.FullMethod))
			switch {
			case errors.Is(err, errPermissionDenied):
				return nil, status.Error(codes.PermissionDenied, err.Error())
			case err != nil:
				return nil, status.Error(codes.Unauthenticated, err.Error())
			}
		}

		if !a.limiter.allow(a.clientKey(ctx)) {
			return nil, status.Error(codes.ResourceExhausted, errRateLimited.Error())
		}

		return handler(ctx, req)
	}
}

func requiredPermission(fullMethod string) string {
	if strings.HasPrefix(fullMethod, "/grpc.health.v1.Health/") {
		return PermReadStatus
	}
	return ""
}

func (a *AuthInterceptor) clientKey(ctx context.Context) string {
	md, _ := metadata.FromIncomingContext(ctx)
	if apiKey := first(md.Get(a.keys.keyHeader())); apiKey != "" {
		return apiKey
	}

	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return clientKeyUnknown
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0])
}
