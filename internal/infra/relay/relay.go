// Package relay forwards requests under a local prefix to a fixed upstream
// origin. Nothing but the path is rewritten: method, headers, body and the
// upstream response pass through as they are.
package relay

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"image-studio/internal/infra/metrics"
)

// New returns a handler that maps prefix+suffix onto upstream+suffix.
func New(prefix, upstream string, logger *zerolog.Logger) (http.Handler, error) {
	target, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("relay: parse upstream: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("relay: upstream must be an absolute URL, got %q", upstream)
	}
	prefix = strings.TrimRight(prefix, "/")
	log := logger.With().Str("component", "relay").Str("upstream", target.Host).Logger()

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			suffix := strings.TrimPrefix(pr.In.URL.Path, prefix)
			pr.Out.URL.Scheme = target.Scheme
			pr.Out.URL.Host = target.Host
			pr.Out.URL.Path = joinPath(target.Path, suffix)
			pr.Out.URL.RawPath = ""
			pr.Out.URL.RawQuery = pr.In.URL.RawQuery
			pr.Out.Host = target.Host
		},
		ModifyResponse: func(resp *http.Response) error {
			metrics.IncRelayRequest(resp.Request.Method, resp.StatusCode)
			log.Debug().
				Str("method", resp.Request.Method).
				Str("path", resp.Request.URL.Path).
				Int("status", resp.StatusCode).
				Msg("relayed")
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			metrics.IncRelayRequest(r.Method, http.StatusBadGateway)
			log.Warn().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("upstream unreachable")
			w.WriteHeader(http.StatusBadGateway)
		},
	}, nil
}

func joinPath(base, suffix string) string {
	base = strings.TrimRight(base, "/")
	if suffix == "" {
		suffix = "/"
	}
	if !strings.HasPrefix(suffix, "/") {
		suffix = "/" + suffix
	}
	return base + suffix
}
