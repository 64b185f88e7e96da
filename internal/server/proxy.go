package server

import (
	"encoding/json"
	"net/http"
	"net/http/httputil"
	"strings"

	"CopilotLane/internal/conf"
	"CopilotLane/internal/router"
	pkgerrors "CopilotLane/pkg/errors"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
)

// proxyPrefix mounts the data path: everything under it is forwarded to the
// Copilot API through the pooled-credential transport.
const proxyPrefix = "/proxy"

// publicAPIHost is where github.com-issued credentials send API traffic.
const publicAPIHost = "api.githubcopilot.com"

// hostHeader lets a caller aim a proxied request at an enterprise pool
// instead of the public one.
const hostHeader = "X-GitHub-Host"

// ProxyHandler forwards API calls to the Copilot backend, letting the
// routing transport pick and inject the credential per request.
type ProxyHandler struct {
	proxy  *httputil.ReverseProxy
	logger *log.Helper
}

// NewProxyHandler builds the local reverse proxy over the Router transport.
func NewProxyHandler(upstream *conf.Upstream, rt *router.Router, logger log.Logger) *ProxyHandler {
	helper := log.NewHelper(logger)

	reverse := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			out := pr.Out
			out.URL.Scheme = "https"
			out.URL.Host = publicAPIHost
			if host := pr.In.Header.Get(hostHeader); host != "" && host != upstream.PublicHost {
				out.URL.Host = "copilot-api." + host
			}
			out.URL.Path = strings.TrimPrefix(out.URL.Path, proxyPrefix)
			out.Host = out.URL.Host
			out.Header.Del(hostHeader)
		},
		Transport: rt,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			helper.Warnw("msg", "proxy request failed", "path", r.URL.Path, "error", err.Error())
			ke := kerrors.FromError(err)
			status := int(ke.Code)
			if status < 100 || status > 599 {
				status = http.StatusBadGateway
			}
			if pkgerrors.IsPoolExhausted(err) {
				status = http.StatusServiceUnavailable
			}
			payload, _ := json.Marshal(map[string]string{"error": ke.Message})
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			w.Write(payload) //nolint:errcheck
		},
	}

	return &ProxyHandler{proxy: reverse, logger: helper}
}

// ServeHTTP implements http.Handler.
func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.proxy.ServeHTTP(w, r)
}
