// Package middleware holds the HTTP middleware for the management surface.
package middleware

import (
	"context"
	"strings"
	"time"

	pkglog "CopilotLane/pkg/log"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// Logging records method, path, status and duration for every management
// call, tagging each with a request id carried through the context.
func Logging(logger log.Logger) middleware.Middleware {
	helper := log.NewHelper(logger)

	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			start := time.Now()

			var (
				method    string
				path      string
				ip        string
				requestID string
			)

			if tr, ok := transport.FromServerContext(ctx); ok {
				method = tr.Operation()
				path = tr.Operation()

				if ht, ok := tr.(http.Transporter); ok {
					httpReq := ht.Request()
					method = httpReq.Method
					path = httpReq.URL.Path
					if httpReq.URL.RawQuery != "" {
						path = path + "?" + httpReq.URL.RawQuery
					}
					ip = clientIP(httpReq)

					requestID = httpReq.Header.Get("X-Request-ID")
				}
			}
			if requestID == "" {
				requestID = pkglog.GenerateRequestID()
			}
			ctx = pkglog.WithRequestID(ctx, requestID)

			reply, err := handler(ctx, req)

			status := 200
			if err != nil {
				status = int(kerrors.FromError(err).Code)
			}
			helper.Infow(
				"msg", "request completed",
				"method", method,
				"path", path,
				"status", status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", requestID,
				"ip", ip,
			)

			return reply, err
		}
	}
}

// clientIP prefers X-Real-IP, then the first X-Forwarded-For hop, then the
// peer address.
func clientIP(req *http.Request) string {
	if ip := req.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if forwarded := req.Header.Get("X-Forwarded-For"); forwarded != "" {
		if ips := strings.Split(forwarded, ","); len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}
	return req.RemoteAddr
}
