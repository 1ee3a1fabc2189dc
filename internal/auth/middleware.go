package auth

import (
	"net/http"
	"strings"
	"time"

	loggerpkg "AuraMCP/pkg/logger"
)

// Middleware 返回一个 HTTP 中间件，校验 API Key 并记录审计日志。
func (s *Service) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !s.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			if err := s.Authenticate(credentialFromRequest(r)); err != nil {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				loggerpkg.Audit().Warn("access_denied",
					"path", r.URL.Path,
					"method", r.Method,
					"error", err.Error(),
				)
				return
			}

			start := time.Now()
			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(aw, r)
			loggerpkg.Audit().Info("api_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", aw.status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// credentialFromRequest 从请求头提取凭证。
func credentialFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return token
		}
		return header
	}
	return r.Header.Get("X-API-Key")
}

// auditWriter 包装 http.ResponseWriter 以捕获响应状态码。
type auditWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader 捕获响应状态码并调用底层的 WriteHeader 方法。
func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
