package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	xerrors "AuraMCP/internal/errors"
	"AuraMCP/internal/observability/metrics"
	"AuraMCP/internal/tools"
)

// Server 负责暴露工具调用的 REST 接口。
type Server struct {
	addr       string
	registry   *tools.Registry
	middleware func(http.Handler) http.Handler
}

// ServerOption 配置 API 服务。
type ServerOption func(*Server)

// WithMiddleware 挂载认证等外层中间件。
func WithMiddleware(middleware func(http.Handler) http.Handler) ServerOption {
	return func(s *Server) { s.middleware = middleware }
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, registry *tools.Registry, opts ...ServerOption) *Server {
	s := &Server{addr: addr, registry: registry}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回完整组装的 HTTP 处理器，便于测试复用。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/tools/{name}", s.handleTool)
	mux.HandleFunc("GET /api/v1/tools", s.handleListTools)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	var handler http.Handler = mux
	if s.middleware != nil {
		handler = s.middleware(mux)
	}
	return handler
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleTool(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	name := r.PathValue("name")

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "读取请求体失败"))
		metrics.ObserveHTTPRequest("tools", r.Method, http.StatusBadRequest, time.Since(start))
		return
	}
	if len(body) > 0 && !json.Valid(body) {
		writeError(w, http.StatusBadRequest, xerrors.New(xerrors.CodeInvalidArgument, "请求体不是合法的 JSON"))
		metrics.ObserveHTTPRequest("tools", r.Method, http.StatusBadRequest, time.Since(start))
		return
	}

	result, err := s.registry.Dispatch(r.Context(), name, body)
	status := http.StatusOK
	switch {
	case err != nil:
		if xerrors.CodeOf(err) == tools.CodeUnknownTool {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
	case result.Payment != nil:
		// x402：裸支付对象，不带 success 字段。
		status = http.StatusPaymentRequired
		writeJSON(w, status, result.Payment)
	default:
		writeSuccess(w, result.Data)
	}
	metrics.ObserveHTTPRequest("tools", r.Method, status, time.Since(start))
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, map[string]any{"tools": s.registry.Names()})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
