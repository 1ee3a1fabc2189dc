package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type requestKey struct {
	handler string
	method  string
	code    string
}

type toolKey struct {
	tool    string
	outcome string
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type collector struct {
	mu              sync.Mutex
	requests        map[requestKey]uint64
	toolRequests    map[toolKey]uint64
	guardViolations map[string]uint64
	latency         map[string]*histogram
}

var defaultCollector = &collector{
	requests:        make(map[requestKey]uint64),
	toolRequests:    make(map[toolKey]uint64),
	guardViolations: make(map[string]uint64),
	latency:         make(map[string]*histogram),
}

// Tool call outcomes recorded by ObserveToolRequest.
const (
	OutcomeSuccess         = "success"
	OutcomeError           = "error"
	OutcomePaymentRequired = "payment_required"
)

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	defaultCollector.mu.Lock()
	defer defaultCollector.mu.Unlock()

	key := requestKey{handler: handler, method: method, code: strconv.Itoa(status)}
	defaultCollector.requests[key]++

	hist := defaultCollector.latency[handler]
	if hist == nil {
		hist = newHistogram()
		defaultCollector.latency[handler] = hist
	}
	hist.observe(duration.Seconds())
}

// ObserveToolRequest records the outcome of a single tool dispatch.
func ObserveToolRequest(tool, outcome string) {
	defaultCollector.mu.Lock()
	defer defaultCollector.mu.Unlock()
	defaultCollector.toolRequests[toolKey{tool: tool, outcome: outcome}]++
}

// ObserveGuardViolations bumps the per-guard violation counters.
func ObserveGuardViolations(guards []string) {
	if len(guards) == 0 {
		return
	}
	defaultCollector.mu.Lock()
	defer defaultCollector.mu.Unlock()
	for _, guard := range guards {
		defaultCollector.guardViolations[guard]++
	}
}

func newHistogram() *histogram {
	buckets := []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			break
		}
	}
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, defaultCollector.render())
	})
}

func (c *collector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var builder strings.Builder
	builder.Grow(1024)

	type requestMetric struct {
		requestKey
		value uint64
	}
	reqs := make([]requestMetric, 0, len(c.requests))
	for key, value := range c.requests {
		reqs = append(reqs, requestMetric{requestKey: key, value: value})
	}
	sort.Slice(reqs, func(i, j int) bool {
		if reqs[i].handler == reqs[j].handler {
			if reqs[i].method == reqs[j].method {
				return reqs[i].code < reqs[j].code
			}
			return reqs[i].method < reqs[j].method
		}
		return reqs[i].handler < reqs[j].handler
	})

	builder.WriteString("# HELP auramcp_http_requests_total Total number of HTTP requests processed.\n")
	builder.WriteString("# TYPE auramcp_http_requests_total counter\n")
	for _, metric := range reqs {
		builder.WriteString(fmt.Sprintf("auramcp_http_requests_total{handler=\"%s\",method=\"%s\",code=\"%s\"} %d\n",
			escape(metric.handler), escape(metric.method), escape(metric.code), metric.value))
	}

	type toolMetric struct {
		toolKey
		value uint64
	}
	tools := make([]toolMetric, 0, len(c.toolRequests))
	for key, value := range c.toolRequests {
		tools = append(tools, toolMetric{toolKey: key, value: value})
	}
	sort.Slice(tools, func(i, j int) bool {
		if tools[i].tool == tools[j].tool {
			return tools[i].outcome < tools[j].outcome
		}
		return tools[i].tool < tools[j].tool
	})

	builder.WriteString("# HELP auramcp_tool_requests_total Total number of tool dispatches by outcome.\n")
	builder.WriteString("# TYPE auramcp_tool_requests_total counter\n")
	for _, metric := range tools {
		builder.WriteString(fmt.Sprintf("auramcp_tool_requests_total{tool=\"%s\",outcome=\"%s\"} %d\n",
			escape(metric.tool), escape(metric.outcome), metric.value))
	}

	guards := make([]string, 0, len(c.guardViolations))
	for guard := range c.guardViolations {
		guards = append(guards, guard)
	}
	sort.Strings(guards)

	builder.WriteString("# HELP auramcp_guard_violations_total Total number of guard violations by guard identifier.\n")
	builder.WriteString("# TYPE auramcp_guard_violations_total counter\n")
	for _, guard := range guards {
		builder.WriteString(fmt.Sprintf("auramcp_guard_violations_total{guard=\"%s\"} %d\n",
			escape(guard), c.guardViolations[guard]))
	}

	handlers := make([]string, 0, len(c.latency))
	for handler := range c.latency {
		handlers = append(handlers, handler)
	}
	sort.Strings(handlers)

	builder.WriteString("# HELP auramcp_http_request_duration_seconds HTTP request duration in seconds.\n")
	builder.WriteString("# TYPE auramcp_http_request_duration_seconds histogram\n")
	for _, handler := range handlers {
		hist := c.latency[handler]
		for idx, bound := range hist.buckets {
			builder.WriteString(fmt.Sprintf("auramcp_http_request_duration_seconds_bucket{handler=\"%s\",le=\"%s\"} %d\n",
				escape(handler), formatFloat(bound), hist.counts[idx]))
		}
		builder.WriteString(fmt.Sprintf("auramcp_http_request_duration_seconds_bucket{handler=\"%s\",le=\"+Inf\"} %d\n",
			escape(handler), hist.count))
		builder.WriteString(fmt.Sprintf("auramcp_http_request_duration_seconds_sum{handler=\"%s\"} %s\n",
			escape(handler), formatFloat(hist.sum)))
		builder.WriteString(fmt.Sprintf("auramcp_http_request_duration_seconds_count{handler=\"%s\"} %d\n",
			escape(handler), hist.count))
	}

	return builder.String()
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
