package observability

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"mocktest/internal/auth"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

const metricPrefix = "mocktest_"

type routeKey struct {
	Method string
	Route  string
	Status int
}

type routeStat struct {
	Count     int64
	LatencyMS float64
}

// Collector keeps per-route request counters in memory and renders them,
// together with pool and submission gauges, as plain-text metrics.
type Collector struct {
	db *sql.DB

	mu        sync.RWMutex
	routes    map[routeKey]routeStat
	startedAt time.Time
}

func NewCollector(db *sql.DB) *Collector {
	return &Collector{
		db:        db,
		routes:    make(map[routeKey]routeStat),
		startedAt: time.Now(),
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		latencyMS := float64(time.Since(start).Microseconds()) / 1000.0
		route := routeLabel(r)
		c.observe(routeKey{Method: r.Method, Route: route, Status: rec.status}, latencyMS)

		userID, _ := auth.CurrentUserID(r.Context())
		evt := log.Info()
		switch {
		case rec.status >= http.StatusInternalServerError:
			evt = log.Error()
		case rec.status >= http.StatusBadRequest:
			evt = log.Warn()
		}
		evt.Str("request_id", middleware.GetReqID(r.Context())).
			Int64("user_id", userID).
			Int64("submission_id", extractSubmissionID(r.URL.Path)).
			Str("method", r.Method).
			Str("route", route).
			Int("status", rec.status).
			Float64("latency_ms", latencyMS).
			Str("remote_ip", strings.TrimSpace(r.RemoteAddr)).
			Msg("http request")
	})
}

func (c *Collector) observe(k routeKey, latencyMS float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.routes[k]
	s.Count++
	s.LatencyMS += latencyMS
	c.routes[k] = s
}

func (c *Collector) snapshot() ([]routeKey, map[routeKey]routeStat) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	stats := make(map[routeKey]routeStat, len(c.routes))
	keys := make([]routeKey, 0, len(c.routes))
	for k, v := range c.routes {
		stats[k] = v
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Route != keys[j].Route {
			return keys[i].Route < keys[j].Route
		}
		if keys[i].Method != keys[j].Method {
			return keys[i].Method < keys[j].Method
		}
		return keys[i].Status < keys[j].Status
	})
	return keys, stats
}

func (c *Collector) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	var sb strings.Builder
	metric := func(name, kind, labels string, value string) {
		if kind != "" {
			fmt.Fprintf(&sb, "# TYPE %s%s %s\n", metricPrefix, name, kind)
		}
		if labels != "" {
			fmt.Fprintf(&sb, "%s%s{%s} %s\n", metricPrefix, name, labels, value)
			return
		}
		fmt.Fprintf(&sb, "%s%s %s\n", metricPrefix, name, value)
	}

	metric("uptime_seconds", "gauge", "", fmt.Sprintf("%.0f", time.Since(c.startedAt).Seconds()))

	keys, stats := c.snapshot()
	sb.WriteString("# TYPE " + metricPrefix + "http_requests_total counter\n")
	sb.WriteString("# TYPE " + metricPrefix + "http_request_latency_ms_avg gauge\n")
	for _, k := range keys {
		s := stats[k]
		labels := fmt.Sprintf("method=%q,path=%q,status=\"%d\"", k.Method, k.Route, k.Status)
		metric("http_requests_total", "", labels, strconv.FormatInt(s.Count, 10))
		metric("http_request_latency_ms_avg", "", labels, fmt.Sprintf("%.3f", s.LatencyMS/float64(s.Count)))
	}

	if c.db != nil {
		dbs := c.db.Stats()
		metric("db_open_connections", "gauge", "", strconv.Itoa(dbs.OpenConnections))
		metric("db_in_use_connections", "gauge", "", strconv.Itoa(dbs.InUse))
		metric("db_wait_count", "counter", "", strconv.FormatInt(dbs.WaitCount, 10))

		counts, err := submissionCounts(r.Context(), c.db)
		if err != nil {
			log.Warn().Err(err).Msg("metrics: count submissions")
		} else {
			sb.WriteString("# TYPE " + metricPrefix + "submissions gauge\n")
			for _, status := range []string{"in_progress", "completed"} {
				metric("submissions", "", fmt.Sprintf("status=%q", status), strconv.FormatInt(counts[status], 10))
			}
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(sb.String()))
}

func submissionCounts(ctx context.Context, db *sql.DB) (map[string]int64, error) {
	rows, err := db.QueryContext(ctx, `SELECT status, COUNT(*) FROM submissions GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

// routeLabel prefers the matched chi pattern so ids do not explode the label
// set; unmatched paths fall back to numeric segment folding.
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return normalizedPath(r.URL.Path)
}

func normalizedPath(path string) string {
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if _, err := strconv.ParseInt(p, 10, 64); err == nil {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

// extractSubmissionID reads the submission id from /submissions/{id},
// /analysis/{id} and /responses/{id} paths.
func extractSubmissionID(path string) int64 {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i := 0; i < len(parts)-1; i++ {
		switch parts[i] {
		case "submissions", "analysis", "responses":
			if id, err := strconv.ParseInt(parts[i+1], 10, 64); err == nil {
				return id
			}
		}
	}
	return 0
}
