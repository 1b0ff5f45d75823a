package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics holds all application metrics
type Metrics struct {
	mu sync.RWMutex

	// Request metrics
	requestCount    map[string]*uint64    // endpoint:method -> count
	requestDuration map[string]*Histogram // endpoint:method -> duration histogram
	requestErrors   map[string]*uint64    // endpoint:method:status_class -> count

	// Conversion metrics
	activeJobs         int64
	activeConversions  int64
	jobsStarted        uint64
	jobsCompleted      uint64
	jobsFailed         uint64
	jobsCancelled      uint64
	filesConverted     uint64
	filesFailed        uint64
	conversionDuration *Histogram

	startTime time.Time
}

// Histogram tracks value distributions
type Histogram struct {
	mu         sync.Mutex
	count      uint64
	sum        float64
	buckets    []float64
	bucketVals []uint64
}

// NewHistogram creates a histogram with buckets suited to request
// latencies.
func NewHistogram() *Histogram {
	return newHistogramWithBuckets([]float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10})
}

// NewConversionHistogram creates a histogram with buckets suited to
// encoder run times.
func NewConversionHistogram() *Histogram {
	return newHistogramWithBuckets([]float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600})
}

func newHistogramWithBuckets(buckets []float64) *Histogram {
	return &Histogram{
		buckets:    buckets,
		bucketVals: make([]uint64, len(buckets)),
	}
}

// Observe records a value
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, b := range h.buckets {
		if v <= b {
			h.bucketVals[i]++
		}
	}
}

// New creates a new Metrics instance
func New() *Metrics {
	return &Metrics{
		requestCount:       make(map[string]*uint64),
		requestDuration:    make(map[string]*Histogram),
		requestErrors:      make(map[string]*uint64),
		conversionDuration: NewConversionHistogram(),
		startTime:          time.Now(),
	}
}

// global metrics instance
var defaultMetrics = New()

// Default returns the default metrics instance
func Default() *Metrics {
	return defaultMetrics
}

// RecordRequest records a request
func (m *Metrics) RecordRequest(method, path string, statusCode int, duration time.Duration) {
	key := fmt.Sprintf("%s:%s", normalizeEndpoint(path), method)

	m.mu.Lock()
	if m.requestCount[key] == nil {
		var zero uint64
		m.requestCount[key] = &zero
	}
	if m.requestDuration[key] == nil {
		m.requestDuration[key] = NewHistogram()
	}
	m.mu.Unlock()

	atomic.AddUint64(m.requestCount[key], 1)

	m.mu.RLock()
	m.requestDuration[key].Observe(duration.Seconds())
	m.mu.RUnlock()

	if statusCode >= 400 {
		errorKey := fmt.Sprintf("%s:%d", key, statusCode/100*100)
		m.mu.Lock()
		if m.requestErrors[errorKey] == nil {
			var zero uint64
			m.requestErrors[errorKey] = &zero
		}
		m.mu.Unlock()
		atomic.AddUint64(m.requestErrors[errorKey], 1)
	}
}

// normalizeEndpoint normalizes an endpoint path for metrics (removes IDs)
func normalizeEndpoint(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		// UUID pattern (simplified)
		if len(part) == 36 && strings.Count(part, "-") == 4 {
			parts[i] = "{id}"
		} else if len(part) > 0 && isNumeric(part) {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

func isNumeric(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// JobStarted records a job moving into processing.
func (m *Metrics) JobStarted() {
	atomic.AddUint64(&m.jobsStarted, 1)
	atomic.AddInt64(&m.activeJobs, 1)
}

// JobFinished records a job reaching a terminal status.
func (m *Metrics) JobFinished(status string) {
	atomic.AddInt64(&m.activeJobs, -1)
	switch status {
	case "completed":
		atomic.AddUint64(&m.jobsCompleted, 1)
	case "failed":
		atomic.AddUint64(&m.jobsFailed, 1)
	case "cancelled":
		atomic.AddUint64(&m.jobsCancelled, 1)
	}
}

// ConversionStarted records one file entering the encoder.
func (m *Metrics) ConversionStarted() {
	atomic.AddInt64(&m.activeConversions, 1)
}

// ConversionFinished records one file leaving the encoder.
func (m *Metrics) ConversionFinished(succeeded bool, duration time.Duration) {
	atomic.AddInt64(&m.activeConversions, -1)
	if succeeded {
		atomic.AddUint64(&m.filesConverted, 1)
	} else {
		atomic.AddUint64(&m.filesFailed, 1)
	}
	m.conversionDuration.Observe(duration.Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder

		uptime := time.Since(m.startTime).Seconds()
		sb.WriteString("# HELP mpf_uptime_seconds Time since the server started\n")
		sb.WriteString("# TYPE mpf_uptime_seconds gauge\n")
		sb.WriteString(fmt.Sprintf("mpf_uptime_seconds %f\n\n", uptime))

		sb.WriteString("# HELP mpf_jobs_active Jobs currently converting\n")
		sb.WriteString("# TYPE mpf_jobs_active gauge\n")
		sb.WriteString(fmt.Sprintf("mpf_jobs_active %d\n\n", atomic.LoadInt64(&m.activeJobs)))

		sb.WriteString("# HELP mpf_conversions_active Files currently in the encoder\n")
		sb.WriteString("# TYPE mpf_conversions_active gauge\n")
		sb.WriteString(fmt.Sprintf("mpf_conversions_active %d\n\n", atomic.LoadInt64(&m.activeConversions)))

		sb.WriteString("# HELP mpf_jobs_total Jobs by outcome\n")
		sb.WriteString("# TYPE mpf_jobs_total counter\n")
		sb.WriteString(fmt.Sprintf("mpf_jobs_total{outcome=\"started\"} %d\n", atomic.LoadUint64(&m.jobsStarted)))
		sb.WriteString(fmt.Sprintf("mpf_jobs_total{outcome=\"completed\"} %d\n", atomic.LoadUint64(&m.jobsCompleted)))
		sb.WriteString(fmt.Sprintf("mpf_jobs_total{outcome=\"failed\"} %d\n", atomic.LoadUint64(&m.jobsFailed)))
		sb.WriteString(fmt.Sprintf("mpf_jobs_total{outcome=\"cancelled\"} %d\n\n", atomic.LoadUint64(&m.jobsCancelled)))

		sb.WriteString("# HELP mpf_files_total Converted files by outcome\n")
		sb.WriteString("# TYPE mpf_files_total counter\n")
		sb.WriteString(fmt.Sprintf("mpf_files_total{outcome=\"converted\"} %d\n", atomic.LoadUint64(&m.filesConverted)))
		sb.WriteString(fmt.Sprintf("mpf_files_total{outcome=\"failed\"} %d\n\n", atomic.LoadUint64(&m.filesFailed)))

		// Conversion duration histogram
		h := m.conversionDuration
		h.mu.Lock()
		sb.WriteString("# HELP mpf_conversion_duration_seconds Time spent encoding one file\n")
		sb.WriteString("# TYPE mpf_conversion_duration_seconds histogram\n")
		for i, bucket := range h.buckets {
			sb.WriteString(fmt.Sprintf("mpf_conversion_duration_seconds_bucket{le=\"%g\"} %d\n", bucket, h.bucketVals[i]))
		}
		sb.WriteString(fmt.Sprintf("mpf_conversion_duration_seconds_bucket{le=\"+Inf\"} %d\n", h.count))
		sb.WriteString(fmt.Sprintf("mpf_conversion_duration_seconds_sum %f\n", h.sum))
		sb.WriteString(fmt.Sprintf("mpf_conversion_duration_seconds_count %d\n\n", h.count))
		h.mu.Unlock()

		// Request counts
		m.mu.RLock()
		if len(m.requestCount) > 0 {
			sb.WriteString("# HELP mpf_http_requests_total Total HTTP requests\n")
			sb.WriteString("# TYPE mpf_http_requests_total counter\n")
			keys := make([]string, 0, len(m.requestCount))
			for k := range m.requestCount {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, key := range keys {
				parts := strings.SplitN(key, ":", 2)
				if len(parts) == 2 {
					count := atomic.LoadUint64(m.requestCount[key])
					sb.WriteString(fmt.Sprintf("mpf_http_requests_total{endpoint=\"%s\",method=\"%s\"} %d\n", parts[0], parts[1], count))
				}
			}
			sb.WriteString("\n")
		}

		// Request duration histograms
		if len(m.requestDuration) > 0 {
			sb.WriteString("# HELP mpf_http_request_duration_seconds HTTP request latency\n")
			sb.WriteString("# TYPE mpf_http_request_duration_seconds histogram\n")
			keys := make([]string, 0, len(m.requestDuration))
			for k := range m.requestDuration {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, key := range keys {
				parts := strings.SplitN(key, ":", 2)
				if len(parts) == 2 {
					h := m.requestDuration[key]
					h.mu.Lock()
					for i, bucket := range h.buckets {
						sb.WriteString(fmt.Sprintf("mpf_http_request_duration_seconds_bucket{endpoint=\"%s\",method=\"%s\",le=\"%g\"} %d\n", parts[0], parts[1], bucket, h.bucketVals[i]))
					}
					sb.WriteString(fmt.Sprintf("mpf_http_request_duration_seconds_bucket{endpoint=\"%s\",method=\"%s\",le=\"+Inf\"} %d\n", parts[0], parts[1], h.count))
					sb.WriteString(fmt.Sprintf("mpf_http_request_duration_seconds_sum{endpoint=\"%s\",method=\"%s\"} %f\n", parts[0], parts[1], h.sum))
					sb.WriteString(fmt.Sprintf("mpf_http_request_duration_seconds_count{endpoint=\"%s\",method=\"%s\"} %d\n", parts[0], parts[1], h.count))
					h.mu.Unlock()
				}
			}
			sb.WriteString("\n")
		}

		// Error counts
		if len(m.requestErrors) > 0 {
			sb.WriteString("# HELP mpf_http_errors_total Total HTTP errors by status class\n")
			sb.WriteString("# TYPE mpf_http_errors_total counter\n")
			keys := make([]string, 0, len(m.requestErrors))
			for k := range m.requestErrors {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, key := range keys {
				parts := strings.Split(key, ":")
				if len(parts) >= 3 {
					count := atomic.LoadUint64(m.requestErrors[key])
					sb.WriteString(fmt.Sprintf("mpf_http_errors_total{endpoint=\"%s\",method=\"%s\",status_class=\"%sxx\"} %d\n", parts[0], parts[1], parts[2][:1], count))
				}
			}
		}
		m.mu.RUnlock()

		w.Write([]byte(sb.String()))
	}
}

// MetricsMiddleware creates middleware that records request metrics
func MetricsMiddleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &statusResponseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			m.RecordRequest(r.Method, r.URL.Path, wrapped.statusCode, duration)
		})
	}
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush lets streaming handlers flush through the wrapper.
func (w *statusResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
