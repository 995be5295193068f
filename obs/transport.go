package obs

import (
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// WrapTransport instruments outbound requests with tracing and client metrics.
func WrapTransport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &metricsTransport{next: otelhttp.NewTransport(base)}
}

type metricsTransport struct {
	next http.RoundTripper
}

func (t *metricsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	code := "error"
	if err == nil {
		code = strconv.Itoa(resp.StatusCode)
	}
	route := normalizeRouteLabel(req.URL.Path)
	apiRequestsTotal.WithLabelValues(req.Method, route, code).Inc()
	apiRequestDuration.WithLabelValues(req.Method, route).Observe(time.Since(start).Seconds())
	return resp, err
}
