package telemetry

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TraceIDHeader echoes the request's trace ID to the client
	TraceIDHeader = "X-Trace-ID"
)

// routeAttributes maps route parameters to span attributes. Routes name
// their parameters after what they identify; a bare :id is qualified by the
// first path segment after the API prefix.
var routeAttributes = map[string]string{
	"eventId": "ticketing.event_id",
	"entryId": "ticketing.waitlist_entry_id",
}

var idAttributes = map[string]string{
	"payments":     "ticketing.payment_id",
	"tickets":      "ticketing.ticket_id",
	"ticket-types": "ticketing.ticket_type_id",
}

// HTTPConfig configures TracingMiddleware
type HTTPConfig struct {
	ServiceName string
	// SkipPaths are served without a span, e.g. probes and /metrics
	SkipPaths []string
	// Provider defaults to the global tracer provider
	Provider trace.TracerProvider
}

// TracingMiddleware starts a server span per request, continuing any
// upstream trace. Processor webhooks carry none; browsers may.
func TracingMiddleware(cfg HTTPConfig) gin.HandlerFunc {
	provider := cfg.Provider
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	tracer := provider.Tracer(cfg.ServiceName + "/http")
	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := skip[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

		// Unmatched routes are named by method only so scanners can't
		// explode span cardinality
		route := c.FullPath()
		spanName := c.Request.Method
		if route != "" {
			spanName = c.Request.Method + " " + route
		}

		ctx, span := tracer.Start(ctx, spanName,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPMethod(c.Request.Method),
				semconv.HTTPRoute(route),
				attribute.String("url.path", c.Request.URL.Path),
				semconv.UserAgentOriginal(c.Request.UserAgent()),
				attribute.String("http.client_ip", c.ClientIP()),
			),
		)
		defer span.End()

		if sc := span.SpanContext(); sc.HasTraceID() {
			c.Header(TraceIDHeader, sc.TraceID().String())
		}
		span.SetAttributes(paramAttributes(c)...)

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(
			semconv.HTTPStatusCode(status),
			attribute.Int("http.response_size", c.Writer.Size()),
		)
		if userID := c.GetString("user_id"); userID != "" {
			span.SetAttributes(attribute.String("enduser.id", userID))
		}
		if len(c.Errors) > 0 {
			span.RecordError(c.Errors.Last())
		}
		// 4xx are the client's problem and leave the status unset
		if status >= 500 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", status))
		}
	}
}

func paramAttributes(c *gin.Context) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for _, p := range c.Params {
		if key, ok := routeAttributes[p.Key]; ok {
			attrs = append(attrs, attribute.String(key, p.Value))
			continue
		}
		if p.Key == "id" {
			if key, ok := idAttributes[resourceOf(c.FullPath())]; ok {
				attrs = append(attrs, attribute.String(key, p.Value))
			}
		}
	}
	return attrs
}

// resourceOf returns the first segment after /api/v1 of a route template
func resourceOf(route string) string {
	route = strings.TrimPrefix(route, "/api/v1")
	route = strings.TrimPrefix(route, "/")
	if i := strings.IndexByte(route, '/'); i >= 0 {
		return route[:i]
	}
	return route
}
