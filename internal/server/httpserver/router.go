package httpserver

import (
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/yndnr/toolhost-go/internal/server/inflight"
)

// RouterConfig holds configuration for the HTTP router.
type RouterConfig struct {
	// Handler serves the routes. Usually a *handler.Handler.
	Handler http.Handler

	Logger *slog.Logger

	// Requests counts in-flight requests for the shutdown drain.
	Requests *inflight.Counter

	// RateLimitRPS and RateLimitBurst configure the per-IP limiter.
	// A non-positive RPS disables it.
	RateLimitRPS   float64
	RateLimitBurst int

	// Observer receives request metrics when set.
	Observer RequestObserver

	// TracerProvider enables OpenTelemetry spans when set.
	TracerProvider trace.TracerProvider
	Propagator     propagation.TextMapPropagator
}

// NewRouter wraps the handler in the middleware chain.
//
// Order (outermost first): Trace -> Recover -> Track -> RequestID ->
// RateLimit -> CORS -> AccessLog -> Handler
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Requests == nil {
		cfg.Requests = inflight.New()
	}

	var mws []Middleware
	if cfg.TracerProvider != nil {
		prop := cfg.Propagator
		if prop == nil {
			prop = propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
		}
		mws = append(mws, Trace(cfg.TracerProvider, prop))
	}
	mws = append(mws,
		Recover(cfg.Logger),
		Track(cfg.Requests),
		RequestID(cfg.Logger),
		RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		CORS(),
		AccessLog(cfg.Logger, cfg.Observer),
	)
	return Chain(cfg.Handler, mws...)
}
