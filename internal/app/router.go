package app

import (
	"crypto/subtle"
	"net/http"
	"net/http/pprof"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/noah-isme/payment-bridge/internal/common"
	"github.com/noah-isme/payment-bridge/internal/health"
	"github.com/noah-isme/payment-bridge/internal/obs"
	"github.com/noah-isme/payment-bridge/internal/payment"
	"github.com/noah-isme/payment-bridge/internal/ratelimit"
	"github.com/noah-isme/payment-bridge/internal/security"
)

// RouterConfig collects the handlers and middleware the API serves.
type RouterConfig struct {
	Logger      zerolog.Logger
	Payments    *payment.Handler
	Webhook     payment.Webhook
	Health      health.Handler
	Idem        common.Idem
	RateLimit   ratelimit.Handler
	HTTPMetrics *obs.HTTPMetrics
	Tracing     bool
	CORSOrigins []string
	Headers     security.Headers
	BodyLimit   int64
	// Metrics serves /metrics when set.
	Metrics   http.Handler
	PprofUser string
	PprofPass string
	Pprof     bool
}

// NewRouter assembles the HTTP surface.
func NewRouter(rc RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if rc.Tracing {
		r.Use(obs.TracingMiddleware)
	}
	if rc.HTTPMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: rc.HTTPMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: rc.Logger}.Middleware)
	r.Use(rc.Headers.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:     allowedOrigins(rc.CORSOrigins),
		AllowedMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:     []string{"Accept", "Content-Type", common.IdempotencyHeader, payment.HeaderWebhookTimestamp, payment.HeaderWebhookSignature},
		ExposedHeaders:     []string{"X-Request-Id", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials:   true,
		MaxAge:             300,
		OptionsPassthrough: true,
	}))
	r.Use(security.Preflight)
	r.Use(security.BodyLimit{Max: rc.BodyLimit}.Middleware)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		common.JSONError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Get("/health/live", rc.Health.Live)
	r.Get("/health/ready", rc.Health.Ready)
	if rc.Metrics != nil {
		r.Handle("/metrics", rc.Metrics)
	}
	if rc.Pprof {
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), rc.PprofUser, rc.PprofPass))
	}

	placement := func(g chi.Router) {
		g.Use(rc.RateLimit.Middleware)
		g.Use(rc.Idem.Middleware)
		g.Post("/", rc.Payments.PlaceOrder)
	}
	r.Route("/payments", placement)
	r.Route("/api/v1", func(v chi.Router) {
		v.Route("/payments", func(p chi.Router) {
			p.Group(placement)
			p.With(rc.RateLimit.Middleware).Post("/verify", rc.Payments.Verify)
			p.With(rc.RateLimit.Middleware).Get("/{orderId}", rc.Payments.Status)
		})
		v.HandleFunc("/webhooks/cashfree", rc.Webhook.Handle)
	})
	return r
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorised", nil)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
