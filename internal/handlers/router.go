package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shrimpsizemoose/taslim/internal/metrics"
)

func NewRouter(h *Handler) http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	// per-IP limits key on RemoteAddr, so forwarded headers count only
	// when a trusted proxy sets them
	if h.opts.TrustProxyHeaders {
		router.Use(middleware.RealIP)
	}
	router.Use(middleware.Recoverer)
	router.Use(observeRequests)

	origins := h.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Get("/healthz", h.HandleHealth)
	router.Handle("/metrics", promhttp.Handler())

	router.Group(func(r chi.Router) {
		if h.opts.HandlerTimeout > 0 {
			r.Use(middleware.Timeout(h.opts.HandlerTimeout))
		}
		r.Post("/otp/init", h.HandleOTPInit)
		r.Post("/otp/verify", h.HandleOTPVerify)
		r.Get("/otp/check-token", h.HandleCheckToken)
		r.Post("/submit", h.HandleSubmit)
		r.Post("/verify-student", h.HandleVerifyStudent)
	})

	return router
}

func observeRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.APIRequestDuration.WithLabelValues(path, r.Method, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}
