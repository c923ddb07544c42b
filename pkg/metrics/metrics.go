package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// ============================================
	// Quotes
	// ============================================
	QuoteRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_exchange_quote_requests_total",
			Help: "Total number of quote requests issued",
		},
		[]string{"trigger"},
	)

	QuoteOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_exchange_quote_outcomes_total",
			Help: "Quote responses by outcome (ok, no_route, error, stale)",
		},
		[]string{"outcome"},
	)

	QuoteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wallet_exchange_quote_duration_seconds",
		Help:    "Quote provider round trip in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// ============================================
	// Approvals and transactions
	// ============================================
	ApprovalChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_exchange_approval_checks_total",
			Help: "Allowance checks by result (required, none, error)",
		},
		[]string{"result"},
	)

	TxSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_exchange_tx_submissions_total",
			Help: "Submitted transactions by kind (approve, execute) and result",
		},
		[]string{"kind", "result"},
	)

	// ============================================
	// Upstream
	// ============================================
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_exchange_upstream_requests_total",
			Help: "HTTP requests to routing and data providers",
		},
		[]string{"endpoint", "status"},
	)
)

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		log.Info().Str("addr", addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()
}
