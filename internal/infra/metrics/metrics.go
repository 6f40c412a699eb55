// Package metrics exposes per-room ranking gauges over prometheus.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/giftrank/internal/app/notification"
)

// Recorder turns ranking updates into prometheus metrics.
type Recorder struct {
	registry *prometheus.Registry

	points     *prometheus.GaugeVec
	pending    *prometheus.GaugeVec
	velocity   *prometheus.GaugeVec
	rank       *prometheus.GaugeVec
	gap        *prometheus.GaugeVec
	state      *prometheus.GaugeVec
	attempts   *prometheus.GaugeVec
	senders    *prometheus.GaugeVec
	recomputes prometheus.Counter
	frozen     prometheus.Gauge
	lastUpdate prometheus.Gauge
}

// NewRecorder creates a recorder with its own registry.
func NewRecorder() *Recorder {
	labels := []string{"index"}
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		points: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "giftrank_room_points",
			Help: "Total points of a tracked room",
		}, labels),
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "giftrank_room_pending_points",
			Help: "Uncommitted points of the current burst",
		}, labels),
		velocity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "giftrank_room_velocity_points_per_minute",
			Help: "Points per minute over the velocity lookback",
		}, labels),
		rank: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "giftrank_room_rank",
			Help: "Rank among tracked rooms, 0 when unranked",
		}, labels),
		gap: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "giftrank_room_gap_points",
			Help: "Point gap against the reference room",
		}, labels),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "giftrank_room_state",
			Help: "Connection state, 1 for the current state",
		}, []string{"index", "state"}),
		attempts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "giftrank_room_connect_attempts",
			Help: "Consecutive failed connection attempts",
		}, labels),
		senders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "giftrank_room_senders",
			Help: "Distinct gift senders",
		}, labels),
		recomputes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "giftrank_recomputes_total",
			Help: "Number of ranking recomputes",
		}),
		frozen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "giftrank_frozen",
			Help: "1 after the event end time",
		}),
		lastUpdate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "giftrank_last_update_timestamp_seconds",
			Help: "Time of the last recompute",
		}),
	}
	r.registry.MustRegister(
		r.points,
		r.pending,
		r.velocity,
		r.rank,
		r.gap,
		r.state,
		r.attempts,
		r.senders,
		r.recomputes,
		r.frozen,
		r.lastUpdate,
	)
	return r
}

// Registry returns the registry backing the recorder.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Observe records one ranking update.
func (r *Recorder) Observe(update *notification.Update) {
	r.recomputes.Inc()
	r.lastUpdate.Set(float64(update.At.Unix()))
	if update.Frozen {
		r.frozen.Set(1)
	} else {
		r.frozen.Set(0)
	}

	for _, snap := range update.Rooms {
		idx := strconv.Itoa(snap.Index)
		r.points.WithLabelValues(idx).Set(float64(snap.Total()))
		r.pending.WithLabelValues(idx).Set(float64(snap.Ledger.Pending))
		r.attempts.WithLabelValues(idx).Set(float64(snap.Attempts))
		r.senders.WithLabelValues(idx).Set(float64(len(snap.Ledger.Senders)))

		r.state.DeletePartialMatch(prometheus.Labels{"index": idx})
		r.state.WithLabelValues(idx, snap.State.String()).Set(1)

		if row, ok := update.Ranking.Row(snap.Index); ok {
			r.rank.WithLabelValues(idx).Set(float64(row.Rank))
			r.gap.WithLabelValues(idx).Set(float64(row.Gap))
			r.velocity.WithLabelValues(idx).Set(float64(row.Velocity))
		} else {
			r.rank.WithLabelValues(idx).Set(0)
			r.gap.WithLabelValues(idx).Set(0)
			r.velocity.WithLabelValues(idx).Set(0)
		}
	}
}

// Handler returns the /metrics and /healthz handler.
func (r *Recorder) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	return mux
}

// Serve runs the metrics server until ctx is done. An empty addr disables it.
func (r *Recorder) Serve(ctx context.Context, addr string) {
	if addr == "" {
		zlog.Info().Msg("metrics disabled: empty addr")
		return
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		zlog.Info().Msgf("metrics server starting: addr=%s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Error().Msgf("metrics server error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zlog.Warn().Msgf("metrics server shutdown error: %v", err)
		} else {
			zlog.Info().Msg("metrics server stopped")
		}
	}()
}
