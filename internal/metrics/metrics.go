package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Event pipeline
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guard_events_total",
			Help: "Administrative events received by a worker",
		},
		[]string{"worker", "action"},
	)

	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guard_decisions_total",
			Help: "Terminal resolver states per action",
		},
		[]string{"action", "outcome"}, // "disabled", "attribution_miss", "authorized", "responded", "escalated"
	)

	HandleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "guard_handle_duration_seconds",
			Help:    "Time from event receipt to terminal state",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	// Authorization
	AuthorizationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guard_authorization_total",
			Help: "Authorization decisions by result",
		},
		[]string{"result"}, // "authorized", "denied", "timed_out"
	)

	// Responses
	MutationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guard_mutation_failures_total",
			Help: "Failed platform mutations by response step",
		},
		[]string{"step"},
	)

	EmergencyActivations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guard_emergency_activations_total",
			Help: "Emergency response activations by trigger",
		},
		[]string{"trigger"}, // "rate", "mass_delete", "skipped_in_flight"
	)

	EmergencyBans = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guard_emergency_bans_total",
			Help: "Bans issued during emergency response by step",
		},
		[]string{"step"}, // "recent_join", "recent_actor"
	)

	LockedChannels = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guard_locked_channels_total",
			Help: "Channels locked down during emergency response",
		},
	)

	IncidentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guard_incidents_total",
			Help: "Incident records written by severity",
		},
		[]string{"severity"},
	)

	RateWindowKeys = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "guard_rate_window_keys",
			Help: "Active sliding-window keys in this worker",
		},
	)

	// Platform REST
	RESTLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "guard_rest_request_duration_seconds",
			Help:    "Latency of platform REST calls",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "status"},
	)

	GatewayLatency = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "guard_gateway_heartbeat_seconds",
			Help: "Last gateway heartbeat round trip",
		},
	)

	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guard_commands_total",
			Help: "Slash commands handled by result",
		},
		[]string{"command", "result"}, // "ok", "denied", "invalid", "cooldown", "error"
	)

	SweepRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guard_sweep_removed_total",
			Help: "Rows removed by periodic maintenance",
		},
		[]string{"sweep"}, // "whitelist_expiry", "incident_retention"
	)

	WorkerRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guard_worker_restarts_total",
			Help: "Worker processes restarted by the supervisor",
		},
		[]string{"worker"},
	)

	RelayCommands = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guard_relay_commands_total",
			Help: "Relay commands seen by result",
		},
		[]string{"result"}, // "executed", "failed", "stale", "duplicate", "invalid"
	)
)

// ObserveSince records a duration in seconds
func ObserveSince(h prometheus.Observer, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Serve exposes /metrics on addr until ctx is done. An empty addr disables it.
func Serve(ctx context.Context, addr string) error {
	if addr == "" {
		<-ctx.Done()
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
