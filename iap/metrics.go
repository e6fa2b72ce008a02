package iap

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ValidationsTotal counts validations by store code and outcome. The
	// outcome is "success" or an ErrorKind string.
	ValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iap_validations_total",
			Help: "Total number of receipt validations",
		},
		[]string{"store", "outcome"},
	)

	ValidationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "iap_validation_duration_seconds",
			Help:    "Duration of receipt validations in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"store"},
	)

	// AppleEnvironmentFallbacks counts retries against the sandbox host after
	// the production host redirected or failed.
	AppleEnvironmentFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "iap_apple_environment_fallbacks_total",
			Help: "Total number of Apple production to sandbox fallbacks",
		},
	)

	GoogleTokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iap_google_token_refreshes_total",
			Help: "Total number of Google OAuth access token refreshes",
		},
		[]string{"outcome"},
	)
)

func RecordValidation(store StoreCode, err error, duration time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = KindOf(err).String()
	}
	ValidationsTotal.WithLabelValues(string(store), outcome).Inc()
	ValidationDuration.WithLabelValues(string(store)).Observe(duration.Seconds())
}

func RecordGoogleTokenRefresh(err error) {
	outcome := "success"
	if err != nil {
		outcome = KindOf(err).String()
	}
	GoogleTokenRefreshes.WithLabelValues(outcome).Inc()
}
