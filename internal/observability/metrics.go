package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// --- Authenticated requests (per middleware pass) ---
	authRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_auth_requests_total",
		Help: "Requests through the authentication middleware by outcome and rejection reason",
	}, []string{"outcome", "reason"})

	// --- Token validation (per attempt) ---
	tokenValidationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_auth_token_validations_total",
		Help: "Token validation attempts by outcome and rejection reason",
	}, []string{"outcome", "reason"})

	tokenValidationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dashboard_auth_token_validation_seconds",
		Help:    "Token validation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	// --- Key set cache ---
	keysetCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dashboard_auth_keyset_cache_hits_total",
		Help: "Signing key lookups served from the cached key set",
	})

	keysetCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dashboard_auth_keyset_cache_misses_total",
		Help: "Signing key lookups that required a key set refresh",
	})

	keysetRefreshesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_auth_keyset_refreshes_total",
		Help: "Key set refresh attempts by outcome",
	}, []string{"outcome"})

	keysetStaleServesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dashboard_auth_keyset_stale_serves_total",
		Help: "Signing keys served from a stale key set after a failed refresh",
	})

	// --- Identity provisioning ---
	identitiesProvisionedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_auth_identities_provisioned_total",
		Help: "Identity resolutions by outcome (created, updated, unchanged)",
	}, []string{"outcome"})

	// --- Lockout ---
	lockoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dashboard_auth_lockouts_total",
		Help: "Requests rejected by the failed-attempt lockout",
	})

	// --- Auth event recorder ---
	authEventsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dashboard_auth_events_dropped_total",
		Help: "Authentication events dropped because the recorder buffer was full",
	})
)

func init() {
	prometheus.MustRegister(
		authRequestsTotal,
		tokenValidationsTotal, tokenValidationSeconds,
		keysetCacheHitsTotal, keysetCacheMissesTotal,
		keysetRefreshesTotal, keysetStaleServesTotal,
		identitiesProvisionedTotal,
		lockoutsTotal,
		authEventsDroppedTotal,
	)
}

// RecordAuthRequest records the outcome of one request through the
// authentication middleware: accepted, rejected, or locked_out. Reason is
// "none" for accepted requests.
func RecordAuthRequest(outcome, reason string) {
	authRequestsTotal.WithLabelValues(outcome, reason).Inc()
}

// RecordTokenValidation records one validation attempt. For accepted tokens
// reason should be "none"; for rejections it is the rejection reason tag.
func RecordTokenValidation(outcome, reason string, duration time.Duration) {
	tokenValidationsTotal.WithLabelValues(outcome, reason).Inc()
	tokenValidationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordKeysetHit records a signing key lookup served from cache.
func RecordKeysetHit() {
	keysetCacheHitsTotal.Inc()
}

// RecordKeysetMiss records a signing key lookup that needed a refresh.
func RecordKeysetMiss() {
	keysetCacheMissesTotal.Inc()
}

// RecordKeysetRefresh records a key set refresh attempt.
func RecordKeysetRefresh(success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	keysetRefreshesTotal.WithLabelValues(outcome).Inc()
}

// RecordKeysetStaleServe records a key served from a stale set after a
// failed refresh.
func RecordKeysetStaleServe() {
	keysetStaleServesTotal.Inc()
}

// RecordIdentityProvisioned records an identity resolution outcome.
func RecordIdentityProvisioned(outcome string) {
	identitiesProvisionedTotal.WithLabelValues(outcome).Inc()
}

// RecordLockout records a request rejected by the lockout check.
func RecordLockout() {
	lockoutsTotal.Inc()
}

// RecordAuthEventDropped records an authentication event dropped on enqueue.
func RecordAuthEventDropped() {
	authEventsDroppedTotal.Inc()
}
