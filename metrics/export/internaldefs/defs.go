package internaldefs

import (
	"strconv"
	"strings"

	"github.com/MrEthical07/dashauth"
)

// CounterDef names one counter.
type CounterDef struct {
	ID   dashauth.MetricID
	Name string
	Help string
}

// HistogramDef names one latency histogram.
type HistogramDef struct {
	ID   dashauth.MetricID
	Name string
	Help string
}

// BucketCount is the number of histogram buckets, the unbounded one included.
const BucketCount = len(dashauth.HistogramBounds) + 1

var CounterDefs = []CounterDef{
	{ID: dashauth.MetricLoginSuccess, Name: "dashauth_login_success_total", Help: "Successful logins."},
	{ID: dashauth.MetricLoginFailure, Name: "dashauth_login_failure_total", Help: "Logins rejected by the backend or failed in transit."},
	{ID: dashauth.MetricLoginRejectedInput, Name: "dashauth_login_rejected_input_total", Help: "Logins refused locally for invalid form input."},
	{ID: dashauth.MetricRefreshSuccess, Name: "dashauth_refresh_success_total", Help: "Successful credential refreshes."},
	{ID: dashauth.MetricRefreshFailure, Name: "dashauth_refresh_failure_total", Help: "Failed credential refreshes."},
	{ID: dashauth.MetricRefreshRetry, Name: "dashauth_refresh_retry_total", Help: "Refresh attempts retried after a transient failure."},
	{ID: dashauth.MetricRefreshTeardown, Name: "dashauth_refresh_teardown_total", Help: "Sessions torn down after a failed refresh."},
	{ID: dashauth.MetricRefreshKeptSession, Name: "dashauth_refresh_kept_session_total", Help: "Failed refreshes that kept an unexpired session."},
	{ID: dashauth.MetricLogout, Name: "dashauth_logout_total", Help: "Single-session logouts."},
	{ID: dashauth.MetricLogoutAll, Name: "dashauth_logout_all_total", Help: "Logouts from every device."},
	{ID: dashauth.MetricLogoutRemoteFailure, Name: "dashauth_logout_remote_failure_total", Help: "Logouts whose backend call failed."},
	{ID: dashauth.MetricCheckAuthHit, Name: "dashauth_check_auth_hit_total", Help: "Local checks that found stored credentials."},
	{ID: dashauth.MetricCheckAuthMiss, Name: "dashauth_check_auth_miss_total", Help: "Local checks without usable credentials."},
	{ID: dashauth.MetricMalformedLocalData, Name: "dashauth_malformed_local_data_total", Help: "Stored records that could not be decoded."},
	{ID: dashauth.MetricRenewalTick, Name: "dashauth_renewal_tick_total", Help: "Renewal checks run for an authenticated session."},
	{ID: dashauth.MetricRenewalTriggered, Name: "dashauth_renewal_triggered_total", Help: "Renewal checks that refreshed the credential."},
	{ID: dashauth.MetricGuardAuthorized, Name: "dashauth_guard_authorized_total", Help: "Guarded requests let through."},
	{ID: dashauth.MetricGuardForbidden, Name: "dashauth_guard_forbidden_total", Help: "Guarded requests denied for missing roles."},
	{ID: dashauth.MetricGuardRedirect, Name: "dashauth_guard_redirect_total", Help: "Guarded requests redirected to login."},
	{ID: dashauth.MetricGuardLoading, Name: "dashauth_guard_loading_total", Help: "Guarded requests answered with the loading page."},
	{ID: dashauth.MetricGuardError, Name: "dashauth_guard_error_total", Help: "Guarded requests answered with the error page."},
}

var HistogramDefs = []HistogramDef{
	{ID: dashauth.MetricTransportLatency, Name: "dashauth_transport_latency_seconds", Help: "Backend call latency."},
}

// AuditDroppedName is the counter of audit events lost to backpressure.
const AuditDroppedName = "dashauth_audit_dropped_total"

// Session gauges. Only exporters with a live manager report them.
const (
	SessionAuthenticatedName = "dashauth_session_authenticated"
	SessionStalenessName     = "dashauth_session_staleness_bound_seconds"
)

// UpperBounds returns the finite bucket bounds in seconds.
func UpperBounds() []float64 {
	out := make([]float64, len(dashauth.HistogramBounds))
	for i, b := range dashauth.HistogramBounds {
		out[i] = b.Seconds()
	}
	return out
}

// BoundSuffixes returns instrument-safe names for every bucket, ending
// with "inf".
func BoundSuffixes() []string {
	out := make([]string, 0, BucketCount)
	for _, b := range UpperBounds() {
		out = append(out, strings.ReplaceAll(strconv.FormatFloat(b, 'f', -1, 64), ".", "_"))
	}
	return append(out, "inf")
}

// NormalizeBuckets pads or truncates raw to BucketCount entries.
func NormalizeBuckets(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [BucketCount]uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
