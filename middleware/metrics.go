package middleware

import (
	"github.com/MrEthical07/dashauth"
)

// CountDecisions returns an Options.Observer that increments the guard
// counters of metrics.
func CountDecisions(metrics *dashauth.Metrics) func(Decision) {
	return func(d Decision) {
		switch d.State {
		case StateAuthorized:
			metrics.Inc(dashauth.MetricGuardAuthorized)
		case StateForbidden:
			metrics.Inc(dashauth.MetricGuardForbidden)
		case StateUnauthenticated:
			metrics.Inc(dashauth.MetricGuardRedirect)
		case StateError:
			metrics.Inc(dashauth.MetricGuardError)
		default:
			metrics.Inc(dashauth.MetricGuardLoading)
		}
	}
}
