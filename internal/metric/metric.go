// Package metric provides the collectors that record scenario outcomes and
// the hooks that update them.
package metric

import (
	"net/http"
	"path"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/thearyanahmed/share-tester/internal/harness"
)

const (
	namespace = "share_tester"

	labelScenario = "scenario"
	labelResult   = "result"
	labelPath     = "path"
	labelCode     = "code"
	labelMethod   = "method"

	invalidPathValue = "invalid"

	resultPass       = "pass"
	resultFail       = "fail"
	resultCompleted  = "completed"
	resultIncomplete = "incomplete"
)

// scenarioRuns counts finished scenario runs by outcome.
var scenarioRuns = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scenario_runs_total",
		Help:      "Count of scenario runs, by scenario and whether every test case completed.",
	},
	[]string{labelScenario, labelResult},
)

// testCases counts individual test case outcomes.
var testCases = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "test_cases_total",
		Help:      "Count of test cases, by scenario and whether the case completed.",
	},
	[]string{labelScenario, labelResult},
)

var scenarioDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "scenario_run_duration_seconds",
		Help:      "Histogram of wall time from submitting a scenario's test cases to the orchestrator returning.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{labelScenario},
)

var httpDuration prometheus.ObserverVec = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Histogram of HTTP request latencies.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{labelCode, labelPath, labelMethod},
)

// InitializeCollectors registers the collectors with r and zeroes the
// scenario series so dashboards see them before the first run.
func InitializeCollectors(r prometheus.Registerer, scenarios ...string) {
	if r == nil {
		return
	}
	r.MustRegister(scenarioRuns, testCases, scenarioDuration, httpDuration)
	for _, s := range scenarios {
		for _, res := range []string{resultPass, resultFail} {
			scenarioRuns.With(prometheus.Labels{labelScenario: s, labelResult: res})
		}
		for _, res := range []string{resultCompleted, resultIncomplete} {
			testCases.With(prometheus.Labels{labelScenario: s, labelResult: res})
		}
	}
}

// RecordReport updates the collectors from one finished run. Cancelled runs
// are not recorded.
func RecordReport(r *harness.Report) {
	if r == nil || r.Cancelled {
		return
	}
	outcome := resultPass
	if !r.Passed() {
		outcome = resultFail
	}
	scenarioRuns.With(prometheus.Labels{labelScenario: r.Scenario, labelResult: outcome}).Inc()
	scenarioDuration.With(prometheus.Labels{labelScenario: r.Scenario}).Observe(r.Duration.Seconds())
	for _, res := range r.Results {
		outcome := resultCompleted
		if !res.Completed {
			outcome = resultIncomplete
		}
		testCases.With(prometheus.Labels{labelScenario: r.Scenario, labelResult: outcome}).Inc()
	}
}

// pathLabel maps the requested path to one of routes. A route ending in a
// slash also matches anything below it, recorded as route+":id"; "/" only
// matches itself. Everything else is "invalid".
func pathLabel(routes []string, incomingPath string) string {
	if incomingPath == "" || incomingPath[0] != '/' {
		incomingPath = "/" + incomingPath
	}
	// path.Clean drops the trailing slash a subtree route needs
	cleaned := path.Clean(incomingPath)
	if strings.HasSuffix(incomingPath, "/") && cleaned != "/" {
		cleaned += "/"
	}
	for _, r := range routes {
		if cleaned == r {
			return r
		}
	}
	for _, r := range routes {
		if r != "/" && strings.HasSuffix(r, "/") && strings.HasPrefix(cleaned, r) {
			return r + ":id"
		}
	}
	return invalidPathValue
}

// InstrumentHttpHandler wraps h so request latency is recorded with code,
// method and path labels. The path label is limited to routes.
func InstrumentHttpHandler(h http.Handler, routes []string) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		l := prometheus.Labels{labelPath: pathLabel(routes, req.URL.Path)}
		promhttp.InstrumentHandlerDuration(httpDuration.MustCurryWith(l), h).ServeHTTP(rw, req)
	})
}
