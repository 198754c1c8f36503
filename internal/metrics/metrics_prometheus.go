package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recorder = (&prometheusRecorder{}).init()
)

type prometheusRecorder struct {
	gateDecisionCounter    *prometheus.CounterVec
	confirmationCounter    *prometheus.CounterVec
	toolInvocationHist     *prometheus.HistogramVec
	runCounter             *prometheus.CounterVec
	subagentFailureCounter *prometheus.CounterVec
	auditDroppedCounter    prometheus.Counter
}

func (in *prometheusRecorder) GateDecision(tool, action string) {
	in.gateDecisionCounter.WithLabelValues(tool, action).Inc()
}

func (in *prometheusRecorder) Confirmation(approved bool, err error) {
	outcome := "rejected"
	switch {
	case err != nil:
		outcome = "error"
	case approved:
		outcome = "approved"
	}
	in.confirmationCounter.WithLabelValues(outcome).Inc()
}

func (in *prometheusRecorder) ToolInvocation(tool string, elapsed time.Duration) {
	in.toolInvocationHist.WithLabelValues(tool).Observe(elapsed.Seconds())
}

func (in *prometheusRecorder) Run(state string) {
	in.runCounter.WithLabelValues(state).Inc()
}

func (in *prometheusRecorder) SubagentFailure(kind string) {
	in.subagentFailureCounter.WithLabelValues(kind).Inc()
}

func (in *prometheusRecorder) AuditDropped() {
	in.auditDroppedCounter.Inc()
}

func (in *prometheusRecorder) init() Recorder {
	in.gateDecisionCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: GateDecisionMetricName,
		Help: GateDecisionMetricDescription,
	}, []string{GateDecisionLabelTool, GateDecisionLabelAction})

	in.confirmationCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: ConfirmationMetricName,
		Help: ConfirmationMetricDescription,
	}, []string{ConfirmationLabelOutcome})

	in.toolInvocationHist = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    ToolInvocationMetricName,
		Help:    ToolInvocationMetricDescription,
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{ToolInvocationLabelTool})

	in.runCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: RunMetricName,
		Help: RunMetricDescription,
	}, []string{RunLabelState})

	in.subagentFailureCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: SubagentFailureMetricName,
		Help: SubagentFailureMetricDescription,
	}, []string{SubagentFailureLabelKind})

	in.auditDroppedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: AuditDroppedMetricName,
		Help: AuditDroppedMetricDescription,
	})

	return in
}

// Record returns the process-wide recorder.
func Record() Recorder {
	return recorder
}
