package prometheus

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/slok/taskflow/internal/metrics"
	"github.com/slok/taskflow/internal/model"
)

const namespace = "taskflow"

// Recorder is the Prometheus implementation of metrics.Recorder.
type Recorder struct {
	transitions        *prometheus.CounterVec
	rejections         *prometheus.CounterVec
	workOrderDuration  *prometheus.HistogramVec
	workOrdersInFlight *prometheus.GaugeVec
	workUnits          *prometheus.CounterVec
	verdicts           *prometheus.CounterVec
}

var _ metrics.Recorder = &Recorder{}

// NewRecorder returns a new Prometheus recorder registered on the registerer.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "state_machine",
			Name:      "transitions_total",
			Help:      "Total number of accepted task transitions.",
		}, []string{"from", "to", "trigger"}),

		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "state_machine",
			Name:      "rejected_transitions_total",
			Help:      "Total number of rejected task transitions.",
		}, []string{"from", "to", "trigger"}),

		workOrderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "work_order_duration_seconds",
			Help:      "Duration of dispatched work orders until completion.",
			Buckets:   []float64{.1, .5, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"agent_kind", "status"}),

		workOrdersInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "work_orders_in_flight",
			Help:      "Number of work orders waiting for an agent.",
		}, []string{"agent_kind"}),

		workUnits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "work_units_total",
			Help:      "Total number of finished work units.",
		}, []string{"status"}),

		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "verdicts_total",
			Help:      "Total number of recorded verdicts.",
		}, []string{"phase", "outcome"}),
	}

	for _, c := range []prometheus.Collector{r.transitions, r.rejections, r.workOrderDuration, r.workOrdersInFlight, r.workUnits, r.verdicts} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return r, nil
}

func (r *Recorder) TransitionAccepted(_ context.Context, from, to model.Phase, trigger model.Trigger) {
	r.transitions.WithLabelValues(string(from), string(to), string(trigger)).Inc()
}

func (r *Recorder) TransitionRejected(_ context.Context, from, to model.Phase, trigger model.Trigger) {
	r.rejections.WithLabelValues(string(from), string(to), string(trigger)).Inc()
}

func (r *Recorder) WorkOrderFinished(_ context.Context, kind model.AgentKind, status model.DispatchStatus, duration time.Duration) {
	r.workOrderDuration.WithLabelValues(string(kind), string(status)).Observe(duration.Seconds())
}

func (r *Recorder) WorkOrdersInFlight(_ context.Context, kind model.AgentKind, delta int) {
	r.workOrdersInFlight.WithLabelValues(string(kind)).Add(float64(delta))
}

func (r *Recorder) WorkUnitFinished(_ context.Context, status model.WorkUnitStatus) {
	r.workUnits.WithLabelValues(string(status)).Inc()
}

func (r *Recorder) VerdictRecorded(_ context.Context, phase model.Phase, outcome model.Outcome) {
	r.verdicts.WithLabelValues(string(phase), string(outcome)).Inc()
}
