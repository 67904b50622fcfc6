// Package metrics exports kernel events to Prometheus.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ember/emberos/abi"
	"ember/emberos/kernel"
)

const namespace = "ember"

// Observer implements kernel.Observer with Prometheus collectors.
type Observer struct {
	syscalls        *prometheus.CounterVec
	syscallErrors   *prometheus.CounterVec
	delivered       *prometheus.CounterVec
	queueFull       *prometheus.CounterVec
	contextSwitches *prometheus.CounterVec
	processes       prometheus.Gauge
}

var _ kernel.Observer = (*Observer)(nil)

// New registers the kernel collectors with reg.
func New(reg prometheus.Registerer) *Observer {
	f := promauto.With(reg)
	return &Observer{
		syscalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kernel",
			Name:      "syscalls_total",
			Help:      "Syscalls handled, by call and result kind.",
		}, []string{"call", "result"}),
		syscallErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kernel",
			Name:      "syscall_errors_total",
			Help:      "Syscalls that returned an error, by call and error code.",
		}, []string{"call", "code"}),
		delivered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ipc",
			Name:      "messages_delivered_total",
			Help:      "Messages delivered, by kind and path (direct to a waiting receiver or queued).",
		}, []string{"kind", "path"}),
		queueFull: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ipc",
			Name:      "queue_full_total",
			Help:      "Sends that found the server queue full, by mode.",
		}, []string{"mode"}),
		contextSwitches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sched",
			Name:      "context_switches_total",
			Help:      "Context switches, by core.",
		}, []string{"core"}),
		processes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "kernel",
			Name:      "processes",
			Help:      "Live processes.",
		}),
	}
}

func (o *Observer) Syscall(n abi.SysCallNumber, kind abi.ResultKind, code abi.Error) {
	o.syscalls.WithLabelValues(n.String(), kind.String()).Inc()
	if kind == abi.ResultError {
		o.syscallErrors.WithLabelValues(n.String(), code.String()).Inc()
	}
}

func (o *Observer) Delivered(kind abi.MessageKind, fast bool) {
	path := "queued"
	if fast {
		path = "direct"
	}
	o.delivered.WithLabelValues(kind.String(), path).Inc()
}

func (o *Observer) QueueFull(try bool) {
	mode := "blocking"
	if try {
		mode = "try"
	}
	o.queueFull.WithLabelValues(mode).Inc()
}

func (o *Observer) ContextSwitch(core int) {
	o.contextSwitches.WithLabelValues(strconv.Itoa(core)).Inc()
}

func (o *Observer) Processes(live int) {
	o.processes.Set(float64(live))
}

// Handler serves g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
