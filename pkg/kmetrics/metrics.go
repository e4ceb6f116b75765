// Package kmetrics exposes the kernel's Prometheus instrumentation:
// IPC throughput, scheduler activity, and VM fault/pageout counters.
package kmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// IPC (C3)
	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nucleus_ipc_messages_sent_total",
		Help: "Total messages accepted by port-send.",
	})
	MessagesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nucleus_ipc_messages_received_total",
		Help: "Total messages dequeued by port-receive.",
	})
	SendFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nucleus_ipc_send_failures_total",
		Help: "Send failures by status code.",
	}, []string{"code"})
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nucleus_ipc_queue_depth",
		Help: "Current queued message count, by port id.",
	}, []string{"port"})
	PortsLive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nucleus_ipc_ports_live",
		Help: "Number of live (non-dead) ports.",
	})
	Notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nucleus_ipc_notifications_total",
		Help: "Notifications delivered, by kind.",
	}, []string{"kind"})

	// Scheduler (C2)
	ContextSwitches = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nucleus_sched_context_switches_total",
		Help: "Total context switches performed.",
	})
	QuantumExpirations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nucleus_sched_quantum_expirations_total",
		Help: "Total times a thread's quantum reached zero.",
	})
	RunQueueLength = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nucleus_sched_runqueue_length",
		Help: "Current run queue length, by priority.",
	}, []string{"priority"})

	// Wait-event registry (C1)
	WaitersBlocked = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nucleus_wait_blocked_threads",
		Help: "Threads currently blocked across all wait events.",
	})

	// VM (C4)
	PageFaultsMinor = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nucleus_vm_minor_faults_total",
		Help: "Faults resolved without a pager round-trip (anonymous zero-fill, COW copy).",
	})
	PageFaultsMajor = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nucleus_vm_major_faults_total",
		Help: "Faults requiring a data-request round-trip to an external pager.",
	})
	PagesFree = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nucleus_vm_pages_free",
		Help: "Physical pages currently on the free list.",
	})
	PagesWired = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nucleus_vm_pages_wired",
		Help: "Physical pages currently wired.",
	})
	Pageouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nucleus_vm_pageouts_total",
		Help: "Dirty pages written back through a pager's data-return path.",
	})

	// Task lifecycle (C5)
	TasksLive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nucleus_tasks_live",
		Help: "Tasks currently active.",
	})
	ThreadsLive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nucleus_threads_live",
		Help: "Threads currently active (not yet reaped).",
	})
)

func init() {
	prometheus.MustRegister(
		MessagesSent, MessagesReceived, SendFailures, QueueDepth, PortsLive, Notifications,
		ContextSwitches, QuantumExpirations, RunQueueLength,
		WaitersBlocked,
		PageFaultsMinor, PageFaultsMajor, PagesFree, PagesWired, Pageouts,
		TasksLive, ThreadsLive,
	)
}

// Timer measures an operation's duration for a histogram observation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time on the given observer.
func (t *Timer) ObserveDuration(h prometheus.Observer) time.Duration {
	d := time.Since(t.start)
	h.Observe(d.Seconds())
	return d
}

// SchedulingLatency measures assert-wait to thread-wakeup-driven
// redispatch latency.
var SchedulingLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
	Name:    "nucleus_sched_latency_seconds",
	Help:    "Time from a thread becoming ready to it running.",
	Buckets: prometheus.DefBuckets,
})

func init() {
	prometheus.MustRegister(SchedulingLatency)
}
