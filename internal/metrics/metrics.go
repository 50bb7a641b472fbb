package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "meetbook"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint and status code.",
		},
		[]string{"endpoint", "code"},
	)

	bookingsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_created_total",
			Help:      "Booking requests stored as pending.",
		},
	)

	bookingsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_rejected_total",
			Help:      "Create attempts that did not produce a booking, by reason.",
		},
		[]string{"reason"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_transitions_total",
			Help:      "Approve/decline attempts by target status and result.",
		},
		[]string{"status", "result"},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Outbound notifications by kind and result.",
		},
		[]string{"kind", "result"},
	)

	externalCalls = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "external_call_duration_seconds",
			Help:      "Latency of calendar and mail calls.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"call", "result"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, bookingsCreated, bookingsRejected, transitions, notifications, externalCalls)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string, code int) {
	httpRequests.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
}

func IncBookingCreated() {
	bookingsCreated.Inc()
}

// IncBookingRejected counts a failed create; reason is a short error class.
func IncBookingRejected(reason string) {
	bookingsRejected.WithLabelValues(reason).Inc()
}

func IncTransition(status, result string) {
	transitions.WithLabelValues(status, result).Inc()
}

func IncNotification(kind string, err error) {
	notifications.WithLabelValues(kind, result(err)).Inc()
}

// ObserveExternal records how long an outbound call took.
func ObserveExternal(call string, started time.Time, err error) {
	externalCalls.WithLabelValues(call, result(err)).Observe(time.Since(started).Seconds())
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
