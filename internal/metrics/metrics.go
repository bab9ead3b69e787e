package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OTPEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otp_events_total",
			Help: "Total number of OTP lifecycle events",
		},
		[]string{"action"},
	)

	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "submissions_total",
			Help: "Upload attempts by outcome",
		},
		[]string{"result"},
	)

	MembershipChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "membership_checks_total",
			Help: "Telegram membership lookups by answer",
		},
		[]string{"status"},
	)

	SweptOTPsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swept_otps_total",
			Help: "OTP records expired or purged by the sweeper",
		},
		[]string{"kind"},
	)

	SubmissionSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "submission_size_bytes",
			Help:    "Size of accepted submissions",
			Buckets: prometheus.ExponentialBuckets(64<<10, 4, 8),
		},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method", "status"},
	)
)
