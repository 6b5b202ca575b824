package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SignupSteps counts signup state machine steps by outcome.
	SignupSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_signup_steps_total",
		Help: "Signup steps by step and outcome",
	}, []string{"step", "outcome"})

	// DuplicateChecks counts availability checks by field and outcome.
	DuplicateChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_duplicate_checks_total",
		Help: "Duplicate checks by field and outcome",
	}, []string{"field", "outcome"})

	// ChatMessagesSent counts messages appended to chat rooms.
	ChatMessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_chat_messages_sent_total",
		Help: "Total chat messages sent",
	})

	// ChatRoomsCreated counts rooms created lazily on first contact.
	ChatRoomsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_chat_rooms_created_total",
		Help: "Total chat rooms created",
	})

	// ChatSubscriptionsActive is the gauge of live message subscriptions.
	ChatSubscriptionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marketplace_chat_subscriptions_active",
		Help: "Number of active chat message subscriptions",
	})

	// ActiveWebSockets is the gauge of open websocket connections by endpoint.
	ActiveWebSockets = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "marketplace_websockets_active",
		Help: "Number of open websocket connections",
	}, []string{"endpoint"})

	// ProductViews counts deduplicated product detail views.
	ProductViews = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_product_views_total",
		Help: "Total counted product views",
	})

	// Uploads counts image uploads by outcome.
	Uploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_uploads_total",
		Help: "Image uploads by outcome",
	}, []string{"outcome"})

	// RedisErrors counts Redis errors by operation type.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_redis_errors_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})
)

// Outcome labels.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)
