// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	messagesCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexchat_messages_created_total",
			Help: "Messages persisted by the store, by message type.",
		},
		[]string{"type"},
	)

	friendRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexchat_friend_requests_total",
			Help: "Friend request actions, by action.",
		},
		[]string{"action"},
	)

	assistantStreams = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexchat_assistant_streams_total",
			Help: "Assistant relay streams, by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(messagesCreated)
	prometheus.MustRegister(friendRequests)
	prometheus.MustRegister(assistantStreams)
}

func MessageCreated(msgType string) {
	messagesCreated.WithLabelValues(msgType).Inc()
}

// FriendRequest records a request action: sent, accepted or rejected.
func FriendRequest(action string) {
	friendRequests.WithLabelValues(action).Inc()
}

// AssistantStream records a finished relay stream: done or error.
func AssistantStream(outcome string) {
	assistantStreams.WithLabelValues(outcome).Inc()
}

func Handler() http.Handler {
	return promhttp.Handler()
}
