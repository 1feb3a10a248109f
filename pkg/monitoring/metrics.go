package monitoring

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector manages Prometheus metrics for a service.
type MetricsCollector struct {
	serviceName string
	registry    *prometheus.Registry

	// Beacon pipeline
	BeaconFetches   *prometheus.CounterVec // strategy, outcome
	SignalsRetained prometheus.Counter
	SignalsDropped  *prometheus.CounterVec // reason
	BeaconBatches   *prometheus.CounterVec // phase
	BeaconCost      prometheus.Counter

	// Completion service
	CompletionRequests *prometheus.CounterVec // status_class

	// Conversation lifecycle
	ConversationEndings *prometheus.CounterVec // cause
	MessagesAppended    prometheus.Counter

	// Proposals
	ProposalsAccepted prometheus.Counter
	ProposalsRejected *prometheus.CounterVec // reason
}

// NewMetricsCollector creates and registers the service's collectors on a
// private registry.
func NewMetricsCollector(serviceName, version, commit string) *MetricsCollector {
	name := strings.ReplaceAll(serviceName, "-", "_")
	registry := prometheus.NewRegistry()

	mc := &MetricsCollector{
		serviceName: name,
		registry:    registry,
		BeaconFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: name + "_beacon_fetches_total",
			Help: "Beacon fetch attempts by strategy and outcome",
		}, []string{"strategy", "outcome"}),
		SignalsRetained: prometheus.NewCounter(prometheus.CounterOpts{
			Name: name + "_signals_retained_total",
			Help: "Signals that survived validation and dedup",
		}),
		SignalsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: name + "_signals_dropped_total",
			Help: "Signals dropped during cleaning by reason",
		}, []string{"reason"}),
		BeaconBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: name + "_beacon_batches_total",
			Help: "Beacon batches stored by phase",
		}, []string{"phase"}),
		BeaconCost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: name + "_beacon_cost_dollars_total",
			Help: "Estimated cumulative search cost",
		}),
		CompletionRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: name + "_completion_requests_total",
			Help: "Completion-service requests by status class",
		}, []string{"status_class"}),
		ConversationEndings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: name + "_conversation_endings_total",
			Help: "Conversation thread endings by cause",
		}, []string{"cause"}),
		MessagesAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: name + "_messages_appended_total",
			Help: "Messages appended to conversation threads",
		}),
		ProposalsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: name + "_proposals_accepted_total",
			Help: "Proposals that passed validation and ranking",
		}),
		ProposalsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: name + "_proposals_rejected_total",
			Help: "Proposal candidates rejected by reason",
		}, []string{"reason"}),
	}

	serviceInfo := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: name + "_service_info",
		Help: "Service information",
	}, []string{"version", "commit"})
	serviceInfo.WithLabelValues(version, commit).Set(1)

	registry.MustRegister(
		mc.BeaconFetches,
		mc.SignalsRetained,
		mc.SignalsDropped,
		mc.BeaconBatches,
		mc.BeaconCost,
		mc.CompletionRequests,
		mc.ConversationEndings,
		mc.MessagesAppended,
		mc.ProposalsAccepted,
		mc.ProposalsRejected,
		serviceInfo,
	)

	return mc
}

// Handler serves the registry in Prometheus exposition format.
func (mc *MetricsCollector) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(mc.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
