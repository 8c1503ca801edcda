package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ActivationMetrics tracks the purchase-to-activation pipeline.
type ActivationMetrics struct {
	webhookEvents   *prometheus.CounterVec
	stepFailures    *prometheus.CounterVec
	activations     prometheus.Counter
	inventoryGauge  *prometheus.GaugeVec
	emailDeliveries *prometheus.CounterVec
}

// NewActivationMetrics registers the pipeline metrics on the provided registerer.
func NewActivationMetrics(reg prometheus.Registerer) *ActivationMetrics {
	if reg == nil {
		return &ActivationMetrics{}
	}
	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Stripe webhook events by processing result.",
	}, []string{"result"})
	stepFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "activation_step_failures_total",
		Help: "Activation orchestration failures by step.",
	}, []string{"step"})
	activations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "activations_total",
		Help: "Completed eSIM activations.",
	})
	inventoryGauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "iccid_inventory",
		Help: "ICCID inventory rows by status.",
	}, []string{"status"})
	emailDeliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "activation_emails_total",
		Help: "Activation email delivery attempts by outcome.",
	}, []string{"outcome"})
	reg.MustRegister(webhookEvents, stepFailures, activations, inventoryGauge, emailDeliveries)
	return &ActivationMetrics{
		webhookEvents:   webhookEvents,
		stepFailures:    stepFailures,
		activations:     activations,
		inventoryGauge:  inventoryGauge,
		emailDeliveries: emailDeliveries,
	}
}

// IncWebhookEvent counts a processed webhook by result label.
func (m *ActivationMetrics) IncWebhookEvent(result string) {
	if m == nil || m.webhookEvents == nil {
		return
	}
	m.webhookEvents.WithLabelValues(normalizeLabel(result)).Inc()
}

// IncStepFailure counts an orchestration failure at the named step.
func (m *ActivationMetrics) IncStepFailure(step string) {
	if m == nil || m.stepFailures == nil {
		return
	}
	m.stepFailures.WithLabelValues(normalizeLabel(step)).Inc()
}

// IncActivation counts a completed activation.
func (m *ActivationMetrics) IncActivation() {
	if m == nil || m.activations == nil {
		return
	}
	m.activations.Inc()
}

// SetInventory records the current row count for an inventory status.
func (m *ActivationMetrics) SetInventory(status string, count float64) {
	if m == nil || m.inventoryGauge == nil {
		return
	}
	m.inventoryGauge.WithLabelValues(normalizeLabel(status)).Set(count)
}

// IncEmail counts an email delivery attempt.
func (m *ActivationMetrics) IncEmail(outcome string) {
	if m == nil || m.emailDeliveries == nil {
		return
	}
	m.emailDeliveries.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
