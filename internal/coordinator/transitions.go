package coordinator

import "github.com/kiranshivaraju/twimagine/pkg/models"

// Trigger is an event that may move an ImageRequest between statuses.
type Trigger string

const (
	TriggerChargeCreated    Trigger = "charge_created"
	TriggerPaymentLinkSent  Trigger = "payment_link_sent"
	TriggerPaymentSucceeded Trigger = "payment_succeeded"
	TriggerPaymentFailed    Trigger = "payment_failed"
	TriggerStartFulfillment Trigger = "start_fulfillment"
	TriggerFulfilled        Trigger = "fulfilled"
	TriggerEffectFailed     Trigger = "effect_failed"
	TriggerOperatorFailed   Trigger = "operator_failed"
)

// transitions maps a source status and trigger to the target status.
// Terminal statuses have no entries.
var transitions = map[models.RequestStatus]map[Trigger]models.RequestStatus{
	models.StatusPendingPayment: {
		TriggerChargeCreated:    models.StatusPendingPayment,
		TriggerPaymentLinkSent:  models.StatusPendingPayment,
		TriggerPaymentSucceeded: models.StatusPaymentConfirmed,
		TriggerPaymentFailed:    models.StatusFailed,
		TriggerEffectFailed:     models.StatusFailed,
		TriggerOperatorFailed:   models.StatusFailed,
	},
	models.StatusPaymentConfirmed: {
		TriggerPaymentLinkSent:  models.StatusPaymentConfirmed,
		TriggerPaymentSucceeded: models.StatusPaymentConfirmed,
		TriggerPaymentFailed:    models.StatusFailed,
		TriggerStartFulfillment: models.StatusGenerating,
		TriggerEffectFailed:     models.StatusFailed,
		TriggerOperatorFailed:   models.StatusFailed,
	},
	models.StatusGenerating: {
		TriggerPaymentLinkSent: models.StatusGenerating,
		TriggerPaymentFailed:   models.StatusFailed,
		TriggerFulfilled:       models.StatusCompleted,
		TriggerEffectFailed:    models.StatusFailed,
		TriggerOperatorFailed:  models.StatusFailed,
	},
}

// Next returns the status trigger leads to from from, and whether the
// transition is allowed at all.
func Next(from models.RequestStatus, trigger Trigger) (models.RequestStatus, bool) {
	to, ok := transitions[from][trigger]
	return to, ok
}

// Sources returns every status from which trigger is allowed. It is the
// status precondition of the conditional update that applies trigger.
func Sources(trigger Trigger) []models.RequestStatus {
	var out []models.RequestStatus
	for _, from := range statusOrder {
		if _, ok := transitions[from][trigger]; ok {
			out = append(out, from)
		}
	}
	return out
}

var statusOrder = []models.RequestStatus{
	models.StatusPendingPayment,
	models.StatusPaymentConfirmed,
	models.StatusGenerating,
	models.StatusCompleted,
	models.StatusFailed,
}

// rank orders the happy path. failed ranks above everything.
func rank(s models.RequestStatus) int {
	for i, st := range statusOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Forward reports whether moving from one status to another keeps the
// observed sequence monotonic.
func Forward(from, to models.RequestStatus) bool {
	if from.Terminal() {
		return from == to
	}
	return rank(to) >= rank(from)
}
