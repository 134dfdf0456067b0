package services

import (
	"time"

	"github.com/shopstream/api/internal/domain"
)

// DefaultReturnWindow is the period after delivery during which a return
// may still be requested. The boundary is inclusive of the exact instant.
const DefaultReturnWindow = 7 * 24 * time.Hour

// IneligibilityReason explains why no return or cancel request can be
// filed for an order right now.
type IneligibilityReason string

const (
	ReasonAlreadyCancelled       IneligibilityReason = "already_cancelled"
	ReasonAlreadyReturned        IneligibilityReason = "already_returned"
	ReasonReturnWindowExpired    IneligibilityReason = "return_window_expired"
	ReasonReturnAlreadyRequested IneligibilityReason = "return_already_requested"
	ReasonDeliveredDateMissing   IneligibilityReason = "delivered_date_missing"
	ReasonRequestAlreadyExists   IneligibilityReason = "request_already_exists"
)

// EligibilityReport is the structured outcome of an eligibility
// evaluation. When Eligible is true, Type names the request type the
// actor may file; Deadline carries the end of the return window for
// delivered orders. When Eligible is false, Reason names the veto; an
// empty Reason means the stored status itself was unrecognized.
type EligibilityReport struct {
	Eligible bool
	Type     RequestType
	Reason   IneligibilityReason
	Deadline *time.Time
}

// EvaluateEligibility decides whether a return or cancel request may be
// filed for the order at the given instant. It is pure: the same
// snapshot and time always produce the same report. The window is
// recomputed from DeliveredAt on every call since delivery timestamps
// can be corrected before the window is consumed.
func EvaluateEligibility(order Order, pending []ReturnCancelRequest, now time.Time, window time.Duration) EligibilityReport {
	switch order.Status {
	case domain.OrderStatusCancelled:
		return ineligible(ReasonAlreadyCancelled)
	case domain.OrderStatusReturned:
		return ineligible(ReasonAlreadyReturned)
	case domain.OrderStatusReturnRequested:
		return ineligible(ReasonReturnAlreadyRequested)
	case domain.OrderStatusConfirmed:
		if hasPending(pending, domain.RequestTypeCancel) {
			return ineligible(ReasonRequestAlreadyExists)
		}
		return EligibilityReport{Eligible: true, Type: domain.RequestTypeCancel}
	case domain.OrderStatusDelivered:
		if order.DeliveredAt == nil {
			return ineligible(ReasonDeliveredDateMissing)
		}
		if hasPending(pending, domain.RequestTypeReturn) {
			return ineligible(ReasonRequestAlreadyExists)
		}
		deadline := order.DeliveredAt.Add(window)
		if now.After(deadline) {
			rep := ineligible(ReasonReturnWindowExpired)
			rep.Deadline = &deadline
			return rep
		}
		return EligibilityReport{Eligible: true, Type: domain.RequestTypeReturn, Deadline: &deadline}
	default:
		// Unrecognized status is a stored-data problem; callers surface
		// it as a data-integrity error, not a business rejection.
		return EligibilityReport{}
	}
}

func ineligible(reason IneligibilityReason) EligibilityReport {
	return EligibilityReport{Reason: reason}
}

func hasPending(requests []ReturnCancelRequest, t RequestType) bool {
	for _, req := range requests {
		if req.Type == t && req.IsPending() {
			return true
		}
	}
	return false
}
