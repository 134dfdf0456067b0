package domain

// PaymentStatusLabel is the human-facing payment status shown to buyers and
// sellers. It is a projection of (order status, payment method) computed on
// read and never persisted, so it cannot drift from the authoritative status.
type PaymentStatusLabel string

const (
	// PaymentStatusUnknown is returned for any pair outside the projection table.
	PaymentStatusUnknown PaymentStatusLabel = "Unknown"

	PaymentStatusSuccessful       PaymentStatusLabel = "Payment Successful"
	PaymentStatusPending          PaymentStatusLabel = "Payment Pending"
	PaymentStatusReceived         PaymentStatusLabel = "Payment Received"
	PaymentStatusRefunded         PaymentStatusLabel = "Payment Refunded"
	PaymentStatusCancelled        PaymentStatusLabel = "Payment Cancelled"
	PaymentStatusRefundPending    PaymentStatusLabel = "Payment Refunded (pending)"
	PaymentStatusCancelPending    PaymentStatusLabel = "Payment Cancelled (pending)"
	PaymentStatusReturnCompleted  PaymentStatusLabel = "Return Completed"
)

var paymentStatusTable = map[OrderStatus]map[PaymentMethod]PaymentStatusLabel{
	OrderStatusConfirmed: {
		PaymentMethodCard:           PaymentStatusSuccessful,
		PaymentMethodCashOnDelivery: PaymentStatusPending,
	},
	OrderStatusDelivered: {
		PaymentMethodCard:           PaymentStatusSuccessful,
		PaymentMethodCashOnDelivery: PaymentStatusReceived,
	},
	OrderStatusCancelled: {
		PaymentMethodCard:           PaymentStatusRefunded,
		PaymentMethodCashOnDelivery: PaymentStatusCancelled,
	},
	OrderStatusReturnRequested: {
		PaymentMethodCard:           PaymentStatusRefundPending,
		PaymentMethodCashOnDelivery: PaymentStatusCancelPending,
	},
	OrderStatusReturned: {
		PaymentMethodCard:           PaymentStatusRefunded,
		PaymentMethodCashOnDelivery: PaymentStatusReturnCompleted,
	},
}

// ProjectPaymentStatus maps an order's status and payment method onto the
// label surfaced in order payloads. Pairs outside the table yield
// PaymentStatusUnknown rather than a guess.
func ProjectPaymentStatus(status OrderStatus, method PaymentMethod) PaymentStatusLabel {
	row, ok := paymentStatusTable[status]
	if !ok {
		return PaymentStatusUnknown
	}
	label, ok := row[method]
	if !ok {
		return PaymentStatusUnknown
	}
	return label
}

// PaymentStatus is a convenience accessor projecting the order's own fields.
func (o Order) PaymentStatus() PaymentStatusLabel {
	return ProjectPaymentStatus(o.Status, o.PaymentMethod)
}
