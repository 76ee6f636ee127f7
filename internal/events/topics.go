package events

// Task and topic names for payment results leaving the API.
const (
	TaskPaymentResult  = "payment:result"
	TopicPaymentResult = "payment.result"
)
