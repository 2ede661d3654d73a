package messaging

// Topics carrying order lifecycle events. Keys are order ids so every event
// for one order lands on the same partition, preserving order.
const (
	TopicOrderPaid      = "order.paid"
	TopicOrderConfirmed = "order.confirmed"
)
