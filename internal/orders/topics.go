package orders

const (
	TopicOrderCreated         = "order.created"
	TopicOrderCompleted       = "order.completed"
	TopicOrderCancelled       = "order.cancelled"
	TopicPaymentNotifications = "payment.notifications"
)

// Partition key = order_id so every event of one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
