package taskname

const (
	// Notification tasks
	NotificationEmail = "notification:email"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)
