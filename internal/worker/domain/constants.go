package domain

// Job status constants
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// Artifact formats
const (
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
	FormatReport   = "report"
	FormatPDF      = "pdf"
)

// Storage backends recorded on artifacts
const (
	BackendObjectStore = "s3"
	BackendLocal       = "local"
)

// Notification annotation written into result metadata when a channel fails
const NotificationPartialError = "partial-notification-error"

// IsTerminal reports whether status ends a job's lifecycle
func IsTerminal(status string) bool {
	return status == JobStatusCompleted || status == JobStatusFailed
}

// CanTransition reports whether a job may move from one status to another.
// failed -> pending and processing -> pending happen on queue redelivery.
func CanTransition(from, to string) bool {
	switch from {
	case JobStatusPending:
		return to == JobStatusProcessing || to == JobStatusFailed
	case JobStatusProcessing:
		return to == JobStatusCompleted || to == JobStatusFailed || to == JobStatusPending
	case JobStatusFailed:
		return to == JobStatusPending
	default:
		return false
	}
}
