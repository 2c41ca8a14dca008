package models

// CallbackRecord is an audit row for one received gateway callback. Kept for
// operator forensics and purged after the configured retention window.
type CallbackRecord struct {
	ID             string
	ConversationID string
	Outcome        string // "processed" or "failed"
	Detail         string // transaction reference or failure reason
	ReceivedAt     int64
}
