package domain

import "time"

// Email is the cleaned message handed to the pipeline by the external mail
// receiver: a stable id, a cleaned UTF-8 body, and a receipt timestamp.
// Immutable once produced.
type Email struct {
	MessageID  string
	BodyText   string
	ReceivedAt time.Time
}
