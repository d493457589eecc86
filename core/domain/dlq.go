package domain

import "time"

// OperationType names the pipeline step a DLQ entry failed in.
type OperationType string

const (
	OpMailFetch      OperationType = "mail_fetch"
	OpLLMExtract     OperationType = "llm_extract"
	OpWorkspaceWrite OperationType = "workspace_write"
	OpSecretFetch    OperationType = "secret_fetch"
)

// DLQStatus is a dead-letter entry's lifecycle state.
type DLQStatus string

const (
	DLQPending   DLQStatus = "pending"
	DLQReplaying DLQStatus = "replaying"
	DLQCompleted DLQStatus = "completed"
	DLQFailed    DLQStatus = "failed"
)

// ErrorDetails captures enough of the classified failure to diagnose and
// retry an operation without re-deriving it from logs.
type ErrorDetails struct {
	Type       string
	Message    string
	Stack      string
	RetryCount int
}

// DLQEntry is one dead-letter record, persisted as
// data/dlq/{operation_type}/{dlq_id}.json (§4.3).
type DLQEntry struct {
	DLQID            string
	MessageID        string
	OperationType    OperationType
	Status           DLQStatus
	OriginalPayload  map[string]any
	ErrorDetails     ErrorDetails
	CreatedAt        time.Time
	LastAttemptAt    time.Time
	ReplayedAt       *time.Time
	Processed        bool
}
