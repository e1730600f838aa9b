package model

import "time"

// UserToken represents the user's OAuth2 credential bundle stored in DynamoDB.
// At most one bundle exists per (user, provider); a refresh replaces the row,
// it never adds a second one.
type UserToken struct {
	UserID                string `json:"user_id" dynamodbav:"user_id"`
	Provider              string `json:"provider" dynamodbav:"provider"`
	AccessToken           string `json:"-" dynamodbav:"access_token"`
	EncryptedRefreshToken string `json:"encrypted_refresh_token" dynamodbav:"encrypted_refresh_token"`
	// ProviderToken is the delegated third-party token (the Google access
	// token the script runtime acts with), distinct from the session token.
	ProviderToken string    `json:"-" dynamodbav:"provider_token"`
	Expiry        time.Time `json:"expiry" dynamodbav:"expiry"`
	UpdatedAt     time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

// Expired reports whether the access token is expired or about to expire.
func (t *UserToken) Expired(leeway time.Duration) bool {
	if t.Expiry.IsZero() {
		return false
	}
	return time.Now().Add(leeway).After(t.Expiry)
}

// FlowConfig is a user-authored automation definition: a Gmail search filter
// routed to a Google Drive folder.
type FlowConfig struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	FlowName string `json:"flow_name"`
	// Senders is a comma-separated list of sender addresses. When non-empty
	// it takes precedence over EmailFilter.
	Senders string `json:"senders"`
	// EmailFilter is the legacy pre-built search-query string.
	EmailFilter string    `json:"email_filter"`
	DriveFolder string    `json:"drive_folder"`
	FileTypes   []string  `json:"file_types"`
	AutoRun     bool      `json:"auto_run"`
	Frequency   string    `json:"frequency"`
	MaxEmails   int       `json:"max_emails,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RunLock represents an in-flight execution lock on a flow, stored with a TTL
// so an abandoned run cannot block the flow forever.
type RunLock struct {
	FlowID    string `json:"flow_id" dynamodbav:"flow_id"`
	UserID    string `json:"user_id" dynamodbav:"user_id"`
	RequestID string `json:"request_id" dynamodbav:"request_id"`
	ExpiresAt int64  `json:"expires_at" dynamodbav:"expires_at"` // TTL (Unix timestamp)
}

// UserConfig is the flow definition as it travels on the wire to the script
// runtime.
type UserConfig struct {
	Senders         string   `json:"senders"`
	DriveFolder     string   `json:"driveFolder"`
	FileTypes       []string `json:"fileTypes"`
	FlowName        string   `json:"flowName"`
	MaxEmails       int      `json:"maxEmails"`
	EnableDebugMode bool     `json:"enableDebugMode"`
}

// DebugInfo carries correlation metadata alongside every job submission.
type DebugInfo struct {
	RequestID     string `json:"request_id"`
	AuthMethod    string `json:"auth_method"`
	RequestSource string `json:"request_source"`
	FlowID        string `json:"flow_id"`
}

// JobPayload is the canonical job-submission body sent to the relay endpoint.
type JobPayload struct {
	Action     string     `json:"action"`
	UserID     string     `json:"user_id"`
	UserEmail  string     `json:"userEmail,omitempty"`
	WebhookURL string     `json:"webhookUrl,omitempty"`
	UserConfig UserConfig `json:"userConfig"`
	DebugInfo  DebugInfo  `json:"debug_info"`
	// Query is the fully resolved Gmail search predicate. It is derived from
	// Senders/EmailFilter by the payload builder and is what the runtime
	// actually searches with.
	Query string `json:"query"`
}

// ScriptEnvelope wraps a JobPayload with the shared secret for the script
// runtime. The secret lives only in this outer layer so the inner payload can
// be logged safely.
type ScriptEnvelope struct {
	Secret  string     `json:"secret"`
	Payload JobPayload `json:"payload"`
}

// SavedFile describes one attachment persisted to Drive.
type SavedFile struct {
	OriginalName string `json:"originalName"`
	SavedName    string `json:"savedName"`
	Size         int64  `json:"size"`
	MIMEType     string `json:"mimeType"`
	FileID       string `json:"fileId,omitempty"`
	FileURL      string `json:"fileUrl,omitempty"`
}

// FlowExecutionResult is the terminal outcome of one flow execution. It is
// held in memory only; a summary may be written to the execution history log
// on a best-effort basis.
type FlowExecutionResult struct {
	Success              bool        `json:"success"`
	EmailsFound          int         `json:"emailsFound"`
	ProcessedEmails      int         `json:"processedEmails"`
	SavedAttachments     int         `json:"savedAttachments"`
	ProcessedAttachments []SavedFile `json:"processedAttachments,omitempty"`
	Message              string      `json:"message,omitempty"`
	Error                string      `json:"error,omitempty"`
	ErrorKind            string      `json:"errorKind,omitempty"`
	Errors               []string    `json:"errors,omitempty"`
	ProcessingTime       float64     `json:"processing_time,omitempty"`
	Version              string      `json:"version,omitempty"`
}

// Progress statuses emitted by the script runtime.
const (
	ProgressStarted    = "started"
	ProgressProcessing = "processing"
	ProgressCompleted  = "completed"
	ProgressError      = "error"
)

// ProgressData carries the incremental counters of a processing event.
type ProgressData struct {
	Current    int    `json:"current,omitempty"`
	Total      int    `json:"total,omitempty"`
	Percentage int    `json:"percentage,omitempty"`
	FileName   string `json:"fileName,omitempty"`
	FileSize   int64  `json:"fileSize,omitempty"`
}

// ProgressEvent is one advisory status update for a running job, correlated
// by RequestID. Delivery is best-effort: consumers must tolerate duplicates
// and out-of-order arrival, and must treat the terminal HTTP response, not
// the last event, as authoritative.
type ProgressEvent struct {
	Type      string        `json:"type"`
	Status    string        `json:"status"`
	Message   string        `json:"message"`
	Timestamp time.Time     `json:"timestamp"`
	RequestID string        `json:"requestId"`
	Data      *ProgressData `json:"data,omitempty"`
}

// Terminal reports whether the event ends the progress stream.
func (e *ProgressEvent) Terminal() bool {
	return e.Status == ProgressCompleted || e.Status == ProgressError
}

// FlowRun is a durable summary of one terminal execution result, written
// best-effort to the execution history table.
type FlowRun struct {
	RequestID        string    `json:"request_id"`
	FlowID           string    `json:"flow_id"`
	UserID           string    `json:"user_id"`
	Success          bool      `json:"success"`
	EmailsFound      int       `json:"emails_found"`
	ProcessedEmails  int       `json:"processed_emails"`
	SavedAttachments int       `json:"saved_attachments"`
	Error            string    `json:"error,omitempty"`
	FinishedAt       time.Time `json:"finished_at"`
}
