// Package payload builds the canonical job-submission payload from a flow
// definition.
package payload

import (
	"fmt"
	"strings"
	"time"

	"github.com/attachflow/relay/internal/flowerr"
	"github.com/attachflow/relay/internal/model"
)

const (
	// DefaultMaxEmails caps how many matching emails one run may process
	// when the flow does not specify its own limit.
	DefaultMaxEmails = 10
	// DefaultRecencyDays bounds the search window so an unconstrained filter
	// cannot pull in an unbounded mailbox history.
	DefaultRecencyDays = 30

	ActionProcessFlow = "process_gmail_flow"
	ActionHealthCheck = "health_check"
)

// Builder constructs job payloads. The zero value is not usable; create one
// with NewBuilder so defaults are populated.
type Builder struct {
	maxEmails     int
	recencyDays   int
	requestSource string
	now           func() time.Time
}

// Option configures a Builder.
type Option func(*Builder)

// WithMaxEmails overrides the default per-run email cap. The cap is never
// removed, only moved.
func WithMaxEmails(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.maxEmails = n
		}
	}
}

// WithRecencyDays overrides the default search window.
func WithRecencyDays(days int) Option {
	return func(b *Builder) {
		if days > 0 {
			b.recencyDays = days
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// NewBuilder creates a Builder with production defaults.
func NewBuilder(requestSource string, opts ...Option) *Builder {
	b := &Builder{
		maxEmails:     DefaultMaxEmails,
		recencyDays:   DefaultRecencyDays,
		requestSource: requestSource,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build produces the job payload for one submission attempt. The generated
// request id is unique per attempt and is the correlation key for every
// progress event and the terminal result.
func (b *Builder) Build(flow *model.FlowConfig, userEmail string, webhookURL string) (*model.JobPayload, error) {
	if flow == nil {
		return nil, flowerr.New(flowerr.KindValidation, "flow config is required")
	}
	if strings.TrimSpace(flow.ID) == "" {
		return nil, flowerr.New(flowerr.KindValidation, "flow id is required")
	}
	if strings.TrimSpace(flow.UserID) == "" {
		return nil, flowerr.New(flowerr.KindValidation, "user id is required")
	}
	if strings.TrimSpace(flow.FlowName) == "" {
		return nil, flowerr.New(flowerr.KindValidation, "flow name is required")
	}
	if strings.TrimSpace(flow.DriveFolder) == "" {
		return nil, flowerr.New(flowerr.KindValidation, "drive folder is required")
	}

	maxEmails := flow.MaxEmails
	if maxEmails <= 0 {
		maxEmails = b.maxEmails
	}

	requestID := fmt.Sprintf("flow-%s-%d", flow.ID, b.now().UnixMilli())

	return &model.JobPayload{
		Action:     ActionProcessFlow,
		UserID:     flow.UserID,
		UserEmail:  userEmail,
		WebhookURL: webhookURL,
		Query:      b.buildQuery(flow, userEmail),
		UserConfig: model.UserConfig{
			Senders:     flow.Senders,
			DriveFolder: flow.DriveFolder,
			FileTypes:   flow.FileTypes,
			FlowName:    flow.FlowName,
			MaxEmails:   maxEmails,
		},
		DebugInfo: model.DebugInfo{
			RequestID:     requestID,
			AuthMethod:    "bearer",
			RequestSource: b.requestSource,
			FlowID:        flow.ID,
		},
	}, nil
}

// WrapWithSecret embeds the payload under the shared-secret envelope required
// by the script runtime. The secret must never appear in logs; callers log
// the inner payload only.
func (b *Builder) WrapWithSecret(p *model.JobPayload, secret string) *model.ScriptEnvelope {
	return &model.ScriptEnvelope{Secret: secret, Payload: *p}
}

// buildQuery resolves the search predicate. Senders takes precedence over the
// legacy EmailFilter; with neither, the search falls back to mail from the
// authenticated user. An attachment predicate and a recency bound are always
// ANDed in.
func (b *Builder) buildQuery(flow *model.FlowConfig, userEmail string) string {
	var base string
	switch {
	case strings.TrimSpace(flow.Senders) != "":
		var froms []string
		for _, s := range strings.Split(flow.Senders, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				froms = append(froms, "from:"+s)
			}
		}
		base = "(" + strings.Join(froms, " OR ") + ")"
	case strings.TrimSpace(flow.EmailFilter) != "":
		base = "(" + strings.TrimSpace(flow.EmailFilter) + ")"
	case userEmail != "":
		base = "from:" + userEmail
	default:
		base = "from:me"
	}

	return fmt.Sprintf("%s has:attachment newer_than:%dd", base, b.recencyDays)
}
