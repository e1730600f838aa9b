package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/attachflow/relay/internal/adapter"
	"github.com/attachflow/relay/internal/model"
)

// NoEmailsMessage is the terminal message for a run that matched nothing;
// an empty match is a successful outcome, not an error.
const NoEmailsMessage = "No emails found matching the search criteria"

// Response is the script runtime's terminal wire response.
type Response struct {
	Status         string        `json:"status"`
	Message        string        `json:"message,omitempty"`
	Data           *ResponseData `json:"data,omitempty"`
	Features       []string      `json:"features,omitempty"`
	Version        string        `json:"version"`
	ProcessingTime float64       `json:"processing_time"`
}

// ResponseData carries the counts and descriptors of a successful (possibly
// partial) run.
type ResponseData struct {
	EmailsFound          int               `json:"emailsFound"`
	ProcessedEmails      int               `json:"processedEmails"`
	SavedAttachments     int               `json:"savedAttachments"`
	ProcessedAttachments []model.SavedFile `json:"processedAttachments,omitempty"`
	Errors               []string          `json:"errors,omitempty"`
}

// Runner executes attachment-processing jobs against injected mail and
// storage seams. The mail-read and storage-write dependencies each get their
// own breaker, so one failing upstream degrades only its half of the job.
type Runner struct {
	cfg            Config
	mail           adapter.MailSource
	sink           adapter.StorageSink
	notifier       Notifier
	limiter        *RateLimiter
	mailBreaker    *Breaker
	storageBreaker *Breaker
	sleep          func(ctx context.Context, d time.Duration) error
	now            func() time.Time
}

// New creates a Runner. notifier may be nil, disabling progress delivery.
func New(cfg Config, mail adapter.MailSource, sink adapter.StorageSink, notifier Notifier) *Runner {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Runner{
		cfg:            cfg,
		mail:           mail,
		sink:           sink,
		notifier:       notifier,
		limiter:        NewRateLimiter(cfg.RatePerMinute, cfg.RateMaxWaits),
		mailBreaker:    NewBreaker("mail-read", cfg.BreakerThreshold, cfg.BreakerCooldown),
		storageBreaker: NewBreaker("storage-write", cfg.BreakerThreshold, cfg.BreakerCooldown),
		sleep:          sleepCtx,
		now:            time.Now,
	}
}

// MailBreaker exposes the mail-read breaker, for tests and health reporting.
func (r *Runner) MailBreaker() *Breaker { return r.mailBreaker }

// StorageBreaker exposes the storage-write breaker.
func (r *Runner) StorageBreaker() *Breaker { return r.storageBreaker }

// Run executes one job. It always returns a terminal Response; per-item
// failures are collected into Data.Errors alongside partial success counts
// rather than aborting the run.
func (r *Runner) Run(ctx context.Context, p model.JobPayload) Response {
	start := r.now()
	requestID := p.DebugInfo.RequestID
	log.Printf("runner start request_id=%s flow=%s query=%q", requestID, p.DebugInfo.FlowID, p.Query)

	r.notify(ctx, requestID, model.ProgressStarted, "Searching mailbox", nil)

	emails, err := r.searchMail(ctx, p)
	if err != nil {
		if errors.Is(err, ErrBreakerOpen) {
			// Mail read is known bad: degrade to zero processed instead of
			// propagating.
			return r.finish(ctx, start, requestID, &ResponseData{
				Errors: []string{"mail service unavailable, no emails processed"},
			}, "")
		}
		r.notify(ctx, requestID, model.ProgressError, err.Error(), nil)
		return Response{
			Status:         "error",
			Message:        fmt.Sprintf("mail search failed: %v", err),
			Version:        Version,
			ProcessingTime: r.since(start),
		}
	}

	if len(emails) == 0 {
		return r.finish(ctx, start, requestID, &ResponseData{}, NoEmailsMessage)
	}

	data := &ResponseData{EmailsFound: len(emails)}

	folderID, err := r.ensureFolder(ctx, p.UserConfig.DriveFolder)
	if err != nil {
		if errors.Is(err, ErrBreakerOpen) {
			// Storage is known bad: report the emails as seen and processed,
			// with zero saved attachments, rather than failing the run.
			data.ProcessedEmails = len(emails)
			data.Errors = append(data.Errors, "storage service unavailable, attachments not saved")
			return r.finish(ctx, start, requestID, data, "")
		}
		r.notify(ctx, requestID, model.ProgressError, err.Error(), nil)
		return Response{
			Status:         "error",
			Message:        fmt.Sprintf("failed to prepare destination folder: %v", err),
			Version:        Version,
			ProcessingTime: r.since(start),
		}
	}

	r.processBatches(ctx, p, emails, folderID, data)
	return r.finish(ctx, start, requestID, data, "")
}

// HealthCheck reports runtime liveness, version, and features.
func (r *Runner) HealthCheck() Response {
	return Response{
		Status:   "success",
		Message:  "runtime is healthy",
		Features: Features,
		Version:  Version,
	}
}

func (r *Runner) searchMail(ctx context.Context, p model.JobPayload) ([]adapter.EmailMeta, error) {
	var emails []adapter.EmailMeta
	err := r.mailBreaker.Do(func() error {
		return withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBase, r.cfg.RetryMax, r.sleep, func() error {
			if err := r.limiter.Wait(ctx); err != nil {
				return err
			}
			found, err := r.mail.Search(ctx, p.Query, p.UserConfig.MaxEmails)
			if err != nil {
				return err
			}
			emails = found
			return nil
		})
	})
	return emails, err
}

func (r *Runner) ensureFolder(ctx context.Context, path string) (string, error) {
	var folderID string
	err := r.storageBreaker.Do(func() error {
		return withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBase, r.cfg.RetryMax, r.sleep, func() error {
			id, err := r.sink.EnsureFolderPath(ctx, path)
			if err != nil {
				return err
			}
			folderID = id
			return nil
		})
	})
	return folderID, err
}

// processBatches walks the matched emails in fixed-size batches with an
// inter-batch pause, collecting per-item errors so a failing item never
// blocks the rest of the run.
func (r *Runner) processBatches(ctx context.Context, p model.JobPayload, emails []adapter.EmailMeta, folderID string, data *ResponseData) {
	batchSize := r.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = len(emails)
	}

	for i := 0; i < len(emails); i += batchSize {
		if ctx.Err() != nil {
			data.Errors = append(data.Errors, "run aborted: "+ctx.Err().Error())
			return
		}

		end := i + batchSize
		if end > len(emails) {
			end = len(emails)
		}
		for _, email := range emails[i:end] {
			r.processEmail(ctx, p, email, folderID, data)
		}

		pct := data.ProcessedEmails * 100 / len(emails)
		r.notify(ctx, p.DebugInfo.RequestID, model.ProgressProcessing,
			fmt.Sprintf("Processed %d of %d emails", data.ProcessedEmails, len(emails)),
			&model.ProgressData{
				Current:    data.ProcessedEmails,
				Total:      len(emails),
				Percentage: pct,
			})

		if end < len(emails) && r.cfg.BatchPause > 0 {
			if err := r.sleep(ctx, r.cfg.BatchPause); err != nil {
				data.Errors = append(data.Errors, "run aborted: "+err.Error())
				return
			}
		}
	}
}

func (r *Runner) processEmail(ctx context.Context, p model.JobPayload, email adapter.EmailMeta, folderID string, data *ResponseData) {
	var atts []adapter.Attachment
	err := r.mailBreaker.Do(func() error {
		return withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBase, r.cfg.RetryMax, r.sleep, func() error {
			if err := r.limiter.Wait(ctx); err != nil {
				return err
			}
			found, err := r.mail.Attachments(ctx, email.ID)
			if err != nil {
				return err
			}
			atts = found
			return nil
		})
	})
	if err != nil {
		data.Errors = append(data.Errors, fmt.Sprintf("email %s: %v", email.ID, err))
		return
	}

	data.ProcessedEmails++

	for _, att := range atts {
		if !matchesFileTypes(att, p.UserConfig.FileTypes) {
			continue
		}

		var saved *model.SavedFile
		err := r.storageBreaker.Do(func() error {
			return withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBase, r.cfg.RetryMax, r.sleep, func() error {
				f, err := r.sink.SaveAttachment(ctx, folderID, att)
				if err != nil {
					return err
				}
				saved = f
				return nil
			})
		})
		if err != nil {
			if errors.Is(err, ErrBreakerOpen) {
				data.Errors = append(data.Errors, fmt.Sprintf("attachment %q: storage service unavailable", att.Name))
			} else {
				data.Errors = append(data.Errors, fmt.Sprintf("attachment %q: %v", att.Name, err))
			}
			continue
		}

		data.SavedAttachments++
		data.ProcessedAttachments = append(data.ProcessedAttachments, *saved)
	}
}

func (r *Runner) finish(ctx context.Context, start time.Time, requestID string, data *ResponseData, message string) Response {
	if message == "" {
		message = fmt.Sprintf("Processed %d emails, saved %d attachments", data.ProcessedEmails, data.SavedAttachments)
	}

	var progress *model.ProgressData
	if len(data.ProcessedAttachments) > 0 {
		last := data.ProcessedAttachments[len(data.ProcessedAttachments)-1]
		progress = &model.ProgressData{
			Current:    data.ProcessedEmails,
			Total:      data.EmailsFound,
			Percentage: 100,
			FileName:   last.SavedName,
			FileSize:   last.Size,
		}
	}
	r.notify(ctx, requestID, model.ProgressCompleted, message, progress)

	log.Printf("runner done request_id=%s emails=%d processed=%d saved=%d errors=%d",
		requestID, data.EmailsFound, data.ProcessedEmails, data.SavedAttachments, len(data.Errors))

	return Response{
		Status:         "success",
		Message:        message,
		Data:           data,
		Version:        Version,
		ProcessingTime: r.since(start),
	}
}

func (r *Runner) notify(ctx context.Context, requestID, status, message string, data *model.ProgressData) {
	if requestID == "" {
		return
	}
	r.notifier.Notify(ctx, model.ProgressEvent{
		Type:      "status_update",
		Status:    status,
		Message:   message,
		Timestamp: r.now(),
		RequestID: requestID,
		Data:      data,
	})
}

func (r *Runner) since(start time.Time) float64 {
	return r.now().Sub(start).Seconds()
}

// matchesFileTypes maps the flow's category tags onto attachment MIME types
// and extensions. An empty tag set matches every attachment.
func matchesFileTypes(att adapter.Attachment, types []string) bool {
	if len(types) == 0 {
		return true
	}
	name := strings.ToLower(att.Name)
	mime := strings.ToLower(att.MIMEType)
	for _, t := range types {
		switch strings.ToLower(t) {
		case "pdf":
			if mime == "application/pdf" || strings.HasSuffix(name, ".pdf") {
				return true
			}
		case "images":
			if strings.HasPrefix(mime, "image/") {
				return true
			}
		case "documents":
			if strings.Contains(mime, "msword") ||
				strings.Contains(mime, "officedocument") ||
				strings.Contains(mime, "google-apps.document") ||
				strings.HasPrefix(mime, "text/") ||
				strings.HasSuffix(name, ".doc") || strings.HasSuffix(name, ".docx") {
				return true
			}
		}
	}
	return false
}
