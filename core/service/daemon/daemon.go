// Package daemon implements the scheduler (C12): a single cooperative
// cycle loop with a crash-safe cursor, graceful two-signal shutdown, and
// startup crash recovery (§4.12).
package daemon

import (
	"context"
	"os"
	"time"

	"collabiq/core/domain"
	"collabiq/core/port/in"
	"collabiq/core/port/out"
	"collabiq/core/service/mapping"
	"collabiq/core/service/writer"
	"collabiq/internal/apperr"
	"collabiq/internal/atomicfile"
	"collabiq/internal/dlqstore"
	"collabiq/internal/logger"
)

// companyMatcher and personMatcher narrow resolution's concrete types so
// this package can be tested against fakes.
type companyMatcher interface {
	Match(ctx context.Context, name string, autoCreate bool, threshold float64) (domain.CompanyMatch, error)
}

type personMatcher interface {
	Match(ctx context.Context, name string, threshold float64) (domain.PersonMatch, error)
}

type classifier interface {
	Classify(ctx context.Context, companyMatch, partnerMatch domain.CompanyMatch, companies map[string]domain.Company, req out.IntensityRequest) (domain.Classification, error)
	Summarize(ctx context.Context, req out.SummaryRequest, maxAttempts int) (domain.Summary, error)
}

type entryWriter interface {
	CreateEntry(ctx context.Context, in mapping.Input) (writer.WriteResult, error)
}

// dlqWriter narrows dlqstore.Store so parkExtractionFailure can park a
// pipeline failure directly, without routing it through the writer's
// workspace-write DLQ path.
type dlqWriter interface {
	Write(ctx context.Context, entry domain.DLQEntry) error
}

type companiesReader interface {
	Companies(ctx context.Context) (map[string]domain.Company, error)
}

// extractor is the subset of orchestrator.Orchestrator the daemon drives.
type extractor interface {
	Extract(ctx context.Context, req out.ExtractRequest, strategy domain.Strategy) (domain.ExtractedEntities, error)
}

const summaryMaxAttempts = 2

// Daemon wires every core service into the per-cycle pipeline described
// in §4.12's dataflow, with the single-process cooperative loop of §5.
type Daemon struct {
	mail       out.MailAdapter
	extractor  extractor
	strategy   domain.Strategy
	companies  companyMatcher
	people     personMatcher
	classifier classifier
	writer     entryWriter
	dlq        dlqWriter
	companiesReader companiesReader

	statePath     string
	cycleInterval time.Duration

	log *logger.Logger
}

// Config bundles everything the daemon needs beyond its dependencies.
type Config struct {
	Strategy      domain.Strategy
	CycleInterval time.Duration
	StatePath     string
}

func New(
	mail out.MailAdapter,
	orch extractor,
	companies companyMatcher,
	people personMatcher,
	cls classifier,
	w entryWriter,
	dlq dlqWriter,
	companiesReader companiesReader,
	cfg Config,
) *Daemon {
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = 60 * time.Second
	}
	if cfg.StatePath == "" {
		cfg.StatePath = "data/state/daemon.json"
	}
	if cfg.Strategy == "" {
		cfg.Strategy = domain.StrategyFailover
	}
	return &Daemon{
		mail:            mail,
		extractor:       orch,
		strategy:        cfg.Strategy,
		companies:       companies,
		people:          people,
		classifier:      cls,
		writer:          w,
		dlq:             dlq,
		companiesReader: companiesReader,
		statePath:       cfg.StatePath,
		cycleInterval:   cfg.CycleInterval,
		log:             logger.Default().WithComponent("daemon"),
	}
}

// loadState reads the persisted daemon state, tolerating a first-ever run
// with no file yet (§4.12 startup recovery).
func (d *Daemon) loadState() domain.DaemonState {
	var state domain.DaemonState
	if err := atomicfile.ReadJSON(d.statePath, &state); err != nil && !os.IsNotExist(err) {
		d.log.WithError(err).Warn("failed to read daemon state, starting from empty cursor")
	}
	return state
}

func (d *Daemon) persistState(state domain.DaemonState) {
	state.Version++
	if err := atomicfile.WriteJSON(d.statePath, state); err != nil {
		d.log.WithError(err).Error("failed to persist daemon state")
	}
}

// RunCycle implements the dataflow of §4.12/line 36: fetch after cursor,
// then for each message extract -> resolve -> classify -> map -> write,
// strictly in fetched order (I2, §5 "Ordering").
func (d *Daemon) RunCycle(ctx context.Context) (in.CycleResult, error) {
	state := d.loadState()
	state.CurrentStatus = domain.StatusRunning
	state.PID = os.Getpid()
	state.CycleIntervalMS = d.cycleInterval.Milliseconds()

	messages, err := d.mail.Fetch(ctx, state.LastProcessedMessageID)
	if err != nil {
		state.CurrentStatus = domain.StatusError
		state.ErrorCount++
		d.persistState(state)
		return in.CycleResult{}, err
	}

	result := in.CycleResult{MessagesFetched: len(messages)}

	for _, email := range messages {
		select {
		case <-ctx.Done():
			// Shutdown mid-cycle: the in-flight email is not counted as
			// processed and the cursor is not advanced past it (§4.12
			// "Shutdown").
			d.persistState(state)
			return result, ctx.Err()
		default:
		}

		outcome, terminal := d.processOne(ctx, email)
		if !terminal {
			// A CRITICAL error (nothing parked) or a failed DLQ write:
			// the cursor stops here so the message is retried next cycle
			// (§7).
			state.ErrorCount++
			d.persistState(state)
			return result, outcome.err
		}

		switch outcome.status {
		case writer.StatusCreated, writer.StatusUpdated:
			result.MessagesWritten++
		case writer.StatusSkipped:
			result.MessagesSkipped++
		case writer.StatusDLQed:
			result.MessagesDLQed++
		}

		state.LastProcessedMessageID = email.MessageID
		state.EmailsProcessed++
		result.LastMessageID = email.MessageID
	}

	state.CyclesCompleted++
	state.LastCycleAt = time.Now()
	state.CurrentStatus = domain.StatusStopped
	d.persistState(state)

	return result, nil
}

type stepOutcome struct {
	status writer.WriteStatus
	err    error
}

// processOne runs steps (a)-(e) of §4.12's dataflow for a single email.
// terminal reports whether the cursor may advance past this message:
// true for a successful write, a deliberate skip, or a successful DLQ
// write; false when a CRITICAL error is returned without parking, or when
// a DLQ write (the daemon's own or the writer's) fails.
func (d *Daemon) processOne(ctx context.Context, email domain.Email) (stepOutcome, bool) {
	entities, err := d.extractor.Extract(ctx, out.ExtractRequest{
		MessageID:  email.MessageID,
		BodyText:   email.BodyText,
		ReceivedAt: email.ReceivedAt,
	}, d.strategy)
	if err != nil {
		if apperr.CategoryOf(err) == apperr.Critical {
			d.log.WithEmailID(email.MessageID).WithError(err).Error("extraction raised a critical error")
			return stepOutcome{err: err}, false
		}
		// Transient (retries exhausted) or Permanent extraction failures
		// have no payload to map; DLQ them directly as a failed extract.
		return d.parkExtractionFailure(ctx, email, err)
	}

	companyName := derefOrEmpty(entities.CompanyName)
	partnerName := derefOrEmpty(entities.PartnerOrg)
	personName := derefOrEmpty(entities.PersonInCharge)

	companyMatch, err := d.companies.Match(ctx, companyName, true, 0)
	if err != nil {
		return d.parkExtractionFailure(ctx, email, err)
	}
	partnerMatch, err := d.companies.Match(ctx, partnerName, true, 0)
	if err != nil {
		return d.parkExtractionFailure(ctx, email, err)
	}
	personMatch, err := d.people.Match(ctx, personName, 0)
	if err != nil {
		return d.parkExtractionFailure(ctx, email, err)
	}

	companies, err := d.companiesReader.Companies(ctx)
	if err != nil {
		companies = nil // degrade to CollabTypeD rather than abort (§4.11)
	}

	classification, err := d.classifier.Classify(ctx, companyMatch, partnerMatch, companies, out.IntensityRequest{
		MessageID: email.MessageID,
		BodyText:  email.BodyText,
	})
	if err != nil {
		if apperr.CategoryOf(err) == apperr.Critical {
			return stepOutcome{err: err}, false
		}
		return d.parkExtractionFailure(ctx, email, err)
	}

	summary, err := d.classifier.Summarize(ctx, out.SummaryRequest{
		MessageID: email.MessageID,
		BodyText:  email.BodyText,
		Entities:  entities,
	}, summaryMaxAttempts)
	if err != nil {
		if apperr.CategoryOf(err) == apperr.Critical {
			return stepOutcome{err: err}, false
		}
		return d.parkExtractionFailure(ctx, email, err)
	}

	result, err := d.writer.CreateEntry(ctx, mapping.Input{
		Entities:       entities,
		Classification: classification,
		Summary:        summary,
		CompanyMatch:   companyMatch,
		PartnerMatch:   partnerMatch,
		PersonMatch:    personMatch,
	})
	if err != nil {
		// The writer already attempted a DLQ write and that, too, failed:
		// this is the one path where the message cannot be parked.
		return stepOutcome{err: err}, false
	}

	d.log.WithEmailID(email.MessageID).WithContext(map[string]any{"status": string(result.Status)}).Info("cycle item processed")
	return stepOutcome{status: result.Status}, true
}

// parkExtractionFailure DLQs an email that failed before a mapped payload
// ever existed to write (extraction, resolution, or classification). This
// never goes through the writer: there is no workspace write to attempt,
// so it is recorded as an llm_extract DLQ entry directly (§4.12, §7).
func (d *Daemon) parkExtractionFailure(ctx context.Context, email domain.Email, cause error) (stepOutcome, bool) {
	d.log.WithEmailID(email.MessageID).WithError(cause).Warn("pipeline step failed before write, parking to DLQ")
	now := time.Now()
	entry := domain.DLQEntry{
		DLQID:         dlqstore.NewDLQID(now, email.MessageID),
		MessageID:     email.MessageID,
		OperationType: domain.OpLLMExtract,
		Status:        domain.DLQPending,
		OriginalPayload: map[string]any{
			"message_id":  email.MessageID,
			"body_text":   email.BodyText,
			"received_at": email.ReceivedAt,
		},
		ErrorDetails: domain.ErrorDetails{
			Type:    string(apperr.CategoryOf(cause)),
			Message: cause.Error(),
		},
		CreatedAt:     now,
		LastAttemptAt: now,
	}
	if err := d.dlq.Write(ctx, entry); err != nil {
		return stepOutcome{err: err}, false
	}
	return stepOutcome{status: writer.StatusDLQed}, true
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// RunDaemon loops RunCycle at cycleInterval until ctx is cancelled,
// tolerating a non-critical cycle error by logging and continuing (§4.12
// "Shutdown": two signals both trigger graceful exit, handled by the
// caller cancelling ctx).
func (d *Daemon) RunDaemon(ctx context.Context) error {
	ticker := time.NewTicker(d.cycleInterval)
	defer ticker.Stop()

	for {
		result, err := d.RunCycle(ctx)
		if err != nil && ctx.Err() == nil {
			d.log.WithError(err).Error("cycle failed")
		}
		d.log.WithContext(map[string]any{
			"fetched": result.MessagesFetched,
			"written": result.MessagesWritten,
			"skipped": result.MessagesSkipped,
			"dlqed":   result.MessagesDLQed,
		}).Info("cycle summary")

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
