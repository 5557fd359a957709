// Package rollout drives a fleet refresh to completion and escalates a stalled
// refresh by rolling back the live artifact it is converging on.
package rollout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/artpar/releasectl/internal/core/release"
	corerollout "github.com/artpar/releasectl/internal/core/rollout"
	"github.com/artpar/releasectl/internal/shell/fleet"
	"github.com/artpar/releasectl/internal/shell/history"
	"github.com/artpar/releasectl/internal/shell/promotion"
)

const (
	DefaultTimeout      = 30 * time.Minute
	DefaultPollInterval = 10 * time.Second
)

// =============================================================================
// Collaborators
// =============================================================================

// Driver starts and observes fleet refreshes. *fleet.AutoScaling implements it.
type Driver interface {
	StartRefresh(ctx context.Context, group string, opts fleet.RefreshOptions) (string, error)
	LatestStatus(ctx context.Context, group string) (fleet.Observation, error)
}

// Rollbacker performs the escalation rollback. *promotion.Engine implements it.
type Rollbacker interface {
	Rollback(ctx context.Context, req promotion.RollbackRequest) (*release.RollbackResult, error)
}

// Clock abstracts time for the polling loop.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// ProgressFunc receives one Progress per poll.
type ProgressFunc func(corerollout.Progress)

// =============================================================================
// Coordinator
// =============================================================================

// Config configures a Coordinator.
type Config struct {
	Recorder   history.Recorder
	Clock      Clock
	OnProgress ProgressFunc
	Logger     *slog.Logger
}

// Coordinator runs rollout sessions one at a time.
type Coordinator struct {
	driver     Driver
	recorder   history.Recorder
	clock      Clock
	onProgress ProgressFunc
	logger     *slog.Logger
}

// NewCoordinator creates a Coordinator over driver.
func NewCoordinator(driver Driver, cfg Config) *Coordinator {
	if cfg.Recorder == nil {
		cfg.Recorder = history.NoopRecorder{}
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Coordinator{
		driver:     driver,
		recorder:   cfg.Recorder,
		clock:      cfg.Clock,
		onProgress: cfg.OnProgress,
		logger:     cfg.Logger.With("component", "rollout"),
	}
}

// Escalation names the artifact set whose live alias is rolled back when
// the refresh stalls.
type Escalation struct {
	Engine  Rollbacker
	Request promotion.RollbackRequest
}

// Request describes one rollout.
type Request struct {
	Fleet   string
	Refresh fleet.RefreshOptions

	// Wait polls the refresh to completion. Without it Rollout returns as
	// soon as the refresh has started.
	Wait bool

	// Timeout bounds each window. Defaults to DefaultTimeout.
	Timeout time.Duration

	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration

	// Escalation is optional. Without it a stall still opens the second
	// window, but no artifact is rolled back.
	Escalation *Escalation
}

// Result reports a finished rollout. Summary is nil when the rollout did not wait.
type Result struct {
	SessionID string                  `json:"session_id" yaml:"session_id"`
	Fleet     string                  `json:"fleet" yaml:"fleet"`
	RefreshID string                  `json:"refresh_id" yaml:"refresh_id"`
	Summary   *corerollout.Summary    `json:"summary,omitempty" yaml:"summary,omitempty"`
	Rollback  *release.RollbackResult `json:"rollback,omitempty" yaml:"rollback,omitempty"`
}

// Rollout starts a refresh of req.Fleet and, when req.Wait is set, polls it
// until it ends. The returned Result is non-nil whenever the refresh started.
//
// The first stalled window triggers the escalation rollback and opens a
// second window while the in-flight refresh keeps running. A second stall
// fails with ErrDoubleTimeout.
func (c *Coordinator) Rollout(ctx context.Context, req Request) (*Result, error) {
	if req.Fleet == "" {
		return nil, fmt.Errorf("rollout: fleet name is required: %w", release.ErrInvalidSet)
	}
	if req.Timeout <= 0 {
		req.Timeout = DefaultTimeout
	}
	if req.PollInterval <= 0 {
		req.PollInterval = DefaultPollInterval
	}

	sessionID := uuid.New().String()
	logger := c.logger.With("session_id", sessionID, "fleet", req.Fleet)

	refreshID, err := c.driver.StartRefresh(ctx, req.Fleet, req.Refresh)
	if err != nil {
		return nil, fmt.Errorf("rollout %s: %w", req.Fleet, err)
	}
	logger.Info("refresh started", "refresh_id", refreshID, "strategy", req.Refresh.Strategy)

	result := &Result{SessionID: sessionID, Fleet: req.Fleet, RefreshID: refreshID}
	if !req.Wait {
		entry := c.entry(req, history.OpRollout, sessionID, history.OutcomeStarted)
		entry.Message = "refresh " + refreshID + " started"
		c.record(ctx, entry)
		return result, nil
	}

	session := corerollout.NewSession(sessionID, req.Fleet, refreshID, c.clock.Now())
	runErr := c.run(ctx, req, session, result, logger)

	summary := session.Summary(c.clock.Now())
	result.Summary = &summary

	outcome := history.OutcomeSucceeded
	if runErr != nil {
		outcome = history.OutcomeFailed
	}
	entry := c.entry(req, history.OpRollout, sessionID, outcome)
	entry.Message = fmt.Sprintf("refresh %s ended %s (%s)", refreshID, summary.State, summary.LastStatus)
	if runErr != nil {
		entry.Message = runErr.Error()
	}
	c.record(ctx, entry)

	if runErr != nil {
		logger.Error("rollout failed", "state", summary.State, "error", runErr)
		return result, fmt.Errorf("rollout %s: %w", req.Fleet, runErr)
	}
	logger.Info("rollout succeeded", "elapsed", summary.Elapsed)
	return result, nil
}

func (c *Coordinator) run(ctx context.Context, req Request, session *corerollout.Session, result *Result, logger *slog.Logger) error {
	for tick := 0; ; tick++ {
		if err := ctx.Err(); err != nil {
			session.Abort(err)
			return err
		}

		obs, err := c.driver.LatestStatus(ctx, req.Fleet)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				session.Abort(ctxErr)
				return ctxErr
			}
			if errors.Is(err, release.ErrFleetNotFound) {
				session.Abort(err)
				return err
			}
			// A failed query counts as an Unknown observation so the window
			// keeps running.
			logger.Warn("failed to query refresh status", "error", err)
			obs = fleet.Observation{Status: corerollout.StatusUnknown}
		}

		now := c.clock.Now()
		decision := session.Observe(obs.Status, now, req.Timeout)
		c.report(session, obs, now, tick)

		switch decision.Action {
		case corerollout.ActionSucceed:
			return nil
		case corerollout.ActionFail:
			return decision.Err
		case corerollout.ActionEscalate:
			logger.Warn("refresh stalled, escalating", "status", obs.Status, "raw", obs.Raw, "timeout", req.Timeout)
			rb, err := c.escalate(ctx, req, session.ID)
			if err != nil {
				escErr := fmt.Errorf("%w: %w", corerollout.ErrEscalationFailed, err)
				session.Abort(escErr)
				return escErr
			}
			result.Rollback = rb
			session.MarkEscalated(c.clock.Now())
		}

		select {
		case <-ctx.Done():
			session.Abort(ctx.Err())
			return ctx.Err()
		case <-c.clock.After(req.PollInterval):
		}
	}
}

// escalate rolls back the bound artifact set, if there is one.
func (c *Coordinator) escalate(ctx context.Context, req Request, sessionID string) (*release.RollbackResult, error) {
	if req.Escalation == nil || req.Escalation.Engine == nil {
		c.logger.Warn("no artifact set bound to fleet, opening second window without rollback", "fleet", req.Fleet)
		entry := c.entry(req, history.OpEscalation, sessionID, history.OutcomeSucceeded)
		entry.Message = "no artifact set bound"
		c.record(ctx, entry)
		return nil, nil
	}

	rbReq := req.Escalation.Request
	rbReq.SessionID = sessionID
	if rbReq.Binding != nil {
		meta := rbReq.Binding.WithSource(release.SourceRollout, "")
		rbReq.Binding = &meta
	}

	rb, err := req.Escalation.Engine.Rollback(ctx, rbReq)

	outcome := history.OutcomeSucceeded
	if err != nil {
		outcome = history.OutcomeFailed
	}
	entry := c.entry(req, history.OpEscalation, sessionID, outcome)
	if rb != nil {
		entry.From = history.RefLabel(rb.Previous)
		entry.To = history.RefLabel(&rb.To)
	}
	if err != nil {
		entry.Message = err.Error()
	}
	c.record(ctx, entry)

	return rb, err
}

func (c *Coordinator) report(session *corerollout.Session, obs fleet.Observation, now time.Time, tick int) {
	if c.onProgress == nil {
		return
	}
	refreshID := obs.RefreshID
	if refreshID == "" {
		refreshID = session.RefreshID
	}
	c.onProgress(corerollout.Progress{
		SessionID: session.ID,
		Fleet:     session.Fleet,
		RefreshID: refreshID,
		Status:    obs.Status,
		Raw:       obs.Raw,
		Percent:   obs.Percent,
		Reason:    obs.Reason,
		Elapsed:   session.Elapsed(now),
		Total:     session.TotalElapsed(now),
		Escalated: session.RollbackTriggered(),
		Tick:      tick,
	})
}

func (c *Coordinator) entry(req Request, op history.Operation, sessionID, outcome string) history.Entry {
	var (
		set   release.ArtifactSet
		alias string
	)
	if req.Escalation != nil {
		set = req.Escalation.Request.Set
		alias = req.Escalation.Request.Aliases.WithDefaults().Live
	}
	entry := history.NewEntry(op, set, alias, outcome)
	entry.SessionID = sessionID
	if entry.Name == "" {
		entry.Name = req.Fleet
	}
	return entry
}

func (c *Coordinator) record(ctx context.Context, entry history.Entry) {
	if err := c.recorder.Record(context.WithoutCancel(ctx), entry); err != nil {
		c.logger.Warn("failed to record history", "operation", entry.Operation, "error", err)
	}
}
