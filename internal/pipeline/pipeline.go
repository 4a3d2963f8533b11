// Package pipeline runs one full analysis cycle: fetch, ingest, detect,
// rank, render, deliver. Each run is persisted so its outcome and report
// survive the process.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/replywatch/internal/bus"
	"github.com/matheus3301/replywatch/internal/detect"
	"github.com/matheus3301/replywatch/internal/ranking"
	"github.com/matheus3301/replywatch/internal/report"
	"github.com/matheus3301/replywatch/internal/store"
	"go.uber.org/zap"
)

// MessageSource fetches gateway traffic newer than since.
type MessageSource interface {
	FetchMessages(ctx context.Context, since time.Time) ([]store.Message, error)
}

// TextSender delivers a rendered report to a chat.
type TextSender interface {
	SendText(ctx context.Context, chatID, body string) (string, error)
}

// Ranker orders unanswered conversations by urgency.
type Ranker interface {
	Rank(ctx context.Context, convs []detect.Conversation) ([]ranking.RankedItem, error)
}

// Config is the per-run analysis configuration. It is read through a
// function so config updates apply to the next run without a restart.
type Config struct {
	Lookback      time.Duration
	IncludeGroups bool
	ReportChatID  string
}

// Pipeline wires the collaborators for one analysis cycle.
type Pipeline struct {
	db     *store.DB
	source MessageSource
	ranker Ranker
	sender TextSender
	bus    *bus.Bus
	cfg    func() Config
	logger *zap.Logger
	now    func() time.Time
}

// New creates a pipeline.
func New(db *store.DB, source MessageSource, ranker Ranker, sender TextSender, b *bus.Bus, cfg func() Config, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		db:     db,
		source: source,
		ranker: ranker,
		sender: sender,
		bus:    b,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Execute runs one analysis cycle and returns the finalized run record.
// A degraded stage (fetch, ranking, delivery) downgrades the run to partial
// but the cycle continues on whatever data it has; only the store failing
// aborts the run. The returned error is non-nil only for aborts.
func (p *Pipeline) Execute(ctx context.Context, trigger string) (*store.Run, error) {
	cfg := p.cfg()
	now := p.now()
	window := detect.WindowEnding(now, cfg.Lookback)

	run := &store.Run{
		RunID:       uuid.NewString(),
		Trigger:     trigger,
		Status:      store.RunStatusRunning,
		StartedAt:   now.UnixMilli(),
		WindowStart: window.Start,
		WindowEnd:   window.End,
	}
	if err := p.db.CreateRun(run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	p.publish(bus.KindRunStarted, run.RunID)
	log := p.logger.With(zap.String("run_id", run.RunID), zap.String("trigger", trigger))
	log.Info("analysis run started",
		zap.Int64("window_start", window.Start),
		zap.Int64("window_end", window.End))

	partial := false
	degrade := func(stage string, err error) {
		partial = true
		if run.ErrorDetail != "" {
			run.ErrorDetail += "; "
		}
		run.ErrorDetail += stage + ": " + err.Error()
		log.Warn("stage degraded", zap.String("stage", stage), zap.Error(err))
	}

	// Fetch; on failure the run continues over previously ingested messages.
	fetched, err := p.source.FetchMessages(ctx, now.Add(-cfg.Lookback))
	if err != nil {
		degrade("fetch", err)
	} else if len(fetched) > 0 {
		inserted, err := p.db.InsertMessages(fetched)
		if err != nil {
			return p.abort(run, fmt.Errorf("ingest messages: %w", err))
		}
		p.publish(bus.KindMessagesIngest, inserted)
		log.Info("messages ingested", zap.Int("fetched", len(fetched)), zap.Int("new", inserted))
	}

	msgs, err := p.db.MessagesSince(window.Start)
	if err != nil {
		return p.abort(run, fmt.Errorf("load messages: %w", err))
	}
	run.MessageCount = len(msgs)

	convs := detect.Unanswered(msgs, window, cfg.IncludeGroups)
	run.UnansweredCount = len(convs)
	log.Info("detection complete",
		zap.Int("messages", len(msgs)),
		zap.Int("unanswered", len(convs)))

	items, err := p.ranker.Rank(ctx, convs)
	if err != nil {
		degrade("rank", err)
		items = ranking.Fallback(convs)
	}
	for _, it := range items {
		if it.Ranked {
			run.RankedCount++
		}
	}

	run.Report = report.Format(items, window, now)

	if cfg.ReportChatID == "" {
		log.Info("no report chat configured, keeping report on the run record")
	} else if _, err := p.sender.SendText(ctx, cfg.ReportChatID, run.Report); err != nil {
		degrade("deliver", err)
	}

	run.Status = store.RunStatusSuccess
	if partial {
		run.Status = store.RunStatusPartial
	}
	return p.finalize(run, log)
}

// ResendLatestReport redelivers the report stored on the most recent run.
func (p *Pipeline) ResendLatestReport(ctx context.Context) (*store.Run, error) {
	cfg := p.cfg()
	if cfg.ReportChatID == "" {
		return nil, fmt.Errorf("no report chat configured")
	}
	run, err := p.db.LatestRun()
	if err != nil {
		return nil, fmt.Errorf("load latest run: %w", err)
	}
	if run == nil || run.Report == "" {
		return nil, fmt.Errorf("no report available to resend")
	}
	if _, err := p.sender.SendText(ctx, cfg.ReportChatID, run.Report); err != nil {
		return nil, fmt.Errorf("resend report: %w", err)
	}
	p.logger.Info("report resent", zap.String("run_id", run.RunID))
	return run, nil
}

func (p *Pipeline) abort(run *store.Run, err error) (*store.Run, error) {
	run.Status = store.RunStatusFailed
	run.ErrorDetail = err.Error()
	run.FinishedAt = p.now().UnixMilli()
	if ferr := p.db.FinalizeRun(run); ferr != nil {
		p.logger.Error("failed to finalize aborted run",
			zap.String("run_id", run.RunID), zap.Error(ferr))
	}
	p.publish(bus.KindRunFinished, run.RunID)
	return run, err
}

func (p *Pipeline) finalize(run *store.Run, log *zap.Logger) (*store.Run, error) {
	run.FinishedAt = p.now().UnixMilli()
	if err := p.db.FinalizeRun(run); err != nil {
		return nil, fmt.Errorf("finalize run: %w", err)
	}
	p.publish(bus.KindRunFinished, run.RunID)
	log.Info("analysis run finished",
		zap.String("status", run.Status),
		zap.Int("unanswered", run.UnansweredCount),
		zap.Int("ranked", run.RankedCount))
	return run, nil
}

func (p *Pipeline) publish(kind string, payload any) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(bus.Event{Kind: kind, Timestamp: p.now(), Payload: payload})
}
