package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	defaultReconcileSchedule = "@every 10m"
	reconcileTimeout         = 5 * time.Minute
	staleAnalysisMessage     = "analysis did not finish in time"
)

// ReconcileReport counts what one reconciliation pass repaired.
// StaleSweepDeferred is set when queued jobs may still pick up pending
// documents.
type ReconcileReport struct {
	OrphanedMessages   int64 `json:"orphanedMessages"`
	StaleDocuments     int64 `json:"staleDocuments"`
	StaleSweepDeferred bool  `json:"staleSweepDeferred,omitempty"`
}

// Reconcile deletes history rows whose chat is gone and fails documents that
// have been pending analysis for longer than the stale threshold. While the
// analysis queue still holds jobs the stale sweep waits for a later pass.
func (a *App) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	if err := ctx.Err(); err != nil {
		return report, err
	}
	n, err := a.store.DeleteOrphanedMessages()
	if err != nil {
		return report, fmt.Errorf("delete orphaned messages: %w", err)
	}
	report.OrphanedMessages = n

	if err := ctx.Err(); err != nil {
		return report, err
	}
	if br, ok := a.queue.(backlogReporter); ok {
		backlog, err := br.Backlog(ctx)
		if err != nil {
			return report, err
		}
		if backlog > 0 {
			report.StaleSweepDeferred = true
			return report, nil
		}
	}
	n, err = a.store.FailStaleDocuments(a.now().Add(-a.staleAfter), staleAnalysisMessage)
	if err != nil {
		return report, fmt.Errorf("fail stale documents: %w", err)
	}
	report.StaleDocuments = n
	return report, nil
}

// Reconciler runs Reconcile on a cron schedule.
type Reconciler struct {
	app    *App
	cron   *cron.Cron
	logger *slog.Logger
}

// NewReconciler schedules reconciliation. An empty schedule means every ten
// minutes.
func NewReconciler(a *App, schedule string) (*Reconciler, error) {
	if schedule == "" {
		schedule = defaultReconcileSchedule
	}
	r := &Reconciler{app: a, cron: cron.New(), logger: a.logger}
	if _, err := r.cron.AddFunc(schedule, r.run); err != nil {
		return nil, fmt.Errorf("invalid reconcile schedule %q: %w", schedule, err)
	}
	return r, nil
}

func (r *Reconciler) Start() {
	r.cron.Start()
	r.logger.Info("reconciler started")
}

// Stop halts the schedule and waits for a running pass.
func (r *Reconciler) Stop() {
	<-r.cron.Stop().Done()
	r.logger.Info("reconciler stopped")
}

func (r *Reconciler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()
	report, err := r.app.Reconcile(ctx)
	if err != nil {
		r.logger.Error("reconcile failed", "err", err)
		return
	}
	if report.OrphanedMessages > 0 || report.StaleDocuments > 0 {
		r.logger.Info("reconciled", "orphaned_messages", report.OrphanedMessages, "stale_documents", report.StaleDocuments)
	}
}
