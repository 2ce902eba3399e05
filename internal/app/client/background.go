package client

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/exp/slog"

	"companionsync/internal/domain/conditions"
	"companionsync/internal/model"
)

const (
	SkipNetwork   = "Network not suitable"
	SkipBattery   = "Battery too low"
	SkipNoDevices = "No paired devices"
)

// BackgroundReport итог одного прохода фоновой синхронизации
type BackgroundReport struct {
	Ran        bool
	SkipReason string
	Sessions   []model.SyncSession
}

// Completed число сессий, завершившихся успешно
func (r BackgroundReport) Completed() int {
	n := 0
	for _, s := range r.Sessions {
		if s.Status == model.StatusCompleted {
			n++
		}
	}
	return n
}

// RunBackgroundSync проверяет условия и синхронизирует со всеми сопряженными устройствами.
// При выключенной синхронизации ничего не делает.
func (e *Engine) RunBackgroundSync(ctx context.Context) (BackgroundReport, error) {
	if !e.settings.Enabled() {
		return BackgroundReport{}, nil
	}

	if reason := e.skipReason(ctx); reason != "" {
		e.log.Info("background sync skipped", slog.String("reason", reason))
		e.bus.Publish(model.BackgroundSyncSkipped{Reason: reason})
		return BackgroundReport{SkipReason: reason}, nil
	}

	e.bus.Publish(model.BackgroundSyncStarted{})

	ids, err := e.sessions.SyncWithAllDevices(ctx)
	if err != nil {
		return e.backgroundFailed(fmt.Errorf("failed to start sessions: %w", err))
	}
	sessions, err := e.WaitSessions(ctx, ids)
	if err != nil {
		return e.backgroundFailed(err)
	}

	report := BackgroundReport{Ran: true, Sessions: sessions}
	e.log.Info("background sync completed",
		slog.Int("sessions", len(ids)),
		slog.Int("completed", report.Completed()))
	e.bus.Publish(model.BackgroundSyncCompleted{DeviceCount: len(ids)})
	return report, nil
}

func (e *Engine) skipReason(ctx context.Context) string {
	if e.settings.Config().WifiOnlyOrUnmetered && e.cond.Metered() {
		return SkipNetwork
	}
	if conditions.LowBattery(e.cond) {
		return SkipBattery
	}
	devices, err := e.registry.GetPairedDevices(ctx)
	if err != nil {
		e.log.Warn("failed to read paired devices", slog.String("error", err.Error()))
		return SkipNoDevices
	}
	if len(devices) == 0 {
		return SkipNoDevices
	}
	return ""
}

func (e *Engine) backgroundFailed(err error) (BackgroundReport, error) {
	e.log.Error("background sync failed", slog.String("error", err.Error()))
	e.bus.Publish(model.BackgroundSyncFailed{Error: err.Error()})
	return BackgroundReport{}, err
}

// BackgroundScheduled запущен ли периодический проход
func (e *Engine) BackgroundScheduled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bgStop != nil
}

func (e *Engine) scheduleBackgroundLocked() {
	if e.bgStop != nil || !e.settings.Config().AutoSync {
		return
	}
	stop := make(chan struct{})
	e.bgStop = stop
	interval := e.opts.BackgroundInterval

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-e.ctx.Done():
				return
			case <-t.C:
				// ошибки уже опубликованы событием
				_, _ = e.RunBackgroundSync(e.ctx)
			}
		}
	}()
	e.log.Debug("background sync scheduled", slog.Duration("interval", interval))
}

func (e *Engine) stopBackgroundLocked() {
	if e.bgStop != nil {
		close(e.bgStop)
		e.bgStop = nil
	}
}
