package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"

	"companionsync/cmd/client/cmd/types"
	"companionsync/internal/model"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Запустить демон синхронизации",
	Long: `Демон принимает входящие сессии сопряженных устройств, отправляет очередь
на ретранслятор по расписанию и выполняет фоновую синхронизацию.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
		defer stop()

		h := app.Engine().AddSyncEventListener(logEvent(log))
		defer app.Engine().RemoveSyncEventListener(h)

		return app.Run(ctx)
	},
}

// logEvent журналирует события шины
func logEvent(log *slog.Logger) func(model.SyncEvent) {
	log = log.With(slog.String("component", "events"))
	return func(ev model.SyncEvent) {
		switch e := ev.(type) {
		case model.SyncFailed:
			log.Warn("sync failed", slog.String("session_id", e.SessionID), slog.String("error", e.Error))
		case model.BackgroundSyncFailed:
			log.Warn("background sync failed", slog.String("error", e.Error))
		case model.RelaySyncFinished:
			if !e.Result.Success {
				log.Debug("relay sync not completed", slog.String("message", e.Result.Message))
			}
		case model.ConflictDetected:
			// демон не спрашивает пользователя: сессия завершится по таймауту
			log.Warn("manual conflict resolution required",
				slog.String("session_id", e.SessionID),
				slog.Int("conflicts", len(e.Conflicts)))
		default:
			log.Debug("sync event", slog.String("type", string(ev.EventType())))
		}
	}
}
