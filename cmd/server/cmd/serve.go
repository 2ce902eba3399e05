package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"

	"companionsync/internal/app/server/api"
	"companionsync/internal/domain/account"
	"companionsync/internal/domain/mailbox"
	"companionsync/internal/infrastructure/storage/postgres"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Запустить HTTP API ретранслятора",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		storage, err := postgres.New(ctx, cfg.DB.DatabaseURI, cfg.DB.Migrations)
		if err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		defer storage.Close()

		accounts := account.NewService(postgres.NewAccountRepository(storage.Pool(), log), log)
		boxes := mailbox.NewService(postgres.NewMailboxRepository(storage.Pool(), log), log)

		srv := &http.Server{
			Addr: cfg.Server.RunAddress,
			Handler: api.New(api.Deps{
				DB:       storage,
				Accounts: accounts,
				Mailbox:  boxes,
			}, log),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			log.Info("relay started", slog.String("addr", cfg.Server.RunAddress), slog.String("env", cfg.Env))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	},
}
