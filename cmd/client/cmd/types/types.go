// Package types общие для подкоманд клиента ключи контекста и ввод.
package types

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"companionsync/internal/app/client"
)

type contextKey string

const (
	ClientAppKey contextKey = "app"

	// PassphraseEnv парольная фраза для неинтерактивного запуска
	PassphraseEnv = "COMPANION_PASSPHRASE"

	// NeedsKey аннотация команд, которым нужен разблокированный ключ
	NeedsKey = "needs_key"
)

// WithApp кладет клиент в контекст команды
func WithApp(ctx context.Context, app *client.App) context.Context {
	return context.WithValue(ctx, ClientAppKey, app)
}

// App клиент из контекста команды
func App(cmd *cobra.Command) (*client.App, error) {
	app, ok := cmd.Context().Value(ClientAppKey).(*client.App)
	if !ok || app == nil {
		return nil, errors.New("приложение не инициализировано")
	}
	return app, nil
}

// ReadPassphrase берет фразу из окружения или спрашивает в терминале
func ReadPassphrase(prompt string) (string, error) {
	if p := os.Getenv(PassphraseEnv); p != "" {
		return p, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("нет терминала для ввода парольной фразы, задайте %s", PassphraseEnv)
	}

	fmt.Print(prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("ошибка чтения парольной фразы: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// JSONOutput включен ли глобальный флаг --json
func JSONOutput(cmd *cobra.Command) bool {
	v, err := cmd.Flags().GetBool("json")
	return err == nil && v
}
