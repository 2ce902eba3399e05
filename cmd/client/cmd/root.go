// cmd/client/cmd/root.go
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"

	"companionsync/cmd/client/cmd/device"
	"companionsync/cmd/client/cmd/sync"
	"companionsync/cmd/client/cmd/types"
	"companionsync/internal/app/client"
	"companionsync/internal/app/client/config"
	"companionsync/internal/utils/logger"
)

var (
	cfgFile    string
	cfg        *config.Config
	log        *slog.Logger
	app        *client.App
	jsonOutput bool
	relayURL   string
)

var rootCmd = &cobra.Command{
	Use:   "companion-sync",
	Short: "Синхронизация данных компаньона между устройствами",
	Long: `companion-sync держит данные приложения-компаньона согласованными на всех
доверенных устройствах пользователя: через ретранслятор (push/pull зашифрованных
пакетов) и напрямую с сопряженными устройствами.

Все пакеты шифруются общим ключом группы, который выводится из парольной фразы.`,
	PersistentPreRunE: setupApp,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func Execute() {
	err := rootCmd.Execute()
	if closeErr := closeApp(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
		os.Exit(1)
	}
}

func setupApp(cmd *cobra.Command, _ []string) error {
	cfg = config.MustLoad(cfgFile)
	if relayURL != "" {
		cfg.RelayURL = relayURL
	}
	// входящие соединения принимает только демон
	cfg.Passive = cmd != serveCmd

	log = logger.NewWithFile(cfg.Env, cfg.LogFile)

	var err error
	app, err = client.New(cfg, log)
	if err != nil {
		return fmt.Errorf("ошибка инициализации приложения: %w", err)
	}
	cmd.SetContext(types.WithApp(cmd.Context(), app))

	if requiresKey(cmd) {
		if err := unlock(); err != nil {
			return err
		}
	}
	if cmd != initCmd {
		if err := app.Start(cmd.Context()); err != nil {
			return fmt.Errorf("ошибка запуска движка: %w", err)
		}
	}
	return nil
}

func unlock() error {
	if !app.IsInitialized() {
		return fmt.Errorf("ключ синхронизации не создан, выполните: companion-sync init")
	}
	passphrase, err := types.ReadPassphrase("Парольная фраза: ")
	if err != nil {
		return err
	}
	return app.Unlock(passphrase)
}

func closeApp() error {
	if app == nil {
		return nil
	}
	return app.Close()
}

// requiresKey аннотация команды или любого ее родителя
func requiresKey(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if _, ok := c.Annotations[types.NeedsKey]; ok {
			return true
		}
	}
	return false
}

func needsKey() map[string]string {
	return map[string]string{types.NeedsKey: "true"}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "конфигурационный файл (yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "вывод в формате JSON")
	rootCmd.PersistentFlags().StringVar(&relayURL, "relay", "", "URL ретранслятора (переопределяет RELAY_URL)")

	sync.SyncCmd.Annotations = needsKey()
	serveCmd.Annotations = needsKey()

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(inboxCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(device.DeviceCmd)
	rootCmd.AddCommand(sync.SyncCmd)
}
