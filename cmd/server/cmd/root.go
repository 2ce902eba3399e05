// cmd/server/cmd/root.go
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"

	"companionsync/internal/app/server/config"
	"companionsync/internal/utils/logger"
)

var (
	cfgFile string
	cfg     *config.Config
	log     *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "companion-relay",
	Short: "Ретранслятор синхронизации устройств",
	Long: `companion-relay хранит зашифрованные конверты операций и почтовые ящики
устройств одного аккаунта. Сервер не знает ключей и не расшифровывает данные.`,
	PersistentPreRunE: setup,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setup(_ *cobra.Command, _ []string) error {
	cfg = config.MustLoad(cfgFile)
	log = logger.NewWithFile(cfg.Env, cfg.Logger.File)
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "конфигурационный файл (yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(accountCmd)
}
