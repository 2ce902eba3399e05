package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"companionsync/cmd/client/cmd/types"
	"companionsync/internal/model"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Настройки синхронизации",
	Long: `Просмотр и изменение настроек синхронизации, сохраненных на устройстве.

Ключи для config set:
  memory, preferences, personality  синхронизировать категорию (true/false)
  wifi_only                         только безлимитная сеть (true/false)
  auto_sync                         автоматическая синхронизация (true/false)
  interval                          период автосинхронизации (например 15m)`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}
		cfg := app.Engine().GetSyncConfig()

		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Enabled bool                    `json:"enabled"`
				Config  model.SyncConfiguration `json:"config"`
			}{app.Engine().IsSyncEnabled(), cfg})
		}

		fmt.Printf("enabled      %t\n", app.Engine().IsSyncEnabled())
		fmt.Printf("memory       %t\n", cfg.SyncMemory)
		fmt.Printf("preferences  %t\n", cfg.SyncPreferences)
		fmt.Printf("personality  %t\n", cfg.SyncPersonality)
		fmt.Printf("wifi_only    %t\n", cfg.WifiOnlyOrUnmetered)
		fmt.Printf("auto_sync    %t\n", cfg.AutoSync)
		fmt.Printf("interval     %s\n", cfg.Interval())
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Изменить настройку",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}
		cfg := app.Engine().GetSyncConfig()
		if err := applySetting(&cfg, args[0], args[1]); err != nil {
			return err
		}
		if err := app.Engine().UpdateSyncConfig(cmd.Context(), cfg); err != nil {
			return err
		}
		color.Green("✓ %s = %s", args[0], args[1])
		return nil
	},
}

func applySetting(cfg *model.SyncConfiguration, key, value string) error {
	key = strings.ToLower(key)
	if key == "interval" {
		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 {
			return fmt.Errorf("неверный интервал %q", value)
		}
		cfg.AutoSyncIntervalMs = uint64(d / time.Millisecond)
		return nil
	}

	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("ожидалось true или false, получено %q", value)
	}
	switch key {
	case "memory":
		cfg.SyncMemory = b
	case "preferences":
		cfg.SyncPreferences = b
	case "personality":
		cfg.SyncPersonality = b
	case "wifi_only":
		cfg.WifiOnlyOrUnmetered = b
	case "auto_sync":
		cfg.AutoSync = b
	default:
		return fmt.Errorf("неизвестный ключ %q", key)
	}
	return nil
}

func toggleCmd(use, short string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := types.App(cmd)
			if err != nil {
				return err
			}
			if err := app.Engine().SetSyncEnabled(cmd.Context(), enabled); err != nil {
				return err
			}
			if enabled {
				color.Green("✓ Синхронизация включена")
			} else {
				color.Yellow("Синхронизация выключена")
			}
			return nil
		},
	}
}

var configNameCmd = &cobra.Command{
	Use:   "name <device-name>",
	Short: "Переименовать это устройство",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}
		if err := app.Engine().SetDeviceName(cmd.Context(), args[0]); err != nil {
			return err
		}
		color.Green("✓ Устройство теперь называется %q", app.Engine().GetDeviceName())
		return nil
	},
}

func init() {
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configNameCmd)
	configCmd.AddCommand(toggleCmd("enable", "Включить синхронизацию", true))
	configCmd.AddCommand(toggleCmd("disable", "Выключить синхронизацию", false))
}
