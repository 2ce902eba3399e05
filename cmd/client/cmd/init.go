// cmd/client/cmd/init.go
package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"companionsync/cmd/client/cmd/types"
)

const minPassphraseLen = 8

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Создать ключ синхронизации группы",
	Long: `Команда init выводит общий ключ группы из парольной фразы.
Все устройства с одинаковой группой (SYNC_GROUP) и фразой получают один и тот же ключ
и могут читать пакеты друг друга. Сам ключ на диск не записывается.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}
		if app.IsInitialized() {
			fmt.Println("Ключ синхронизации уже создан.")
			return nil
		}

		passphrase, err := types.ReadPassphrase("Парольная фраза группы: ")
		if err != nil {
			return err
		}
		if len(passphrase) < minPassphraseLen {
			return fmt.Errorf("парольная фраза должна содержать минимум %d символов", minPassphraseLen)
		}
		confirm, err := types.ReadPassphrase("Повторите парольную фразу: ")
		if err != nil {
			return err
		}
		if passphrase != confirm {
			return fmt.Errorf("парольные фразы не совпадают")
		}

		fmt.Println("Создание ключа...")
		if err := app.InitKey(passphrase); err != nil {
			return err
		}
		header := app.KeyHeader()
		color.Green("✓ Ключ группы %q создан (%s)", header.Group, header.KDF)

		if app.Config().RelayEnabled() {
			if err := app.CheckRelay(cmd.Context()); err != nil {
				color.Yellow("⚠ Ретранслятор недоступен: %v", err)
				fmt.Println("  Прямая синхронизация с устройствами будет работать и без него.")
			} else {
				color.Green("✓ Ретранслятор %s доступен", app.Config().RelayURL)
			}
		}

		fmt.Println()
		fmt.Println("Что дальше:")
		fmt.Println("1. Включите синхронизацию: companion-sync config enable")
		fmt.Println("2. Найдите устройства: companion-sync device discover")
		fmt.Println("3. Запустите демон: companion-sync serve")
		return nil
	},
}
