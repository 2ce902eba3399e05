package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"companionsync/cmd/client/cmd/types"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Очистить очередь и состояние синхронизации",
	Long: `Удаляет неотправленные операции, отметку последней синхронизации и курсор
ретранслятора. Сопряженные устройства и ключ группы сохраняются.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}
		if err := app.Engine().ClearSyncData(cmd.Context()); err != nil {
			return err
		}
		color.Yellow("Данные синхронизации очищены")
		return nil
	},
}
