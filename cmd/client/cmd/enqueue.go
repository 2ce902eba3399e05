package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"companionsync/cmd/client/cmd/types"
	"companionsync/internal/model"
)

var (
	enqueueKind string
	enqueueKey  string
	enqueueData string
	enqueueFile string
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Поставить локальное изменение в очередь",
	Long: `Ставит операцию в очередь отправки. Данные берутся из --data, из файла --file
или из stdin (--file -). Если синхронизация включена, отправка произойдет после паузы.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}

		payload, err := readPayload()
		if err != nil {
			return err
		}
		op := model.NewOperation(enqueueKind, enqueueKey, payload)

		added, err := app.Engine().EnqueueOperation(cmd.Context(), op)
		if err != nil {
			return err
		}
		if !added {
			fmt.Println("Операция уже в очереди.")
			return nil
		}
		color.Green("✓ %s", op.OperationID)
		return nil
	},
}

func readPayload() ([]byte, error) {
	switch {
	case enqueueData != "" && enqueueFile != "":
		return nil, errors.New("укажите только --data или только --file")
	case enqueueData != "":
		return []byte(enqueueData), nil
	case enqueueFile == "-":
		return io.ReadAll(os.Stdin)
	case enqueueFile != "":
		return os.ReadFile(enqueueFile)
	}
	return nil, errors.New("нет данных: укажите --data или --file")
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueKind, "kind", model.KindMemory, "категория: memory, preferences, personality или своя")
	enqueueCmd.Flags().StringVar(&enqueueKey, "key", "", "ключ записи для разрешения конфликтов")
	enqueueCmd.Flags().StringVar(&enqueueData, "data", "", "данные операции")
	enqueueCmd.Flags().StringVar(&enqueueFile, "file", "", "файл с данными, - для stdin")
}
