package cmd

import (
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"companionsync/internal/domain/account"
	"companionsync/internal/infrastructure/storage/postgres"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Управление аккаунтами ретранслятора",
}

var accountCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Создать аккаунт и выдать токен",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		storage, err := postgres.New(cmd.Context(), cfg.DB.DatabaseURI, cfg.DB.Migrations)
		if err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		defer storage.Close()

		svc := account.NewService(postgres.NewAccountRepository(storage.Pool(), log), log)
		acc, token, err := svc.Create(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		color.Green("✓ Аккаунт %q создан (id %d)", acc.Name, acc.ID)
		fmt.Println("Токен (показывается один раз):")
		color.Cyan("  %s", token)
		return nil
	},
}

var accountRotateCmd = &cobra.Command{
	Use:   "rotate <id>",
	Short: "Выдать новый токен аккаунту",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid account id %q", args[0])
		}

		storage, err := postgres.New(cmd.Context(), cfg.DB.DatabaseURI, cfg.DB.Migrations)
		if err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		defer storage.Close()

		svc := account.NewService(postgres.NewAccountRepository(storage.Pool(), log), log)
		token, err := svc.Rotate(cmd.Context(), id)
		if err != nil {
			return err
		}
		color.Yellow("Старый токен больше не действует.")
		color.Cyan("  %s", token)
		return nil
	},
}

func init() {
	accountCmd.AddCommand(accountCreateCmd)
	accountCmd.AddCommand(accountRotateCmd)
}
