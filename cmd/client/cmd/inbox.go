package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"companionsync/cmd/client/cmd/types"
)

var inboxLimit int

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Принятые удаленные операции",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}
		entries, err := app.Engine().AppliedOperations(cmd.Context(), inboxLimit)
		if err != nil {
			return err
		}

		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(entries)
		}
		if len(entries) == 0 {
			fmt.Println("Принятых операций нет")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ПРИНЯТА\tВИД\tКЛЮЧ\tИСТОЧНИК\tРАЗМЕР\tСТАТУС")
		for _, e := range entries {
			status := "применена"
			if e.Skipped {
				status = "устарела"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
				e.AppliedAt.Local().Format("2006-01-02 15:04:05"),
				e.Operation.Kind, e.Operation.RecordKey, e.Source, e.Operation.Size(), status)
		}
		return w.Flush()
	},
}

var inboxPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Удалить записи старше RETENTION_DAYS",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}
		n, err := app.Engine().Cleanup(cmd.Context())
		if err != nil {
			return err
		}
		color.Green("✓ Удалено записей: %d", n)
		return nil
	},
}

func init() {
	inboxCmd.Flags().IntVar(&inboxLimit, "limit", 20, "сколько последних записей показать")
	inboxCmd.AddCommand(inboxPurgeCmd)
}
