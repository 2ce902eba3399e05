package device

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"companionsync/cmd/client/cmd/types"
	"companionsync/internal/model"
)

var (
	pairName      string
	pairTransport string
)

// DeviceCmd родительская команда работы с устройствами
var DeviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Поиск и сопряжение устройств",
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Найти устройства на всех транспортах",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}

		fmt.Println("Поиск устройств...")
		discoveryID, devices, err := app.Engine().DiscoverDevices(cmd.Context())
		if err != nil {
			return err
		}
		if types.JSONOutput(cmd) {
			return json.NewEncoder(os.Stdout).Encode(struct {
				DiscoveryID string                   `json:"discovery_id"`
				Devices     []model.DiscoveredDevice `json:"devices"`
			}{discoveryID, devices})
		}
		if len(devices) == 0 {
			color.Yellow("Устройства не найдены")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tИМЯ\tТИП\tТРАНСПОРТ")
		for _, d := range devices {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.ID, d.Name, d.Kind, d.Transport)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Println()
		fmt.Println("Сопряжение: companion-sync device pair <id> --transport <транспорт>")
		return nil
	},
}

var pairCmd = &cobra.Command{
	Use:   "pair <device-id>",
	Short: "Добавить устройство в доверенные",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}
		kind, err := model.ParseTransportKind(pairTransport)
		if err != nil {
			return err
		}

		if _, err := app.Engine().PairDevice(cmd.Context(), args[0], pairName, kind); err != nil {
			return err
		}
		color.Green("✓ Устройство %s сопряжено через %s", args[0], kind)
		return nil
	},
}

var unpairCmd = &cobra.Command{
	Use:   "unpair <device-id>",
	Short: "Удалить устройство из доверенных",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}
		removed, err := app.Engine().UnpairDevice(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !removed {
			color.Yellow("Устройство %s не было сопряжено", args[0])
			return nil
		}
		color.Green("✓ Устройство %s удалено", args[0])
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Сопряженные устройства",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}
		devices, err := app.Engine().GetPairedDevices(cmd.Context())
		if err != nil {
			return err
		}
		if types.JSONOutput(cmd) {
			return json.NewEncoder(os.Stdout).Encode(devices)
		}
		if len(devices) == 0 {
			fmt.Println("Сопряженных устройств нет")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tИМЯ\tТИП\tТРАНСПОРТ\tСТАТУС\tПОСЛЕДНЯЯ СИНХРОНИЗАЦИЯ")
		for _, d := range devices {
			last := "никогда"
			if d.LastSyncTime != nil {
				last = d.LastSyncTime.Local().Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", d.ID, d.Name, d.Kind, d.Transport, statusColor(d.Status), last)
		}
		return w.Flush()
	},
}

func statusColor(s model.DeviceStatus) string {
	switch s {
	case model.DeviceStatusSynced:
		return color.GreenString(string(s))
	case model.DeviceStatusError:
		return color.RedString(string(s))
	case model.DeviceStatusOffline:
		return color.YellowString(string(s))
	}
	return string(s)
}

func init() {
	pairCmd.Flags().StringVar(&pairName, "name", "", "имя устройства")
	pairCmd.Flags().StringVar(&pairTransport, "transport", string(model.TransportWifi), "транспорт: WIFI, CLOUD, BLUETOOTH, WIFI_DIRECT, USB")

	DeviceCmd.AddCommand(discoverCmd)
	DeviceCmd.AddCommand(pairCmd)
	DeviceCmd.AddCommand(unpairCmd)
	DeviceCmd.AddCommand(listCmd)
}
