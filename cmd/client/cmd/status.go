package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"companionsync/cmd/client/cmd/types"
)

type statusView struct {
	DeviceID       string `json:"device_id"`
	DeviceName     string `json:"device_name"`
	KeyInitialized bool   `json:"key_initialized"`
	Relay          string `json:"relay,omitempty"`
	RelayReachable *bool  `json:"relay_reachable,omitempty"`
	PairedDevices  int    `json:"paired_devices"`
	Info           any    `json:"sync"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Состояние синхронизации",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}
		engine := app.Engine()

		info, err := engine.LastSyncInfo(cmd.Context())
		if err != nil {
			return err
		}
		devices, err := engine.GetPairedDevices(cmd.Context())
		if err != nil {
			return err
		}

		view := statusView{
			DeviceID:       engine.GetDeviceID(),
			DeviceName:     engine.GetDeviceName(),
			KeyInitialized: app.IsInitialized(),
			PairedDevices:  len(devices),
			Info:           info,
		}
		if app.Config().RelayEnabled() {
			view.Relay = app.Config().RelayURL
			ok := app.CheckRelay(cmd.Context()) == nil
			view.RelayReachable = &ok
		}

		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(view)
		}

		fmt.Printf("Устройство:     %s (%s)\n", view.DeviceName, view.DeviceID)
		if info.Enabled {
			color.Green("Синхронизация:  включена")
		} else {
			color.Yellow("Синхронизация:  выключена")
		}
		if view.KeyInitialized {
			fmt.Println("Ключ группы:    создан")
		} else {
			color.Red("Ключ группы:    не создан (companion-sync init)")
		}
		switch {
		case view.Relay == "":
			fmt.Println("Ретранслятор:   не настроен")
		case *view.RelayReachable:
			fmt.Printf("Ретранслятор:   %s\n", view.Relay)
		default:
			color.Red("Ретранслятор:   %s (недоступен)", view.Relay)
		}
		if info.LastSync != nil {
			fmt.Printf("Последняя:      %s\n", info.LastSync.Local().Format("2006-01-02 15:04:05"))
		} else {
			fmt.Println("Последняя:      никогда")
		}
		fmt.Printf("В очереди:      %d\n", info.Pending)
		fmt.Printf("Устройств:      %d\n", view.PairedDevices)
		return nil
	},
}
