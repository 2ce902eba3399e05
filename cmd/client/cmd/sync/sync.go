package sync

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	gosync "sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"companionsync/cmd/client/cmd/types"
	"companionsync/internal/app/client"
	"companionsync/internal/model"
)

var (
	deviceID   string
	allDevices bool
	prefer     string
)

var SyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Синхронизировать сейчас",
	Long: `Без флагов отправляет очередь на ретранслятор и забирает чужие изменения.

С --device запускает прямую сессию с сопряженным устройством, с --all со всеми
сопряженными устройствами сразу. Ctrl+C отменяет запущенные сессии.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}

		switch {
		case deviceID != "" && allDevices:
			return errors.New("укажите только --device или только --all")
		case deviceID != "":
			return runPeers(cmd, app, func(ctx context.Context) ([]string, error) {
				id, err := app.Engine().SyncWithDevice(ctx, deviceID)
				if err != nil {
					return nil, err
				}
				return []string{id}, nil
			})
		case allDevices:
			return runPeers(cmd, app, app.Engine().SyncWithAllDevices)
		}
		return runRelay(cmd, app)
	},
}

var backgroundCmd = &cobra.Command{
	Use:   "background",
	Short: "Один проход фоновой синхронизации",
	Long: `Проверяет сеть, заряд и наличие сопряженных устройств так же, как демон,
и синхронизирует со всеми устройствами.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}
		if !app.Engine().IsSyncEnabled() {
			color.Yellow("Синхронизация выключена: companion-sync config enable")
			return nil
		}

		report, err := app.Engine().RunBackgroundSync(cmd.Context())
		if err != nil {
			return err
		}
		if report.SkipReason != "" {
			color.Yellow("Пропущено: %s", report.SkipReason)
			return nil
		}
		printSessions(report.Sessions)
		return nil
	},
}

func runRelay(cmd *cobra.Command, app *client.App) error {
	if !app.Config().RelayEnabled() {
		return errors.New("ретранслятор не настроен: задайте RELAY_URL или --relay")
	}

	start := time.Now()
	res := app.Engine().ForceSync(cmd.Context())
	if !res.Success {
		color.Red("✗ %s: %s", res.ErrorKind, res.Message)
		return errors.New("синхронизация с ретранслятором не выполнена")
	}

	color.Green("✓ Синхронизация завершена за %s", time.Since(start).Round(time.Millisecond))
	fmt.Printf("Отправлено операций: %d\n", res.OperationsCount)
	fmt.Printf("Получено операций:   %d\n", res.Pulled)
	if res.Rejected > 0 {
		color.Yellow("Пропущено нечитаемых пакетов: %d (другой ключ группы?)", res.Rejected)
	}
	return nil
}

func runPeers(cmd *cobra.Command, app *client.App, start func(ctx context.Context) ([]string, error)) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	engine := app.Engine()

	var mu gosync.Mutex
	conflicts := make(chan model.ConflictDetected, 8)
	h := engine.AddSyncEventListener(func(ev model.SyncEvent) {
		mu.Lock()
		defer mu.Unlock()
		switch e := ev.(type) {
		case model.SyncStarted:
			fmt.Printf("→ %s: сессия %s\n", e.DeviceID, short(e.SessionID))
		case model.SyncProgress:
			fmt.Printf("  %s %3d%%\n", short(e.SessionID), e.Progress)
		case model.ConflictDetected:
			select {
			case conflicts <- e:
			default:
			}
		}
	})
	defer engine.RemoveSyncEventListener(h)

	ids, err := start(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		color.Yellow("Нет устройств для синхронизации")
		return nil
	}

	type waitResult struct {
		sessions []model.SyncSession
		err      error
	}
	done := make(chan waitResult, 1)
	go func() {
		sessions, err := engine.WaitSessions(ctx, ids)
		done <- waitResult{sessions, err}
	}()

	for {
		select {
		case c := <-conflicts:
			choice, err := chooseSide(c)
			if err != nil {
				return err
			}
			if err := engine.ResolveConflicts(c.SessionID, choice); err != nil {
				color.Red("✗ %v", err)
			}
		case r := <-done:
			if r.err != nil && ctx.Err() == nil {
				return r.err
			}
			if ctx.Err() != nil {
				for _, id := range ids {
					engine.CancelSync(id)
				}
				return errors.New("синхронизация прервана")
			}
			printSessions(r.sessions)
			return nil
		}
	}
}

func chooseSide(c model.ConflictDetected) (model.ConflictChoice, error) {
	color.Yellow("Конфликтов с %s: %d", c.DeviceID, len(c.Conflicts))
	for _, cf := range c.Conflicts {
		fmt.Printf("  %s: здесь %s, там %s\n", cf.RecordKey,
			cf.Local.CreatedAt.Local().Format(time.DateTime),
			cf.Remote.CreatedAt.Local().Format(time.DateTime))
	}

	switch strings.ToLower(prefer) {
	case string(model.ChooseLocal):
		return model.ChooseLocal, nil
	case string(model.ChooseRemote):
		return model.ChooseRemote, nil
	case "":
	default:
		return "", fmt.Errorf("неверное значение --prefer %q", prefer)
	}

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("Оставить [l]окальные или [r]удаленные версии? ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("ошибка чтения ответа: %w", err)
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "l", "local":
			return model.ChooseLocal, nil
		case "r", "remote":
			return model.ChooseRemote, nil
		}
	}
}

func printSessions(sessions []model.SyncSession) {
	if len(sessions) == 0 {
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "СЕССИЯ\tУСТРОЙСТВО\tСТАТУС\tПРОГРЕСС\tОШИБКА")
	for _, s := range sessions {
		status := s.Status.String()
		switch s.Status {
		case model.StatusCompleted:
			status = color.GreenString(status)
		case model.StatusFailed:
			status = color.RedString(status)
		case model.StatusCancelled:
			status = color.YellowString(status)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d%%\t%s\n", short(s.ID), s.RemoteDeviceName, status, s.Progress, s.Error)
	}
	_ = w.Flush()
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	SyncCmd.Flags().StringVar(&deviceID, "device", "", "синхронизировать с сопряженным устройством")
	SyncCmd.Flags().BoolVar(&allDevices, "all", false, "синхронизировать со всеми сопряженными устройствами")
	SyncCmd.Flags().StringVar(&prefer, "prefer", "", "ответ на конфликты без вопроса: local или remote")

	SyncCmd.AddCommand(backgroundCmd)
}
