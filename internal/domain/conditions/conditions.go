// Package conditions сообщает состояние платформы, от которого зависит синхронизация.
package conditions

import "sync/atomic"

// LowBatteryThreshold ниже этого заряда фоновая синхронизация пропускается
const LowBatteryThreshold = 20

// Provider состояние сети и питания устройства
type Provider interface {
	// Metered true для сотовой или тарифицируемой сети
	Metered() bool
	// BatteryLevel заряд в процентах; 100 для устройств без батареи
	BatteryLevel() int
}

// Static условия, заданные конфигурацией. Значения можно менять на лету.
type Static struct {
	metered atomic.Bool
	battery atomic.Int32
}

// NewStatic создает провайдер с фиксированными значениями
func NewStatic(metered bool, battery int) *Static {
	s := &Static{}
	s.Set(metered, battery)
	return s
}

func (s *Static) Metered() bool {
	return s.metered.Load()
}

func (s *Static) BatteryLevel() int {
	return int(s.battery.Load())
}

// Set обновляет значения
func (s *Static) Set(metered bool, battery int) {
	switch {
	case battery < 0:
		battery = 0
	case battery > 100:
		battery = 100
	}
	s.metered.Store(metered)
	s.battery.Store(int32(battery))
}

// LowBattery заряд ниже порога фоновой синхронизации
func LowBattery(p Provider) bool {
	return p.BatteryLevel() < LowBatteryThreshold
}
