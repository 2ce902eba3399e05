package model

import (
	"fmt"
	"strings"
	"time"
)

// TransportKind тип канала связи с устройством
type TransportKind string

const (
	TransportBluetooth  TransportKind = "BLUETOOTH"
	TransportWifiDirect TransportKind = "WIFI_DIRECT"
	TransportWifi       TransportKind = "WIFI"
	TransportCloud      TransportKind = "CLOUD"
	TransportUSB        TransportKind = "USB"
)

// ParseTransportKind разбирает имя транспорта без учета регистра
func ParseTransportKind(s string) (TransportKind, error) {
	k := TransportKind(strings.ToUpper(strings.TrimSpace(s)))
	switch k {
	case TransportBluetooth, TransportWifiDirect, TransportWifi, TransportCloud, TransportUSB:
		return k, nil
	}
	return "", fmt.Errorf("unknown transport kind %q", s)
}

// DeviceKind класс устройства
type DeviceKind string

const (
	DevicePhone    DeviceKind = "PHONE"
	DeviceTablet   DeviceKind = "TABLET"
	DeviceDesktop  DeviceKind = "DESKTOP"
	DeviceWearable DeviceKind = "WEARABLE"
)

// InferDeviceKind угадывает класс устройства по его имени
func InferDeviceKind(name string) DeviceKind {
	n := strings.ToLower(name)
	switch {
	case strings.Contains(n, "watch"):
		return DeviceWearable
	case strings.Contains(n, "tab"), strings.Contains(n, "pad"):
		return DeviceTablet
	case strings.Contains(n, "pixel"), strings.Contains(n, "phone"), strings.Contains(n, "galaxy"):
		return DevicePhone
	default:
		return DeviceDesktop
	}
}

// DeviceStatus состояние сопряженного устройства
type DeviceStatus string

const (
	DeviceStatusPaired  DeviceStatus = "PAIRED"
	DeviceStatusSynced  DeviceStatus = "SYNCED"
	DeviceStatusOffline DeviceStatus = "OFFLINE"
	DeviceStatusError   DeviceStatus = "ERROR"
)

// DiscoveredDevice устройство, найденное сканированием. Не сохраняется.
type DiscoveredDevice struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Kind      DeviceKind    `json:"kind"`
	Transport TransportKind `json:"transport"`
}

// PairedDevice доверенное устройство
type PairedDevice struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Kind         DeviceKind    `json:"kind"`
	Transport    TransportKind `json:"transport"`
	LastSyncTime *time.Time    `json:"last_sync_time,omitempty"`
	Status       DeviceStatus  `json:"status"`
	PairedAt     time.Time     `json:"paired_at"`
}
