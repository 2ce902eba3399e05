package model

import "runtime"

// PlatformKind платформа, на которой запущен движок
type PlatformKind string

const (
	PlatformLinux   PlatformKind = "LINUX"
	PlatformMacOS   PlatformKind = "MACOS"
	PlatformWindows PlatformKind = "WINDOWS"
	PlatformAndroid PlatformKind = "ANDROID"
	PlatformIOS     PlatformKind = "IOS"
	PlatformOther   PlatformKind = "OTHER"
)

// CurrentPlatform определяет платформу по runtime.GOOS
func CurrentPlatform() PlatformKind {
	switch runtime.GOOS {
	case "linux":
		return PlatformLinux
	case "darwin":
		return PlatformMacOS
	case "windows":
		return PlatformWindows
	case "android":
		return PlatformAndroid
	case "ios":
		return PlatformIOS
	default:
		return PlatformOther
	}
}

// DeviceIdentity идентичность локального устройства
type DeviceIdentity struct {
	DeviceID   string       `json:"device_id"`
	DeviceName string       `json:"device_name"`
	Platform   PlatformKind `json:"platform"`
	SessionID  string       `json:"session_id"`
}
