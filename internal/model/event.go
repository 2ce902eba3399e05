package model

// EventType имя варианта события
type EventType string

const (
	EventSystemInitialized       EventType = "system_initialized"
	EventSyncEnabledChanged      EventType = "sync_enabled_changed"
	EventSyncConfigChanged       EventType = "sync_config_changed"
	EventDeviceNameChanged       EventType = "device_name_changed"
	EventDevicesDiscovered       EventType = "devices_discovered"
	EventDevicePaired            EventType = "device_paired"
	EventDeviceUnpaired          EventType = "device_unpaired"
	EventSyncStarted             EventType = "sync_started"
	EventSyncProgress            EventType = "sync_progress"
	EventSyncCompleted           EventType = "sync_completed"
	EventSyncFailed              EventType = "sync_failed"
	EventSyncCancelled           EventType = "sync_cancelled"
	EventConflictDetected        EventType = "conflict_detected"
	EventRelaySyncFinished       EventType = "relay_sync_finished"
	EventBackgroundSyncStarted   EventType = "background_sync_started"
	EventBackgroundSyncCompleted EventType = "background_sync_completed"
	EventBackgroundSyncFailed    EventType = "background_sync_failed"
	EventBackgroundSyncSkipped   EventType = "background_sync_skipped"
)

// SyncEvent закрытое объединение событий синхронизации
type SyncEvent interface {
	EventType() EventType
	sealed()
}

type SystemInitialized struct {
	SyncEnabled bool
}

type SyncEnabledChanged struct {
	Enabled bool
}

type SyncConfigChanged struct {
	Config SyncConfiguration
}

type DeviceNameChanged struct {
	Name string
}

type DevicesDiscovered struct {
	DiscoveryID string
	Transport   TransportKind
	Devices     []DiscoveredDevice
}

type DevicePaired struct {
	Device PairedDevice
}

type DeviceUnpaired struct {
	Device PairedDevice
}

type SyncStarted struct {
	SessionID string
	DeviceID  string
}

type SyncProgress struct {
	SessionID string
	Progress  int
}

type SyncCompleted struct {
	SessionID     string
	DeviceID      string
	BytesSent     int64
	BytesReceived int64
	ItemsSynced   int
}

type SyncFailed struct {
	SessionID string
	Error     string
	Kind      ErrorKind
}

type SyncCancelled struct {
	SessionID string
}

// ConflictDetected сессия с ручной политикой ждет решения
type ConflictDetected struct {
	SessionID string
	DeviceID  string
	Conflicts []Conflict
}

// RelaySyncFinished итог попытки синхронизации с ретранслятором
type RelaySyncFinished struct {
	Result SyncResult
}

type BackgroundSyncStarted struct{}

type BackgroundSyncCompleted struct {
	DeviceCount int
}

type BackgroundSyncFailed struct {
	Error string
}

type BackgroundSyncSkipped struct {
	Reason string
}

func (SystemInitialized) EventType() EventType       { return EventSystemInitialized }
func (SyncEnabledChanged) EventType() EventType      { return EventSyncEnabledChanged }
func (SyncConfigChanged) EventType() EventType       { return EventSyncConfigChanged }
func (DeviceNameChanged) EventType() EventType       { return EventDeviceNameChanged }
func (DevicesDiscovered) EventType() EventType       { return EventDevicesDiscovered }
func (DevicePaired) EventType() EventType            { return EventDevicePaired }
func (DeviceUnpaired) EventType() EventType          { return EventDeviceUnpaired }
func (SyncStarted) EventType() EventType             { return EventSyncStarted }
func (SyncProgress) EventType() EventType            { return EventSyncProgress }
func (SyncCompleted) EventType() EventType           { return EventSyncCompleted }
func (SyncFailed) EventType() EventType              { return EventSyncFailed }
func (SyncCancelled) EventType() EventType           { return EventSyncCancelled }
func (ConflictDetected) EventType() EventType        { return EventConflictDetected }
func (RelaySyncFinished) EventType() EventType       { return EventRelaySyncFinished }
func (BackgroundSyncStarted) EventType() EventType   { return EventBackgroundSyncStarted }
func (BackgroundSyncCompleted) EventType() EventType { return EventBackgroundSyncCompleted }
func (BackgroundSyncFailed) EventType() EventType    { return EventBackgroundSyncFailed }
func (BackgroundSyncSkipped) EventType() EventType   { return EventBackgroundSyncSkipped }

func (SystemInitialized) sealed()       {}
func (SyncEnabledChanged) sealed()      {}
func (SyncConfigChanged) sealed()       {}
func (DeviceNameChanged) sealed()       {}
func (DevicesDiscovered) sealed()       {}
func (DevicePaired) sealed()            {}
func (DeviceUnpaired) sealed()          {}
func (SyncStarted) sealed()             {}
func (SyncProgress) sealed()            {}
func (SyncCompleted) sealed()           {}
func (SyncFailed) sealed()              {}
func (SyncCancelled) sealed()           {}
func (ConflictDetected) sealed()        {}
func (RelaySyncFinished) sealed()       {}
func (BackgroundSyncStarted) sealed()   {}
func (BackgroundSyncCompleted) sealed() {}
func (BackgroundSyncFailed) sealed()    {}
func (BackgroundSyncSkipped) sealed()   {}
