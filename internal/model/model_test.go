package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncStatus_CanTransitionTo(t *testing.T) {
	all := []SyncStatus{
		StatusPreparing, StatusConnecting, StatusTransferring, StatusVerifying,
		StatusCompleted, StatusFailed, StatusCancelled,
	}
	allowed := map[SyncStatus][]SyncStatus{
		StatusPreparing:    {StatusConnecting, StatusFailed, StatusCancelled},
		StatusConnecting:   {StatusTransferring, StatusFailed, StatusCancelled},
		StatusTransferring: {StatusVerifying, StatusFailed, StatusCancelled},
		StatusVerifying:    {StatusCompleted, StatusFailed, StatusCancelled},
	}

	for _, from := range all {
		for _, to := range all {
			t.Run(fmt.Sprintf("%s->%s", from, to), func(t *testing.T) {
				assert.Equal(t, contains(allowed[from], to), from.CanTransitionTo(to))
			})
		}
	}
}

func TestSyncStatus_IsTerminal(t *testing.T) {
	assert.False(t, StatusPreparing.IsTerminal())
	assert.False(t, StatusVerifying.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
}

func TestSyncStatus_JSON(t *testing.T) {
	s := SyncSession{ID: "s1", Status: StatusTransferring}
	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"status":"TRANSFERRING"`)

	var back SyncSession
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, StatusTransferring, back.Status)

	_, err = SyncStatus(42).MarshalText()
	assert.Error(t, err)
}

func TestKindOf(t *testing.T) {
	base := NewSyncError(ErrPushFailed, "relay rejected batch", errors.New("503"))
	wrapped := fmt.Errorf("perform sync: %w", base)

	assert.Equal(t, ErrPushFailed, KindOf(wrapped))
	assert.Equal(t, ErrUnknown, KindOf(errors.New("boom")))
	assert.Equal(t, ErrorKind(""), KindOf(nil))
	assert.Contains(t, base.Error(), "PUSH_FAILED")
	assert.EqualError(t, errors.Unwrap(base), "503")
}

func TestInferDeviceKind(t *testing.T) {
	tests := []struct {
		name string
		want DeviceKind
	}{
		{"Pixel 8", DevicePhone},
		{"Galaxy Tab S9", DeviceTablet},
		{"iPad Air", DeviceTablet},
		{"Galaxy Watch", DeviceWearable},
		{"workstation", DeviceDesktop},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InferDeviceKind(tt.name))
		})
	}
}

func TestParseTransportKind(t *testing.T) {
	k, err := ParseTransportKind(" wifi ")
	require.NoError(t, err)
	assert.Equal(t, TransportWifi, k)

	_, err = ParseTransportKind("pigeon")
	assert.Error(t, err)
}

func TestSyncConfiguration(t *testing.T) {
	cfg := DefaultSyncConfiguration()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultAutoSyncInterval, cfg.Interval())

	cfg.SyncPersonality = false
	assert.False(t, cfg.Allows(KindPersonality))
	assert.True(t, cfg.Allows(KindMemory))
	assert.True(t, cfg.Allows("reminder"))

	cfg.AutoSyncIntervalMs = 0
	assert.Error(t, cfg.Validate())
}

func TestSyncConfiguration_IntervalBounds(t *testing.T) {
	tests := []struct {
		name     string
		ms       uint64
		autoSync bool
		wantErr  bool
	}{
		{name: "largest representable", ms: MaxAutoSyncIntervalMs, autoSync: true},
		{name: "overflows duration", ms: MaxAutoSyncIntervalMs + 1, autoSync: true, wantErr: true},
		{name: "max uint64", ms: math.MaxUint64, autoSync: true, wantErr: true},
		{name: "overflow with auto sync off", ms: math.MaxUint64, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultSyncConfiguration()
			cfg.AutoSync = tt.autoSync
			cfg.AutoSyncIntervalMs = tt.ms

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Positive(t, cfg.Interval(), "interval never wraps negative")
		})
	}
}

func TestOperationChecksum(t *testing.T) {
	op := NewOperation(KindMemory, "memory:1", []byte("hello"))
	assert.NotEmpty(t, op.OperationID)
	assert.True(t, op.Verify())

	op.Payload = []byte("tampered")
	assert.False(t, op.Verify())

	op.Checksum = ""
	assert.True(t, op.Verify())
}

func contains(list []SyncStatus, s SyncStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
