package conditions

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatic(t *testing.T) {
	tests := []struct {
		name        string
		metered     bool
		battery     int
		wantBattery int
		wantLow     bool
	}{
		{"full", false, 100, 100, false},
		{"threshold", true, 20, 20, false},
		{"low", false, 19, 19, true},
		{"negative clamps", false, -5, 0, true},
		{"overflow clamps", false, 250, 100, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStatic(tt.metered, tt.battery)
			assert.Equal(t, tt.metered, s.Metered())
			assert.Equal(t, tt.wantBattery, s.BatteryLevel())
			assert.Equal(t, tt.wantLow, LowBattery(s))
		})
	}
}

func TestStatic_Set(t *testing.T) {
	s := NewStatic(false, 80)
	s.Set(true, 10)
	assert.True(t, s.Metered())
	assert.Equal(t, 10, s.BatteryLevel())
}
