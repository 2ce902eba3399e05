package transport_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"companionsync/internal/domain/transport"
	"companionsync/internal/infrastructure/transport/loopback"
	"companionsync/internal/model"
)

func TestRegistry(t *testing.T) {
	net := loopback.NewNetwork()
	wifi := loopback.New(net, model.TransportWifi, "self", "self")
	usb := loopback.New(net, model.TransportUSB, "self-usb", "self")

	reg, err := transport.NewRegistry(wifi, usb)
	require.NoError(t, err)

	got, ok := reg.Get(model.TransportWifi)
	assert.True(t, ok)
	assert.Same(t, wifi, got)

	_, ok = reg.Get(model.TransportBluetooth)
	assert.False(t, ok)

	assert.Equal(t, []model.TransportKind{model.TransportUSB, model.TransportWifi}, reg.Kinds())
	assert.Len(t, reg.Listeners(), 2)
}

func TestRegistry_RejectsDuplicateKind(t *testing.T) {
	net := loopback.NewNetwork()
	_, err := transport.NewRegistry(
		loopback.New(net, model.TransportCloud, "a", "a"),
		loopback.New(net, model.TransportCloud, "b", "b"),
	)
	assert.ErrorIs(t, err, transport.ErrDuplicateKey)
}
