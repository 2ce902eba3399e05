package lan

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"companionsync/internal/domain/transport"
	"companionsync/internal/model"
)

func startNode(t *testing.T, id, name string, handler transport.IncomingHandler) *Transport {
	t.Helper()
	tr := New(Config{ListenAddr: "127.0.0.1:0", DeviceID: id, DeviceName: name}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = tr.Listen(ctx, handler)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	select {
	case <-tr.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("lan transport did not start")
	}
	return tr
}

func echo(ctx context.Context, l transport.Link) {
	defer l.Disconnect()
	for {
		msg, err := l.Receive(ctx)
		if err != nil {
			return
		}
		if err := l.Send(ctx, append([]byte("echo:"), msg...)); err != nil {
			return
		}
	}
}

func TestScanAndConnect(t *testing.T) {
	b := startNode(t, "B", "Pixel Tablet", echo)
	a := New(Config{Peers: []string{b.Addr(), "127.0.0.1:1"}, DeviceID: "A", DeviceName: "laptop"}, slog.Default())
	assert.Equal(t, model.TransportWifi, a.Kind())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	found, err := a.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, found, 1, "unreachable peer skipped")
	assert.Equal(t, "B", found[0].ID)
	assert.Equal(t, "Pixel Tablet", found[0].Name)
	assert.Equal(t, model.InferDeviceKind("Pixel Tablet"), found[0].Kind)

	l, err := a.Connect(ctx, "B")
	require.NoError(t, err)

	big := make([]byte, 512<<10)
	for _, msg := range [][]byte{[]byte("hello"), big} {
		require.NoError(t, l.Send(ctx, msg))
		got, err := l.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, append([]byte("echo:"), msg...), got)
	}

	require.NoError(t, l.Disconnect())
	assert.NoError(t, l.Disconnect(), "second disconnect is a no-op")
}

func TestConnect_ScansUnknownDevice(t *testing.T) {
	b := startNode(t, "B", "desk", echo)
	a := New(Config{Peers: []string{b.Addr()}, DeviceID: "A"}, slog.Default())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	l, err := a.Connect(ctx, "B")
	require.NoError(t, err)
	defer l.Disconnect()

	_, err = a.Connect(ctx, "ghost")
	assert.ErrorIs(t, err, transport.ErrUnknownPeer)
}

func TestReceive_PeerClosed(t *testing.T) {
	b := startNode(t, "B", "desk", func(ctx context.Context, l transport.Link) {
		_ = l.Disconnect()
	})
	a := New(Config{Peers: []string{b.Addr()}, DeviceID: "A"}, slog.Default())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	l, err := a.Connect(ctx, "B")
	require.NoError(t, err)
	_, err = l.Receive(ctx)
	assert.ErrorIs(t, err, transport.ErrLinkClosed)
}

func TestScan_SkipsSelf(t *testing.T) {
	self := startNode(t, "A", "me", echo)
	a := New(Config{Peers: []string{self.Addr()}, DeviceID: "A"}, slog.Default())

	found, err := a.Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, found)
}
