// Package loopback: транспорт внутри процесса. Соединяет движки, зарегистрированные
// в одной Network; используется в тестах и для локальной проверки протокола.
package loopback

import (
	"context"
	"sync"
	"time"

	"companionsync/internal/domain/transport"
	"companionsync/internal/model"
)

const linkBuffer = 64

// Network общий "эфир" для loopback-транспортов
type Network struct {
	mu    sync.RWMutex
	nodes map[string]*Transport
}

func NewNetwork() *Network {
	return &Network{nodes: make(map[string]*Transport)}
}

func (n *Network) join(t *Transport) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nodes[t.deviceID] = t
}

// Leave убирает устройство из сети
func (n *Network) Leave(deviceID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.nodes, deviceID)
}

func (n *Network) node(deviceID string) (*Transport, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	t, ok := n.nodes[deviceID]
	return t, ok
}

func (n *Network) peers(kind model.TransportKind, self string) []*Transport {
	n.mu.RLock()
	defer n.mu.RUnlock()
	var out []*Transport
	for id, t := range n.nodes {
		if id != self && t.kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// Transport узел loopback-сети, выдающий себя за транспорт заданного вида
type Transport struct {
	net        *Network
	kind       model.TransportKind
	deviceID   string
	deviceName string

	// ConnectDelay задержка установления соединения
	ConnectDelay time.Duration
	// ConnectErr ошибка, возвращаемая Connect
	ConnectErr error
	// ScanDelay задержка сканирования
	ScanDelay time.Duration

	mu        sync.RWMutex
	handler   transport.IncomingHandler
	listenCtx context.Context
}

// New подключает устройство к сети
func New(net *Network, kind model.TransportKind, deviceID, deviceName string) *Transport {
	t := &Transport{
		net:        net,
		kind:       kind,
		deviceID:   deviceID,
		deviceName: deviceName,
	}
	net.join(t)
	return t
}

func (t *Transport) Kind() model.TransportKind {
	return t.kind
}

func (t *Transport) Scan(ctx context.Context) ([]model.DiscoveredDevice, error) {
	if t.ScanDelay > 0 {
		select {
		case <-time.After(t.ScanDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	var out []model.DiscoveredDevice
	for _, p := range t.net.peers(t.kind, t.deviceID) {
		out = append(out, model.DiscoveredDevice{
			ID:        p.deviceID,
			Name:      p.deviceName,
			Kind:      model.InferDeviceKind(p.deviceName),
			Transport: t.kind,
		})
	}
	return out, nil
}

func (t *Transport) Connect(ctx context.Context, deviceID string) (transport.Link, error) {
	if t.ConnectDelay > 0 {
		select {
		case <-time.After(t.ConnectDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if t.ConnectErr != nil {
		return nil, t.ConnectErr
	}

	peer, ok := t.net.node(deviceID)
	if !ok {
		return nil, transport.ErrUnknownPeer
	}
	peer.mu.RLock()
	handler, listenCtx := peer.handler, peer.listenCtx
	peer.mu.RUnlock()
	if handler == nil {
		return nil, transport.ErrUnknownPeer
	}

	local, remote := Pipe()
	go handler(listenCtx, remote)
	return local, nil
}

// Listen регистрирует обработчик входящих соединений до отмены ctx
func (t *Transport) Listen(ctx context.Context, handler transport.IncomingHandler) error {
	t.mu.Lock()
	t.handler = handler
	t.listenCtx = ctx
	t.mu.Unlock()

	<-ctx.Done()

	t.mu.Lock()
	t.handler = nil
	t.mu.Unlock()
	return nil
}

// Pipe пара связанных соединений
func Pipe() (transport.Link, transport.Link) {
	ab := make(chan []byte, linkBuffer)
	ba := make(chan []byte, linkBuffer)
	closed := make(chan struct{})
	once := &sync.Once{}

	a := &pipeEnd{in: ba, out: ab, closed: closed, once: once}
	b := &pipeEnd{in: ab, out: ba, closed: closed, once: once}
	return a, b
}

type pipeEnd struct {
	in     <-chan []byte
	out    chan<- []byte
	closed chan struct{}
	once   *sync.Once
}

func (p *pipeEnd) Send(ctx context.Context, msg []byte) error {
	select {
	case <-p.closed:
		return transport.ErrLinkClosed
	default:
	}

	buf := append([]byte(nil), msg...)
	select {
	case p.out <- buf:
		return nil
	case <-p.closed:
		return transport.ErrLinkClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-p.in:
		return msg, nil
	default:
	}

	select {
	case msg := <-p.in:
		return msg, nil
	case <-p.closed:
		return nil, transport.ErrLinkClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeEnd) Disconnect() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}
