package cloud

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"companionsync/internal/domain/transport"
	"companionsync/internal/model"
)

const (
	DefaultPollInterval = time.Second
	linkBuffer          = 256
	closeTimeout        = 5 * time.Second
)

// Transport канал CLOUD: кадры канала передаются через почтовые ящики ретранслятора.
// Один опрос своего ящика обслуживает все каналы устройства.
type Transport struct {
	client     *Client
	deviceID   string
	deviceName string
	poll       time.Duration
	log        *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	links      map[string]*mailLink
	handler    transport.IncomingHandler
	handlerCtx context.Context
	polling    bool
}

func NewTransport(client *Client, deviceID, deviceName string, poll time.Duration, log *slog.Logger) *Transport {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		client:     client,
		deviceID:   deviceID,
		deviceName: deviceName,
		poll:       poll,
		log:        log.With(slog.String("component", "cloud_transport")),
		ctx:        ctx,
		cancel:     cancel,
		links:      make(map[string]*mailLink),
	}
}

func (t *Transport) Kind() model.TransportKind {
	return model.TransportCloud
}

// Scan объявляет устройство и возвращает остальные устройства аккаунта
func (t *Transport) Scan(ctx context.Context) ([]model.DiscoveredDevice, error) {
	if err := t.client.Announce(ctx, t.deviceID, t.deviceName); err != nil {
		return nil, err
	}
	entries, err := t.client.Devices(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]model.DiscoveredDevice, 0, len(entries))
	for _, e := range entries {
		if e.DeviceID == t.deviceID {
			continue
		}
		name := e.Name
		if name == "" {
			name = e.DeviceID
		}
		out = append(out, model.DiscoveredDevice{
			ID:        e.DeviceID,
			Name:      name,
			Kind:      model.InferDeviceKind(name),
			Transport: model.TransportCloud,
		})
	}
	return out, nil
}

func (t *Transport) Connect(ctx context.Context, deviceID string) (transport.Link, error) {
	t.ensurePolling()

	l := t.register(uuid.NewString(), deviceID)
	_, err := t.client.Deposit(ctx, model.MailboxMessage{
		From:   t.deviceID,
		To:     deviceID,
		LinkID: l.id,
		Type:   model.MailboxOpen,
	})
	if err != nil {
		t.unregister(l.id)
		return nil, fmt.Errorf("failed to open link to %s: %w", deviceID, err)
	}
	return l, nil
}

// Listen принимает каналы, открытые другими устройствами, до отмены ctx
func (t *Transport) Listen(ctx context.Context, handler transport.IncomingHandler) error {
	t.mu.Lock()
	t.handler = handler
	t.handlerCtx = ctx
	t.mu.Unlock()
	t.ensurePolling()

	if err := t.client.Announce(ctx, t.deviceID, t.deviceName); err != nil {
		t.log.Warn("failed to announce device", slog.String("error", err.Error()))
	}

	<-ctx.Done()

	t.mu.Lock()
	t.handler = nil
	t.handlerCtx = nil
	t.mu.Unlock()
	return nil
}

// Close останавливает опрос и закрывает каналы
func (t *Transport) Close() error {
	t.cancel()
	t.wg.Wait()

	t.mu.Lock()
	links := make([]*mailLink, 0, len(t.links))
	for _, l := range t.links {
		links = append(links, l)
	}
	t.mu.Unlock()
	for _, l := range links {
		l.closeRemote()
	}
	return nil
}

func (t *Transport) ensurePolling() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.polling || t.ctx.Err() != nil {
		return
	}
	t.polling = true
	t.wg.Add(1)
	go t.pollLoop()
}

func (t *Transport) pollLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()

	var after int64
	for {
		msgs, err := t.client.Fetch(t.ctx, t.deviceID, after)
		if err != nil && t.ctx.Err() == nil {
			t.log.Debug("mailbox poll failed", slog.String("error", err.Error()))
		}
		for _, m := range msgs {
			t.dispatch(m)
			if m.ID > after {
				after = m.ID
			}
		}
		if len(msgs) > 0 {
			if err := t.client.Ack(t.ctx, t.deviceID, after); err != nil && t.ctx.Err() == nil {
				t.log.Warn("mailbox ack failed", slog.String("error", err.Error()))
			}
			// есть еще кадры: опросить сразу
			continue
		}

		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (t *Transport) dispatch(m model.MailboxMessage) {
	switch m.Type {
	case model.MailboxOpen:
		t.mu.Lock()
		handler, ctx := t.handler, t.handlerCtx
		t.mu.Unlock()
		if handler == nil {
			t.log.Debug("link refused, not listening", slog.String("from", m.From))
			t.sendClose(m.From, m.LinkID)
			return
		}
		l := t.register(m.LinkID, m.From)
		go handler(ctx, l)

	case model.MailboxData:
		if l, ok := t.lookup(m.LinkID); ok {
			l.deliver(t.ctx, m.Data)
		}

	case model.MailboxClose:
		if l, ok := t.lookup(m.LinkID); ok {
			l.closeRemote()
		}
	}
}

func (t *Transport) register(id, peer string) *mailLink {
	l := &mailLink{
		t:      t,
		id:     id,
		peer:   peer,
		in:     make(chan []byte, linkBuffer),
		closed: make(chan struct{}),
	}
	t.mu.Lock()
	t.links[id] = l
	t.mu.Unlock()
	return l
}

func (t *Transport) unregister(id string) {
	t.mu.Lock()
	delete(t.links, id)
	t.mu.Unlock()
}

func (t *Transport) lookup(id string) (*mailLink, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.links[id]
	return l, ok
}

func (t *Transport) sendClose(peer, linkID string) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	_, err := t.client.Deposit(ctx, model.MailboxMessage{
		From:   t.deviceID,
		To:     peer,
		LinkID: linkID,
		Type:   model.MailboxClose,
	})
	if err != nil {
		t.log.Debug("failed to send close", slog.String("link_id", linkID), slog.String("error", err.Error()))
	}
}

// mailLink канал поверх почтовых ящиков
type mailLink struct {
	t      *Transport
	id     string
	peer   string
	in     chan []byte
	closed chan struct{}
	once   sync.Once
}

func (l *mailLink) Send(ctx context.Context, msg []byte) error {
	select {
	case <-l.closed:
		return transport.ErrLinkClosed
	default:
	}
	_, err := l.t.client.Deposit(ctx, model.MailboxMessage{
		From:   l.t.deviceID,
		To:     l.peer,
		LinkID: l.id,
		Type:   model.MailboxData,
		Data:   msg,
	})
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (l *mailLink) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-l.in:
		return msg, nil
	default:
	}
	select {
	case msg := <-l.in:
		return msg, nil
	case <-l.closed:
		// кадры, пришедшие до закрытия, отдаются первыми
		select {
		case msg := <-l.in:
			return msg, nil
		default:
		}
		return nil, transport.ErrLinkClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *mailLink) Disconnect() error {
	l.once.Do(func() {
		close(l.closed)
		l.t.unregister(l.id)
		l.t.sendClose(l.peer, l.id)
	})
	return nil
}

func (l *mailLink) deliver(ctx context.Context, data []byte) {
	select {
	case l.in <- data:
	case <-l.closed:
	case <-ctx.Done():
	}
}

func (l *mailLink) closeRemote() {
	l.once.Do(func() {
		close(l.closed)
		l.t.unregister(l.id)
	})
}
