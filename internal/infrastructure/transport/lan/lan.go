// Package lan: транспорт WIFI поверх websocket в локальной сети.
// Каждый узел поднимает HTTP-сервер: GET /hello описывает устройство, GET /sync открывает канал.
package lan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/errgroup"

	"companionsync/internal/domain/transport"
	"companionsync/internal/model"
)

const (
	maxMessageBytes = 8 << 20
	probeTimeout    = 3 * time.Second
	probeParallel   = 8
)

// Hello ответ /hello
type Hello struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
}

type Config struct {
	// ListenAddr адрес входящих соединений, при пустом только исходящие
	ListenAddr string
	// Peers адреса host:port, опрашиваемые при сканировании
	Peers      []string
	DeviceID   string
	DeviceName string
}

type Transport struct {
	cfg    Config
	log    *slog.Logger
	client *http.Client

	mu    sync.RWMutex
	known map[string]string // device id -> address
	addr  string
	ready chan struct{}
}

func New(cfg Config, log *slog.Logger) *Transport {
	return &Transport{
		cfg:    cfg,
		log:    log.With(slog.String("component", "lan_transport")),
		client: &http.Client{Timeout: probeTimeout},
		known:  make(map[string]string),
		ready:  make(chan struct{}),
	}
}

func (t *Transport) Kind() model.TransportKind {
	return model.TransportWifi
}

// Scan опрашивает известные адреса; недоступные узлы пропускаются
func (t *Transport) Scan(ctx context.Context) ([]model.DiscoveredDevice, error) {
	var (
		mu  sync.Mutex
		out []model.DiscoveredDevice
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(probeParallel)
	for _, peer := range t.cfg.Peers {
		peer := peer
		g.Go(func() error {
			h, err := t.probe(gctx, peer)
			if err != nil {
				t.log.Debug("peer not reachable", slog.String("addr", peer), slog.String("error", err.Error()))
				return nil
			}
			if h.DeviceID == t.cfg.DeviceID {
				return nil
			}

			t.mu.Lock()
			t.known[h.DeviceID] = peer
			t.mu.Unlock()

			mu.Lock()
			out = append(out, model.DiscoveredDevice{
				ID:        h.DeviceID,
				Name:      h.DeviceName,
				Kind:      model.InferDeviceKind(h.DeviceName),
				Transport: model.TransportWifi,
			})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

func (t *Transport) probe(ctx context.Context, addr string) (Hello, error) {
	var h Hello
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/hello", nil)
	if err != nil {
		return h, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return h, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return h, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return h, fmt.Errorf("failed to decode hello: %w", err)
	}
	return h, nil
}

// Connect открывает websocket к устройству. Неизвестный адрес ищется сканированием.
func (t *Transport) Connect(ctx context.Context, deviceID string) (transport.Link, error) {
	addr, ok := t.lookup(deviceID)
	if !ok {
		if _, err := t.Scan(ctx); err != nil {
			return nil, err
		}
		if addr, ok = t.lookup(deviceID); !ok {
			return nil, transport.ErrUnknownPeer
		}
	}

	q := url.Values{}
	q.Set("from", t.cfg.DeviceID)
	q.Set("to", deviceID)
	conn, resp, err := websocket.Dial(ctx, "ws://"+addr+"/sync?"+q.Encode(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, transport.ErrUnknownPeer
		}
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	conn.SetReadLimit(maxMessageBytes)
	return &link{conn: conn}, nil
}

func (t *Transport) lookup(deviceID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	addr, ok := t.known[deviceID]
	return addr, ok
}

// Listen принимает соединения до отмены ctx
func (t *Transport) Listen(ctx context.Context, handler transport.IncomingHandler) error {
	if t.cfg.ListenAddr == "" {
		<-ctx.Done()
		return nil
	}

	ln, err := net.Listen("tcp", t.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", t.cfg.ListenAddr, err)
	}

	srv := &http.Server{
		Handler:           t.router(ctx, handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	t.mu.Lock()
	t.addr = ln.Addr().String()
	t.mu.Unlock()
	close(t.ready)
	t.log.Info("lan transport listening", slog.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	return nil
}

// Ready закрывается, когда сервер начал принимать соединения
func (t *Transport) Ready() <-chan struct{} {
	return t.ready
}

// Addr фактический адрес сервера
func (t *Transport) Addr() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.addr
}

func (t *Transport) router(ctx context.Context, handler transport.IncomingHandler) http.Handler {
	r := chi.NewRouter()

	r.Get("/hello", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Hello{DeviceID: t.cfg.DeviceID, DeviceName: t.cfg.DeviceName})
	})

	r.Get("/sync", func(w http.ResponseWriter, r *http.Request) {
		if to := r.URL.Query().Get("to"); to != "" && to != t.cfg.DeviceID {
			http.Error(w, "unknown device", http.StatusNotFound)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.log.Warn("websocket upgrade failed", slog.String("error", err.Error()))
			return
		}
		conn.SetReadLimit(maxMessageBytes)

		t.log.Debug("incoming link",
			slog.String("from", r.URL.Query().Get("from")),
			slog.String("remote", r.RemoteAddr))

		handler(ctx, &link{conn: conn})
	})

	return r
}

// link websocket-соединение как transport.Link; одно сообщение websocket соответствует одному сообщению канала
type link struct {
	conn *websocket.Conn
	once sync.Once
}

func (l *link) Send(ctx context.Context, msg []byte) error {
	if err := l.conn.Write(ctx, websocket.MessageBinary, msg); err != nil {
		return mapErr(ctx, err)
	}
	return nil
}

func (l *link) Receive(ctx context.Context) ([]byte, error) {
	_, data, err := l.conn.Read(ctx)
	if err != nil {
		return nil, mapErr(ctx, err)
	}
	return data, nil
}

func (l *link) Disconnect() error {
	var err error
	l.once.Do(func() {
		err = l.conn.Close(websocket.StatusNormalClosure, "")
		if websocket.CloseStatus(err) != -1 || errors.Is(err, net.ErrClosed) {
			err = nil
		}
	})
	return err
}

func mapErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if websocket.CloseStatus(err) != -1 || errors.Is(err, net.ErrClosed) {
		return transport.ErrLinkClosed
	}
	return err
}
