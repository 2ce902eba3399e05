package session

import (
	"context"
	"encoding/json"
	"fmt"

	"companionsync/internal/domain/transport"
)

const protocolVersion = 1

type frameType string

const (
	frameHello frameType = "hello"
	frameChunk frameType = "chunk"
	frameEnd   frameType = "end"
	frameError frameType = "error"
)

// frame единица обмена сессии. Полезная нагрузка chunk зашифрована кодеком.
type frame struct {
	Type       frameType `json:"type"`
	Version    int       `json:"version,omitempty"`
	DeviceID   string    `json:"device_id,omitempty"`
	DeviceName string    `json:"device_name,omitempty"`
	// Chunks сколько chunk-кадров отправит сторона
	Chunks int `json:"chunks,omitempty"`
	// Proof зашифрованный DeviceID: подтверждает общий ключ группы
	Proof []byte `json:"proof,omitempty"`
	Seq   int    `json:"seq,omitempty"`
	Data  []byte `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// wire обертка над Link со счетчиками байт
type wire struct {
	link     transport.Link
	sent     int64
	received int64
}

func (w *wire) send(ctx context.Context, f frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", f.Type, err)
	}
	if err := w.link.Send(ctx, b); err != nil {
		return err
	}
	w.sent += int64(len(b))
	return nil
}

func (w *wire) receive(ctx context.Context) (frame, error) {
	var f frame
	b, err := w.link.Receive(ctx)
	if err != nil {
		return f, err
	}
	w.received += int64(len(b))
	if err := json.Unmarshal(b, &f); err != nil {
		return f, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if f.Type == frameError {
		return f, fmt.Errorf("%w: %s", ErrRejected, f.Error)
	}
	return f, nil
}

// expect принимает кадр заданного типа
func (w *wire) expect(ctx context.Context, t frameType) (frame, error) {
	f, err := w.receive(ctx)
	if err != nil {
		return f, err
	}
	if f.Type != t {
		return f, fmt.Errorf("%w: got %s, want %s", ErrProtocol, f.Type, t)
	}
	return f, nil
}

// reject сообщает удаленной стороне причину отказа. Ошибка отправки не важна.
func (w *wire) reject(ctx context.Context, reason string) {
	_ = w.send(ctx, frame{Type: frameError, Error: reason})
}
