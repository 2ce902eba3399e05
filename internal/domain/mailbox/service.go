// Package mailbox: хранение на ретрансляторе: зашифрованные конверты, каталог устройств
// и почтовые ящики кадров транспорта CLOUD. Содержимое конвертов сервер не расшифровывает.
package mailbox

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/exp/slog"

	"companionsync/internal/model"
)

const (
	DefaultLimit     = 100
	MaxLimit         = 1000
	MaxEnvelopeBytes = 4 << 20
	MaxMessageBytes  = 1 << 20
)

type Servicer interface {
	Push(ctx context.Context, accountID int64, env model.Envelope) (bool, error)
	Pull(ctx context.Context, accountID int64, deviceID, cursor string, limit int) ([]model.Envelope, string, error)
	Announce(ctx context.Context, accountID int64, deviceID, name string) error
	Devices(ctx context.Context, accountID int64) ([]model.DirectoryEntry, error)
	Deposit(ctx context.Context, accountID int64, m model.MailboxMessage) (int64, error)
	Fetch(ctx context.Context, accountID int64, deviceID string, after int64, limit int) ([]model.MailboxMessage, error)
	Ack(ctx context.Context, accountID int64, deviceID string, upto int64) (int64, error)
}

type Service struct {
	repo Repository
	log  *slog.Logger
	now  func() time.Time
}

func NewService(repo Repository, log *slog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With(slog.String("component", "mailbox")),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Push сохраняет конверт; повторная отправка того же id ничего не меняет
func (s *Service) Push(ctx context.Context, accountID int64, env model.Envelope) (bool, error) {
	switch {
	case strings.TrimSpace(env.ID) == "":
		return false, fmt.Errorf("%w: id is required", ErrInvalidEnvelope)
	case strings.TrimSpace(env.DeviceID) == "":
		return false, fmt.Errorf("%w: device id is required", ErrInvalidEnvelope)
	case len(env.Data) == 0:
		return false, fmt.Errorf("%w: empty data", ErrInvalidEnvelope)
	case len(env.Data) > MaxEnvelopeBytes:
		return false, ErrTooLarge
	}
	if env.CreatedAt.IsZero() {
		env.CreatedAt = s.now()
	}

	if err := s.repo.TouchDevice(ctx, accountID, env.DeviceID, "", s.now()); err != nil {
		s.log.Warn("failed to update device directory", slog.String("device_id", env.DeviceID), slog.String("error", err.Error()))
	}

	created, err := s.repo.SaveEnvelope(ctx, accountID, env)
	if err != nil {
		return false, fmt.Errorf("save envelope: %w", err)
	}
	s.log.Debug("envelope stored",
		slog.Int64("account_id", accountID),
		slog.String("envelope_id", env.ID),
		slog.Bool("created", created))
	return created, nil
}

// Pull конверты после курсора, кроме собственных конвертов устройства.
// Курсор: последний выданный seq; при пустой выдаче возвращается прежний.
func (s *Service) Pull(ctx context.Context, accountID int64, deviceID, cursor string, limit int) ([]model.Envelope, string, error) {
	after, err := parseCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	if deviceID != "" {
		if err := s.repo.TouchDevice(ctx, accountID, deviceID, "", s.now()); err != nil {
			s.log.Warn("failed to update device directory", slog.String("device_id", deviceID), slog.String("error", err.Error()))
		}
	}

	stored, err := s.repo.EnvelopesAfter(ctx, accountID, after, deviceID, clampLimit(limit))
	if err != nil {
		return nil, "", fmt.Errorf("read envelopes: %w", err)
	}

	out := make([]model.Envelope, len(stored))
	next := cursor
	for i, e := range stored {
		out[i] = e.Envelope
		next = strconv.FormatInt(e.Seq, 10)
	}
	return out, next, nil
}

func (s *Service) Announce(ctx context.Context, accountID int64, deviceID, name string) error {
	if strings.TrimSpace(deviceID) == "" {
		return ErrInvalidDevice
	}
	return s.repo.TouchDevice(ctx, accountID, deviceID, strings.TrimSpace(name), s.now())
}

func (s *Service) Devices(ctx context.Context, accountID int64) ([]model.DirectoryEntry, error) {
	return s.repo.Devices(ctx, accountID)
}

// Deposit кладет кадр в ящик получателя и возвращает его номер
func (s *Service) Deposit(ctx context.Context, accountID int64, m model.MailboxMessage) (int64, error) {
	switch {
	case m.To == "" || m.From == "":
		return 0, fmt.Errorf("%w: sender and recipient are required", ErrInvalidMessage)
	case m.LinkID == "":
		return 0, fmt.Errorf("%w: link id is required", ErrInvalidMessage)
	case m.Type != model.MailboxOpen && m.Type != model.MailboxData && m.Type != model.MailboxClose:
		return 0, fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, m.Type)
	case len(m.Data) > MaxMessageBytes:
		return 0, ErrTooLarge
	}
	m.CreatedAt = s.now()

	id, err := s.repo.PutMessage(ctx, accountID, m)
	if err != nil {
		return 0, fmt.Errorf("store message: %w", err)
	}
	return id, nil
}

func (s *Service) Fetch(ctx context.Context, accountID int64, deviceID string, after int64, limit int) ([]model.MailboxMessage, error) {
	if deviceID == "" {
		return nil, ErrInvalidDevice
	}
	return s.repo.MessagesAfter(ctx, accountID, deviceID, after, clampLimit(limit))
}

// Ack удаляет прочитанные кадры до upto включительно
func (s *Service) Ack(ctx context.Context, accountID int64, deviceID string, upto int64) (int64, error) {
	if deviceID == "" {
		return 0, ErrInvalidDevice
	}
	return s.repo.DeleteMessages(ctx, accountID, deviceID, upto)
}

func parseCursor(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCursor, cursor)
	}
	return n, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}
