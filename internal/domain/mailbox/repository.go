package mailbox

import (
	"context"
	"time"

	"companionsync/internal/model"
)

// StoredEnvelope конверт с порядковым номером ретранслятора
type StoredEnvelope struct {
	Seq int64
	model.Envelope
}

type Repository interface {
	// SaveEnvelope false если конверт с таким id уже сохранен
	SaveEnvelope(ctx context.Context, accountID int64, env model.Envelope) (bool, error)
	// EnvelopesAfter конверты с seq > after, кроме отправленных exclude, по возрастанию seq
	EnvelopesAfter(ctx context.Context, accountID, after int64, exclude string, limit int) ([]StoredEnvelope, error)

	TouchDevice(ctx context.Context, accountID int64, deviceID, name string, at time.Time) error
	Devices(ctx context.Context, accountID int64) ([]model.DirectoryEntry, error)

	PutMessage(ctx context.Context, accountID int64, m model.MailboxMessage) (int64, error)
	MessagesAfter(ctx context.Context, accountID int64, deviceID string, after int64, limit int) ([]model.MailboxMessage, error)
	DeleteMessages(ctx context.Context, accountID int64, deviceID string, upto int64) (int64, error)
}
