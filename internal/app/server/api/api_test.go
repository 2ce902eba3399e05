package api

import (
	"context"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"companionsync/internal/domain/account"
	"companionsync/internal/domain/mailbox"
	"companionsync/internal/infrastructure/transport/cloud"
	"companionsync/internal/model"
)

type staticAccounts map[string]int64

func (s staticAccounts) Create(context.Context, string) (account.Account, string, error) {
	return account.Account{}, "", nil
}

func (s staticAccounts) Validate(_ context.Context, token string) (int64, error) {
	if id, ok := s[token]; ok {
		return id, nil
	}
	return 0, account.ErrInvalidToken
}

func (s staticAccounts) Rotate(context.Context, int64) (string, error) {
	return "", nil
}

// memRepo mailbox.Repository в памяти
type memRepo struct {
	mu        sync.Mutex
	seq       int64
	envelopes map[int64][]mailbox.StoredEnvelope
	devices   map[int64]map[string]model.DirectoryEntry
	messages  map[int64][]model.MailboxMessage
}

func newMemRepo() *memRepo {
	return &memRepo{
		envelopes: make(map[int64][]mailbox.StoredEnvelope),
		devices:   make(map[int64]map[string]model.DirectoryEntry),
		messages:  make(map[int64][]model.MailboxMessage),
	}
}

func (r *memRepo) SaveEnvelope(_ context.Context, acc int64, env model.Envelope) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.envelopes[acc] {
		if e.ID == env.ID {
			return false, nil
		}
	}
	r.seq++
	r.envelopes[acc] = append(r.envelopes[acc], mailbox.StoredEnvelope{Seq: r.seq, Envelope: env})
	return true, nil
}

func (r *memRepo) EnvelopesAfter(_ context.Context, acc, after int64, exclude string, limit int) ([]mailbox.StoredEnvelope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []mailbox.StoredEnvelope
	for _, e := range r.envelopes[acc] {
		if e.Seq > after && e.DeviceID != exclude && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memRepo) TouchDevice(_ context.Context, acc int64, id, name string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.devices[acc] == nil {
		r.devices[acc] = make(map[string]model.DirectoryEntry)
	}
	d := r.devices[acc][id]
	d.DeviceID = id
	if name != "" {
		d.Name = name
	}
	d.LastSeen = at
	r.devices[acc][id] = d
	return nil
}

func (r *memRepo) Devices(_ context.Context, acc int64) ([]model.DirectoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.DirectoryEntry
	for _, d := range r.devices[acc] {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

func (r *memRepo) PutMessage(_ context.Context, acc int64, m model.MailboxMessage) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	m.ID = r.seq
	r.messages[acc] = append(r.messages[acc], m)
	return m.ID, nil
}

func (r *memRepo) MessagesAfter(_ context.Context, acc int64, id string, after int64, limit int) ([]model.MailboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.MailboxMessage
	for _, m := range r.messages[acc] {
		if m.To == id && m.ID > after && len(out) < limit {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memRepo) DeleteMessages(_ context.Context, acc int64, id string, upto int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.messages[acc][:0]
	var n int64
	for _, m := range r.messages[acc] {
		if m.To == id && m.ID <= upto {
			n++
			continue
		}
		kept = append(kept, m)
	}
	r.messages[acc] = kept
	return n, nil
}

func newServer(t *testing.T) *httptest.Server {
	log := slog.Default()
	mux := New(Deps{
		Accounts: staticAccounts{"family": 1, "work": 2},
		Mailbox:  mailbox.NewService(newMemRepo(), log),
	}, log)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestAPI_RelayRoundTrip(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	log := slog.Default()

	phone := cloud.NewClient(srv.URL, "family", "phone", log)
	laptop := cloud.NewClient(srv.URL, "family", "laptop", log)
	stranger := cloud.NewClient(srv.URL, "work", "other", log)

	require.NoError(t, phone.HealthCheck(ctx))

	env := model.Envelope{ID: "e1", DeviceID: "phone", Data: []byte("cipher"), Count: 2}
	require.NoError(t, phone.Push(ctx, env))
	require.NoError(t, phone.Push(ctx, env))

	got, cursor, err := laptop.Pull(ctx, "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []byte("cipher"), got[0].Data)
	assert.Equal(t, 2, got[0].Count)

	got, next, err := laptop.Pull(ctx, cursor)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, cursor, next)

	own, _, err := phone.Pull(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, own, "own envelopes are not returned")

	foreign, _, err := stranger.Pull(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, foreign, "accounts are isolated")
}

func TestAPI_Errors(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()

	bad := cloud.NewClient(srv.URL, "nope", "phone", slog.Default())
	assert.ErrorIs(t, bad.Push(ctx, model.Envelope{ID: "e", DeviceID: "phone", Data: []byte("x")}), cloud.ErrUnauthorized)

	good := cloud.NewClient(srv.URL, "family", "phone", slog.Default())
	_, _, err := good.Pull(ctx, "not-a-number")
	assert.ErrorIs(t, err, cloud.ErrRelay)

	assert.NoError(t, bad.HealthCheck(ctx), "health is public")
}

func TestAPI_DirectoryAndMailbox(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	c := cloud.NewClient(srv.URL, "family", "phone", slog.Default())

	require.NoError(t, c.Announce(ctx, "phone", "Pixel"))
	require.NoError(t, c.Announce(ctx, "tablet", "Galaxy Tab"))
	devices, err := c.Devices(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "Pixel", devices[0].Name)

	id, err := c.Deposit(ctx, model.MailboxMessage{From: "phone", To: "tablet", LinkID: "l1", Type: model.MailboxOpen})
	require.NoError(t, err)
	_, err = c.Deposit(ctx, model.MailboxMessage{From: "phone", To: "tablet", LinkID: "l1", Type: model.MailboxData, Data: []byte("hi")})
	require.NoError(t, err)

	msgs, err := c.Fetch(ctx, "tablet", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, id, msgs[0].ID)
	assert.Equal(t, []byte("hi"), msgs[1].Data)

	require.NoError(t, c.Ack(ctx, "tablet", msgs[1].ID))
	msgs, err = c.Fetch(ctx, "tablet", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
