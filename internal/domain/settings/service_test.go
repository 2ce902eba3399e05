package settings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"companionsync/internal/infrastructure/storage/memory"
	"companionsync/internal/model"
)

// MockRepository мок хранилища для проверки ошибок
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Get(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *MockRepository) Set(ctx context.Context, key, value string) error {
	args := m.Called(ctx, key, value)
	return args.Error(0)
}

func (m *MockRepository) Delete(ctx context.Context, keys ...string) error {
	args := m.Called(ctx, keys)
	return args.Error(0)
}

func TestService_LoadDefaults(t *testing.T) {
	s := NewService(memory.NewKV(), slog.Default())
	require.NoError(t, s.Load(context.Background()))

	assert.Equal(t, model.DefaultSyncConfiguration(), s.Config())
	assert.False(t, s.Enabled())
}

func TestService_UpdatePersists(t *testing.T) {
	ctx := context.Background()
	kv := memory.NewKV()

	s := NewService(kv, slog.Default())
	require.NoError(t, s.Load(ctx))

	cfg := s.Config()
	cfg.SyncPersonality = false
	cfg.AutoSyncIntervalMs = 60000
	require.NoError(t, s.Update(ctx, cfg))
	require.NoError(t, s.SetEnabled(ctx, true))

	reloaded := NewService(kv, slog.Default())
	require.NoError(t, reloaded.Load(ctx))

	assert.Equal(t, cfg, reloaded.Config())
	assert.True(t, reloaded.Enabled())

	interval, err := kv.Get(ctx, keySyncInterval)
	require.NoError(t, err)
	assert.Equal(t, "60000", interval)
}

func TestService_UpdateRejectsInvalid(t *testing.T) {
	s := NewService(memory.NewKV(), slog.Default())

	cfg := model.DefaultSyncConfiguration()
	cfg.AutoSyncIntervalMs = 0
	assert.Error(t, s.Update(context.Background(), cfg))
	assert.Equal(t, model.DefaultSyncConfiguration(), s.Config())

	cfg.AutoSyncIntervalMs = model.MaxAutoSyncIntervalMs + 1
	assert.Error(t, s.Update(context.Background(), cfg))
	assert.Equal(t, model.DefaultSyncConfiguration(), s.Config())
}

func TestService_LoadCorruptedConfig(t *testing.T) {
	ctx := context.Background()
	kv := memory.NewKV()
	require.NoError(t, kv.Set(ctx, keySyncConfig, "{not json"))

	s := NewService(kv, slog.Default())
	require.NoError(t, s.Load(ctx))
	assert.Equal(t, model.DefaultSyncConfiguration(), s.Config())
}

func TestService_LastSyncAndCursor(t *testing.T) {
	ctx := context.Background()
	s := NewService(memory.NewKV(), slog.Default())

	_, ok, err := s.LastSync(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetLastSync(ctx, now))
	require.NoError(t, s.SetRelayCursor(ctx, "42"))

	got, ok, err := s.LastSync(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, now.Equal(got))

	cursor, err := s.RelayCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, "42", cursor)

	require.NoError(t, s.ClearSyncState(ctx))
	_, ok, err = s.LastSync(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	cursor, err = s.RelayCursor(ctx)
	require.NoError(t, err)
	assert.Empty(t, cursor)
}

func TestService_SetEnabled_RepositoryError(t *testing.T) {
	repo := new(MockRepository)
	repo.On("Set", mock.Anything, keySyncEnabled, "true").Return(errors.New("read-only"))

	s := NewService(repo, slog.Default())
	err := s.SetEnabled(context.Background(), true)

	assert.ErrorContains(t, err, "read-only")
	assert.False(t, s.Enabled())
	repo.AssertExpectations(t)
}

func TestService_Load_RepositoryError(t *testing.T) {
	repo := new(MockRepository)
	repo.On("Get", mock.Anything, keySyncConfig).Return("", errors.New("io error"))

	s := NewService(repo, slog.Default())
	assert.ErrorContains(t, s.Load(context.Background()), "io error")
}
