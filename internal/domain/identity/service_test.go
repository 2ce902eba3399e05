package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"companionsync/internal/model"
)

// MockRepository мок key/value хранилища
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

func TestService_Load_GeneratesDeviceID(t *testing.T) {
	repo := new(MockRepository)
	repo.On("Get", mock.Anything, keyDeviceID).Return("", model.ErrNotFound)
	repo.On("Set", mock.Anything, keyDeviceID, mock.MatchedBy(func(v string) bool {
		_, err := uuid.Parse(v)
		return err == nil
	})).Return(nil)
	repo.On("Get", mock.Anything, keyDeviceName).Return("", model.ErrNotFound)

	s := NewService(repo, slog.Default())
	s.hostname = func() (string, error) { return "workstation", nil }

	id, err := s.Load(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, id.DeviceID)
	assert.Equal(t, "workstation", id.DeviceName)
	assert.NotEmpty(t, id.SessionID)
	assert.Equal(t, id, s.Identity())
	repo.AssertExpectations(t)
}

func TestService_Load_KeepsDeviceIDAndRegeneratesSession(t *testing.T) {
	repo := new(MockRepository)
	repo.On("Get", mock.Anything, keyDeviceID).Return("c0ffee00-0000-4000-8000-000000000001", nil)
	repo.On("Get", mock.Anything, keyDeviceName).Return("kitchen tablet", nil)

	s := NewService(repo, slog.Default())

	first, err := s.Load(context.Background())
	require.NoError(t, err)
	second, err := s.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.DeviceID, second.DeviceID)
	assert.Equal(t, "kitchen tablet", second.DeviceName)
	assert.NotEqual(t, first.SessionID, second.SessionID)
	repo.AssertNotCalled(t, "Set", mock.Anything, keyDeviceID, mock.Anything)
}

func TestService_Load_FallbackName(t *testing.T) {
	repo := new(MockRepository)
	repo.On("Get", mock.Anything, keyDeviceID).Return("id-1", nil)
	repo.On("Get", mock.Anything, keyDeviceName).Return("", model.ErrNotFound)

	s := NewService(repo, slog.Default())
	s.hostname = func() (string, error) { return "", errors.New("no hostname") }

	id, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, defaultDeviceName, id.DeviceName)
}

func TestService_Load_RepositoryError(t *testing.T) {
	repo := new(MockRepository)
	repo.On("Get", mock.Anything, keyDeviceID).Return("", errors.New("disk failure"))

	s := NewService(repo, slog.Default())

	_, err := s.Load(context.Background())
	assert.ErrorContains(t, err, "disk failure")
}

func TestService_SetDeviceName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{name: "valid", input: "  studio laptop "},
		{name: "empty", input: "   ", wantErr: ErrInvalidName},
		{name: "too long", input: string(make([]byte, 65)), wantErr: ErrInvalidName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockRepository)
			repo.On("Get", mock.Anything, keyDeviceID).Return("id-1", nil)
			repo.On("Get", mock.Anything, keyDeviceName).Return("old", nil)
			repo.On("Set", mock.Anything, keyDeviceName, "studio laptop").Return(nil)

			s := NewService(repo, slog.Default())
			_, err := s.Load(context.Background())
			require.NoError(t, err)

			err = s.SetDeviceName(context.Background(), tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, "old", s.DeviceName())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "studio laptop", s.DeviceName())
		})
	}
}

func TestService_SetDeviceName_NotLoaded(t *testing.T) {
	s := NewService(new(MockRepository), slog.Default())
	assert.ErrorIs(t, s.SetDeviceName(context.Background(), "name"), ErrNotLoaded)
}
