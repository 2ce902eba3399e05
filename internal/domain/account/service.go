package account

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/exp/slog"
)

const tokenBytes = 32

type Servicer interface {
	Create(ctx context.Context, name string) (Account, string, error)
	Validate(ctx context.Context, token string) (int64, error)
	Rotate(ctx context.Context, id int64) (string, error)
}

type Service struct {
	repo Repository
	log  *slog.Logger
}

func NewService(repo Repository, log *slog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log,
	}
}

// Create регистрирует аккаунт и выдает bearer-токен. Хранится только хэш токена.
func (s *Service) Create(ctx context.Context, name string) (Account, string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 64 {
		return Account{}, "", ErrInvalidName
	}

	token, hash, err := newToken()
	if err != nil {
		return Account{}, "", err
	}

	acc, err := s.repo.Create(ctx, name, hash)
	if err != nil {
		return Account{}, "", fmt.Errorf("save account: %w", err)
	}
	s.log.Info("account created", slog.Int64("account_id", acc.ID), slog.String("name", acc.Name))
	return acc, token, nil
}

func (s *Service) Validate(ctx context.Context, token string) (int64, error) {
	if token == "" {
		return 0, ErrInvalidToken
	}
	acc, err := s.repo.ByTokenHash(ctx, HashToken(token))
	if err != nil {
		return 0, ErrInvalidToken
	}
	return acc.ID, nil
}

// Rotate выдает новый токен; старый перестает действовать
func (s *Service) Rotate(ctx context.Context, id int64) (string, error) {
	token, hash, err := newToken()
	if err != nil {
		return "", err
	}
	if err := s.repo.UpdateTokenHash(ctx, id, hash); err != nil {
		return "", fmt.Errorf("rotate token: %w", err)
	}
	return token, nil
}

// HashToken sha256 токена в hex
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func newToken() (string, string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generate token: %w", err)
	}
	token := base64.URLEncoding.EncodeToString(b)
	return token, HashToken(token), nil
}
