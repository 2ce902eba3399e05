package account

import "context"

type Repository interface {
	Create(ctx context.Context, name, tokenHash string) (Account, error)
	// ByTokenHash возвращает ErrInvalidToken, если токен неизвестен
	ByTokenHash(ctx context.Context, tokenHash string) (Account, error)
	UpdateTokenHash(ctx context.Context, id int64, tokenHash string) error
}
