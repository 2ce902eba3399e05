package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	"companionsync/internal/domain/account"
)

type Auth struct {
	accounts account.Servicer
	log      *slog.Logger
}

func New(accounts account.Servicer, log *slog.Logger) *Auth {
	return &Auth{
		accounts: accounts,
		log:      log.With(slog.String("component", "auth_middleware")),
	}
}

type contextKey string

const AccountIDKey contextKey = "accountID"

// Middleware проверяет bearer-токен аккаунта и кладет его id в контекст
func (a *Auth) Middleware() func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		header := ctx.Header("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			a.log.Warn("missing bearer token", slog.String("path", ctx.URL().Path))
			a.unauthorized(ctx)
			return
		}

		accountID, err := a.accounts.Validate(ctx.Context(), token)
		if err != nil {
			a.log.Warn("token rejected", slog.String("error", err.Error()))
			a.unauthorized(ctx)
			return
		}

		newCtx := context.WithValue(ctx.Context(), AccountIDKey, accountID)
		next(huma.WithContext(ctx, newCtx))
	}
}

func (a *Auth) unauthorized(ctx huma.Context) {
	ctx.SetHeader("Content-Type", "application/json")
	ctx.SetStatus(http.StatusUnauthorized)
	err := json.NewEncoder(ctx.BodyWriter()).Encode(map[string]string{
		"error": "Unauthorized",
	})
	if err != nil {
		a.log.Error("failed to write response", slog.String("error", err.Error()))
	}
}

func GetAccountID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(AccountIDKey).(int64)
	return id, ok
}
