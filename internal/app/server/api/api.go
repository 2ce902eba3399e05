// Ретранслятор хранит зашифрованные конверты и почтовые ящики устройств одного аккаунта.
// Содержимое конвертов сервер не расшифровывает.

// GET    /api/v1/health                       # Проверка (публичный)
// POST   /api/v1/relay/envelopes              # Отправить конверт (auth)
// GET    /api/v1/relay/envelopes              # Конверты после курсора (auth)
// PUT    /api/v1/devices/{id}                 # Объявить устройство (auth)
// GET    /api/v1/devices                      # Каталог устройств (auth)
// POST   /api/v1/mailbox/{id}/messages        # Кадр в ящик устройства (auth)
// GET    /api/v1/mailbox/{id}/messages        # Прочитать ящик (auth)
// DELETE /api/v1/mailbox/{id}/messages        # Удалить прочитанное (auth)

package api

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/exp/slog"

	healthAPI "companionsync/internal/app/server/api/http/health"
	mailboxAPI "companionsync/internal/app/server/api/http/mailbox"
	"companionsync/internal/app/server/api/http/middleware"
	"companionsync/internal/app/server/api/http/middleware/auth"
	"companionsync/internal/app/server/api/http/middleware/logger"
	relayAPI "companionsync/internal/app/server/api/http/relay"
	"companionsync/internal/domain/account"
	"companionsync/internal/domain/mailbox"
)

type Handlers struct {
	Health  *healthAPI.Handler
	Relay   *relayAPI.Handler
	Mailbox *mailboxAPI.Handler
}

// Deps сервисы, из которых собирается API
type Deps struct {
	DB       healthAPI.Pinger
	Accounts account.Servicer
	Mailbox  mailbox.Servicer
}

// New создает *chi.Mux со всеми операциями через huma.Register
func New(deps Deps, log *slog.Logger) *chi.Mux {
	mux := chi.NewMux()
	mux.Use(chimw.Recoverer)
	mux.Use(chimw.RequestSize(mailbox.MaxEnvelopeBytes * 2))

	config := huma.DefaultConfig("Companion Sync Relay API", "1.0.0")
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearer": {Type: "http", Scheme: "bearer"},
	}

	API := humachi.New(mux, config)

	h := handlers(deps, log)
	h.Health.SetupRoutes(API)
	h.Relay.SetupRoutes(API)
	h.Mailbox.SetupRoutes(API)

	return mux
}

func handlers(deps Deps, log *slog.Logger) *Handlers {
	authMW := auth.New(deps.Accounts, log)
	loggerMW := logger.New(log)
	middlewares := middleware.NewContainer()

	middlewares.Add(loggerMW.Middleware())
	healthHandler := healthAPI.NewHandler(deps.DB, log, middlewares.GetAllAndClear())

	middlewares.Add(loggerMW.Middleware())
	middlewares.Add(authMW.Middleware())
	relayHandler := relayAPI.NewHandler(deps.Mailbox, log, middlewares.GetAllAndClear())

	middlewares.Add(loggerMW.Middleware())
	middlewares.Add(authMW.Middleware())
	mailboxHandler := mailboxAPI.NewHandler(deps.Mailbox, log, middlewares.GetAllAndClear())

	return &Handlers{
		Health:  healthHandler,
		Relay:   relayHandler,
		Mailbox: mailboxHandler,
	}
}
