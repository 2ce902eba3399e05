package health

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

// healthCheckOp открыт без токена: клиент проверяет адрес ретранслятора до настройки аккаунта
func (h *Handler) healthCheckOp() huma.Operation {
	return huma.Operation{
		OperationID: "relay-health",
		Method:      http.MethodGet,
		Path:        "/api/v1/health",
		Summary:     "Relay health",
		Description: "Reports whether the relay is up and its envelope store answers",
		Tags:        []string{"health"},
		Middlewares: h.middleware,
	}
}
