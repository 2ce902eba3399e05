package relay

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

var security = []map[string][]string{{"bearer": {}}}

func (h *Handler) pushOp() huma.Operation {
	return huma.Operation{
		OperationID: "relay-push",
		Method:      http.MethodPost,
		Path:        "/api/v1/relay/envelopes",
		Summary:     "Отправить конверт",
		Description: "Сохраняет зашифрованный конверт. Повторная отправка того же id ничего не меняет",
		Tags:        []string{"relay"},
		Security:    security,
		Middlewares: h.middleware,
	}
}

func (h *Handler) pullOp() huma.Operation {
	return huma.Operation{
		OperationID: "relay-pull",
		Method:      http.MethodGet,
		Path:        "/api/v1/relay/envelopes",
		Summary:     "Получить конверты",
		Description: "Возвращает конверты других устройств аккаунта после курсора",
		Tags:        []string{"relay"},
		Security:    security,
		Middlewares: h.middleware,
	}
}

func (h *Handler) announceOp() huma.Operation {
	return huma.Operation{
		OperationID: "device-announce",
		Method:      http.MethodPut,
		Path:        "/api/v1/devices/{id}",
		Summary:     "Объявить устройство",
		Tags:        []string{"devices"},
		Security:    security,
		Middlewares: h.middleware,
	}
}

func (h *Handler) devicesOp() huma.Operation {
	return huma.Operation{
		OperationID: "device-list",
		Method:      http.MethodGet,
		Path:        "/api/v1/devices",
		Summary:     "Каталог устройств аккаунта",
		Tags:        []string{"devices"},
		Security:    security,
		Middlewares: h.middleware,
	}
}
