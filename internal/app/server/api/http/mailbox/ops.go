package mailbox

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

var security = []map[string][]string{{"bearer": {}}}

func (h *Handler) depositOp() huma.Operation {
	return huma.Operation{
		OperationID: "mailbox-deposit",
		Method:      http.MethodPost,
		Path:        "/api/v1/mailbox/{id}/messages",
		Summary:     "Положить кадр в ящик устройства",
		Tags:        []string{"mailbox"},
		Security:    security,
		Middlewares: h.middleware,
	}
}

func (h *Handler) fetchOp() huma.Operation {
	return huma.Operation{
		OperationID: "mailbox-fetch",
		Method:      http.MethodGet,
		Path:        "/api/v1/mailbox/{id}/messages",
		Summary:     "Прочитать кадры из ящика",
		Tags:        []string{"mailbox"},
		Security:    security,
		Middlewares: h.middleware,
	}
}

func (h *Handler) ackOp() huma.Operation {
	return huma.Operation{
		OperationID: "mailbox-ack",
		Method:      http.MethodDelete,
		Path:        "/api/v1/mailbox/{id}/messages",
		Summary:     "Удалить прочитанные кадры",
		Tags:        []string{"mailbox"},
		Security:    security,
		Middlewares: h.middleware,
	}
}
