// Package relay: HTTP-операции push/pull конвертов и каталога устройств.
package relay

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	"companionsync/internal/app/server/api/http/middleware/auth"
	"companionsync/internal/domain/mailbox"
	"companionsync/internal/model"
)

const (
	statusOk    = "Ok"
	statusError = "Error"
)

type Handler struct {
	service    mailbox.Servicer
	log        *slog.Logger
	middleware huma.Middlewares
}

func NewHandler(service mailbox.Servicer, log *slog.Logger, mws huma.Middlewares) *Handler {
	return &Handler{
		service:    service,
		log:        log.With(slog.String("component", "relay_handler")),
		middleware: mws,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.pushOp(), h.push)
	huma.Register(api, h.pullOp(), h.pull)
	huma.Register(api, h.announceOp(), h.announce)
	huma.Register(api, h.devicesOp(), h.devices)
}

func (h *Handler) push(ctx context.Context, input *pushInput) (*pushOutput, error) {
	accountID, ok := auth.GetAccountID(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("Unauthorized")
	}

	created, err := h.service.Push(ctx, accountID, input.Body.Envelope)
	if err != nil {
		if mailbox.IsValidation(err) {
			return &pushOutput{Body: pushResponse{Status: statusError, Error: err.Error()}}, nil
		}
		h.log.Error("push failed", slog.Int64("account_id", accountID), slog.String("error", err.Error()))
		return nil, huma.Error500InternalServerError("failed to store envelope")
	}

	return &pushOutput{Body: pushResponse{Status: statusOk, Created: created}}, nil
}

func (h *Handler) pull(ctx context.Context, input *pullInput) (*pullOutput, error) {
	accountID, ok := auth.GetAccountID(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("Unauthorized")
	}

	envs, cursor, err := h.service.Pull(ctx, accountID, input.DeviceID, input.Cursor, input.Limit)
	if err != nil {
		if mailbox.IsValidation(err) {
			return &pullOutput{Body: pullResponse{Status: statusError, Envelopes: []model.Envelope{}, Error: err.Error()}}, nil
		}
		h.log.Error("pull failed", slog.Int64("account_id", accountID), slog.String("error", err.Error()))
		return nil, huma.Error500InternalServerError("failed to read envelopes")
	}
	if envs == nil {
		envs = []model.Envelope{}
	}

	return &pullOutput{Body: pullResponse{Status: statusOk, Envelopes: envs, Cursor: cursor}}, nil
}

func (h *Handler) announce(ctx context.Context, input *announceInput) (*statusOutput, error) {
	accountID, ok := auth.GetAccountID(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("Unauthorized")
	}

	if err := h.service.Announce(ctx, accountID, input.ID, input.Body.Name); err != nil {
		if mailbox.IsValidation(err) {
			return &statusOutput{Body: statusResponse{Status: statusError, Error: err.Error()}}, nil
		}
		h.log.Error("announce failed", slog.String("device_id", input.ID), slog.String("error", err.Error()))
		return nil, huma.Error500InternalServerError("failed to update directory")
	}
	return &statusOutput{Body: statusResponse{Status: statusOk}}, nil
}

func (h *Handler) devices(ctx context.Context, _ *struct{}) (*devicesOutput, error) {
	accountID, ok := auth.GetAccountID(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("Unauthorized")
	}

	list, err := h.service.Devices(ctx, accountID)
	if err != nil {
		h.log.Error("list devices failed", slog.String("error", err.Error()))
		return nil, huma.Error500InternalServerError("failed to list devices")
	}
	if list == nil {
		list = []model.DirectoryEntry{}
	}
	return &devicesOutput{Body: devicesResponse{Status: statusOk, Devices: list}}, nil
}
