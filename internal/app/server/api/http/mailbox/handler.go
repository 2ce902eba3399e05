// Package mailbox: HTTP-операции почтовых ящиков транспорта CLOUD.
package mailbox

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
		log:        log.With(slog.String("component", "mailbox_handler")),
		middleware: mws,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.depositOp(), h.deposit)
	huma.Register(api, h.fetchOp(), h.fetch)
	huma.Register(api, h.ackOp(), h.ack)
}

func (h *Handler) deposit(ctx context.Context, input *depositInput) (*depositOutput, error) {
	accountID, ok := auth.GetAccountID(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("Unauthorized")
	}

	id, err := h.service.Deposit(ctx, accountID, model.MailboxMessage{
		From:   input.Body.From,
		To:     input.ID,
		LinkID: input.Body.LinkID,
		Type:   input.Body.Type,
		Data:   input.Body.Data,
	})
	if err != nil {
		if mailbox.IsValidation(err) {
			return &depositOutput{Body: depositResponse{Status: statusError, Error: err.Error()}}, nil
		}
		h.log.Error("deposit failed", slog.String("to", input.ID), slog.String("error", err.Error()))
		return nil, huma.Error500InternalServerError("failed to store message")
	}
	return &depositOutput{Body: depositResponse{Status: statusOk, ID: id}}, nil
}

func (h *Handler) fetch(ctx context.Context, input *fetchInput) (*fetchOutput, error) {
	accountID, ok := auth.GetAccountID(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("Unauthorized")
	}

	msgs, err := h.service.Fetch(ctx, accountID, input.ID, input.After, input.Limit)
	if err != nil {
		if mailbox.IsValidation(err) {
			return &fetchOutput{Body: fetchResponse{Status: statusError, Messages: []model.MailboxMessage{}, Error: err.Error()}}, nil
		}
		h.log.Error("fetch failed", slog.String("device_id", input.ID), slog.String("error", err.Error()))
		return nil, huma.Error500InternalServerError("failed to read mailbox")
	}
	if msgs == nil {
		msgs = []model.MailboxMessage{}
	}
	return &fetchOutput{Body: fetchResponse{Status: statusOk, Messages: msgs}}, nil
}

func (h *Handler) ack(ctx context.Context, input *ackInput) (*ackOutput, error) {
	accountID, ok := auth.GetAccountID(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("Unauthorized")
	}

	n, err := h.service.Ack(ctx, accountID, input.ID, input.Upto)
	if err != nil {
		if mailbox.IsValidation(err) {
			return &ackOutput{Body: ackResponse{Status: statusError, Error: err.Error()}}, nil
		}
		h.log.Error("ack failed", slog.String("device_id", input.ID), slog.String("error", err.Error()))
		return nil, huma.Error500InternalServerError("failed to clean mailbox")
	}
	return &ackOutput{Body: ackResponse{Status: statusOk, Deleted: n}}, nil
}
