package mailbox

import "companionsync/internal/model"

type depositInput struct {
	ID   string `path:"id" doc:"Получатель"`
	Body depositRequest
}

type depositRequest struct {
	From   string `json:"from" minLength:"1"`
	LinkID string `json:"link_id" minLength:"1"`
	Type   string `json:"type" enum:"open,data,close"`
	Data   []byte `json:"data,omitempty"`
	// остальные поля MailboxMessage заполняет сервер
	ID        int64  `json:"id,omitempty"`
	To        string `json:"to,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

type depositOutput struct {
	Body depositResponse
}

type depositResponse struct {
	Status string `json:"status"`
	ID     int64  `json:"id,omitempty"`
	Error  string `json:"error,omitempty"`
}

type fetchInput struct {
	ID    string `path:"id"`
	After int64  `query:"after" minimum:"0" doc:"Вернуть кадры с номером больше after"`
	Limit int    `query:"limit" minimum:"0"`
}

type fetchOutput struct {
	Body fetchResponse
}

type fetchResponse struct {
	Status   string                 `json:"status"`
	Messages []model.MailboxMessage `json:"messages"`
	Error    string                 `json:"error,omitempty"`
}

type ackInput struct {
	ID   string `path:"id"`
	Upto int64  `query:"upto" minimum:"0" doc:"Удалить кадры до upto включительно"`
}

type ackOutput struct {
	Body ackResponse
}

type ackResponse struct {
	Status  string `json:"status"`
	Deleted int64  `json:"deleted"`
	Error   string `json:"error,omitempty"`
}
