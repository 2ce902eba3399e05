package relay

import "companionsync/internal/model"

type pushInput struct {
	Body pushRequest
}

type pushRequest struct {
	Envelope model.Envelope `json:"envelope" doc:"Зашифрованный пакет операций"`
}

type pushOutput struct {
	Body pushResponse
}

type pushResponse struct {
	Status  string `json:"status"`
	Created bool   `json:"created"`
	Error   string `json:"error,omitempty"`
}

type pullInput struct {
	Cursor   string `query:"cursor" doc:"Курсор, полученный в прошлом ответе"`
	DeviceID string `query:"device_id" doc:"Устройство, чьи конверты не нужно возвращать"`
	Limit    int    `query:"limit" minimum:"0" doc:"Максимум конвертов в ответе"`
}

type pullOutput struct {
	Body pullResponse
}

type pullResponse struct {
	Status    string           `json:"status"`
	Envelopes []model.Envelope `json:"envelopes"`
	Cursor    string           `json:"cursor"`
	Error     string           `json:"error,omitempty"`
}

type announceInput struct {
	ID   string `path:"id" doc:"ID устройства"`
	Body announceRequest
}

type announceRequest struct {
	Name string `json:"name" required:"false" doc:"Имя устройства"`
}

type statusOutput struct {
	Body statusResponse
}

type statusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type devicesOutput struct {
	Body devicesResponse
}

type devicesResponse struct {
	Status  string                 `json:"status"`
	Devices []model.DirectoryEntry `json:"devices"`
	Error   string                 `json:"error,omitempty"`
}
