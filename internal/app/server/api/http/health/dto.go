package health

type Input struct{}

type Output struct {
	Body Response
}

// Response состояние ретранслятора; Database пуст, если хранилище не подключено
type Response struct {
	Status   string `json:"status" example:"OK" doc:"Relay status"`
	Database string `json:"database,omitempty" example:"up" doc:"Envelope store state"`
}
