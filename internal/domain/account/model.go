package account

import "time"

// Account владелец группы устройств на ретрансляторе
type Account struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
