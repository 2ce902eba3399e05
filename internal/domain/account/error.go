package account

import "errors"

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrInvalidName  = errors.New("account name must be 1..64 characters")
	ErrNameTaken    = errors.New("account name already taken")
)
