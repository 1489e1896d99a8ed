package user

import "errors"

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidUsername    = errors.New("invalid username")
	ErrReservedUsername   = errors.New("username is reserved")
	ErrTooManySignups     = errors.New("too many accounts registered from this address")
	ErrInvalidCredentials = errors.New("invalid credentials")
)
