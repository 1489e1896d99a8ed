package user

import "time"

type Account struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Salt         string    `json:"-"`
	DateCreated  time.Time `json:"date_created"`
	IPReference  int64     `json:"-"`
}

type RegisterRequest struct {
	Username string `json:"username" validate:"required,alphanum"`
	Password string `json:"password" validate:"required,min=8,max=56"`
}

type RegisterResponse struct {
	Username string `json:"username"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Username    string `json:"username"`
}
