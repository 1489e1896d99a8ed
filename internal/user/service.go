package user

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var validate = validator.New()

type Config struct {
	JWTSecret         string
	TokenTTL          time.Duration
	NameLenLim        int
	SignupsPerAddress int
}

type Service struct {
	repo *Repository
	cfg  Config
	log  *slog.Logger
}

type MyJWTClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func NewService(repo *Repository, cfg Config, log *slog.Logger) *Service {
	return &Service{
		repo: repo,
		cfg:  cfg,
		log:  log,
	}
}

func (s *Service) Register(ctx context.Context, req *RegisterRequest, sourceAddress string) (*RegisterResponse, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUsername, err)
	}
	if len(req.Username) > s.cfg.NameLenLim {
		return nil, fmt.Errorf("%w: longer than %d characters", ErrInvalidUsername, s.cfg.NameLenLim)
	}
	if strings.HasPrefix(strings.ToLower(req.Username), "guest") {
		return nil, ErrReservedUsername
	}

	ipRef, err := s.repo.RegisterAddress(ctx, sourceAddress)
	if err != nil {
		return nil, err
	}
	salt, err := newSalt()
	if err != nil {
		return nil, err
	}
	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(salt+req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	a := &Account{
		Username:     req.Username,
		PasswordHash: string(hashedPwd),
		Salt:         salt,
		DateCreated:  time.Now().UTC(),
		IPReference:  ipRef,
	}
	if err := s.repo.CreateAccount(ctx, a, s.cfg.SignupsPerAddress); err != nil {
		if errors.Is(err, ErrTooManySignups) {
			s.log.Warn("Signup throttled", "address", sourceAddress)
		}
		return nil, err
	}

	s.log.Info("Account registered", "username", a.Username)
	return &RegisterResponse{Username: a.Username}, nil
}

// Authenticate reports whether password matches the stored account.
func (s *Service) Authenticate(ctx context.Context, username, password string) (bool, error) {
	a, err := s.repo.GetAccount(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(a.Salt+password)) == nil, nil
}

func (s *Service) Login(ctx context.Context, req *RegisterRequest) (*LoginResponse, error) {
	ok, err := s.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, MyJWTClaims{
		Username: req.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   req.Username,
			Issuer:    "chatroom",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.cfg.TokenTTL)),
		},
	})

	ss, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return nil, err
	}

	return &LoginResponse{
		AccessToken: ss,
		Username:    req.Username,
	}, nil
}

func (s *Service) ValidateToken(tokenString string) (string, error) {
	claims := &MyJWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil {
		return "", err
	}
	if !token.Valid || claims.Username == "" {
		return "", ErrInvalidCredentials
	}

	return claims.Username, nil
}

func newSalt() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
