package config

import (
	"fmt"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

var validate = validator.New()

// Config is read from the environment (and an optional .env file).
type Config struct {
	Addr     string `env:"ADDR,default=:8080" validate:"required"`
	LogLevel string `env:"LOG_LEVEL,default=INFO" validate:"oneof=DEBUG INFO WARN ERROR"`

	DBDriver string `env:"DB_DRIVER,default=pgx" validate:"oneof=pgx sqlite3"`
	DBDSN    string `env:"DB_DSN,required=true" validate:"required"`

	// Empty disables the cross-instance relay.
	RedisAddr    string `env:"REDIS_ADDR"`
	RedisChannel string `env:"REDIS_CHANNEL,default=general-chat" validate:"required"`

	JWTSecret string        `env:"JWT_SECRET,required=true" validate:"required"`
	TokenTTL  time.Duration `env:"TOKEN_TTL,default=24h" validate:"gt=0"`

	StoreTimeout time.Duration `env:"STORE_TIMEOUT,default=3s" validate:"gt=0"`

	DefaultPast       int           `env:"DEFAULT_PAST,default=100" validate:"min=0"`
	MsgLenLim         int           `env:"MSG_LEN_LIM,default=1500" validate:"min=1"`
	Period            time.Duration `env:"PERIOD,default=5s" validate:"gt=0"`
	RateLimit         int           `env:"RATE_LIMIT,default=4" validate:"min=1"`
	NameLenLim        int           `env:"NAME_LEN_LIM,default=40" validate:"min=1"`
	CmdPrefix         string        `env:"CMD_PREFIX,default=/" validate:"required"`
	SignupsPerAddress int           `env:"SIGNUPS_PER_ADDRESS,default=3" validate:"min=1"`
	SendBuffer        int           `env:"SEND_BUFFER,default=256" validate:"min=1"`

	GuestLoginURL string `env:"GUEST_LOGIN_URL,default=/login_guest" validate:"required"`
	ChatURL       string `env:"CHAT_URL,default=/chat" validate:"required"`
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
