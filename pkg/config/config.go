package config

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	APIBaseURL string `envconfig:"MARKET_API_URL" default:"http://localhost:8000"`
	TokenDir   string `envconfig:"MARKET_TOKEN_DIR" default:""`   // empty: ~/.config/marketctl
	RedisAddr  string `envconfig:"MARKET_REDIS_ADDR" default:""`  // set to share one session across processes
	PageSize   int    `envconfig:"MARKET_PAGE_SIZE" default:"20"` // catalog page size
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
