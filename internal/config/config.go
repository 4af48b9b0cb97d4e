package config

import (
	"sync"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfighcl"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	Addr            string        `hcl:"addr" env:"ADDR" default:":8145"`
	DBPath          string        `hcl:"db_path" env:"DB_PATH" default:"omnivore.db"`
	FetchTimeout    time.Duration `hcl:"fetch_timeout" env:"FETCH_TIMEOUT" default:"30s"`
	LookupTimeout   time.Duration `hcl:"lookup_timeout" env:"LOOKUP_TIMEOUT" default:"10s"`
	RefreshCooldown time.Duration `hcl:"refresh_cooldown" env:"REFRESH_COOLDOWN" default:"15m"`
	LogLevel        string        `hcl:"log_level" env:"LOG_LEVEL" default:"info"`
}

var (
	cfg  Config
	once sync.Once
)

func Get() Config {
	once.Do(func() {
		loader := aconfig.LoaderFor(&cfg, aconfig.Config{
			EnvPrefix: "OMNIVORE",
			Files:     []string{"./config.hcl", "$HOME/.config/omnivore/config.hcl"},
			FileDecoders: map[string]aconfig.FileDecoder{
				".hcl": aconfighcl.New(),
			},
		})

		if err := loader.Load(); err != nil {
			log.WithError(err).Error("failed to load config")
		}
	})

	return cfg
}
