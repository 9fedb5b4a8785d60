package config

import (
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type Config struct {
	DBDriver  string
	DBDsn     string
	RedisAddr string
	// MaintainSchedule is the cron spec of the reference integrity sweep.
	MaintainSchedule string
}

// LoadConfig reads .env if present, then the TABULAR_* environment.
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		logrus.Debugf("no .env file loaded: %v", err)
	}

	v := viper.New()
	v.SetEnvPrefix("tabular")
	v.AutomaticEnv()
	v.SetDefault("db_driver", "sqlite")
	v.SetDefault("db_dsn", "tabular.db")
	v.SetDefault("maintain_schedule", "@every 10m")

	return &Config{
		DBDriver:         v.GetString("db_driver"),
		DBDsn:            v.GetString("db_dsn"),
		RedisAddr:        v.GetString("redis_addr"),
		MaintainSchedule: v.GetString("maintain_schedule"),
	}
}

// GetDb opens the configured database.
func GetDb(cfg *Config) *gorm.DB {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "postgres":
		dialector = postgres.Open(cfg.DBDsn)
	default:
		dialector = sqlite.Open(cfg.DBDsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		logrus.Fatalf("opening %s database: %v", cfg.DBDriver, err)
	}
	return db
}
