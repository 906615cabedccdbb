package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// EnvPrefix marks environment overrides, e.g. ROOMBOT_ROOM_TOKEN.
const EnvPrefix = "ROOMBOT_"

// LoadDotEnv reads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("dotenv %s: %w", p, err)
		}
	}
	return nil
}

type envBinding struct {
	key   string
	apply func(cfg *Config, v string) error
}

func str(dst func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

var envBindings = []envBinding{
	{"TRANSPORT", str(func(c *Config) *string { return &c.Transport.Driver })},
	{"ROOM_URL", str(func(c *Config) *string { return &c.Room.URL })},
	{"ROOM_NAME", str(func(c *Config) *string { return &c.Room.Room })},
	{"ROOM_TOKEN", str(func(c *Config) *string { return &c.Room.Token })},
	{"TELEGRAM_TOKEN", str(func(c *Config) *string { return &c.Telegram.Token })},
	{"TELEGRAM_CHAT_ID", func(c *Config, v string) error {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		c.Telegram.ChatID = id
		return nil
	}},
	{"LOG_LEVEL", str(func(c *Config) *string { return &c.Logging.Level })},
	{"STORAGE_DRIVER", str(func(c *Config) *string { return &c.Storage.Driver })},
	{"STORAGE_DSN", str(func(c *Config) *string { return &c.Storage.DSN })},
	{"REDIS_ADDR", str(func(c *Config) *string { return &c.Storage.Redis.Addr })},
	{"REDIS_PASSWORD", str(func(c *Config) *string { return &c.Storage.Redis.Password })},
	{"DEBUG_TOKEN", str(func(c *Config) *string { return &c.Debug.Token })},
}

// applyEnv overlays ROOMBOT_* variables onto cfg. Secrets usually live here
// rather than in the config file.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var errs []error
	for _, b := range envBindings {
		v, ok := lookup(EnvPrefix + b.key)
		if !ok {
			continue
		}
		if err := b.apply(cfg, strings.TrimSpace(v)); err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, b.key, err))
		}
	}
	return errors.Join(errs...)
}
