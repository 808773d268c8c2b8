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

// Environment variables understood by ApplyEnv.
const (
	EnvBotTokenPrefix  = "BOT_TOKEN_"
	EnvDefaultInterval = "DEFAULT_INTERVAL_SECONDS"
	EnvMaxCount        = "MAX_COUNT"
	EnvMinInterval     = "MIN_INTERVAL"
	EnvMaxInterval     = "MAX_INTERVAL"
	EnvPublicURL       = "PUBLIC_URL"
	EnvPort            = "PORT"
)

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment.
// Variables already set are not overridden. An empty path tries ./.env and
// ignores it if missing.
func LoadEnvFile(path string) error {
	if strings.TrimSpace(path) == "" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %q: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays environment variables on cfg. lookup defaults to
// os.LookupEnv.
//
// BOT_TOKEN_1 is the controller bot and the first sender. BOT_TOKEN_2,
// BOT_TOKEN_3, ... are read until the first missing index and, when any
// token is set, replace counter.identities.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	var ids []IdentityConfig
	for i := 1; ; i++ {
		tok, ok := get(EnvBotTokenPrefix + strconv.Itoa(i))
		if !ok {
			break
		}
		ids = append(ids, IdentityConfig{Name: "bot" + strconv.Itoa(i), Token: tok})
	}
	if len(ids) > 0 {
		cfg.Telegram.Token = ids[0].Token
		cfg.Counter.Identities = ids
	}

	floats := []struct {
		key string
		dst *float64
	}{
		{EnvDefaultInterval, &cfg.Counter.DefaultInterval},
		{EnvMinInterval, &cfg.Counter.MinInterval},
		{EnvMaxInterval, &cfg.Counter.MaxInterval},
	}
	for _, f := range floats {
		v, ok := get(f.key)
		if !ok {
			continue
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: invalid number %q", f.key, v)
		}
		*f.dst = n
	}

	if v, ok := get(EnvMaxCount); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid integer %q", EnvMaxCount, v)
		}
		cfg.Counter.MaxCount = n
	}

	if v, ok := get(EnvPublicURL); ok {
		cfg.Telegram.Webhook.Enabled = true
		cfg.Telegram.Webhook.PublicURL = strings.TrimRight(v, "/")
	}
	if v, ok := get(EnvPort); ok {
		if _, err := strconv.Atoi(v); err != nil {
			return fmt.Errorf("%s: invalid port %q", EnvPort, v)
		}
		cfg.Telegram.Webhook.Listen = ":" + v
	}
	return nil
}
