// Package config loads the handful of operator-tunable knobs the execution
// core needs: the synchronous-handler timeout (the reimplementation's
// AkkaTimeout equivalent, §5 "Timeouts"), the per-IO-command timeout (§4.8
// "Timeout policy"), and the Blacklist Cache's hitEnabled/bucketEnabled
// toggles (§4.9).
//
// It follows the teacher's pkg/config loader shape (koanf defaults +
// env overlay + go-playground/validator) scaled down to this module's
// knob set.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix namespaces every environment variable this package reads.
const EnvPrefix = "WFEXEC_"

// Config is the execution core's full operator-tunable surface.
type Config struct {
	// HandlerTimeout bounds synchronous actor operations that must complete
	// before the caller proceeds (§5 "Timeouts": "AkkaTimeout (default 5s
	// in source)").
	HandlerTimeout time.Duration `koanf:"handler_timeout" validate:"min=1ms"`

	// IoCommandTimeout bounds one outstanding Cache-Hit Copy FSM I/O command
	// (§4.8 "Timeout policy").
	IoCommandTimeout time.Duration `koanf:"io_command_timeout" validate:"min=1ms"`

	// MailboxCapacity is the default buffered-channel size for a Workflow's
	// actor mailbox (pkg/actor.Worker).
	MailboxCapacity int `koanf:"mailbox_capacity" validate:"min=1"`

	// Blacklist toggles gate whether the Blacklist Cache tracks hit/bucket
	// state at all, or always reports Untested (§4.9 "Configuration
	// options").
	BlacklistHitEnabled    bool `koanf:"blacklist_hit_enabled"`
	BlacklistBucketEnabled bool `koanf:"blacklist_bucket_enabled"`
}

// Default returns the module's built-in defaults, applied before any
// environment overlay.
func Default() *Config {
	return &Config{
		HandlerTimeout:         5 * time.Second,
		IoCommandTimeout:       30 * time.Second,
		MailboxCapacity:        64,
		BlacklistHitEnabled:    true,
		BlacklistBucketEnabled: true,
	}
}

// Load builds a Config from Default(), then overlays any WFEXEC_-prefixed
// environment variables, then validates the result.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading config defaults: %w", err)
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key string, value string) (string, any) {
			return envKeyToPath(key), value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("loading config from environment: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &cfg,
			TagName:          "koanf",
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		},
	}); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// envKeyToPath turns WFEXEC_BLACKLIST_HIT_ENABLED into blacklist_hit_enabled
// (the env.Provider passes the full variable name, so the prefix is trimmed
// here before the rest is lower-cased).
func envKeyToPath(key string) string {
	key = strings.TrimPrefix(key, EnvPrefix)
	out := make([]rune, 0, len(key))
	for _, r := range key {
		if r >= 'A' && r <= 'Z' {
			r = r - 'A' + 'a'
		}
		out = append(out, r)
	}
	return string(out)
}
