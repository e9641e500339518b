package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

const defaultEnvFile = ".env"

// Validator is implemented by config structs that check themselves after loading.
type Validator interface {
	Validate() error
}

type options struct {
	envFile  string
	explicit bool
}

type Option func(*options)

// WithEnvFile exports the given file into the process environment before parsing.
// An empty path keeps the default behaviour of loading ./.env when it exists.
func WithEnvFile(path string) Option {
	return func(o *options) {
		if trimmed := strings.TrimSpace(path); trimmed != "" {
			o.envFile = trimmed
			o.explicit = true
		}
	}
}

func MustNew[T any](prefix string, opts ...Option) *T {
	conf, err := New[T](prefix, opts...)
	if err != nil {
		panic(err)
	}
	return conf
}

func New[T any](prefix string, opts ...Option) (*T, error) {
	o := options{envFile: defaultEnvFile}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	if o.explicit {
		if err := exportEnvironment(o.envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	} else if err := exportEnvironmentIfExists(o.envFile); err != nil {
		return nil, fmt.Errorf("failed to load default env file: %w", err)
	}

	var conf T
	if err := envconfig.Process(prefix, &conf); err != nil {
		return nil, err
	}

	if v, ok := any(&conf).(Validator); ok {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("config %s: %w", strings.ToLower(prefix), err)
		}
	}

	return &conf, nil
}

func exportEnvironmentIfExists(filepath string) error {
	info, err := os.Stat(filepath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if info.IsDir() {
		return nil
	}
	return exportEnvironment(filepath)
}

// exportEnvironment never overrides variables already present in the environment.
func exportEnvironment(filepath string) error {
	v := viper.New()
	v.SetConfigFile(filepath)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return err
	}

	for k, val := range v.AllSettings() {
		name := strings.ToUpper(k)
		if _, set := os.LookupEnv(name); set {
			continue
		}
		if err := os.Setenv(name, fmt.Sprint(val)); err != nil {
			return err
		}
	}

	return nil
}
