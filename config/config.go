// Package config loads a node's runtime configuration from the
// environment, grounded on Atlas's env-tag + UnmarshalEnv convention
// (R2Northstar-Atlas/pkg/atlas/config.go), trimmed to the handful of
// settings a distribution client needs.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-envparse"
	"github.com/rs/zerolog"
)

// Config holds everything needed to bring up a Node and dial peers. The env
// struct tag is "NAME=default" or "NAME?=default" (the latter allows
// explicitly setting the variable to an empty string).
type Config struct {
	// This node's own full name, e.g. "client@127.0.0.1".
	NodeName string `env:"ERNODE_NAME=ernode@127.0.0.1"`

	// The shared distribution cookie. If empty, LoadCookie is used instead.
	Cookie string `env:"ERNODE_COOKIE"`

	// Host EPMD listens on for lookups this node performs.
	EPMDHost string `env:"ERNODE_EPMD_HOST=localhost"`

	// Port EPMD itself listens on.
	EPMDPort int `env:"ERNODE_EPMD_PORT=4369"`

	// How long a single connect-and-handshake may take before failing.
	DialTimeout time.Duration `env:"ERNODE_DIAL_TIMEOUT=10s"`

	// The minimum log level (trace, debug, info, warn, error, fatal).
	LogLevel zerolog.Level `env:"ERNODE_LOG_LEVEL=info"`

	// Whether to emit human-readable (vs JSON) logs.
	LogPretty bool `env:"ERNODE_LOG_PRETTY"`
}

// UnmarshalEnv unmarshals an array of "KEY=VALUE" strings (as from
// os.Environ() or ReadEnvFile) into c, applying each field's default when
// the corresponding variable is absent.
func (c *Config) UnmarshalEnv(es []string) error {
	em := map[string]string{}
	for _, e := range es {
		if k, v, ok := strings.Cut(e, "="); ok {
			em[k] = v
		}
	}

	cv := reflect.ValueOf(c).Elem()
	for _, ctf := range reflect.VisibleFields(cv.Type()) {
		env, ok := ctf.Tag.Lookup("env")
		if !ok {
			continue
		}

		var unsettable bool
		key, val, _ := strings.Cut(env, "=")
		if strings.HasSuffix(key, "?") {
			key = strings.TrimSuffix(key, "?")
			unsettable = true
		}
		if v, exists := em[key]; exists {
			if unsettable || v != "" {
				val = v
			}
			delete(em, key)
		}

		cvf := cv.FieldByName(ctf.Name)
		switch cvf.Interface().(type) {
		case string:
			cvf.SetString(val)
		case int:
			if val == "" {
				cvf.SetInt(0)
			} else if v, err := strconv.ParseInt(val, 10, 64); err == nil {
				cvf.SetInt(v)
			} else {
				return fmt.Errorf("config: env %s: parse %q: %w", key, val, err)
			}
		case bool:
			if val == "" {
				cvf.SetBool(false)
			} else if v, err := strconv.ParseBool(val); err == nil {
				cvf.SetBool(v)
			} else {
				return fmt.Errorf("config: env %s: parse %q: %w", key, val, err)
			}
		case time.Duration:
			if v, err := time.ParseDuration(val); err == nil {
				cvf.Set(reflect.ValueOf(v))
			} else {
				return fmt.Errorf("config: env %s: parse %q: %w", key, val, err)
			}
		case zerolog.Level:
			if v, err := zerolog.ParseLevel(val); err == nil {
				cvf.Set(reflect.ValueOf(v))
			} else {
				return fmt.Errorf("config: env %s: parse %q: %w", key, val, err)
			}
		default:
			return fmt.Errorf("config: unhandled field type %T for %s", cvf.Interface(), key)
		}
	}
	return nil
}

// ReadEnvFile parses an env file (KEY=VALUE per line, # comments, grounded on
// Atlas's cmd/atlas/main.go readEnv) into the "KEY=VALUE" slice UnmarshalEnv
// expects.
func ReadEnvFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := envparse.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse env file %s: %w", path, err)
	}
	r := make([]string, 0, len(m))
	for k, v := range m {
		r = append(r, k+"="+v)
	}
	return r, nil
}

// ResolveCookie returns c.Cookie if set, otherwise falls back to LoadCookie.
func (c *Config) ResolveCookie() (string, error) {
	if c.Cookie != "" {
		return c.Cookie, nil
	}
	return LoadCookie()
}
