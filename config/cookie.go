package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrCookieNotFound is returned when none of the cookie file candidates
// exist.
var ErrCookieNotFound = errors.New("config: no cookie file found")

// LoadCookie reads the distribution cookie from disk, checking
// ~/.erlang.cookie, then $XDG_CONFIG_HOME/erlang/.erlang.cookie, then
// ~/.config/erlang/.erlang.cookie, in that order.
func LoadCookie() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: load cookie: %w", err)
	}

	candidates := []string{filepath.Join(home, ".erlang.cookie")}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		candidates = append(candidates, filepath.Join(xdg, "erlang", ".erlang.cookie"))
	}
	candidates = append(candidates, filepath.Join(home, ".config", "erlang", ".erlang.cookie"))

	for _, path := range candidates {
		b, err := os.ReadFile(path)
		if err == nil {
			return strings.TrimSpace(string(b)), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("config: read cookie %s: %w", path, err)
		}
	}
	return "", ErrCookieNotFound
}

// SplitNodeName splits a "short@host" node name into its two parts,
// enforcing the shape the distribution protocol requires.
func SplitNodeName(name string) (short, host string, err error) {
	short, host, ok := strings.Cut(name, "@")
	if !ok || short == "" || host == "" {
		return "", "", fmt.Errorf("config: invalid node name %q: want short@host", name)
	}
	return short, host, nil
}
