package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

// RemotesConfig is the on-disk remotes file.
type RemotesConfig struct {
	Active  string            `toml:"active"`
	Remotes map[string]Remote `toml:"remotes"`
}

// Remote is one named panels server.
type Remote struct {
	URL      string `toml:"url"`
	Token    string `toml:"token,omitempty"`
	GRPCAddr string `toml:"grpc_addr,omitempty"`
}

// remoteConfigPath returns $PANELS_REMOTES_FILE, or remotes.toml under
// ~/.local/state/panels. The parent directory is created if missing.
func remoteConfigPath() (string, error) {
	path := os.Getenv("PANELS_REMOTES_FILE")
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("locate remotes file: %w", err)
		}
		path = filepath.Join(home, ".local", "state", "panels", "remotes.toml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("create state dir: %w", err)
	}
	return path, nil
}

// loadRemotesConfig reads the remotes file. A missing file is an empty
// config.
func loadRemotesConfig() (RemotesConfig, error) {
	cfg := RemotesConfig{Remotes: map[string]Remote{}}
	path, err := remoteConfigPath()
	if err != nil {
		return cfg, err
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	if cfg.Remotes == nil {
		cfg.Remotes = map[string]Remote{}
	}
	return cfg, nil
}

// saveRemotesConfig replaces the remotes file through a rename so a failed
// write never leaves it truncated. Tokens live here, hence 0600.
func saveRemotesConfig(cfg RemotesConfig) error {
	path, err := remoteConfigPath()
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".remotes-*.toml")
	if err != nil {
		return fmt.Errorf("save remotes: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("save remotes: %w", err)
	}
	if err := toml.NewEncoder(tmp).Encode(cfg); err != nil {
		tmp.Close()
		return fmt.Errorf("encode remotes: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save remotes: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// saveActiveToken stores token on the active remote. It reports false when
// no remote is active.
func saveActiveToken(token string) (bool, error) {
	cfg, err := loadRemotesConfig()
	if err != nil {
		return false, err
	}
	r, ok := cfg.Remotes[cfg.Active]
	if !ok {
		return false, nil
	}
	r.Token = token
	cfg.Remotes[cfg.Active] = r
	return true, saveRemotesConfig(cfg)
}

// activeRemote is read once per process; an unreadable file counts as no
// active remote.
var activeRemote = sync.OnceValue(func() Remote {
	cfg, err := loadRemotesConfig()
	if err != nil {
		return Remote{}
	}
	return cfg.Remotes[cfg.Active]
})

func activeRemoteURL() string      { return activeRemote().URL }
func activeRemoteToken() string    { return activeRemote().Token }
func activeRemoteGRPCAddr() string { return activeRemote().GRPCAddr }
