package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// document renders cfg as the TOML file layout. Durations are written in
// time.Duration notation.
func document(cfg Config) map[string]any {
	return map[string]any{
		"data_dir": cfg.DataDir,
		"db_path":  cfg.DBPath,
		"http": map[string]any{
			"listen":          cfg.HTTP.Listen,
			"allowed_origins": cfg.HTTP.AllowedOrigins,
		},
		"log": map[string]any{
			"file":  cfg.Log.File,
			"level": cfg.Log.Level,
		},
		"terminal": map[string]any{
			"cols":             cfg.Terminal.Cols,
			"rows":             cfg.Terminal.Rows,
			"scrollback_bytes": cfg.Terminal.ScrollbackBytes,
			"resize_debounce":  cfg.Terminal.ResizeDebounce.String(),
			"default_tab_name": cfg.Terminal.DefaultTabName,
		},
		"record": map[string]any{
			"enabled": cfg.Record.Enabled,
			"dir":     cfg.Record.Dir,
		},
		"backend": map[string]any{
			"kind":         cfg.Backend.Kind,
			"shell":        cfg.Backend.Shell,
			"dial_timeout": cfg.Backend.DialTimeout.String(),
			"known_hosts":  cfg.Backend.KnownHosts,
		},
		"transfer": map[string]any{
			"progress_interval": cfg.Transfer.ProgressInterval.String(),
		},
	}
}

// Marshal encodes cfg as TOML.
func Marshal(cfg Config) ([]byte, error) {
	data, err := toml.Marshal(document(cfg))
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}

// WriteDefault writes the default configuration to path. An existing file is
// only replaced when force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}
	data, err := Marshal(Default())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
