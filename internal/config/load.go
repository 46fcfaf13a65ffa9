package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads and parses the TOML config file at path using a two-pass
// decode: pass 1 decodes onto Default()'s values, pass 2 validates the
// result. Unknown keys are rejected rather than silently ignored.
func Load(path string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Debug("loading replica config", "path", path)

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config: %s: unknown key %q", path, undecoded[0].String())
	}

	if !md.IsDefined("site_id") {
		return nil, fmt.Errorf("config: %s: site_id is required", path)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	logger.Debug("replica config loaded", "path", path, "site_id", cfg.SiteID, "peers", len(cfg.Peers))

	return cfg, nil
}
