// Package config implements TOML configuration loading and validation for
// a filesetd replica.
package config

import "fmt"

// MetadataTieBreak selects the LWW tie-break comparison
// internal/fileset.Replica uses for filename and attribute conflicts
// (spec §9's open question).
type MetadataTieBreak string

// Supported tie-break modes.
const (
	TieBreakStoredAuthor  MetadataTieBreak = "stored_author"
	TieBreakBugCompatible MetadataTieBreak = "bug_compatible"
)

// PeerConfig names one static peer to dial at startup.
type PeerConfig struct {
	Name    string `toml:"name"`
	Address string `toml:"address"`
}

// Config is the top-level replica configuration.
type Config struct {
	SiteID             uint32           `toml:"site_id"`
	StoragePath        string           `toml:"storage_path"`
	SyncRoot           string           `toml:"sync_root"`
	ListenAddress      string           `toml:"listen_address"`
	ContentDBPath      string           `toml:"content_db_path"`
	MetadataTieBreak   MetadataTieBreak `toml:"metadata_tie_break"`
	Peers              []PeerConfig     `toml:"peers"`
	ReconcileOnStartup bool             `toml:"reconcile_on_startup"`
	LogLevel           string           `toml:"log_level"`
}

// Default returns a Config with every field set to its default value.
// SiteID, StoragePath, and SyncRoot have no sane default and must be set
// explicitly by the loaded file.
func Default() *Config {
	return &Config{
		ListenAddress:      ":7700",
		MetadataTieBreak:   TieBreakStoredAuthor,
		ReconcileOnStartup: true,
		LogLevel:           "info",
	}
}

// Validate checks that cfg is complete and internally consistent.
func Validate(cfg *Config) error {
	if cfg.StoragePath == "" {
		return fmt.Errorf("config: storage_path is required")
	}

	if cfg.SyncRoot == "" {
		return fmt.Errorf("config: sync_root is required")
	}

	if cfg.ListenAddress == "" {
		return fmt.Errorf("config: listen_address is required")
	}

	switch cfg.MetadataTieBreak {
	case TieBreakStoredAuthor, TieBreakBugCompatible:
	case "":
		return fmt.Errorf("config: metadata_tie_break is required")
	default:
		return fmt.Errorf("config: unknown metadata_tie_break %q, want %q or %q", cfg.MetadataTieBreak, TieBreakStoredAuthor, TieBreakBugCompatible)
	}

	for _, p := range cfg.Peers {
		if p.Name == "" {
			return fmt.Errorf("config: peer with address %q has no name", p.Address)
		}

		if p.Address == "" {
			return fmt.Errorf("config: peer %q has no address", p.Name)
		}
	}

	return nil
}
