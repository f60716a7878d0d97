package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	xdgAppName = "obs-sync"
	configFile = "config.json"
)

// Vault is one configured Obsidian vault.
type Vault struct {
	VaultID   string `json:"vault_id"`
	Name      string `json:"name"`
	Path      string `json:"path"`
	IsDefault bool   `json:"is_default"`
}

// RemindersList is one discovered Apple Reminders list.
type RemindersList struct {
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
}

// Config is the full on-disk configuration, loaded once per run and
// never mutated by the sync engine itself.
type Config struct {
	Vaults          []Vault         `json:"vaults"`
	DefaultVaultID  string          `json:"default_vault_id"`
	RemindersLists  []RemindersList `json:"reminders_lists"`
	TagRoutes       []TagRoute      `json:"tag_routes"`
	ListRoutes      []ListRoute     `json:"list_routes"`
	VaultMappings   []VaultMapping  `json:"vault_mappings"`

	MinScore             float64 `json:"min_score"`
	DaysTolerance        int     `json:"days_tolerance"`
	IncludeCompleted     bool    `json:"include_completed"`
	EnableDeduplication  bool    `json:"enable_deduplication"`
	DedupAutoApply       bool    `json:"dedup_auto_apply"`
	ObsidianInboxPath    string  `json:"obsidian_inbox_path"`
	LinksPath            string  `json:"links_path"`
	RemindersCLIPath     string  `json:"reminders_cli_path"`
}

// DefaultConfig mirrors the original tool's dataclass defaults.
func DefaultConfig() *Config {
	return &Config{
		MinScore:            0.75,
		DaysTolerance:       1,
		IncludeCompleted:    false,
		EnableDeduplication: true,
		DedupAutoApply:      false,
		ObsidianInboxPath:   "AppleRemindersInbox.md",
		LinksPath:           "~/.config/obs-sync/sync_links.json",
		RemindersCLIPath:    "reminders",
	}
}

// ConfigPath returns the XDG-style config file path (~/.config/obs-sync/config.json).
func ConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", xdgAppName, configFile), nil
}

// LoadConfig reads the config file, returning defaults if it does not exist.
func LoadConfig() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, err
	}
	defer f.Close()

	cfg := DefaultConfig()
	if err := json.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the config file atomically.
func SaveConfig(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "config-*.json.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	defer os.Remove(tmp.Name())

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cfg); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// DefaultVault returns the vault flagged is_default, falling back to
// DefaultVaultID, falling back to the first configured vault.
func (c *Config) DefaultVault() *Vault {
	if len(c.Vaults) == 0 {
		return nil
	}
	for i := range c.Vaults {
		if c.Vaults[i].IsDefault {
			return &c.Vaults[i]
		}
	}
	for i := range c.Vaults {
		if c.Vaults[i].VaultID == c.DefaultVaultID {
			return &c.Vaults[i]
		}
	}
	return &c.Vaults[0]
}

// VaultByName looks up a configured vault by its display name.
func (c *Config) VaultByName(name string) *Vault {
	for i := range c.Vaults {
		if c.Vaults[i].Name == name {
			return &c.Vaults[i]
		}
	}
	return nil
}

// TagRoutesForVault returns this vault's tag routes in declared order.
func (c *Config) TagRoutesForVault(vaultID string) []TagRoute {
	var out []TagRoute
	for _, r := range c.TagRoutes {
		if r.VaultID == vaultID {
			out = append(out, r)
		}
	}
	return out
}

// VaultMappingFor returns the default-list mapping for a vault, or nil.
func (c *Config) VaultMappingFor(vaultID string) *VaultMapping {
	for i := range c.VaultMappings {
		if c.VaultMappings[i].VaultID == vaultID {
			return &c.VaultMappings[i]
		}
	}
	return nil
}

// ListRouteFor returns the Reminders->Obsidian route for a list, or nil.
func (c *Config) ListRouteFor(listID string) *ListRoute {
	for i := range c.ListRoutes {
		if c.ListRoutes[i].ListID == listID {
			return &c.ListRoutes[i]
		}
	}
	return nil
}

// QueryListIDs computes the expanded set of Reminders list ids to query
// for a vault: its default list plus every list referenced by one of its
// tag routes (spec.md §4.5, "query-set expansion").
func (c *Config) QueryListIDs(vaultID string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}

	if m := c.VaultMappingFor(vaultID); m != nil {
		add(m.DefaultListID)
	}
	for _, r := range c.TagRoutesForVault(vaultID) {
		add(r.ListID)
	}
	return out
}
