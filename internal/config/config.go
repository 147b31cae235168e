package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for ckpt.
type Config struct {
	ProjectID   string           `toml:"project_id"`
	ProjectRoot string           `toml:"project_root"`
	BaseDir     string           `toml:"base_dir"`
	LogDir      string           `toml:"log_dir"`
	Vault       VaultConfig      `toml:"vault"`
	Signing     SigningConfig    `toml:"signing"`
	Database    DatabaseConfig   `toml:"database"`
	Filesystem  FilesystemConfig `toml:"filesystem"`
	Restore     RestoreConfig    `toml:"restore"`
}

// SigningConfig locates the checkpoint signing key pair.
// The verifying key is compiled into the binary and never read from here.
type SigningConfig struct {
	Type           string `toml:"type"` // "age" (default)
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// FilesystemConfig holds filesystem-related settings.
type FilesystemConfig struct {
	Ignore []string `toml:"ignore"`
}

// VaultConfig represents configuration for the content vault backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket       string `toml:"s3_bucket,omitempty"`
	S3Prefix       string `toml:"s3_prefix,omitempty"`
	S3Region       string `toml:"s3_region,omitempty"`
	S3BaseEndpoint string `toml:"s3_base_endpoint,omitempty"` // for S3-compatible stores such as MinIO
	S3AccessKeyID  string `toml:"s3_access_key_id,omitempty"` // empty uses the default credential chain
	S3SecretKey    string `toml:"s3_secret_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// DatabaseConfig represents configuration for the metadata database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// RestoreConfig tunes the restore orchestrator.
type RestoreConfig struct {
	TimeBudget string `toml:"time_budget,omitempty"` // Go duration, defaults to 5s
	Workers    int    `toml:"workers,omitempty"`     // parallel file workers, defaults to 8
}

// DefaultWorkers is the file worker count used when none is configured.
const DefaultWorkers = 8

// Budget parses TimeBudget. An empty value returns 0, meaning the default.
func (c RestoreConfig) Budget() (time.Duration, error) {
	if c.TimeBudget == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.TimeBudget)
	if err != nil {
		return 0, fmt.Errorf("parsing restore.time_budget: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("restore.time_budget must be positive, got %s", c.TimeBudget)
	}
	return d, nil
}

// WorkerCount returns Workers, or DefaultWorkers when unset.
func (c RestoreConfig) WorkerCount() int {
	if c.Workers <= 0 {
		return DefaultWorkers
	}
	return c.Workers
}

// NewConfig creates a new Config with the provided values and default paths.
func NewConfig(projectID, projectRoot, baseDir string) *Config {
	return &Config{
		ProjectID:   projectID,
		ProjectRoot: projectRoot,
		BaseDir:     baseDir,
		LogDir:      filepath.Join(baseDir, "log"),
		Signing: SigningConfig{
			PublicKeyPath:  filepath.Join(baseDir, "keys", "ckpt.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "ckpt.key"),
		},
		Restore: RestoreConfig{
			TimeBudget: "5s",
			Workers:    DefaultWorkers,
		},
	}
}

// Validate checks fields that every command depends on.
func (c *Config) Validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("project_id is required")
	}
	if c.ProjectRoot == "" {
		return fmt.Errorf("project_root is required")
	}
	if !filepath.IsAbs(c.ProjectRoot) {
		return fmt.Errorf("project_root must be absolute: %s", c.ProjectRoot)
	}
	if _, err := c.Restore.Budget(); err != nil {
		return err
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
