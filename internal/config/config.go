package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"pgconvert/internal/pipeerrors"
)

// Config holds the complete pipeline configuration
type Config struct {
	Source    SourceConfig    `mapstructure:"source" yaml:"source"`
	Workspace WorkspaceConfig `mapstructure:"workspace" yaml:"workspace"`
	Service   ServiceConfig   `mapstructure:"service" yaml:"service"`
	Import    ImportConfig    `mapstructure:"import" yaml:"import"`
	Export    ExportConfig    `mapstructure:"export" yaml:"export"`
	Sanitize  SanitizeConfig  `mapstructure:"sanitize" yaml:"sanitize"`
	Package   PackageConfig   `mapstructure:"package" yaml:"package"`
	Publish   PublishConfig   `mapstructure:"publish" yaml:"publish"`

	Verbose   bool   `mapstructure:"verbose" yaml:"verbose"`
	Quiet     bool   `mapstructure:"quiet" yaml:"quiet"`
	LogFile   string `mapstructure:"log_file" yaml:"log_file"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`
}

// SourceConfig locates the newest qualifying source artifact
type SourceConfig struct {
	Dir    string `mapstructure:"dir" yaml:"dir"`
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
}

// WorkspaceConfig controls scratch directory allocation
type WorkspaceConfig struct {
	Root string `mapstructure:"root" yaml:"root"`
}

// ServiceConfig describes the intermediary database service the pipeline
// imports into and exports from. The instance is exclusive to one run;
// overlapping schedules need an external lock.
type ServiceConfig struct {
	ControlCommand string        `mapstructure:"control_command" yaml:"control_command"`
	StopArgs       []string      `mapstructure:"stop_args" yaml:"stop_args"`
	StartArgs      []string      `mapstructure:"start_args" yaml:"start_args"`
	PidFile        string        `mapstructure:"pid_file" yaml:"pid_file"`
	DSN            string        `mapstructure:"dsn" yaml:"dsn"`
	PollInterval   time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	MaxPolls       int           `mapstructure:"max_polls" yaml:"max_polls"`
}

// DSNForUnit returns a DSN targeting one logical unit. The base DSN uses
// keyword/value form, so the database name appends cleanly.
func (sc *ServiceConfig) DSNForUnit(unit string) string {
	return strings.TrimSpace(sc.DSN) + " dbname=" + unit
}

// ImportConfig controls replacement of the service data directory
type ImportConfig struct {
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
	Owner   string `mapstructure:"owner" yaml:"owner"`
	Group   string `mapstructure:"group" yaml:"group"`
}

// ExportConfig controls per-unit dumping
type ExportConfig struct {
	DumpTool    string `mapstructure:"dump_tool" yaml:"dump_tool"`
	DumpAllTool string `mapstructure:"dump_all_tool" yaml:"dump_all_tool"`
	// ReservedUnits are system units never exported
	ReservedUnits []string `mapstructure:"reserved_units" yaml:"reserved_units"`
	// SchemaOnlyUnits skip the data dump and keep only schema.sql
	SchemaOnlyUnits []string `mapstructure:"schema_only_units" yaml:"schema_only_units"`
}

// SanitizeConfig controls the optional credential reset and data transforms
type SanitizeConfig struct {
	ResetCredentials bool   `mapstructure:"reset_credentials" yaml:"reset_credentials"`
	Secret           string `mapstructure:"secret" yaml:"secret"`
	SecretFile       string `mapstructure:"secret_file" yaml:"secret_file"`
	HashScheme       string `mapstructure:"hash_scheme" yaml:"hash_scheme"`
	RulesFile        string `mapstructure:"rules_file" yaml:"rules_file"`
}

// ResolveSecret returns the sanitization secret, reading SecretFile when the
// inline value is empty
func (sc *SanitizeConfig) ResolveSecret() (string, error) {
	if sc.Secret != "" {
		return sc.Secret, nil
	}
	if sc.SecretFile == "" {
		return "", fmt.Errorf("no secret or secret_file configured")
	}
	data, err := os.ReadFile(sc.SecretFile)
	if err != nil {
		return "", fmt.Errorf("cannot read secret file: %w", err)
	}
	secret := strings.TrimRight(string(data), "\r\n")
	if secret == "" {
		return "", fmt.Errorf("secret file %s is empty", sc.SecretFile)
	}
	return secret, nil
}

// PackageConfig controls archive assembly
type PackageConfig struct {
	// Format is the compression format, "gzip" or "lz4"
	Format string `mapstructure:"format" yaml:"format"`
	// Name is the archive file name; empty derives one from the format
	Name string `mapstructure:"name" yaml:"name"`
}

// ArchiveName returns the configured archive file name or a format-derived
// default
func (pc *PackageConfig) ArchiveName() string {
	if pc.Name != "" {
		return pc.Name
	}
	switch pc.Format {
	case "lz4":
		return "export.tar.lz4"
	default:
		return "export.tar.gz"
	}
}

// PublishConfig controls the final atomic move
type PublishConfig struct {
	Dir   string `mapstructure:"dir" yaml:"dir"`
	Owner string `mapstructure:"owner" yaml:"owner"`
	Group string `mapstructure:"group" yaml:"group"`
	Mode  string `mapstructure:"mode" yaml:"mode"`
}

// FileMode parses the configured permission bits
func (pc *PublishConfig) FileMode() (os.FileMode, error) {
	mode, err := strconv.ParseUint(pc.Mode, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid mode %q: %w", pc.Mode, err)
	}
	return os.FileMode(mode), nil
}

// SetDefaults fills in defaults for unset fields
func (c *Config) SetDefaults() {
	if c.Workspace.Root == "" {
		c.Workspace.Root = os.TempDir()
	}
	if c.Service.ControlCommand == "" {
		c.Service.ControlCommand = "systemctl"
	}
	if len(c.Service.StopArgs) == 0 {
		c.Service.StopArgs = []string{"stop", "postgresql"}
	}
	if len(c.Service.StartArgs) == 0 {
		c.Service.StartArgs = []string{"start", "postgresql"}
	}
	if c.Service.PollInterval == 0 {
		c.Service.PollInterval = 2 * time.Second
	}
	if c.Service.MaxPolls == 0 {
		c.Service.MaxPolls = 60
	}
	if c.Export.DumpTool == "" {
		c.Export.DumpTool = "pg_dump"
	}
	if c.Export.DumpAllTool == "" {
		c.Export.DumpAllTool = "pg_dumpall"
	}
	if len(c.Export.ReservedUnits) == 0 {
		c.Export.ReservedUnits = []string{"postgres", "template0", "template1"}
	}
	if c.Sanitize.HashScheme == "" {
		c.Sanitize.HashScheme = "md5"
	}
	if c.Package.Format == "" {
		c.Package.Format = "gzip"
	}
	if c.Publish.Mode == "" {
		c.Publish.Mode = "0640"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

// Validate checks the configuration for missing or inconsistent values
func (c *Config) Validate() error {
	var errs pipeerrors.ValidationErrors

	if c.Source.Dir == "" {
		errs.Add("source.dir", "source directory is required", c.Source.Dir)
	}
	if c.Source.Prefix == "" {
		errs.Add("source.prefix", "source artifact prefix is required", c.Source.Prefix)
	}
	if c.Import.DataDir == "" {
		errs.Add("import.data_dir", "service data directory is required", c.Import.DataDir)
	}
	if c.Import.Owner == "" {
		errs.Add("import.owner", "data directory owner is required", c.Import.Owner)
	}
	if c.Service.DSN == "" {
		errs.Add("service.dsn", "service DSN is required", c.Service.DSN)
	}
	if c.Service.PollInterval <= 0 {
		errs.Add("service.poll_interval", "poll interval must be positive", c.Service.PollInterval)
	}
	if c.Service.MaxPolls <= 0 {
		errs.Add("service.max_polls", "max polls must be positive", c.Service.MaxPolls)
	}
	if c.Publish.Dir == "" {
		errs.Add("publish.dir", "publish directory is required", c.Publish.Dir)
	}
	if _, err := c.Publish.FileMode(); err != nil {
		errs.Add("publish.mode", err.Error(), c.Publish.Mode)
	}

	switch c.Package.Format {
	case "gzip", "lz4":
	default:
		errs.Add("package.format", "format must be gzip or lz4", c.Package.Format)
	}

	switch c.Sanitize.HashScheme {
	case "md5", "scram-sha-256":
	default:
		errs.Add("sanitize.hash_scheme", "hash scheme must be md5 or scram-sha-256", c.Sanitize.HashScheme)
	}

	if c.Sanitize.ResetCredentials && c.Sanitize.Secret == "" && c.Sanitize.SecretFile == "" {
		errs.Add("sanitize.secret", "credential reset requires a secret or secret_file", nil)
	}

	if c.Verbose && c.Quiet {
		errs.Add("verbose", "verbose and quiet are mutually exclusive", nil)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
