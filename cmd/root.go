package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"pgconvert/internal/application"
	"pgconvert/internal/config"
	"pgconvert/internal/pipeerrors"
)

var cfgFile string

// CLI flag variables
var (
	sourceDir    string
	sourcePrefix string
	publishDir   string

	resetCredentials bool
	secretFile       string
	hashScheme       string
	rulesFile        string

	verbose bool
	quiet   bool
	logFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pgconvert",
	Short: "Convert and sanitize PostgreSQL base backups into per-database dump archives",
	Long: `pgconvert locates the newest base backup matching a name prefix, restores
it into an isolated scratch copy of a PostgreSQL instance, dumps every
database as schema and data files, optionally resets role credentials and
applies per-database rewrite rules, and atomically publishes the result as
a single compressed archive.

The destination directory is only ever touched by the final atomic move;
a failed run leaves it exactly as it was and always removes its scratch
workspace.

Examples:
  # Convert the newest base backup using a config file
  pgconvert --config=/etc/pgconvert.yaml

  # Override source and destination on the command line
  pgconvert --config=pgconvert.yaml --source-dir=/backups --prefix=base_ --publish-dir=/exports

  # Reset all role passwords with a secret from a file
  pgconvert --config=pgconvert.yaml --reset-credentials --secret-file=/etc/pgconvert.secret

  # Apply data rewrite rules during conversion
  pgconvert --config=pgconvert.yaml --rules-file=/etc/pgconvert.rules`,
	RunE:          runConvert,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits with the failure category's code.
// Monitoring distinguishes failure classes by exit code, so the mapping in
// pipeerrors is applied verbatim.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "pgconvert: %v\n", err)
		os.Exit(pipeerrors.ExitCode(err))
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.pgconvert.yaml)")

	rootCmd.Flags().StringVar(&sourceDir, "source-dir", "", "directory holding source base backups")
	rootCmd.Flags().StringVar(&sourcePrefix, "prefix", "", "source artifact name prefix")
	rootCmd.Flags().StringVar(&publishDir, "publish-dir", "", "destination directory for the finished archive")

	rootCmd.Flags().BoolVar(&resetCredentials, "reset-credentials", false, "rewrite every role credential with a new secret")
	rootCmd.Flags().StringVar(&secretFile, "secret-file", "", "file holding the replacement secret")
	rootCmd.Flags().StringVar(&hashScheme, "hash-scheme", "", "credential hash scheme (md5, scram-sha-256)")
	rootCmd.Flags().StringVar(&rulesFile, "rules-file", "", "data transform rule file (unit:statement; per line)")

	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	rootCmd.Flags().StringVar(&logFile, "log-file", "", "write logs to file in addition to stderr")

	viper.BindPFlag("source.dir", rootCmd.Flags().Lookup("source-dir"))
	viper.BindPFlag("source.prefix", rootCmd.Flags().Lookup("prefix"))
	viper.BindPFlag("publish.dir", rootCmd.Flags().Lookup("publish-dir"))
	viper.BindPFlag("sanitize.reset_credentials", rootCmd.Flags().Lookup("reset-credentials"))
	viper.BindPFlag("sanitize.secret_file", rootCmd.Flags().Lookup("secret-file"))
	viper.BindPFlag("sanitize.hash_scheme", rootCmd.Flags().Lookup("hash-scheme"))
	viper.BindPFlag("sanitize.rules_file", rootCmd.Flags().Lookup("rules-file"))
	viper.BindPFlag("verbose", rootCmd.Flags().Lookup("verbose"))
	viper.BindPFlag("quiet", rootCmd.Flags().Lookup("quiet"))
	viper.BindPFlag("log_file", rootCmd.Flags().Lookup("log-file"))
}

// runConvert is the main execution function for the CLI
func runConvert(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}

	app, err := application.NewApplication(cfg)
	if err != nil {
		return err
	}

	published, err := app.Run(context.Background())
	if err != nil {
		return err
	}

	if !quiet {
		color.New(color.FgGreen).Fprintf(os.Stdout, "published %s\n", published)
	}
	return nil
}

// buildConfig builds the pipeline configuration from the config file and
// CLI flag overrides
func buildConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := &config.Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, pipeerrors.NewInvalidOptionError("failed to unmarshal configuration", err)
	}

	// Explicit flag overrides win over config file values
	if sourceDir != "" {
		cfg.Source.Dir = sourceDir
	}
	if sourcePrefix != "" {
		cfg.Source.Prefix = sourcePrefix
	}
	if publishDir != "" {
		cfg.Publish.Dir = publishDir
	}
	if cmd.Flags().Changed("reset-credentials") {
		cfg.Sanitize.ResetCredentials = resetCredentials
	}
	if secretFile != "" {
		cfg.Sanitize.SecretFile = secretFile
	}
	if hashScheme != "" {
		cfg.Sanitize.HashScheme = hashScheme
	}
	if rulesFile != "" {
		cfg.Sanitize.RulesFile = rulesFile
	}
	if cmd.Flags().Changed("verbose") {
		cfg.Verbose = verbose
	}
	if cmd.Flags().Changed("quiet") {
		cfg.Quiet = quiet
	}
	if logFile != "" {
		cfg.LogFile = logFile
	}

	if cfg.Source.Dir == "" || cfg.Source.Prefix == "" {
		return nil, pipeerrors.NewMissingArgumentError(
			"source directory and prefix are required (flags or config file)", nil)
	}
	if cfg.Publish.Dir == "" {
		return nil, pipeerrors.NewMissingArgumentError(
			"publish directory is required (flag or config file)", nil)
	}

	return cfg, nil
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".pgconvert")
	}

	viper.SetEnvPrefix("PGCONVERT")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// Version information (set by main package)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc string) {
	version = v
	buildTime = bt
	gitCommit = gc
}

// createVersionCommand creates the version subcommand
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pgconvert version %s\n", version)
			fmt.Printf("Built: %s\n", buildTime)
			fmt.Printf("Commit: %s\n", gitCommit)
		},
	}
}

// createConfigCommand creates the config subcommand emitting a sample
// configuration with defaults filled in
func createConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Generate a sample configuration file",
		Long: `Generate a sample configuration file that can be used with the --config
flag. Redirect the output to a file and adjust it for your environment:

  pgconvert config > pgconvert.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sample := &config.Config{
				Source: config.SourceConfig{
					Dir:    "/var/backups/postgres",
					Prefix: "base_",
				},
				Import: config.ImportConfig{
					DataDir: "/var/lib/postgresql/data",
					Owner:   "postgres",
					Group:   "postgres",
				},
				Service: config.ServiceConfig{
					DSN: "host=/var/run/postgresql user=postgres",
				},
				Publish: config.PublishConfig{
					Dir:   "/var/exports",
					Owner: "backup",
					Group: "backup",
				},
			}
			sample.SetDefaults()

			out, err := yaml.Marshal(sample)
			if err != nil {
				return fmt.Errorf("cannot render sample configuration: %w", err)
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func init() {
	rootCmd.AddCommand(createVersionCommand())
	rootCmd.AddCommand(createConfigCommand())
}
