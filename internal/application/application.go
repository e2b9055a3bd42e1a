package application

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"pgconvert/internal/config"
	"pgconvert/internal/export"
	"pgconvert/internal/importer"
	"pgconvert/internal/logging"
	"pgconvert/internal/pipeerrors"
	"pgconvert/internal/pipeline"
	"pgconvert/internal/publish"
	"pgconvert/internal/sanitize"
	"pgconvert/internal/service"
	"pgconvert/internal/tool"
	"pgconvert/internal/workspace"
)

// Application wires configuration into a runnable conversion pipeline
type Application struct {
	cfg      *config.Config
	logger   *logging.Logger
	pipeline *pipeline.Pipeline
	db       *sql.DB
	runID    string
}

// dbPinger adapts a sql.DB to the service readiness check
type dbPinger struct {
	db *sql.DB
}

func (p *dbPinger) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// NewApplication validates the configuration, probes external dependencies
// and assembles the pipeline. No pipeline side effect happens before every
// required tool is confirmed present.
func NewApplication(cfg *config.Config) (*Application, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, pipeerrors.NewInvalidOptionError("invalid configuration", err)
	}

	logLevel := logging.LogLevelNormal
	if cfg.Quiet {
		logLevel = logging.LogLevelQuiet
	} else if cfg.Verbose {
		logLevel = logging.LogLevelVerbose
	}
	logger, err := logging.NewLogger(logging.Config{
		Level:   logLevel,
		Format:  cfg.LogFormat,
		LogFile: cfg.LogFile,
	})
	if err != nil {
		return nil, pipeerrors.NewInvalidOptionError("cannot initialize logging", err)
	}

	if err := tool.CheckDependencies(
		cfg.Service.ControlCommand,
		cfg.Export.DumpTool,
		cfg.Export.DumpAllTool,
	); err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", cfg.Service.DSN)
	if err != nil {
		return nil, pipeerrors.NewInvalidOptionError("invalid service DSN", err)
	}

	runner := tool.NewExecRunner(logger)
	svc := service.NewController(cfg.Service, runner, &dbPinger{db: db}, logger)

	connect := func(unit string) (*sql.DB, error) {
		return sql.Open("pgx", cfg.Service.DSNForUnit(unit))
	}

	pipe := pipeline.New(
		cfg,
		logger,
		workspace.NewManager(cfg.Workspace.Root),
		importer.NewStage(cfg.Import, svc, logger),
		export.NewExporter(db, runner, cfg.Export, logger),
		sanitize.NewEngine(cfg.Sanitize, connect, logger),
		publish.NewPublisher(cfg.Publish, logger),
	)

	return &Application{
		cfg:      cfg,
		logger:   logger,
		pipeline: pipe,
		db:       db,
		runID:    uuid.NewString(),
	}, nil
}

// Run executes one conversion run
func (app *Application) Run(ctx context.Context) (string, error) {
	defer app.db.Close()

	app.logger.WithFields(map[string]interface{}{
		"run_id": app.runID,
		"source": app.cfg.Source.Dir,
		"prefix": app.cfg.Source.Prefix,
	}).Info("Conversion run starting")

	published, err := app.pipeline.Run(ctx)
	if err != nil {
		app.logger.WithFields(map[string]interface{}{
			"run_id":     app.runID,
			"error_type": string(pipeerrors.GetErrorType(err)),
		}).Errorf("Conversion run failed: %v", err)
		return "", err
	}

	app.logger.WithFields(map[string]interface{}{
		"run_id":    app.runID,
		"published": published,
	}).Info("Conversion run completed")
	return published, nil
}

// Logger exposes the application logger for the CLI layer
func (app *Application) Logger() *logging.Logger {
	return app.logger
}

// RunID returns the unique identifier of this run
func (app *Application) RunID() string {
	return app.runID
}

// String implements fmt.Stringer for diagnostics
func (app *Application) String() string {
	return fmt.Sprintf("pgconvert run %s", app.runID)
}
