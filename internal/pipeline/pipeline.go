package pipeline

import (
	"context"

	"pgconvert/internal/archive"
	"pgconvert/internal/config"
	"pgconvert/internal/export"
	"pgconvert/internal/locate"
	"pgconvert/internal/logging"
	"pgconvert/internal/pipeerrors"
	"pgconvert/internal/workspace"
)

// WorkspaceManager allocates and removes per-run scratch directories
type WorkspaceManager interface {
	Create() (*workspace.Workspace, error)
	Destroy(ws *workspace.Workspace) error
}

// Importer replaces the service data directory from a source artifact
type Importer interface {
	Run(ctx context.Context, src *locate.SourceArtifact) error
}

// Exporter dumps every unit of the imported service into the workspace
type Exporter interface {
	Run(ctx context.Context, wsDir string) (*export.Result, error)
}

// Sanitizer optionally rewrites credentials and applies data transforms
type Sanitizer interface {
	Enabled() bool
	Run(ctx context.Context, rolesPath string, units []string) error
}

// Publisher atomically moves the finished archive to its destination
type Publisher interface {
	Publish(archivePath string) (string, error)
}

// LocateFunc finds the newest qualifying source artifact
type LocateFunc func(dir, prefix string) (*locate.SourceArtifact, error)

// PackageFunc assembles the workspace into a compressed archive
type PackageFunc func(dir, name string, format archive.Format) (string, error)

// Pipeline drives one conversion run through its stages in strict sequence.
// The shared service instance behind Importer/Exporter is exclusive to this
// run; overlapping schedules must be serialized by an external lock.
type Pipeline struct {
	cfg        *config.Config
	logger     *logging.Logger
	workspaces WorkspaceManager
	importer   Importer
	exporter   Exporter
	sanitizer  Sanitizer
	publisher  Publisher

	locateFn  LocateFunc
	packageFn PackageFunc
}

// New assembles a pipeline from its stage implementations
func New(cfg *config.Config, logger *logging.Logger, workspaces WorkspaceManager,
	imp Importer, exp Exporter, san Sanitizer, pub Publisher) *Pipeline {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Pipeline{
		cfg:        cfg,
		logger:     logger,
		workspaces: workspaces,
		importer:   imp,
		exporter:   exp,
		sanitizer:  san,
		publisher:  pub,
		locateFn:   locate.FindLatest,
		packageFn:  archive.Create,
	}
}

// Run executes one conversion run and returns the published artifact path.
// The workspace is destroyed exactly once on every exit path; on failure
// the destination directory receives no new files.
func (p *Pipeline) Run(ctx context.Context) (published string, err error) {
	src, err := p.locateFn(p.cfg.Source.Dir, p.cfg.Source.Prefix)
	if err != nil {
		return "", err
	}
	p.logger.WithFields(map[string]interface{}{
		"source":   src.Path,
		"mod_time": src.ModTime,
	}).Info("Source artifact located")

	ws, err := p.workspaces.Create()
	if err != nil {
		return "", err
	}
	p.logger.WithField("workspace", ws.Path).Debug("Workspace created")

	defer func() {
		if destroyErr := p.workspaces.Destroy(ws); destroyErr != nil {
			p.logger.Errorf("workspace cleanup failed: %v", destroyErr)
			if err == nil {
				err = destroyErr
				published = ""
			}
		}
	}()

	if err := p.importer.Run(ctx, src); err != nil {
		return "", err
	}

	result, err := p.exporter.Run(ctx, ws.Path)
	if err != nil {
		return "", err
	}

	if p.sanitizer != nil && p.sanitizer.Enabled() {
		if err := p.sanitizer.Run(ctx, result.RolesPath, result.UnitNames()); err != nil {
			return "", err
		}
	}

	format, err := archive.ParseFormat(p.cfg.Package.Format)
	if err != nil {
		return "", pipeerrors.NewPackageError("invalid archive format", err)
	}
	archivePath, err := p.packageFn(ws.Path, p.cfg.Package.ArchiveName(), format)
	if err != nil {
		return "", pipeerrors.NewPackageError("archive assembly failed", err)
	}

	return p.publisher.Publish(archivePath)
}
