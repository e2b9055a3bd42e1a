package export

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pgconvert/internal/config"
	"pgconvert/internal/logging"
	"pgconvert/internal/pipeerrors"
	"pgconvert/internal/tool"
)

// RolesFileName is the cluster-wide role dump at the archive root
const RolesFileName = "roles.sql"

// Unit is one exported logical partition and its dump artifacts
type Unit struct {
	Name       string `json:"name"`
	SchemaPath string `json:"schema_path"`
	DataPath   string `json:"data_path,omitempty"`
}

// Result is the outcome of a completed export stage
type Result struct {
	RolesPath string `json:"roles_path"`
	Units     []Unit `json:"units"`
}

// UnitNames returns the names of all exported units
func (r *Result) UnitNames() []string {
	names := make([]string, len(r.Units))
	for i, u := range r.Units {
		names[i] = u.Name
	}
	return names
}

const listUnitsQuery = `SELECT datname FROM pg_database WHERE datallowconn ORDER BY datname`

// Exporter dumps every logical unit of the imported service into the
// workspace
type Exporter struct {
	db     *sql.DB
	runner tool.Runner
	cfg    config.ExportConfig
	logger *logging.Logger
}

// NewExporter creates an exporter over an open service connection
func NewExporter(db *sql.DB, runner tool.Runner, cfg config.ExportConfig, logger *logging.Logger) *Exporter {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Exporter{
		db:     db,
		runner: runner,
		cfg:    cfg,
		logger: logger,
	}
}

// Run enumerates units and dumps roles, schemas and data into wsDir.
// Nothing is packaged unless every dump succeeds.
func (e *Exporter) Run(ctx context.Context, wsDir string) (*Result, error) {
	done := e.logger.LogStageStart("export", map[string]interface{}{
		"workspace": wsDir,
	})
	result, err := e.run(ctx, wsDir)
	done(err)
	return result, err
}

func (e *Exporter) run(ctx context.Context, wsDir string) (*Result, error) {
	units, err := e.ListUnits(ctx)
	if err != nil {
		return nil, err
	}

	rolesPath := filepath.Join(wsDir, RolesFileName)
	if err := e.dumpFiltered(ctx, rolesPath, e.cfg.DumpAllTool, "--roles-only"); err != nil {
		return nil, pipeerrors.NewExportError("role dump failed", err)
	}

	result := &Result{RolesPath: rolesPath}
	for _, name := range units {
		unit, err := e.dumpUnit(ctx, wsDir, name)
		if err != nil {
			return nil, pipeerrors.NewExportError(
				fmt.Sprintf("dump of unit %s failed", name), err).
				WithContext("unit", name)
		}
		result.Units = append(result.Units, *unit)
	}
	return result, nil
}

// ListUnits queries the service for exportable unit names, excluding the
// configured reserved set. An empty result is an export failure, not a
// quiet no-op: a freshly imported cluster with no units means the import
// did not deliver what it should have.
func (e *Exporter) ListUnits(ctx context.Context) ([]string, error) {
	rows, err := e.db.QueryContext(ctx, listUnitsQuery)
	if err != nil {
		return nil, pipeerrors.NewExportError("cannot enumerate units", err)
	}
	defer rows.Close()

	reserved := make(map[string]bool, len(e.cfg.ReservedUnits))
	for _, name := range e.cfg.ReservedUnits {
		reserved[name] = true
	}

	var units []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, pipeerrors.NewExportError("cannot scan unit name", err)
		}
		if !reserved[name] {
			units = append(units, name)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, pipeerrors.NewExportError("unit enumeration aborted", err)
	}

	if len(units) == 0 {
		return nil, pipeerrors.NewExportError("no exportable units found", nil)
	}
	return units, nil
}

func (e *Exporter) dumpUnit(ctx context.Context, wsDir, name string) (*Unit, error) {
	start := time.Now()
	withData := !e.schemaOnly(name)

	dir := filepath.Join(wsDir, name)
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating unit directory: %w", err)
	}

	unit := &Unit{Name: name, SchemaPath: filepath.Join(dir, "schema.sql")}
	err := e.dumpFiltered(ctx, unit.SchemaPath, e.cfg.DumpTool, "--schema-only", name)
	if err == nil && withData {
		unit.DataPath = filepath.Join(dir, "data.sql")
		err = e.dumpFiltered(ctx, unit.DataPath, e.cfg.DumpTool, "--data-only", name)
	}

	e.logger.LogUnitExport(name, withData, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return unit, nil
}

func (e *Exporter) schemaOnly(name string) bool {
	for _, u := range e.cfg.SchemaOnlyUnits {
		if u == name {
			return true
		}
	}
	return false
}

// dumpFiltered runs a dump tool into a staging file, then strips comment
// lines into outPath. The two steps replace a dump|grep pipe with calls
// whose exit statuses are each checked.
func (e *Exporter) dumpFiltered(ctx context.Context, outPath, toolName string, args ...string) error {
	rawPath := outPath + ".raw"
	raw, err := os.OpenFile(rawPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating staging file: %w", err)
	}

	runErr := e.runner.RunTo(ctx, raw, toolName, args...)
	closeErr := raw.Close()
	if runErr != nil {
		os.Remove(rawPath)
		return runErr
	}
	if closeErr != nil {
		os.Remove(rawPath)
		return fmt.Errorf("closing staging file: %w", closeErr)
	}

	if err := stripCommentsFile(rawPath, outPath); err != nil {
		os.Remove(rawPath)
		return err
	}
	return os.Remove(rawPath)
}

func stripCommentsFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if err := StripComments(src, dst); err != nil {
		dst.Close()
		return fmt.Errorf("filtering %s: %w", srcPath, err)
	}
	return dst.Close()
}

// StripComments copies src to dst omitting SQL comment lines. A bufio.Reader
// is used instead of a Scanner because data dumps carry rows longer than any
// fixed token limit.
func StripComments(src io.Reader, dst io.Writer) error {
	reader := bufio.NewReader(src)
	writer := bufio.NewWriter(dst)
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 && !strings.HasPrefix(line, "--") {
			if _, werr := writer.WriteString(line); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	return writer.Flush()
}
