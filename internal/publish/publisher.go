package publish

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"

	"pgconvert/internal/config"
	"pgconvert/internal/logging"
	"pgconvert/internal/pipeerrors"
)

// Publisher moves a finished archive into the destination directory with
// the configured ownership and permissions. The destination is mutated only
// by the final rename, which is atomic on a shared filesystem, so no
// consumer ever observes a partial artifact.
type Publisher struct {
	cfg    config.PublishConfig
	logger *logging.Logger

	// os-operation seams; ownership changes need privileges tests lack
	chownFn  func(path string, uid, gid int) error
	chmodFn  func(path string, mode os.FileMode) error
	renameFn func(oldPath, newPath string) error
	lookupFn func(owner, group string) (uid, gid int, err error)
}

// NewPublisher creates a publisher for the configured destination
func NewPublisher(cfg config.PublishConfig, logger *logging.Logger) *Publisher {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Publisher{
		cfg:      cfg,
		logger:   logger,
		chownFn:  os.Chown,
		chmodFn:  os.Chmod,
		renameFn: os.Rename,
		lookupFn: resolveOwnership,
	}
}

// Publish sets ownership and permissions on archivePath and renames it into
// the destination directory. Each step is fatal; on failure the destination
// has received nothing.
func (p *Publisher) Publish(archivePath string) (string, error) {
	done := p.logger.LogStageStart("publish", map[string]interface{}{
		"archive":     archivePath,
		"destination": p.cfg.Dir,
	})
	dest, err := p.publish(archivePath)
	done(err)
	return dest, err
}

func (p *Publisher) publish(archivePath string) (string, error) {
	if p.cfg.Owner != "" {
		uid, gid, err := p.lookupFn(p.cfg.Owner, p.cfg.Group)
		if err != nil {
			return "", pipeerrors.NewPublishError("cannot resolve archive ownership", err)
		}
		if err := p.chownFn(archivePath, uid, gid); err != nil {
			return "", pipeerrors.NewPublishError("cannot set archive ownership", err)
		}
	}

	mode, err := p.cfg.FileMode()
	if err != nil {
		return "", pipeerrors.NewPublishError("invalid archive mode", err)
	}
	if err := p.chmodFn(archivePath, mode); err != nil {
		return "", pipeerrors.NewPublishError("cannot set archive permissions", err)
	}

	dest := filepath.Join(p.cfg.Dir, filepath.Base(archivePath))
	if err := p.renameFn(archivePath, dest); err != nil {
		return "", pipeerrors.NewPublishError(
			fmt.Sprintf("cannot move archive to %s", dest), err)
	}
	return dest, nil
}

func resolveOwnership(owner, group string) (int, int, error) {
	u, err := user.Lookup(owner)
	if err != nil {
		return 0, 0, fmt.Errorf("unknown owner %q: %w", owner, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return 0, 0, err
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return 0, 0, err
	}
	if group != "" {
		g, err := user.LookupGroup(group)
		if err != nil {
			return 0, 0, fmt.Errorf("unknown group %q: %w", group, err)
		}
		gid, err = strconv.Atoi(g.Gid)
		if err != nil {
			return 0, 0, err
		}
	}
	return uid, gid, nil
}
