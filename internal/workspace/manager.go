package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"pgconvert/internal/pipeerrors"
)

// Workspace is an isolated scratch directory owned by exactly one pipeline
// run. It exists from Create until the matching Destroy.
type Workspace struct {
	ID   string
	Path string
}

// Manager allocates and removes workspaces under a fixed root
type Manager struct {
	root string
}

// NewManager creates a workspace manager rooted at root
func NewManager(root string) *Manager {
	return &Manager{root: root}
}

// Create allocates a new workspace with owner-only permissions. The UUIDv4
// suffix makes collisions between overlapping scheduled runs negligible.
func (m *Manager) Create() (*Workspace, error) {
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return nil, pipeerrors.NewWorkspaceError(
			fmt.Sprintf("cannot create workspace root %s", m.root), err)
	}

	id := uuid.NewString()
	path := filepath.Join(m.root, "pgconvert-"+id)
	if err := os.Mkdir(path, 0o700); err != nil {
		return nil, pipeerrors.NewWorkspaceError(
			fmt.Sprintf("cannot create workspace %s", path), err)
	}

	return &Workspace{ID: id, Path: path}, nil
}

// Destroy removes the workspace recursively. Callers invoke it exactly once
// per Create, on every exit path.
func (m *Manager) Destroy(ws *Workspace) error {
	if ws == nil || ws.Path == "" {
		return pipeerrors.NewWorkspaceError("no workspace to destroy", nil)
	}
	if err := os.RemoveAll(ws.Path); err != nil {
		return pipeerrors.NewWorkspaceError(
			fmt.Sprintf("cannot remove workspace %s", ws.Path), err)
	}
	return nil
}
