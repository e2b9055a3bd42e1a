package publish

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pgconvert/internal/config"
	"pgconvert/internal/pipeerrors"
)

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func newTestPublisher(dest string) *Publisher {
	p := NewPublisher(config.PublishConfig{
		Dir:  dest,
		Mode: "0640",
	}, nil)
	return p
}

func TestPublishMovesArchiveAtomically(t *testing.T) {
	tmp := t.TempDir()
	dest := filepath.Join(tmp, "exports")
	require.NoError(t, os.Mkdir(dest, 0o755))

	archivePath := filepath.Join(tmp, "export.tar.gz")
	require.NoError(t, os.WriteFile(archivePath, []byte("archive-bytes"), 0o600))

	p := newTestPublisher(dest)
	published, err := p.Publish(archivePath)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dest, "export.tar.gz"), published)
	assert.NoFileExists(t, archivePath)

	info, err := os.Stat(published)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())
}

func TestPublishOwnershipFailureLeavesDestinationUntouched(t *testing.T) {
	tmp := t.TempDir()
	dest := filepath.Join(tmp, "exports")
	require.NoError(t, os.Mkdir(dest, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dest, "previous.tar.gz"), []byte("old"), 0o640))

	archivePath := filepath.Join(tmp, "export.tar.gz")
	require.NoError(t, os.WriteFile(archivePath, []byte("new"), 0o600))

	p := NewPublisher(config.PublishConfig{
		Dir:   dest,
		Owner: "backup",
		Mode:  "0640",
	}, nil)
	p.lookupFn = func(owner, group string) (int, int, error) { return 0, 0, nil }
	p.chownFn = func(path string, uid, gid int) error { return errors.New("operation not permitted") }
	before := listDir(t, dest)

	_, err := p.Publish(archivePath)
	require.Error(t, err)
	assert.Equal(t, pipeerrors.ErrorTypePublish, pipeerrors.GetErrorType(err))
	assert.Equal(t, before, listDir(t, dest))
}

func TestPublishChmodFailureIsFatal(t *testing.T) {
	tmp := t.TempDir()
	dest := filepath.Join(tmp, "exports")
	require.NoError(t, os.Mkdir(dest, 0o755))

	archivePath := filepath.Join(tmp, "export.tar.gz")
	require.NoError(t, os.WriteFile(archivePath, []byte("new"), 0o600))

	p := newTestPublisher(dest)
	p.chmodFn = func(path string, mode os.FileMode) error { return errors.New("chmod failed") }

	_, err := p.Publish(archivePath)
	assert.Equal(t, pipeerrors.ErrorTypePublish, pipeerrors.GetErrorType(err))
	assert.Empty(t, listDir(t, dest))
}

func TestPublishRenameFailureIsFatal(t *testing.T) {
	tmp := t.TempDir()
	dest := filepath.Join(tmp, "exports")
	require.NoError(t, os.Mkdir(dest, 0o755))

	archivePath := filepath.Join(tmp, "export.tar.gz")
	require.NoError(t, os.WriteFile(archivePath, []byte("new"), 0o600))

	p := newTestPublisher(dest)
	p.renameFn = func(oldPath, newPath string) error { return errors.New("cross-device link") }

	_, err := p.Publish(archivePath)
	assert.Equal(t, pipeerrors.ErrorTypePublish, pipeerrors.GetErrorType(err))
	assert.Empty(t, listDir(t, dest))
}

func TestPublishInvalidModeIsFatal(t *testing.T) {
	tmp := t.TempDir()
	archivePath := filepath.Join(tmp, "export.tar.gz")
	require.NoError(t, os.WriteFile(archivePath, []byte("new"), 0o600))

	p := NewPublisher(config.PublishConfig{Dir: tmp, Mode: "rw-r--"}, nil)
	_, err := p.Publish(archivePath)
	assert.Equal(t, pipeerrors.ErrorTypePublish, pipeerrors.GetErrorType(err))
}
