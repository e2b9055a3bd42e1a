package tool

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pgconvert/internal/pipeerrors"
)

func TestRunToCapturesStdout(t *testing.T) {
	r := NewExecRunner(nil)

	var out bytes.Buffer
	err := r.RunTo(context.Background(), &out, "sh", "-c", "echo hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out.String())
}

func TestRunIncludesStderrInError(t *testing.T) {
	r := NewExecRunner(nil)

	err := r.Run(context.Background(), "sh", "-c", "echo broken >&2; exit 3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Contains(t, err.Error(), "exit status 3")
}

func TestRunRespectsContextCancellation(t *testing.T) {
	r := NewExecRunner(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.Run(ctx, "sh", "-c", "sleep 10")
	assert.Error(t, err)
}

func TestRunAppendsEnv(t *testing.T) {
	r := NewExecRunner(nil)
	r.Env = []string{"PGCONVERT_TEST_VAR=marker"}

	var out bytes.Buffer
	err := r.RunTo(context.Background(), &out, "sh", "-c", "echo $PGCONVERT_TEST_VAR")
	require.NoError(t, err)
	assert.Equal(t, "marker\n", out.String())
}

func TestCheckDependencies(t *testing.T) {
	assert.NoError(t, CheckDependencies("sh"))
	assert.NoError(t, CheckDependencies())
	assert.NoError(t, CheckDependencies(""))

	err := CheckDependencies("sh", "pgconvert-no-such-tool")
	require.Error(t, err)
	assert.Equal(t, pipeerrors.ErrorTypeMissingDependency, pipeerrors.GetErrorType(err))
	assert.Contains(t, err.Error(), "pgconvert-no-such-tool")
}
