package sanitize

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pgconvert/internal/pipeerrors"
)

func md5Verifier(secret, principal string) string {
	sum := md5.Sum([]byte(secret + principal))
	return "md5" + hex.EncodeToString(sum[:])
}

func writeRoles(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roles.sql")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestResetCredentialsSinglePrincipal(t *testing.T) {
	path := writeRoles(t, strings.Join([]string{
		`CREATE ROLE alice;`,
		`ALTER ROLE alice WITH NOSUPERUSER LOGIN PASSWORD 'md5deadbeefdeadbeefdeadbeefdeadbeef';`,
		``,
	}, "\n"))

	principals, err := ResetCredentials(path, "hunted", MD5Verifier{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, principals)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "PASSWORD '"+md5Verifier("hunted", "alice")+"';")
	// Non-credential lines are byte-identical
	assert.Contains(t, string(data), "CREATE ROLE alice;")
}

func TestResetCredentialsMultiplePrincipals(t *testing.T) {
	path := writeRoles(t, strings.Join([]string{
		`ALTER ROLE alice WITH NOSUPERUSER INHERIT LOGIN PASSWORD 'md5aaaa';`,
		`ALTER ROLE bob WITH SUPERUSER LOGIN PASSWORD 'md5bbbb';`,
		`ALTER ROLE nopass WITH LOGIN;`,
		``,
	}, "\n"))

	principals, err := ResetCredentials(path, "s3cret", MD5Verifier{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, principals)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(string(data), "\n")

	aliceHash := md5Verifier("s3cret", "alice")
	bobHash := md5Verifier("s3cret", "bob")
	assert.NotEqual(t, aliceHash, bobHash)
	assert.Equal(t, fmt.Sprintf(`ALTER ROLE alice WITH NOSUPERUSER INHERIT LOGIN PASSWORD '%s';`, aliceHash), lines[0])
	assert.Equal(t, fmt.Sprintf(`ALTER ROLE bob WITH SUPERUSER LOGIN PASSWORD '%s';`, bobHash), lines[1])
	// The line without a credential assignment is untouched
	assert.Equal(t, `ALTER ROLE nopass WITH LOGIN;`, lines[2])
}

func TestResetCredentialsIsIdempotent(t *testing.T) {
	content := `ALTER ROLE alice WITH LOGIN PASSWORD 'md5original';` + "\n"
	path := writeRoles(t, content)

	_, err := ResetCredentials(path, "hunted", MD5Verifier{}, nil)
	require.NoError(t, err)
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	_, err = ResetCredentials(path, "hunted", MD5Verifier{}, nil)
	require.NoError(t, err)
	second, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestResetCredentialsQuotedPrincipal(t *testing.T) {
	path := writeRoles(t, `ALTER ROLE "odd-name" WITH LOGIN PASSWORD 'md5x';`+"\n")

	principals, err := ResetCredentials(path, "secret", MD5Verifier{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"odd-name"}, principals)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), md5Verifier("secret", "odd-name"))
}

func TestResetCredentialsZeroPrincipalsIsError(t *testing.T) {
	path := writeRoles(t, "CREATE ROLE alice;\nALTER ROLE alice WITH LOGIN;\n")

	_, err := ResetCredentials(path, "secret", MD5Verifier{}, nil)
	assert.Equal(t, pipeerrors.ErrorTypeSanitization, pipeerrors.GetErrorType(err))
}

func TestResetCredentialsMissingFile(t *testing.T) {
	_, err := ResetCredentials(filepath.Join(t.TempDir(), "absent.sql"), "secret", MD5Verifier{}, nil)
	assert.Equal(t, pipeerrors.ErrorTypeSanitization, pipeerrors.GetErrorType(err))
}
