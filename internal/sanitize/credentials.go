package sanitize

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"pgconvert/internal/logging"
	"pgconvert/internal/pipeerrors"
)

// credentialLine matches a role dump credential assignment and captures the
// principal (quoted or bare), the text up to the verifier, and the line
// tail after it. Rewrites key off the captured principal, so one
// principal's reset can never touch another's line.
var credentialLine = regexp.MustCompile(
	`^(ALTER ROLE (?:"([^"]+)"|([A-Za-z0-9_.$-]+)) WITH [^']*PASSWORD ')[^']*(.*)$`)

// ResetCredentials rewrites every credential-assignment line in the roles
// artifact at rolesPath with a verifier derived from secret. It returns the
// principals that were rewritten; finding none is an error, because a role
// dump without credentials means the sanitization would silently publish
// the original secrets.
func ResetCredentials(rolesPath, secret string, verifier Verifier, logger *logging.Logger) ([]string, error) {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	data, err := os.ReadFile(rolesPath)
	if err != nil {
		return nil, pipeerrors.NewSanitizationError(
			fmt.Sprintf("cannot read roles artifact %s", rolesPath), err)
	}

	lines := strings.Split(string(data), "\n")
	var principals []string
	for i, line := range lines {
		m := credentialLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		principal := m[2]
		if principal == "" {
			principal = m[3]
		}
		lines[i] = m[1] + verifier.Derive(secret, principal) + m[4]
		principals = append(principals, principal)
	}

	if len(principals) == 0 {
		return nil, pipeerrors.NewSanitizationError(
			fmt.Sprintf("no principals with credentials found in %s", rolesPath), nil)
	}

	if err := os.WriteFile(rolesPath, []byte(strings.Join(lines, "\n")), 0o600); err != nil {
		return nil, pipeerrors.NewSanitizationError(
			fmt.Sprintf("cannot rewrite roles artifact %s", rolesPath), err)
	}

	logger.WithFields(map[string]interface{}{
		"operation":  "credential_reset",
		"scheme":     verifier.Scheme(),
		"principals": len(principals),
	}).Info("Credentials reset")

	return principals, nil
}
