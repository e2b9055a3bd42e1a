package sanitize

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"pgconvert/internal/logging"
	"pgconvert/internal/pipeerrors"
)

// Rule is one data-transform statement bound to a named unit
type Rule struct {
	Unit      string `json:"unit"`
	Statement string `json:"statement"`
}

// ParseRules reads a rule file with one `unit_name:sql_statement;` per
// line. Blank lines are ignored; anything else that does not match the
// format fails the run rather than being skipped.
func ParseRules(path string) ([]Rule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, pipeerrors.NewSanitizationError(
			fmt.Sprintf("cannot open rules file %s", path), err)
	}
	defer f.Close()

	var rules []Rule
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		unit, statement, found := strings.Cut(line, ":")
		if !found {
			return nil, pipeerrors.NewSanitizationError(
				fmt.Sprintf("rules file %s line %d: missing ':' separator", path, lineNo), nil)
		}
		unit = strings.TrimSpace(unit)
		statement = strings.TrimSpace(statement)
		if unit == "" {
			return nil, pipeerrors.NewSanitizationError(
				fmt.Sprintf("rules file %s line %d: empty unit name", path, lineNo), nil)
		}
		if statement == "" || !strings.HasSuffix(statement, ";") {
			return nil, pipeerrors.NewSanitizationError(
				fmt.Sprintf("rules file %s line %d: statement must end with ';'", path, lineNo), nil)
		}

		rules = append(rules, Rule{Unit: unit, Statement: statement})
	}
	if err := scanner.Err(); err != nil {
		return nil, pipeerrors.NewSanitizationError(
			fmt.Sprintf("reading rules file %s", path), err)
	}
	return rules, nil
}

// UnitConnector opens a connection scoped to one named unit
type UnitConnector func(unit string) (*sql.DB, error)

// RuleEngine executes data-transform rules against the live service
type RuleEngine struct {
	connect UnitConnector
	logger  *logging.Logger
}

// NewRuleEngine creates a rule engine using connect for per-unit sessions
func NewRuleEngine(connect UnitConnector, logger *logging.Logger) *RuleEngine {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &RuleEngine{connect: connect, logger: logger}
}

// Apply executes each rule exactly once against its unit. A rule naming a
// unit outside the exported set is a failure, not a skip.
func (re *RuleEngine) Apply(ctx context.Context, rules []Rule, exportedUnits []string) error {
	known := make(map[string]bool, len(exportedUnits))
	for _, name := range exportedUnits {
		known[name] = true
	}

	// One session per distinct unit, reused across its rules.
	sessions := make(map[string]*sql.DB)
	defer func() {
		for _, db := range sessions {
			db.Close()
		}
	}()

	for _, rule := range rules {
		if !known[rule.Unit] {
			return pipeerrors.NewSanitizationError(
				fmt.Sprintf("rule targets unknown unit %q", rule.Unit), nil).
				WithContext("unit", rule.Unit)
		}

		db, ok := sessions[rule.Unit]
		if !ok {
			var err error
			db, err = re.connect(rule.Unit)
			if err != nil {
				return pipeerrors.NewSanitizationError(
					fmt.Sprintf("cannot connect to unit %s", rule.Unit), err)
			}
			sessions[rule.Unit] = db
		}

		if _, err := db.ExecContext(ctx, rule.Statement); err != nil {
			return pipeerrors.NewSanitizationError(
				fmt.Sprintf("rule execution failed on unit %s", rule.Unit), err).
				WithContext("unit", rule.Unit)
		}
		re.logger.WithFields(map[string]interface{}{
			"operation": "data_transform",
			"unit":      rule.Unit,
		}).Debug("Rule applied")
	}
	return nil
}
