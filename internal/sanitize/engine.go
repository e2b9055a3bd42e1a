package sanitize

import (
	"context"

	"pgconvert/internal/config"
	"pgconvert/internal/logging"
	"pgconvert/internal/pipeerrors"
)

// Engine applies the optional sanitization transforms: credential reset on
// the roles artifact and data-transform rules against the live service.
// Both are independent; either may be enabled alone.
type Engine struct {
	cfg    config.SanitizeConfig
	rules  *RuleEngine
	logger *logging.Logger
}

// NewEngine creates a sanitization engine. connect is used only when a
// rules file is configured.
func NewEngine(cfg config.SanitizeConfig, connect UnitConnector, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Engine{
		cfg:    cfg,
		rules:  NewRuleEngine(connect, logger),
		logger: logger,
	}
}

// Enabled reports whether any sanitization transform is requested
func (e *Engine) Enabled() bool {
	return e.cfg.ResetCredentials || e.cfg.RulesFile != ""
}

// Run applies the requested transforms to the export result
func (e *Engine) Run(ctx context.Context, rolesPath string, units []string) error {
	done := e.logger.LogStageStart("sanitize", map[string]interface{}{
		"reset_credentials": e.cfg.ResetCredentials,
		"rules_file":        e.cfg.RulesFile,
	})
	err := e.run(ctx, rolesPath, units)
	done(err)
	return err
}

func (e *Engine) run(ctx context.Context, rolesPath string, units []string) error {
	if e.cfg.ResetCredentials {
		secret, err := e.cfg.ResolveSecret()
		if err != nil {
			return pipeerrors.NewSanitizationError("cannot resolve sanitization secret", err)
		}
		verifier, err := NewVerifier(e.cfg.HashScheme)
		if err != nil {
			return pipeerrors.NewSanitizationError("invalid hash scheme", err)
		}
		if _, err := ResetCredentials(rolesPath, secret, verifier, e.logger); err != nil {
			return err
		}
	}

	if e.cfg.RulesFile != "" {
		rules, err := ParseRules(e.cfg.RulesFile)
		if err != nil {
			return err
		}
		if err := e.rules.Apply(ctx, rules, units); err != nil {
			return err
		}
	}
	return nil
}
