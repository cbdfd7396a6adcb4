package policy

import "errors"

var (
	// ErrRulesInvalid means a rules file could not be parsed or contains an
	// unusable rule. It is a configuration error.
	ErrRulesInvalid = errors.New("invalid policy rules")

	// ErrEvaluation means a rule could not be evaluated against an event.
	ErrEvaluation = errors.New("policy evaluation failed")
)
