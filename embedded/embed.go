// Package embedded provides defaults compiled into the aops binary. They are
// used when the framework checkout does not supply its own copy.
package embedded

import _ "embed"

// HooksJSON is the hook manifest template installed into the runtime's
// settings. Every event routes to `aops hook <Event>`.
//
//go:embed hooks/hooks.json
var HooksJSON []byte

// DefaultRules is the framework rule set used when $AOPS/policy/rules.yaml
// does not exist.
//
//go:embed policy/rules.yaml
var DefaultRules []byte
