// Package patterns provides embedded default recognizer definitions.
// The YAML uses the Presidio recognizer format plus finsight extensions
// (sensitivity, validator).
package patterns

import _ "embed"

//go:embed pii_fin.yaml
var piiFinYAML []byte

// PIIFinYAML returns the embedded default recognizers for financial PII in
// free text (card numbers, account and routing numbers, IBANs, contact data).
func PIIFinYAML() []byte { return piiFinYAML }
