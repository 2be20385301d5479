package classifier

import (
	"fmt"
	"regexp"

	"github.com/ethanteng/finsight-sub001/patterns"
)

// PIIPattern is a compiled, ready-to-use detection pattern.
type PIIPattern struct {
	Name         string
	Type         string
	Pattern      *regexp.Regexp
	Score        float64
	ContextWords []string
	Sensitivity  int // 1-3, higher = more sensitive
	Validate     func(match string) bool
}

// DefaultRecognizers returns the embedded financial PII recognizers.
func DefaultRecognizers() ([]RecognizerConfig, error) {
	rf, err := ParseRecognizerFile(patterns.PIIFinYAML())
	if err != nil {
		return nil, fmt.Errorf("parsing embedded PII patterns: %w", err)
	}
	return rf.Recognizers, nil
}

func validatorFor(name string) (func(string) bool, error) {
	switch name {
	case "":
		return nil, nil
	case "luhn":
		return func(m string) bool { return luhnValid(stripNonDigits(m)) }, nil
	case "iban":
		return func(m string) bool { return validateIBANLength(m) && validateIBANChecksum(m) }, nil
	case "aba":
		return abaValid, nil
	default:
		return nil, fmt.Errorf("unknown validator %q", name)
	}
}
