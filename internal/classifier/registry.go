package classifier

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// RecognizerFile is the top-level YAML structure for a recognizer file.
type RecognizerFile struct {
	Recognizers []RecognizerConfig `yaml:"recognizers"`
}

// RecognizerConfig mirrors Presidio's recognizer schema plus the
// sensitivity and validator extensions.
type RecognizerConfig struct {
	Name               string            `yaml:"name" json:"name"`
	SupportedEntity    string            `yaml:"supported_entity" json:"supported_entity"`
	Enabled            *bool             `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Patterns           []PatternConfig   `yaml:"patterns,omitempty" json:"patterns,omitempty"`
	SupportedLanguages []LanguageContext `yaml:"supported_languages,omitempty" json:"supported_languages,omitempty"`
	Sensitivity        int               `yaml:"sensitivity,omitempty" json:"sensitivity,omitempty"`
	Validator          string            `yaml:"validator,omitempty" json:"validator,omitempty"` // luhn, iban, aba
}

// PatternConfig is a single regex within a recognizer.
type PatternConfig struct {
	Name  string  `yaml:"name" json:"name"`
	Regex string  `yaml:"regex" json:"regex"`
	Score float64 `yaml:"score" json:"score"`
}

// LanguageContext holds context words for one language.
type LanguageContext struct {
	Language string   `yaml:"language" json:"language"`
	Context  []string `yaml:"context,omitempty" json:"context,omitempty"`
}

func (r *RecognizerConfig) isEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

func (r *RecognizerConfig) contextWords() []string {
	var words []string
	for _, lc := range r.SupportedLanguages {
		words = append(words, lc.Context...)
	}
	return words
}

// ParseRecognizerFile parses recognizer YAML.
func ParseRecognizerFile(data []byte) (*RecognizerFile, error) {
	var rf RecognizerFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing recognizer YAML: %w", err)
	}
	return &rf, nil
}

// LoadRecognizerFile reads a recognizer file from disk. A missing file is not
// an error and yields nil.
func LoadRecognizerFile(path string) (*RecognizerFile, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading recognizer file %s: %w", path, err)
	}
	return ParseRecognizerFile(data)
}

// MergeRecognizers layers recognizer lists; later layers replace earlier
// entries with the same Name and append new ones.
func MergeRecognizers(layers ...[]RecognizerConfig) []RecognizerConfig {
	index := make(map[string]int)
	var merged []RecognizerConfig
	for _, layer := range layers {
		for _, rc := range layer {
			if idx, exists := index[rc.Name]; exists {
				merged[idx] = rc
				continue
			}
			index[rc.Name] = len(merged)
			merged = append(merged, rc)
		}
	}
	return merged
}

// FilterByEntities drops recognizers whose entity is in disabled.
func FilterByEntities(recognizers []RecognizerConfig, disabled []string) []RecognizerConfig {
	if len(disabled) == 0 {
		return recognizers
	}
	blocked := make(map[string]bool, len(disabled))
	for _, e := range disabled {
		blocked[e] = true
	}
	var out []RecognizerConfig
	for _, r := range recognizers {
		if !blocked[r.SupportedEntity] {
			out = append(out, r)
		}
	}
	return out
}

// CompilePIIPatterns turns enabled recognizers into runtime patterns, one per
// regex.
func CompilePIIPatterns(recognizers []RecognizerConfig) ([]PIIPattern, error) {
	var out []PIIPattern
	for _, rec := range recognizers {
		if !rec.isEnabled() {
			continue
		}
		validate, err := validatorFor(rec.Validator)
		if err != nil {
			return nil, fmt.Errorf("recognizer %q: %w", rec.Name, err)
		}
		for _, p := range rec.Patterns {
			compiled, err := regexp.Compile(p.Regex)
			if err != nil {
				return nil, fmt.Errorf("compiling pattern %q in recognizer %q: %w", p.Name, rec.Name, err)
			}
			out = append(out, PIIPattern{
				Name:         rec.Name,
				Type:         entityToType(rec.SupportedEntity),
				Pattern:      compiled,
				Score:        p.Score,
				ContextWords: rec.contextWords(),
				Sensitivity:  rec.Sensitivity,
				Validate:     validate,
			})
		}
	}
	return out, nil
}

var entityTypeMap = map[string]string{
	"EMAIL_ADDRESS":      "email",
	"PHONE_NUMBER":       "phone",
	"IBAN_CODE":          "iban",
	"CREDIT_CARD":        "credit_card",
	"US_SSN":             "ssn",
	"ABA_ROUTING_NUMBER": "routing_number",
	"US_BANK_NUMBER":     "account_number",
}

func entityToType(entity string) string {
	if t, ok := entityTypeMap[entity]; ok {
		return t
	}
	b := []byte(entity)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}
