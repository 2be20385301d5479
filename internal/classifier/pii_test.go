package classifier

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScan(t *testing.T) {
	scanner := MustNewScanner()
	ctx := context.Background()

	tests := []struct {
		name      string
		text      string
		wantPII   bool
		wantTypes []string
	}{
		{name: "no PII", text: "What's my checking balance?", wantPII: false},
		{name: "plain numbers", text: "I spent 500 dollars across 2 accounts in 2026", wantPII: false},
		{name: "email", text: "email me at jane@example.com", wantPII: true, wantTypes: []string{"email"}},
		{name: "card with context", text: "Card: 4111 1111 1111 1111", wantPII: true, wantTypes: []string{"credit_card"}},
		{name: "card failing luhn", text: "Card: 4111 1111 1111 1112", wantPII: false},
		{name: "account number with context", text: "my account number is 12345678901", wantPII: true, wantTypes: []string{"account_number"}},
		{name: "digits without context", text: "order 12345678901 shipped", wantPII: false},
		{name: "routing number", text: "routing 021000021", wantPII: true, wantTypes: []string{"routing_number"}},
		{name: "routing bad checksum", text: "routing 021000022", wantPII: false},
		{name: "iban", text: "wire to DE89370400440532013000", wantPII: true, wantTypes: []string{"iban"}},
		{name: "ssn", text: "SSN 123-45-6789", wantPII: true, wantTypes: []string{"ssn"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cls := scanner.Scan(ctx, tt.text)
			assert.Equal(t, tt.wantPII, cls.HasPII)
			if tt.wantTypes != nil {
				assert.Equal(t, tt.wantTypes, cls.Types())
			}
		})
	}
}

func TestRedact(t *testing.T) {
	scanner := MustNewScanner()
	ctx := context.Background()

	assert.Equal(t, "my account number is [ACCOUNT_NUMBER], thanks",
		scanner.Redact(ctx, "my account number is 12345678901, thanks"))
	assert.Equal(t, "Card: [CREDIT_CARD] and [EMAIL]",
		scanner.Redact(ctx, "Card: 4111 1111 1111 1111 and jane@example.com"))
	assert.Equal(t, "nothing here", scanner.Redact(ctx, "nothing here"))
}

func TestRedactWithResult_Sensitivity(t *testing.T) {
	scanner := MustNewScanner()
	out, cls := scanner.RedactWithResult(context.Background(), "SSN 123-45-6789")
	assert.Equal(t, "SSN [SSN]", out)
	assert.Equal(t, 3, cls.MaxSensitivity)
}

func TestWithDisabledEntities(t *testing.T) {
	scanner := MustNewScanner(WithDisabledEntities([]string{"EMAIL_ADDRESS"}))
	assert.False(t, scanner.Scan(context.Background(), "jane@example.com").HasPII)
}

func TestWithPatternFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "extra.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`recognizers:
  - name: member_id
    supported_entity: MEMBER_ID
    sensitivity: 2
    patterns:
      - name: member
        regex: '\bMBR-[0-9]{6}\b'
        score: 0.8
`), 0o600))

	scanner, err := NewScanner(WithPatternFile(path))
	require.NoError(t, err)
	assert.Equal(t, "id [MEMBER_ID]", scanner.Redact(context.Background(), "id MBR-123456"))

	_, err = NewScanner(WithPatternFile(filepath.Join(dir, "missing.yaml")))
	assert.NoError(t, err, "missing pattern file is skipped")
}

func TestCompilePIIPatterns_Errors(t *testing.T) {
	_, err := CompilePIIPatterns([]RecognizerConfig{{Name: "x", Validator: "crc"}})
	assert.Error(t, err)

	_, err = CompilePIIPatterns([]RecognizerConfig{{Name: "x", Patterns: []PatternConfig{{Regex: "("}}}})
	assert.Error(t, err)
}

func TestMergeRecognizers(t *testing.T) {
	a := []RecognizerConfig{{Name: "one", Sensitivity: 1}, {Name: "two"}}
	b := []RecognizerConfig{{Name: "one", Sensitivity: 3}, {Name: "three"}}
	merged := MergeRecognizers(a, b)
	require.Len(t, merged, 3)
	assert.Equal(t, 3, merged[0].Sensitivity)
	assert.Equal(t, "three", merged[2].Name)
}

func TestValidators(t *testing.T) {
	assert.True(t, luhnValid("4111111111111111"))
	assert.False(t, luhnValid("4111111111111112"))
	assert.False(t, luhnValid("42"))
	assert.True(t, abaValid("021000021"))
	assert.False(t, abaValid("000000000"))
	assert.True(t, validateIBANChecksum("DE89370400440532013000"))
	assert.True(t, validateIBANLength("DE89370400440532013000"))
	assert.False(t, validateIBANLength("DE8937040044053201300"))
}
