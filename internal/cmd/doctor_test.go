package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethanteng/finsight-sub001/internal/doctor"
)

func TestDoctorCmd_FailsWithoutLLMKey(t *testing.T) {
	dir := isolateEnv(t)

	var buf bytes.Buffer
	doctorCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"doctor", "--skip-upstream", "--format", "text"})

	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "doctor checks failed")

	out := buf.String()
	assert.Contains(t, out, "data_dir_writable")
	assert.Contains(t, out, dir)
	assert.Contains(t, out, "fix: Set FINSIGHT_LLM_API_KEY")
}

func TestDoctorCmd_PassesWithKey(t *testing.T) {
	isolateEnv(t)
	t.Setenv("FINSIGHT_LLM_API_KEY", "sk-test-key-for-doctor")

	var buf bytes.Buffer
	doctorCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"doctor", "--skip-upstream", "--format", "text"})
	require.NoError(t, rootCmd.Execute())

	out := buf.String()
	assert.Contains(t, out, "llm_key")
	assert.Contains(t, out, "audit_db")
	assert.Contains(t, out, "0 failed")
}

func TestDoctorCmd_JSONFormat(t *testing.T) {
	isolateEnv(t)

	var buf bytes.Buffer
	doctorCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"doctor", "--format", "json", "--skip-upstream"})
	_ = rootCmd.Execute()
	doctorFormat = "text"

	out := buf.String()
	assert.Contains(t, out, `"status"`)
	assert.Contains(t, out, `"checks"`)
	assert.Contains(t, out, `"summary"`)
}

func TestRenderDoctorReport(t *testing.T) {
	var buf bytes.Buffer
	renderDoctorReport(&buf, &doctor.Report{
		Checks: []doctor.CheckResult{
			{Name: "a", Status: "pass", Message: "ok"},
			{Name: "b", Status: "warn", Message: "meh", Fix: "do x"},
		},
		Summary: doctor.Summary{Pass: 1, Warn: 1},
	})
	out := buf.String()
	assert.Contains(t, out, "✓ a")
	assert.Contains(t, out, "⚠ b")
	assert.Contains(t, out, "fix: do x")
	assert.Contains(t, out, "1 passed, 1 warnings, 0 failed")
}
