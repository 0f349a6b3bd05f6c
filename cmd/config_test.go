package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/prepx/internal/output"
)

// testEnv sets up isolated config dir, viper, and output for testing.
func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	origFunc := configDirFunc
	configDirFunc = func() (string, error) { return dir, nil }
	t.Cleanup(func() { configDirFunc = origFunc })

	viper.Reset()
	setDefaults(dir)

	ui = &output.UI{Out: &bytes.Buffer{}, ErrOut: &bytes.Buffer{}}

	return dir
}

func TestConfigInit_CreatesFile(t *testing.T) {
	dir := testEnv(t)

	err := configInitRun()
	require.NoError(t, err)

	cfgPath := filepath.Join(dir, "config.yaml")
	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "prepx configuration")
	assert.Contains(t, string(data), `interval: "13s"`)
	assert.Contains(t, string(data), `ttl: "24h0m0s"`)
	assert.Contains(t, string(data), "port: 8000")
}

func TestConfigInit_TemplateIsValidYAML(t *testing.T) {
	dir := testEnv(t)
	require.NoError(t, configInitRun())

	viper.SetConfigFile(filepath.Join(dir, "config.yaml"))
	require.NoError(t, viper.ReadInConfig())
	assert.Equal(t, 8000, viper.GetInt("port"))
	assert.Equal(t, "claude-haiku-4-5-20251001", viper.GetString("anthropic.model"))
}

func TestConfigInit_RefusesOverwrite(t *testing.T) {
	dir := testEnv(t)

	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("existing"), 0644))

	configForce = false
	err := configInitRun()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestConfigInit_ForceOverwrite(t *testing.T) {
	dir := testEnv(t)

	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("existing"), 0644))

	configForce = true
	t.Cleanup(func() { configForce = false })
	err := configInitRun()
	require.NoError(t, err)

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "prepx configuration")
}

func TestConfigShow_NoFile(t *testing.T) {
	testEnv(t)

	require.NoError(t, configShowRun())
	out := ui.Out.(*bytes.Buffer).String()
	assert.Contains(t, out, "(none)")
	assert.Contains(t, out, "limiter.interval")
	assert.Contains(t, out, "13s")
	assert.NotContains(t, out, "api_key")
}

func TestConfigShow_WithFile(t *testing.T) {
	testEnv(t)
	require.NoError(t, configInitRun())

	assert.NoError(t, configShowRun())
}

func TestConfigEdit_NoEditor(t *testing.T) {
	testEnv(t)
	t.Setenv("EDITOR", "")
	t.Setenv("VISUAL", "")

	err := configEditRun()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "$EDITOR is not set")
}

func TestConfigEdit_NoConfigFile(t *testing.T) {
	testEnv(t)
	t.Setenv("EDITOR", "echo")

	err := configEditRun()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestDetectSource(t *testing.T) {
	fileValues := map[string]bool{"key_a": true}

	t.Setenv("PREPX_TEST_KEY", "val")
	assert.Contains(t, detectSource("test_key", "PREPX_TEST_KEY", fileValues), "env")
	assert.Contains(t, detectSource("key_a", "PREPX_KEY_A_NONEXISTENT", fileValues), "file")
	assert.Contains(t, detectSource("key_b", "PREPX_KEY_B_NONEXISTENT", fileValues), "default")
}

func TestEnvVarFor(t *testing.T) {
	assert.Equal(t, "PREPX_PORT", envVarFor("port"))
	assert.Equal(t, "PREPX_LIMITER_INTERVAL", envVarFor("limiter.interval"))
}

func TestFlattenKeys(t *testing.T) {
	input := map[string]any{
		"top": "val",
		"nested": map[string]any{
			"a": "1",
			"b": "2",
		},
	}

	result := make(map[string]bool)
	flattenKeys("", input, result)

	assert.True(t, result["top"])
	assert.True(t, result["nested.a"])
	assert.True(t, result["nested.b"])
	assert.False(t, result["nested"])
}

func TestStageOptions_FromConfig(t *testing.T) {
	testEnv(t)
	viper.Set("textbook.toc_pages", 20)
	viper.Set("textbook.default_hours", 1.5)

	opts := stageOptions()
	assert.Equal(t, 20, opts.TocPages)
	assert.Equal(t, 1.5, opts.DefaultHours)
	assert.Equal(t, 3, opts.SamplePages)
	assert.Equal(t, 15000, opts.MaxSampleChars)
	assert.Equal(t, int64(16384), opts.PlanMaxTokens)
}

func TestUploadRoot(t *testing.T) {
	dir := testEnv(t)
	assert.Equal(t, filepath.Join(dir, "sessions"), uploadRoot())

	abs := filepath.Join(t.TempDir(), "up")
	viper.Set("upload_dir", abs)
	assert.Equal(t, abs, uploadRoot())
}
