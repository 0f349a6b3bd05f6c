package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "prepx"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage prepx configuration.

Values come from, in order of precedence: PREPX_* environment variables,
~/.config/prepx/config.yaml, and built-in defaults.
Running bare 'prepx config' is the same as 'prepx config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

func init() {
	configInitCmd := &cobra.Command{
		Use:   "init",
		Short: "Create config file with commented defaults",
		RunE:  func(cmd *cobra.Command, args []string) error { return configInitRun() },
	}
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")

	configCmd.AddCommand(
		configInitCmd,
		&cobra.Command{
			Use:   "show",
			Short: "Show effective configuration with sources",
			RunE:  func(cmd *cobra.Command, args []string) error { return configShowRun() },
		},
		&cobra.Command{
			Use:   "edit",
			Short: "Open config file in $EDITOR",
			RunE:  func(cmd *cobra.Command, args []string) error { return configEditRun() },
		},
	)
	rootCmd.AddCommand(configCmd)
}

// shownKeys are the keys listed by 'config show'. The API key is reported
// only as configured or not.
var shownKeys = []string{
	"state_dir",
	"db_path",
	"upload_dir",
	"port",
	"anthropic.model",
	"anthropic.max_tokens",
	"anthropic.plan_max_tokens",
	"limiter.interval",
	"stream.keepalive",
	"session.ttl",
	"session.sweep_interval",
	"textbook.toc_pages",
	"textbook.sample_pages",
	"textbook.max_chars",
	"textbook.default_hours",
}

// envVarFor maps a dotted key to the environment variable viper binds it to.
func envVarFor(key string) string {
	return "PREPX_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

const configTemplate = `# prepx configuration
# Effective values and their sources: prepx config show

# state_dir: {{ .state_dir }}
# db_path: {{ .db_path }}

# Upload area, relative to state_dir unless absolute
upload_dir: "{{ .upload_dir }}"

# HTTP port for 'prepx serve'
port: {{ .port }}

anthropic:
  # Leave empty to use ANTHROPIC_API_KEY
  api_key: ""
  model: "{{ .anthropic_model }}"

limiter:
  # Minimum gap between the starts of two model calls, process-wide
  interval: "{{ .limiter_interval }}"

session:
  # Idle sessions older than this are evicted with their uploads
  ttl: "{{ .session_ttl }}"
`

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func renderConfigTemplate() ([]byte, error) {
	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse config template: %w", err)
	}
	var buf bytes.Buffer
	err = tmpl.Execute(&buf, map[string]any{
		"state_dir":        viper.GetString("state_dir"),
		"db_path":          viper.GetString("db_path"),
		"upload_dir":       viper.GetString("upload_dir"),
		"port":             viper.GetInt("port"),
		"anthropic_model":  viper.GetString("anthropic.model"),
		"limiter_interval": viper.GetDuration("limiter.interval").String(),
		"session_ttl":      viper.GetDuration("session.ttl").String(),
	})
	if err != nil {
		return nil, fmt.Errorf("render config template: %w", err)
	}
	return buf.Bytes(), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	content, err := renderConfigTemplate()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	// The file may later hold an API key.
	if err := os.WriteFile(cfgPath, content, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, string(content))
	return nil
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	keyState := "not configured"
	if apiKey() != "" {
		keyState = "configured"
	}
	ui.Info("Anthropic API key: %s", keyState)
	fmt.Fprintln(ui.Out)

	inFile := fileKeys(cfgPath)
	table := ui.Table([]string{"Key", "Value", "Source"})
	for _, key := range shownKeys {
		row := []string{key, fmt.Sprint(viper.Get(key)), detectSource(key, envVarFor(key), inFile)}
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

// fileKeys returns the dotted keys set in the YAML file at path.
func fileKeys(path string) map[string]bool {
	keys := make(map[string]bool)
	data, err := os.ReadFile(path)
	if err != nil {
		return keys
	}
	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return keys
	}
	flattenKeys("", parsed, keys)
	return keys
}

// flattenKeys records every leaf of a nested map under its dotted key.
func flattenKeys(prefix string, m map[string]any, out map[string]bool) {
	for key, val := range m {
		if prefix != "" {
			key = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(key, nested, out)
			continue
		}
		out[key] = true
	}
}

func detectSource(key, envVar string, inFile map[string]bool) string {
	switch {
	case os.Getenv(envVar) != "":
		return "env: " + envVar
	case inFile[key]:
		return "file"
	default:
		return "default"
	}
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set; export EDITOR=vim or similar")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'prepx config init' first)", cfgPath)
	}

	c := exec.Command(editor, cfgPath)
	c.Stdin, c.Stdout, c.Stderr = os.Stdin, os.Stdout, os.Stderr
	return c.Run()
}
