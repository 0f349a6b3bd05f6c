package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/viper"

	"github.com/joescharf/prepx/internal/docs"
	"github.com/joescharf/prepx/internal/llm"
	"github.com/joescharf/prepx/internal/ratelimit"
	"github.com/joescharf/prepx/internal/stages"
)

// apiKey reads the Anthropic key from config, then from ANTHROPIC_API_KEY.
func apiKey() string {
	if k := viper.GetString("anthropic.api_key"); k != "" {
		return k
	}
	return os.Getenv("ANTHROPIC_API_KEY")
}

// newAgent returns the model client gated by one process-wide limiter. Without
// an API key every call fails with llm.ErrNotConfigured.
func newAgent() llm.Agent {
	key := apiKey()
	if key == "" {
		return llm.Unconfigured{}
	}
	limiter := ratelimit.New(viper.GetDuration("limiter.interval"))
	return llm.Gate(llm.NewClient(key, viper.GetString("anthropic.model")), limiter)
}

// stageOptions overlays configured limits on the defaults.
func stageOptions() stages.Options {
	opts := stages.DefaultOptions()
	if v := viper.GetInt("textbook.toc_pages"); v > 0 {
		opts.TocPages = v
	}
	if v := viper.GetInt("textbook.sample_pages"); v > 0 {
		opts.SamplePages = v
	}
	if v := viper.GetInt("textbook.max_chars"); v > 0 {
		opts.MaxSampleChars = v
	}
	if v := viper.GetFloat64("textbook.default_hours"); v > 0 {
		opts.DefaultHours = v
	}
	if v := viper.GetInt64("anthropic.max_tokens"); v > 0 {
		opts.MaxTokens = v
	}
	if v := viper.GetInt64("anthropic.plan_max_tokens"); v > 0 {
		opts.PlanMaxTokens = v
	}
	return opts
}

func newExecutor(agent llm.Agent, logger *slog.Logger) *stages.Executor {
	return stages.NewExecutor(agent, docs.NewExtractor(), stageOptions(), logger)
}
