package oracle

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Support-Supervisor/agent/contract"
)

type Config struct {
	Model              string        `envconfig:"MODEL" split_words:"true" default:"openai/gpt-4o-mini"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"1024"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"20s"`

	DecideModel           string  `envconfig:"DECIDE_MODEL" split_words:"true"`
	SynthesizeModel       string  `envconfig:"SYNTHESIZE_MODEL" split_words:"true"`
	DecideTemperature     float32 `envconfig:"DECIDE_TEMPERATURE" split_words:"true" default:"0.1"`
	SynthesizeTemperature float32 `envconfig:"SYNTHESIZE_TEMPERATURE" split_words:"true" default:"0.3"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrValidation)
	}
	if c.MaxCompletionToken <= 0 {
		return fmt.Errorf("%w: max completion token must be positive", contractx.ErrValidation)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", contractx.ErrValidation)
	}
	return nil
}

func (c Config) decideParams() (model string, temperature float32) {
	model = strings.TrimSpace(c.Model)
	if v := strings.TrimSpace(c.DecideModel); v != "" {
		model = v
	}
	return model, c.DecideTemperature
}

func (c Config) synthesizeParams() (model string, temperature float32) {
	model = strings.TrimSpace(c.Model)
	if v := strings.TrimSpace(c.SynthesizeModel); v != "" {
		model = v
	}
	return model, c.SynthesizeTemperature
}
