package oracle

import (
	_ "embed"
	"strings"
)

var (
	//go:embed template/decide.txt
	decideRaw string

	//go:embed template/synthesize.txt
	synthesizeRaw string
)

// PromptSet holds loaded prompt content.
type PromptSet struct {
	Decide     string
	Synthesize string
}

// LoadPromptSet returns the embedded prompts, trimmed. Safe for concurrent use.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Decide:     strings.TrimSpace(decideRaw),
		Synthesize: strings.TrimSpace(synthesizeRaw),
	}
}
