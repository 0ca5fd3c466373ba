package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go"

	contractx "github.com/tanpawarit/Chative-Support-Supervisor/agent/contract"
)

// ApologyAnswer is returned when no specialist produced a usable response.
const ApologyAnswer = "I apologize, but I'm having trouble accessing our systems right now. Please try again in a moment."

// LLMOracle implements routing and synthesis on top of a chat completion
// model. Prompts instruct the model to reply with a single JSON object; the
// reply is parsed leniently so fenced or prefixed output still decodes.
type LLMOracle struct {
	client  *openaisdk.Client
	cfg     Config
	prompts PromptSet
}

func New(client *openaisdk.Client, cfg Config) (*LLMOracle, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: openai client is required", contractx.ErrValidation)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &LLMOracle{
		client:  client,
		cfg:     cfg,
		prompts: LoadPromptSet(),
	}, nil
}

func MustNew(client *openaisdk.Client, cfg Config) *LLMOracle {
	o, err := New(client, cfg)
	if err != nil {
		panic(err)
	}
	return o
}

type decideWire struct {
	CanRespondDirectly bool     `json:"can_respond_directly"`
	DirectAnswer       string   `json:"direct_answer"`
	Specialists        []string `json:"selected_specialists"`
	Confidence         float64  `json:"confidence"`
	Reasoning          string   `json:"reasoning"`
}

type synthesizeWire struct {
	Answer     string  `json:"answer"`
	Confidence float64 `json:"confidence"`
}

func (o *LLMOracle) Decide(ctx context.Context, req contractx.DecideRequest) (contractx.Decision, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return contractx.Decision{}, fmt.Errorf("%w: encode decide request: %v", contractx.ErrOracle, err)
	}

	model, temperature := o.cfg.decideParams()
	raw, err := o.complete(ctx, model, temperature, o.prompts.Decide, string(payload))
	if err != nil {
		return contractx.Decision{}, fmt.Errorf("%w: decide: %v", contractx.ErrOracle, err)
	}

	var wire decideWire
	if err := unmarshalObject(raw, &wire); err != nil {
		return contractx.Decision{}, fmt.Errorf("%w: decode decide reply: %v", contractx.ErrOracle, err)
	}
	wire.DirectAnswer = strings.TrimSpace(wire.DirectAnswer)
	if wire.CanRespondDirectly && wire.DirectAnswer == "" {
		return contractx.Decision{}, fmt.Errorf("%w: direct response flagged without an answer", contractx.ErrOracle)
	}

	return contractx.Decision{
		CanRespondDirectly: wire.CanRespondDirectly,
		DirectAnswer:       wire.DirectAnswer,
		Specialists:        wire.Specialists,
		Confidence:         wire.Confidence,
		Reasoning:          strings.TrimSpace(wire.Reasoning),
	}, nil
}

func (o *LLMOracle) Synthesize(ctx context.Context, req contractx.SynthesizeRequest) (contractx.Synthesis, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return contractx.Synthesis{}, fmt.Errorf("%w: encode synthesize request: %v", contractx.ErrOracle, err)
	}

	model, temperature := o.cfg.synthesizeParams()
	raw, err := o.complete(ctx, model, temperature, o.prompts.Synthesize, string(payload))
	if err != nil {
		return contractx.Synthesis{}, fmt.Errorf("%w: synthesize: %v", contractx.ErrOracle, err)
	}

	var wire synthesizeWire
	if err := unmarshalObject(raw, &wire); err != nil {
		return contractx.Synthesis{}, fmt.Errorf("%w: decode synthesize reply: %v", contractx.ErrOracle, err)
	}
	wire.Answer = strings.TrimSpace(wire.Answer)
	if wire.Answer == "" {
		return contractx.Synthesis{}, fmt.Errorf("%w: synthesize returned an empty answer", contractx.ErrOracle)
	}

	return contractx.Synthesis{Answer: wire.Answer, Confidence: wire.Confidence}, nil
}

func (o *LLMOracle) complete(ctx context.Context, model string, temperature float32, system, user string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	resp, err := o.client.Chat.Completions.New(callCtx, openaisdk.ChatCompletionNewParams{
		Model:               openaisdk.ChatModel(model),
		Temperature:         openaisdk.Float(float64(temperature)),
		MaxCompletionTokens: openaisdk.Int(int64(o.cfg.MaxCompletionToken)),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage(system),
			openaisdk.UserMessage(user),
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", errors.New("completion returned empty content")
	}
	return content, nil
}

// unmarshalObject decodes the outermost JSON object inside raw, tolerating
// markdown fences and stray prose around it.
func unmarshalObject(raw string, v any) error {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < start {
		return errors.New("no JSON object in reply")
	}
	return json.Unmarshal([]byte(raw[start:end+1]), v)
}

// FallbackDecision is the deterministic routing used when the oracle is
// unavailable: personalization when the customer is known, order otherwise.
func FallbackDecision(customerID string) contractx.Decision {
	selected := contractx.SpecialistOrder
	if strings.TrimSpace(customerID) != "" {
		selected = contractx.SpecialistPersonalization
	}
	return contractx.Decision{
		Specialists: []string{string(selected)},
		Confidence:  0.3,
		Reasoning:   "fallback: routing oracle unavailable",
	}
}

// FallbackSynthesis combines specialist answers without the oracle. With no
// valid answers it returns the canned apology.
func FallbackSynthesis(results []contractx.SpecialistResult) contractx.Synthesis {
	if len(results) == 0 {
		return contractx.Synthesis{Answer: ApologyAnswer, Confidence: 0.1}
	}
	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, fmt.Sprintf("[%s] %s", r.Specialist, r.Body))
	}
	return contractx.Synthesis{Answer: strings.Join(parts, "\n\n"), Confidence: 0.4}
}
