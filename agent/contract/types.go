package contract

import (
	"strings"
	"time"
)

// Specialist identifies one of the external support services. The set is
// closed; identifiers outside it are discarded at the routing step.
type Specialist string

const (
	SpecialistOrder           Specialist = "order"
	SpecialistProduct         Specialist = "product"
	SpecialistTroubleshooting Specialist = "troubleshooting"
	SpecialistPersonalization Specialist = "personalization"
)

func KnownSpecialists() []Specialist {
	return []Specialist{
		SpecialistOrder,
		SpecialistProduct,
		SpecialistTroubleshooting,
		SpecialistPersonalization,
	}
}

// ParseSpecialist normalizes a raw identifier, accepting the legacy long-form
// names still emitted by older routing prompts.
func ParseSpecialist(raw string) (Specialist, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "order", "order_management":
		return SpecialistOrder, true
	case "product", "product_recommendation":
		return SpecialistProduct, true
	case "troubleshooting":
		return SpecialistTroubleshooting, true
	case "personalization":
		return SpecialistPersonalization, true
	default:
		return "", false
	}
}

type TurnRequest struct {
	ThreadID        string         `json:"thread_id,omitempty"`
	SessionID       string         `json:"session_id"`
	CustomerID      string         `json:"customer_id,omitempty"`
	CustomerMessage string         `json:"customer_message"`
	Context         map[string]any `json:"context,omitempty"`
}

type TurnResult struct {
	ThreadID             string        `json:"thread_id"`
	SessionID            string        `json:"session_id"`
	FinalAnswer          string        `json:"final_answer"`
	Confidence           float64       `json:"confidence"`
	SpecialistsConsulted []Specialist  `json:"specialists_consulted,omitempty"`
	Elapsed              time.Duration `json:"elapsed"`
	CheckpointID         string        `json:"checkpoint_id,omitempty"`
}

// SpecialistAnswer records the outcome of one specialist call. Body holds the
// raw response payload on success; Err holds the failure marker otherwise.
type SpecialistAnswer struct {
	Body    string        `json:"body,omitempty" msgpack:"body,omitempty"`
	Err     string        `json:"err,omitempty" msgpack:"err,omitempty"`
	Elapsed time.Duration `json:"elapsed,omitempty" msgpack:"elapsed,omitempty"`
}

func (a SpecialistAnswer) OK() bool {
	return a.Err == ""
}

type SpecialistResult struct {
	Specialist Specialist `json:"specialist"`
	Body       string     `json:"body"`
}

type Exchange struct {
	CustomerMessage string `json:"customer_message"`
	FinalAnswer     string `json:"final_answer"`
}

type DecideRequest struct {
	CustomerMessage string         `json:"customer_message"`
	SessionID       string         `json:"session_id"`
	CustomerID      string         `json:"customer_id,omitempty"`
	History         []Exchange     `json:"history,omitempty"`
	Context         map[string]any `json:"context,omitempty"`
}

type Decision struct {
	CanRespondDirectly bool     `json:"can_respond_directly"`
	DirectAnswer       string   `json:"direct_answer,omitempty"`
	Specialists        []string `json:"selected_specialists,omitempty"`
	Confidence         float64  `json:"confidence"`
	Reasoning          string   `json:"reasoning,omitempty"`
}

type SynthesizeRequest struct {
	CustomerMessage string             `json:"customer_message"`
	Results         []SpecialistResult `json:"results"`
}

type Synthesis struct {
	Answer     string  `json:"answer"`
	Confidence float64 `json:"confidence"`
}

// Envelope is the JSON body posted to a specialist service. Query mirrors
// CustomerMessage for the specialists that read the alias field.
type Envelope struct {
	CustomerMessage string         `json:"customer_message"`
	SessionID       string         `json:"session_id"`
	CustomerID      string         `json:"customer_id,omitempty"`
	Context         map[string]any `json:"context,omitempty"`
	Query           string         `json:"query,omitempty"`
}
