package state

import (
	"errors"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/Chative-Support-Supervisor/agent/contract"
)

// TurnState is the supervisor's working state for one conversation turn. The
// field set is closed: nodes communicate only through these named fields, and
// the whole struct is what a checkpoint's state blob encodes.
// - Routing: SelectedSpecialists + RemainingSpecialists drive the transitions
// - Merging: Responses + DirectAnswer feed the terminal node
type TurnState struct {
	// Immutable request facts
	CustomerMessage string `json:"customer_message" msgpack:"customer_message"`
	SessionID       string `json:"session_id" msgpack:"session_id"`
	CustomerID      string `json:"customer_id,omitempty" msgpack:"customer_id,omitempty"`

	SelectedSpecialists  []contractx.Specialist                               `json:"selected_specialists,omitempty" msgpack:"selected_specialists,omitempty"`
	RemainingSpecialists []contractx.Specialist                               `json:"remaining_specialists,omitempty" msgpack:"remaining_specialists,omitempty"`
	Responses            map[contractx.Specialist]contractx.SpecialistAnswer `json:"responses,omitempty" msgpack:"responses,omitempty"`

	DirectAnswer string `json:"direct_answer,omitempty" msgpack:"direct_answer,omitempty"`

	// Populated only at the terminal node
	FinalAnswer string  `json:"final_answer,omitempty" msgpack:"final_answer,omitempty"`
	Confidence  float64 `json:"confidence,omitempty" msgpack:"confidence,omitempty"`
}

var (
	ErrEmptyMessage      = errors.New("customer message is empty")
	ErrEmptySession      = errors.New("session id is empty")
	ErrNotSubsequence    = errors.New("remaining specialists diverge from selection")
	ErrSpecialistOrder   = errors.New("specialist completed out of order")
	ErrAlreadyDispatched = errors.New("specialist selection already made")
)

func NewTurnState(req contractx.TurnRequest) *TurnState {
	return &TurnState{
		CustomerMessage: strings.TrimSpace(req.CustomerMessage),
		SessionID:       strings.TrimSpace(req.SessionID),
		CustomerID:      strings.TrimSpace(req.CustomerID),
	}
}

/* ----------------------------- Transitions ------------------------------ */

// SelectSpecialists records the routing decision. Remaining starts as a copy
// of the selection so the two lists only ever diverge by popping the head.
func (s *TurnState) SelectSpecialists(ids []contractx.Specialist) error {
	if s == nil {
		return errors.New("nil turn state")
	}
	if len(s.SelectedSpecialists) > 0 || s.DirectAnswer != "" {
		return ErrAlreadyDispatched
	}
	s.SelectedSpecialists = append([]contractx.Specialist(nil), ids...)
	s.RemainingSpecialists = append([]contractx.Specialist(nil), ids...)
	return nil
}

// SetDirectAnswer records the router's short-circuit answer; no specialists
// run afterwards.
func (s *TurnState) SetDirectAnswer(answer string) error {
	if s == nil {
		return errors.New("nil turn state")
	}
	if len(s.SelectedSpecialists) > 0 || s.DirectAnswer != "" {
		return ErrAlreadyDispatched
	}
	s.DirectAnswer = strings.TrimSpace(answer)
	return nil
}

// NextSpecialist peeks the head of the remaining list.
func (s *TurnState) NextSpecialist() (contractx.Specialist, bool) {
	if s == nil || len(s.RemainingSpecialists) == 0 {
		return "", false
	}
	return s.RemainingSpecialists[0], true
}

// CompleteSpecialist records the answer for the specialist at the head of the
// remaining list and pops it. Completing any other specialist is an ordering
// violation; a popped identifier is never re-added within the turn.
func (s *TurnState) CompleteSpecialist(id contractx.Specialist, ans contractx.SpecialistAnswer) error {
	if s == nil {
		return errors.New("nil turn state")
	}
	if len(s.RemainingSpecialists) == 0 || s.RemainingSpecialists[0] != id {
		return fmt.Errorf("%w: specialist=%s", ErrSpecialistOrder, id)
	}
	if s.Responses == nil {
		s.Responses = make(map[contractx.Specialist]contractx.SpecialistAnswer, len(s.SelectedSpecialists))
	}
	s.Responses[id] = ans
	s.RemainingSpecialists = s.RemainingSpecialists[1:]
	return nil
}

// Finalize records the terminal answer and confidence.
func (s *TurnState) Finalize(answer string, confidence float64) {
	s.FinalAnswer = answer
	s.Confidence = confidence
}

func (s *TurnState) Done() bool {
	return s != nil && s.FinalAnswer != ""
}

/* ------------------------------- Queries -------------------------------- */

// ValidResults returns the successful responses in selection order.
func (s *TurnState) ValidResults() []contractx.SpecialistResult {
	if s == nil || len(s.Responses) == 0 {
		return nil
	}
	out := make([]contractx.SpecialistResult, 0, len(s.Responses))
	for _, id := range s.SelectedSpecialists {
		ans, ok := s.Responses[id]
		if !ok || !ans.OK() {
			continue
		}
		out = append(out, contractx.SpecialistResult{Specialist: id, Body: ans.Body})
	}
	return out
}

// FailedCount counts recorded specialist failures.
func (s *TurnState) FailedCount() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, ans := range s.Responses {
		if !ans.OK() {
			n++
		}
	}
	return n
}

// Validate checks the structural invariants of a state snapshot, typically
// after decoding it from a checkpoint.
func (s *TurnState) Validate() error {
	if s == nil {
		return errors.New("nil turn state")
	}
	if strings.TrimSpace(s.CustomerMessage) == "" {
		return ErrEmptyMessage
	}
	if strings.TrimSpace(s.SessionID) == "" {
		return ErrEmptySession
	}
	if !isSubsequence(s.RemainingSpecialists, s.SelectedSpecialists) {
		return ErrNotSubsequence
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("confidence %v out of range", s.Confidence)
	}
	return nil
}

// isSubsequence reports whether sub appears within full in order.
func isSubsequence(sub, full []contractx.Specialist) bool {
	i := 0
	for _, id := range full {
		if i < len(sub) && sub[i] == id {
			i++
		}
	}
	return i == len(sub)
}
