package supervisor

import (
	"context"
	"strings"

	contractx "github.com/tanpawarit/Chative-Support-Supervisor/agent/contract"
	oraclex "github.com/tanpawarit/Chative-Support-Supervisor/agent/oracle"
)

// runRouter asks the oracle how to handle the turn. Any oracle failure folds
// into the deterministic single-specialist fallback; routing never aborts.
func (s *Supervisor) runRouter(ctx context.Context, turn *turnRun) error {
	st := turn.state

	decision, err := s.oracle.Decide(ctx, contractx.DecideRequest{
		CustomerMessage: st.CustomerMessage,
		SessionID:       st.SessionID,
		CustomerID:      st.CustomerID,
		History:         s.recentExchanges(ctx, turn.req.ThreadID),
		Context:         turn.req.Context,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("thread_id", turn.req.ThreadID).
			Msg("routing oracle failed, using fallback selection")
		return st.SelectSpecialists(s.fallbackSelection(st.CustomerID))
	}

	if answer := strings.TrimSpace(decision.DirectAnswer); decision.CanRespondDirectly && answer != "" {
		s.log.Debug().Str("thread_id", turn.req.ThreadID).
			Float64("oracle_confidence", decision.Confidence).
			Str("reasoning", decision.Reasoning).
			Msg("router answered directly")
		return st.SetDirectAnswer(answer)
	}

	ids := s.sanitizeSelection(decision.Specialists)
	if len(ids) == 0 {
		s.log.Warn().Strs("raw_selection", decision.Specialists).
			Str("thread_id", turn.req.ThreadID).
			Msg("router selection empty after sanitizing, using fallback selection")
		ids = s.fallbackSelection(st.CustomerID)
	}

	s.log.Debug().Str("thread_id", turn.req.ThreadID).
		Int("selected", len(ids)).
		Float64("oracle_confidence", decision.Confidence).
		Str("reasoning", decision.Reasoning).
		Msg("router selected specialists")
	return st.SelectSpecialists(ids)
}

// sanitizeSelection maps raw identifiers onto the known specialist set,
// dropping unknowns, collapsing duplicates and capping the fan-out.
func (s *Supervisor) sanitizeSelection(raw []string) []contractx.Specialist {
	seen := make(map[contractx.Specialist]bool, len(raw))
	out := make([]contractx.Specialist, 0, len(raw))
	for _, r := range raw {
		id, ok := contractx.ParseSpecialist(r)
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
		if len(out) == s.maxFanout {
			break
		}
	}
	return out
}

func (s *Supervisor) fallbackSelection(customerID string) []contractx.Specialist {
	return s.sanitizeSelection(oraclex.FallbackDecision(customerID).Specialists)
}
