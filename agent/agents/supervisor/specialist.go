package supervisor

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/Chative-Support-Supervisor/agent/contract"
)

// runSpecialist dispatches the head of the remaining list. A failed call is
// recorded as an error marker on the same key a success would use; the turn
// always proceeds to the next transition. The exception is a call that failed
// because the request itself was cancelled: nothing is recorded, so the
// specialist stays pending and a later resume retries it.
func (s *Supervisor) runSpecialist(ctx context.Context, turn *turnRun) error {
	st := turn.state
	id, ok := st.NextSpecialist()
	if !ok {
		return fmt.Errorf("%w: no specialist remaining", contractx.ErrValidation)
	}

	env := contractx.Envelope{
		CustomerMessage: st.CustomerMessage,
		SessionID:       st.SessionID,
		CustomerID:      st.CustomerID,
		Context:         turn.req.Context,
	}

	started := s.now()
	body, err := s.caller.Call(ctx, id, env)
	ans := contractx.SpecialistAnswer{Elapsed: s.now().Sub(started)}
	if err != nil {
		if ctx.Err() != nil {
			s.log.Warn().Err(err).
				Str("thread_id", turn.req.ThreadID).
				Str("specialist", string(id)).
				Msg("specialist call cancelled with the request, leaving it pending")
			return ctx.Err()
		}
		ans.Err = err.Error()
		s.log.Warn().Err(err).
			Str("thread_id", turn.req.ThreadID).
			Str("specialist", string(id)).
			Dur("elapsed", ans.Elapsed).
			Msg("specialist call failed")
	} else {
		ans.Body = body
	}

	turn.lastSpecialist = id
	return st.CompleteSpecialist(id, ans)
}
