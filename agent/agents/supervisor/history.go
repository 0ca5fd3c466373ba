package supervisor

import (
	"context"
	"fmt"

	checkpointx "github.com/tanpawarit/Chative-Support-Supervisor/agent/checkpoint"
	contractx "github.com/tanpawarit/Chative-Support-Supervisor/agent/contract"
	statex "github.com/tanpawarit/Chative-Support-Supervisor/agent/state"
)

// History returns a thread's checkpoints, newest first.
func (s *Supervisor) History(ctx context.Context, threadID string, limit int) ([]*checkpointx.Checkpoint, error) {
	return s.store.List(ctx, threadID, s.namespace, checkpointx.ListOptions{Limit: limit})
}

// StateAt decodes the turn state captured in one checkpoint.
func (s *Supervisor) StateAt(ctx context.Context, threadID, checkpointID string) (*statex.TurnState, error) {
	cp, err := s.store.Get(ctx, threadID, s.namespace, checkpointID)
	if err != nil {
		return nil, err
	}
	st := new(statex.TurnState)
	if err := s.codec.Decode(cp.State, st); err != nil {
		return nil, fmt.Errorf("%w: decode state: %v", checkpointx.ErrRead, err)
	}
	return st, nil
}

// recentExchanges rebuilds the last completed turns of a thread from its
// synthesizer checkpoints, oldest first, for the routing prompt. History is
// best effort; a store problem just means routing without it.
func (s *Supervisor) recentExchanges(ctx context.Context, threadID string) []contractx.Exchange {
	if s.historyTurns == 0 {
		return nil
	}
	cps, err := s.store.List(ctx, threadID, s.namespace, checkpointx.ListOptions{
		Filter: map[string]string{"node": nodeSynthesizer.String()},
		Limit:  s.historyTurns,
	})
	if err != nil {
		s.log.Debug().Err(err).Str("thread_id", threadID).Msg("history lookup failed")
		return nil
	}

	exchanges := make([]contractx.Exchange, 0, len(cps))
	for i := len(cps) - 1; i >= 0; i-- {
		st := new(statex.TurnState)
		if err := s.codec.Decode(cps[i].State, st); err != nil {
			s.log.Debug().Err(err).Str("thread_id", threadID).
				Str("checkpoint_id", cps[i].ID).Msg("skipping undecodable history checkpoint")
			continue
		}
		if st.FinalAnswer == "" {
			continue
		}
		exchanges = append(exchanges, contractx.Exchange{
			CustomerMessage: st.CustomerMessage,
			FinalAnswer:     st.FinalAnswer,
		})
	}
	return exchanges
}
