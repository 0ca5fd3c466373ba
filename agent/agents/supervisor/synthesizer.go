package supervisor

import (
	"context"

	contractx "github.com/tanpawarit/Chative-Support-Supervisor/agent/contract"
	oraclex "github.com/tanpawarit/Chative-Support-Supervisor/agent/oracle"
)

const singleSourcePrefix = "Based on my analysis: "

// runSynthesizer folds the collected answers into the final reply.
// The confidence attached to the reply is computed here from the outcome
// counts; the oracle's self-reported confidence is only logged.
func (s *Supervisor) runSynthesizer(ctx context.Context, turn *turnRun) error {
	st := turn.state

	if st.DirectAnswer != "" {
		st.Finalize(st.DirectAnswer, directConfidence)
		return nil
	}

	valid := st.ValidResults()
	failed := st.FailedCount()

	switch len(valid) {
	case 0:
		st.Finalize(oraclex.ApologyAnswer, noAnswerConfidence)
		return nil
	case 1:
		st.Finalize(singleSourcePrefix+valid[0].Body, scoreConfidence(bandPrimary, len(valid), failed))
		return nil
	}

	synthesis, err := s.oracle.Synthesize(ctx, contractx.SynthesizeRequest{
		CustomerMessage: st.CustomerMessage,
		Results:         valid,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("thread_id", turn.req.ThreadID).
			Msg("synthesis oracle failed, concatenating specialist answers")
		fallback := oraclex.FallbackSynthesis(valid)
		st.Finalize(fallback.Answer, scoreConfidence(bandDegraded, len(valid), failed))
		return nil
	}

	s.log.Debug().Str("thread_id", turn.req.ThreadID).
		Float64("oracle_confidence", synthesis.Confidence).
		Msg("synthesis complete")
	st.Finalize(synthesis.Answer, scoreConfidence(bandPrimary, len(valid), failed))
	return nil
}
