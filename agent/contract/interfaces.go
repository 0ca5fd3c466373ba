package contract

import "context"

type Oracle interface {
	Decide(ctx context.Context, req DecideRequest) (Decision, error)
	Synthesize(ctx context.Context, req SynthesizeRequest) (Synthesis, error)
}

type Caller interface {
	Call(ctx context.Context, id Specialist, env Envelope) (string, error)
}

// HealthChecker probes specialist liveness. A nil map value means healthy.
type HealthChecker interface {
	Health(ctx context.Context) map[Specialist]error
}

type TurnRunner interface {
	HandleTurn(ctx context.Context, req TurnRequest) (*TurnResult, error)
}
