// Package supervisor runs one customer support turn as a sequence of typed
// node transitions (router, specialists, synthesizer), writing a checkpoint
// after every node so an interrupted turn can resume where it stopped.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	checkpointx "github.com/tanpawarit/Chative-Support-Supervisor/agent/checkpoint"
	contractx "github.com/tanpawarit/Chative-Support-Supervisor/agent/contract"
	statex "github.com/tanpawarit/Chative-Support-Supervisor/agent/state"
	logx "github.com/tanpawarit/Chative-Support-Supervisor/pkg/logger"
)

type node int

const (
	nodeRouter node = iota
	nodeSpecialist
	nodeSynthesizer
	nodeDone
)

func (n node) String() string {
	switch n {
	case nodeRouter:
		return "router"
	case nodeSpecialist:
		return "specialist"
	case nodeSynthesizer:
		return "synthesizer"
	case nodeDone:
		return "done"
	default:
		return fmt.Sprintf("node(%d)", int(n))
	}
}

// Version channels bumped by checkpoint writes, one per node kind.
const (
	channelRouting   = "routing"
	channelResponses = "responses"
	channelAnswer    = "answer"
)

type Config struct {
	Namespace    string `envconfig:"NAMESPACE" split_words:"true" default:"supervisor"`
	MaxFanout    int    `envconfig:"MAX_FANOUT" split_words:"true" default:"3"`
	HistoryTurns int    `envconfig:"HISTORY_TURNS" split_words:"true" default:"5"`
}

// Supervisor owns the per-turn state machine. It is safe for concurrent use;
// each turn carries its own state and the store handles concurrent threads.
type Supervisor struct {
	store  checkpointx.Store
	oracle contractx.Oracle
	caller contractx.Caller
	codec  checkpointx.Codec

	namespace    string
	maxFanout    int
	historyTurns int

	log zerolog.Logger
	now func() time.Time
}

type Option func(*Supervisor)

// WithCodec overrides the state snapshot codec.
func WithCodec(codec checkpointx.Codec) Option {
	return func(s *Supervisor) {
		if codec != nil {
			s.codec = codec
		}
	}
}

// WithClock overrides the time source, e.g. in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Supervisor) {
		if now != nil {
			s.now = now
		}
	}
}

func New(
	store checkpointx.Store,
	oracle contractx.Oracle,
	caller contractx.Caller,
	cfg Config,
	opts ...Option,
) (*Supervisor, error) {
	if store == nil {
		return nil, errors.New("checkpoint store is required")
	}
	if oracle == nil {
		return nil, errors.New("decision oracle is required")
	}
	if caller == nil {
		return nil, errors.New("specialist caller is required")
	}

	namespace := strings.TrimSpace(cfg.Namespace)
	if namespace == "" {
		namespace = "supervisor"
	}
	maxFanout := cfg.MaxFanout
	if maxFanout <= 0 {
		maxFanout = 3
	}
	historyTurns := cfg.HistoryTurns
	if historyTurns < 0 {
		historyTurns = 0
	}

	s := &Supervisor{
		store:        store,
		oracle:       oracle,
		caller:       caller,
		codec:        checkpointx.DefaultCodec(),
		namespace:    namespace,
		maxFanout:    maxFanout,
		historyTurns: historyTurns,
		log:          logx.Component("supervisor"),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// turnRun carries everything one in-flight turn needs across node
// transitions: the request, the mutable state, and the checkpoint chain tail.
type turnRun struct {
	req            contractx.TurnRequest
	state          *statex.TurnState
	parentID       string
	versions       map[string]int64
	lastSpecialist contractx.Specialist
}

// HandleTurn executes one conversation turn to completion. Oracle and
// specialist failures degrade inside the corresponding node; the only errors
// returned are request validation and context cancellation.
func (s *Supervisor) HandleTurn(ctx context.Context, req contractx.TurnRequest) (*contractx.TurnResult, error) {
	started := s.now()
	if err := validateRequest(&req); err != nil {
		return nil, err
	}

	turn := &turnRun{
		req:      req,
		state:    statex.NewTurnState(req),
		versions: make(map[string]int64),
	}

	// Chain onto the thread's prior history when it exists. A read failure
	// only costs chain continuity, never the turn.
	latest, err := s.store.GetLatest(ctx, req.ThreadID, s.namespace)
	switch {
	case err == nil:
		turn.parentID = latest.ID
		turn.versions = copyVersions(latest.Versions)
	case !errors.Is(err, checkpointx.ErrNotFound):
		s.log.Warn().Err(err).Str("thread_id", req.ThreadID).
			Msg("latest checkpoint lookup failed, starting unchained")
	}

	if err := s.runFrom(ctx, turn, nodeRouter); err != nil {
		return nil, err
	}

	res := s.result(turn, started)
	s.log.Info().
		Str("thread_id", req.ThreadID).
		Str("session_id", req.SessionID).
		Int("specialists", len(res.SpecialistsConsulted)).
		Float64("confidence", res.Confidence).
		Dur("elapsed", res.Elapsed).
		Msg("turn complete")
	return res, nil
}

// Resume continues an interrupted turn from the thread's latest checkpoint.
// The inbound request context of the original turn is not recoverable; only
// the persisted state drives the remaining nodes.
func (s *Supervisor) Resume(ctx context.Context, threadID string) (*contractx.TurnResult, error) {
	started := s.now()
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return nil, fmt.Errorf("%w: thread id is required", contractx.ErrValidation)
	}

	latest, err := s.store.GetLatest(ctx, threadID, s.namespace)
	if err != nil {
		return nil, err
	}

	st := new(statex.TurnState)
	if err := s.codec.Decode(latest.State, st); err != nil {
		return nil, fmt.Errorf("%w: decode state: %v", checkpointx.ErrRead, err)
	}
	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrValidation, err)
	}
	if st.Done() {
		return nil, fmt.Errorf("%w: turn already complete", contractx.ErrValidation)
	}

	turn := &turnRun{
		req: contractx.TurnRequest{
			ThreadID:        threadID,
			SessionID:       st.SessionID,
			CustomerID:      st.CustomerID,
			CustomerMessage: st.CustomerMessage,
		},
		state:    st,
		parentID: latest.ID,
		versions: copyVersions(latest.Versions),
	}

	s.log.Info().Str("thread_id", threadID).Str("checkpoint_id", latest.ID).
		Str("node", nextNode(st).String()).Msg("resuming turn")

	if err := s.runFrom(ctx, turn, nextNode(st)); err != nil {
		return nil, err
	}
	return s.result(turn, started), nil
}

// runFrom drives the state machine from the given node to completion,
// persisting one checkpoint after every executed node.
func (s *Supervisor) runFrom(ctx context.Context, turn *turnRun, n node) error {
	for n != nodeDone {
		if err := ctx.Err(); err != nil {
			return err
		}

		var err error
		switch n {
		case nodeRouter:
			err = s.runRouter(ctx, turn)
		case nodeSpecialist:
			err = s.runSpecialist(ctx, turn)
		case nodeSynthesizer:
			err = s.runSynthesizer(ctx, turn)
		default:
			err = fmt.Errorf("%w: unexpected node %s", contractx.ErrValidation, n)
		}
		if err != nil {
			return err
		}

		s.persist(ctx, turn, n)
		n = nextNode(turn.state)
	}
	return nil
}

// nextNode derives the pending node purely from state, which is also how a
// resumed turn finds its footing.
func nextNode(st *statex.TurnState) node {
	switch {
	case st.Done():
		return nodeDone
	case st.DirectAnswer != "":
		return nodeSynthesizer
	case len(st.SelectedSpecialists) == 0:
		return nodeRouter
	case len(st.RemainingSpecialists) > 0:
		return nodeSpecialist
	default:
		return nodeSynthesizer
	}
}

// persist writes the post-node checkpoint. Failure is logged and the turn
// carries on; only resumability for this step is lost. The write uses a
// detached context so a caller hanging up cannot void completed work.
func (s *Supervisor) persist(ctx context.Context, turn *turnRun, n node) {
	blob, err := s.codec.Encode(turn.state)
	if err != nil {
		s.log.Error().Err(err).Str("thread_id", turn.req.ThreadID).
			Str("node", n.String()).Msg("state snapshot encode failed")
		return
	}

	seen := copyVersions(turn.versions)
	turn.versions[channelFor(n)]++

	metadata := map[string]string{
		"node":       n.String(),
		"session_id": turn.req.SessionID,
	}
	if n == nodeSpecialist && turn.lastSpecialist != "" {
		metadata["specialist"] = string(turn.lastSpecialist)
	}

	cp := &checkpointx.Checkpoint{
		ID:        checkpointx.NewID(),
		ParentID:  turn.parentID,
		State:     blob,
		Versions:  copyVersions(turn.versions),
		Seen:      seen,
		Metadata:  metadata,
		CreatedAt: s.now().UTC(),
	}

	id, err := s.store.Put(context.WithoutCancel(ctx), turn.req.ThreadID, s.namespace, cp)
	if err != nil {
		s.log.Error().Err(err).Str("thread_id", turn.req.ThreadID).
			Str("node", n.String()).Msg("checkpoint write failed, resumability lost for this step")
		return
	}
	turn.parentID = id
}

func channelFor(n node) string {
	switch n {
	case nodeRouter:
		return channelRouting
	case nodeSpecialist:
		return channelResponses
	default:
		return channelAnswer
	}
}

func copyVersions(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func validateRequest(req *contractx.TurnRequest) error {
	req.CustomerMessage = strings.TrimSpace(req.CustomerMessage)
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.ThreadID = strings.TrimSpace(req.ThreadID)

	if req.CustomerMessage == "" {
		return fmt.Errorf("%w: customer message is required", contractx.ErrValidation)
	}
	if req.SessionID == "" {
		return fmt.Errorf("%w: session id is required", contractx.ErrValidation)
	}
	if req.ThreadID == "" {
		req.ThreadID = req.SessionID
	}
	return nil
}

func (s *Supervisor) result(turn *turnRun, started time.Time) *contractx.TurnResult {
	st := turn.state
	return &contractx.TurnResult{
		ThreadID:             turn.req.ThreadID,
		SessionID:            st.SessionID,
		FinalAnswer:          st.FinalAnswer,
		Confidence:           st.Confidence,
		SpecialistsConsulted: append([]contractx.Specialist(nil), st.SelectedSpecialists...),
		Elapsed:              s.now().Sub(started),
		CheckpointID:         turn.parentID,
	}
}
