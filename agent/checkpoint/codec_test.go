package checkpoint

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"

	contractx "github.com/tanpawarit/Chative-Support-Supervisor/agent/contract"
	statex "github.com/tanpawarit/Chative-Support-Supervisor/agent/state"
)

func TestCodecRoundTripsTurnState(t *testing.T) {
	t.Parallel()

	want := &statex.TurnState{
		CustomerMessage:      "Where is my order?",
		SessionID:            "s-1",
		CustomerID:           "c-9",
		SelectedSpecialists:  []contractx.Specialist{contractx.SpecialistOrder, contractx.SpecialistProduct},
		RemainingSpecialists: []contractx.Specialist{contractx.SpecialistProduct},
		Responses: map[contractx.Specialist]contractx.SpecialistAnswer{
			contractx.SpecialistOrder:   {Body: "Order #42 ships tomorrow.", Elapsed: 120 * time.Millisecond},
			contractx.SpecialistProduct: {Err: "specialist call failed: status 502"},
		},
	}

	for _, codec := range []Codec{MsgpackCodec{}, JSONCodec{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			t.Parallel()
			raw, err := codec.Encode(want)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			got := new(statex.TurnState)
			if err := codec.Decode(raw, got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, want)
			}
		})
	}
}

func TestCodecRoundTripsCheckpoint(t *testing.T) {
	t.Parallel()

	want := &Checkpoint{
		ID:        NewID(),
		ParentID:  NewID(),
		State:     []byte(`{"customer_message":"hi"}`),
		Versions:  map[string]int64{"routing": 1, "responses": 2, "answer": 1},
		Seen:      map[string]int64{"routing": 1, "responses": 2},
		Metadata:  map[string]string{"node": "synthesizer", "session_id": "s-1"},
		CreatedAt: time.Now().UTC(),
	}

	for _, codec := range []Codec{MsgpackCodec{}, JSONCodec{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			t.Parallel()
			raw, err := codec.Encode(want)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			got := new(Checkpoint)
			if err := codec.Decode(raw, got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.ID != want.ID || got.ParentID != want.ParentID {
				t.Fatalf("expected ids %s/%s, got %s/%s", want.ID, want.ParentID, got.ID, got.ParentID)
			}
			if string(got.State) != string(want.State) {
				t.Fatalf("expected state %q, got %q", want.State, got.State)
			}
			if !reflect.DeepEqual(got.Versions, want.Versions) {
				t.Fatalf("expected versions %v, got %v", want.Versions, got.Versions)
			}
			if !reflect.DeepEqual(got.Seen, want.Seen) {
				t.Fatalf("expected seen %v, got %v", want.Seen, got.Seen)
			}
			if !reflect.DeepEqual(got.Metadata, want.Metadata) {
				t.Fatalf("expected metadata %v, got %v", want.Metadata, got.Metadata)
			}
			if !got.CreatedAt.Equal(want.CreatedAt) {
				t.Fatalf("expected created at %v, got %v", want.CreatedAt, got.CreatedAt)
			}
		})
	}
}

func TestJSONCodecStaysReadable(t *testing.T) {
	t.Parallel()

	raw, err := JSONCodec{}.Encode(&statex.TurnState{CustomerMessage: "hi", SessionID: "s-1"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !json.Valid(raw) {
		t.Fatalf("expected valid JSON, got %q", raw)
	}
	if !strings.Contains(string(raw), `"customer_message"`) {
		t.Fatalf("expected named fields in payload, got %q", raw)
	}
}

func TestDefaultCodecIsMsgpack(t *testing.T) {
	t.Parallel()

	if name := DefaultCodec().Name(); name != "msgpack" {
		t.Fatalf("expected msgpack default, got %s", name)
	}
	if name := (JSONCodec{}).Name(); name != "json" {
		t.Fatalf("expected json codec name, got %s", name)
	}
}
