package epidemic

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/ryandielhenn/zephyrdtn/pkg/adaptive"
	"github.com/ryandielhenn/zephyrdtn/pkg/buffer"
	"github.com/ryandielhenn/zephyrdtn/pkg/contact"
	"github.com/ryandielhenn/zephyrdtn/pkg/forward"
	"github.com/ryandielhenn/zephyrdtn/pkg/sched"
	"github.com/ryandielhenn/zephyrdtn/pkg/wire"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type sent struct {
	peer string
	env  *wire.Envelope
}

type recorder struct {
	out  []sent
	fail error
}

func (r *recorder) Send(_ context.Context, peer string, data []byte) error {
	if r.fail != nil {
		return r.fail
	}
	env, err := wire.Decode(data)
	if err != nil {
		return err
	}
	r.out = append(r.out, sent{peer: peer, env: env})
	return nil
}

func (r *recorder) ofType(t wire.MsgType) []*wire.Envelope {
	var out []*wire.Envelope
	for _, s := range r.out {
		if s.env.Type == t {
			out = append(out, s.env)
		}
	}
	return out
}

type harness struct {
	eng      *Engine
	buf      *buffer.Buffer
	contacts *contact.Tracker
	ctrl     *adaptive.Controller
	clock    *sched.Sim
	out      *recorder
	charged  int
}

func newHarness(self string) *harness {
	h := &harness{
		buf:      buffer.New(16),
		contacts: contact.New(5*time.Second, 2*time.Second),
		ctrl: adaptive.New(adaptive.Config{
			BeaconInterval:    time.Second,
			MaxHops:           8,
			LowThreshold:      0.3,
			CriticalThreshold: 0.1,
			FloodingFactor:    0.7,
		}),
		clock: sched.NewSim(t0),
		out:   &recorder{},
	}
	gate := forward.New(forward.Config{HighPriorityThreshold: 10}, nil, rand.New(rand.NewSource(1)))
	h.eng = New(Config{
		Self:             self,
		CompressionRatio: 0.5,
		ExchangeTimeout:  2 * time.Second,
		Charge:           func(n int) { h.charged += n },
	}, Deps{
		Buffer:   h.buf,
		Contacts: h.contacts,
		Params:   h.ctrl,
		Gate:     gate,
		Out:      h.out,
		Clock:    h.clock,
	})
	return h
}

func (h *harness) add(t *testing.T, id uint64, hops uint32, class buffer.Class) {
	t.Helper()
	err := h.buf.Insert(buffer.Entry{
		ID:          id,
		Origin:      "origin",
		Destination: "dest",
		Payload:     make([]byte, 100),
		HopCount:    hops,
		CreatedAt:   t0,
		ExpiresAt:   t0.Add(time.Minute),
		Priority:    class.DefaultPriority(),
		Class:       class,
	})
	if err != nil {
		t.Fatalf("insert %d: %v", id, err)
	}
}

func TestInitiatorPushesWhatPeerLacks(t *testing.T) {
	h := newHarness("a")
	h.add(t, 1, 0, buffer.ClassBulk)
	h.add(t, 2, 0, buffer.ClassBulk)

	if !h.contacts.OnBeacon("b", h.clock.Now()) {
		t.Fatalf("first beacon must be accepted")
	}
	if err := h.eng.Initiate(context.Background(), "b"); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	replies := h.out.ofType(wire.MsgReply)
	if len(replies) != 1 || len(replies[0].IDs) != 2 {
		t.Fatalf("want one REPLY with 2 ids, got %v", h.out.out)
	}
	if !h.eng.Initiating("b") {
		t.Fatalf("round should be open")
	}

	res, err := h.eng.HandleSummary(context.Background(), wire.Summary("b", []uint64{2, 9}, false))
	if err != nil {
		t.Fatalf("reply back: %v", err)
	}
	if res.Sent != 1 || res.Requested != 1 {
		t.Fatalf("result = %+v", res)
	}
	data := h.out.ofType(wire.MsgData)
	if len(data) != 1 || data[0].Data.PacketID != 1 || data[0].Data.HopCount != 1 {
		t.Fatalf("unexpected data frames: %v", data)
	}
	if h.eng.Initiating("b") {
		t.Fatalf("round should be closed")
	}
	if _, ok := h.contacts.LastContact("b"); !ok {
		t.Fatalf("exchange not recorded")
	}
	if h.charged == 0 {
		t.Fatalf("transmissions were not charged")
	}
	// the local copy keeps its hop count
	if e, _ := h.buf.Get(1); e.HopCount != 0 {
		t.Fatalf("buffered hop count changed to %d", e.HopCount)
	}
}

func TestResponderAnswersAndPushes(t *testing.T) {
	h := newHarness("b")
	h.add(t, 7, 1, buffer.ClassSpeech)

	res, err := h.eng.HandleSummary(context.Background(), wire.Summary("a", []uint64{1}, true))
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if res.Role != RoleResponder || res.Sent != 1 || res.Requested != 1 {
		t.Fatalf("result = %+v", res)
	}
	if len(h.out.out) != 2 ||
		h.out.out[0].env.Type != wire.MsgReplyBack ||
		h.out.out[1].env.Type != wire.MsgData {
		t.Fatalf("want REPLY_BACK then DATA, got %v", h.out.out)
	}
	if got := h.out.out[1].env.Data.HopCount; got != 2 {
		t.Fatalf("hop count = %d, want 2", got)
	}
}

func TestSimultaneousReply(t *testing.T) {
	cases := []struct {
		self, peer string
		wantAnswer bool
	}{
		{"a", "b", false},
		{"b", "a", true},
	}
	for _, c := range cases {
		h := newHarness(c.self)
		h.contacts.OnBeacon(c.peer, h.clock.Now())
		if err := h.eng.Initiate(context.Background(), c.peer); err != nil {
			t.Fatalf("initiate: %v", err)
		}
		if _, err := h.eng.HandleSummary(context.Background(), wire.Summary(c.peer, nil, true)); err != nil {
			t.Fatalf("reply: %v", err)
		}
		answered := len(h.out.ofType(wire.MsgReplyBack)) == 1
		if answered != c.wantAnswer {
			t.Fatalf("%s vs %s: answered = %v, want %v", c.self, c.peer, answered, c.wantAnswer)
		}
		if h.eng.Initiating(c.peer) == c.wantAnswer {
			t.Fatalf("%s vs %s: initiator role kept = %v", c.self, c.peer, !c.wantAnswer)
		}
	}
}

func TestTransportFailureAbandons(t *testing.T) {
	h := newHarness("a")
	h.out.fail = errors.New("link down")
	h.contacts.OnBeacon("b", h.clock.Now())

	err := h.eng.Initiate(context.Background(), "b")
	if !errors.Is(err, ErrTransportFailure) {
		t.Fatalf("want ErrTransportFailure, got %v", err)
	}
	if h.contacts.InFlight("b", h.clock.Now()) {
		t.Fatalf("failed round must not stay in flight")
	}
	if h.eng.Initiating("b") {
		t.Fatalf("failed round must not be open")
	}
}

func TestAbandonAfterQueuedSendFailure(t *testing.T) {
	h := newHarness("a")
	h.contacts.OnBeacon("b", h.clock.Now())
	if err := h.eng.Initiate(context.Background(), "b"); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	h.eng.Abandon("b", errors.New("dial timeout"))
	if h.eng.Initiating("b") || h.contacts.InFlight("b", h.clock.Now()) {
		t.Fatal("open round survived Abandon")
	}

	// a responder round completes at once; a late failure must undo it
	if _, err := h.eng.HandleSummary(context.Background(), wire.Summary("c", nil, true)); err != nil {
		t.Fatalf("reply: %v", err)
	}
	if _, ok := h.contacts.LastContact("c"); !ok {
		t.Fatal("responder round not recorded")
	}
	h.eng.Abandon("c", errors.New("stream reset"))
	if !h.contacts.OnBeacon("c", h.clock.Now()) {
		t.Fatal("next beacon from c should retry the exchange")
	}
}

func TestExchangeTimeout(t *testing.T) {
	h := newHarness("a")
	h.contacts.OnBeacon("b", h.clock.Now())
	if err := h.eng.Initiate(context.Background(), "b"); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	h.clock.RunFor(3 * time.Second)
	if h.eng.Initiating("b") || h.contacts.InFlight("b", h.clock.Now()) {
		t.Fatalf("round should have timed out")
	}
	// a late REPLY_BACK is ignored
	res, err := h.eng.HandleSummary(context.Background(), wire.Summary("b", nil, false))
	if err != nil || res.Sent != 0 {
		t.Fatalf("late REPLY_BACK: %+v, %v", res, err)
	}
}

func TestHopBudgetAndCriticalGate(t *testing.T) {
	h := newHarness("b")
	h.add(t, 1, 8, buffer.ClassSpeech) // exhausted budget
	h.add(t, 2, 0, buffer.ClassBulk)
	h.add(t, 3, 0, buffer.ClassSpeech)
	h.ctrl.Update(0.08) // critical: max hops 2, priority only

	res, err := h.eng.HandleSummary(context.Background(), wire.Summary("a", nil, true))
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if res.Sent != 1 || res.SkipHops != 1 || res.SkipGate != 1 {
		t.Fatalf("result = %+v", res)
	}
	data := h.out.ofType(wire.MsgData)
	if len(data) != 1 || data[0].Data.PacketID != 3 {
		t.Fatalf("only the speech packet may go out, got %v", data)
	}
}

func TestMultimediaChargedAtEffectiveSize(t *testing.T) {
	run := func(ratio float64) int {
		h := newHarness("b")
		h.ctrl = adaptive.New(adaptive.Config{
			BeaconInterval:    time.Second,
			MaxHops:           8,
			LowThreshold:      0.3,
			CriticalThreshold: 0.1,
			FloodingFactor:    1,
		})
		h.eng.d.Params = h.ctrl
		h.ctrl.Update(ratio)
		h.add(t, 1, 0, buffer.ClassMultimedia)

		var last int
		h.eng.cfg.Charge = func(n int) { last = n }
		if _, err := h.eng.HandleSummary(context.Background(), wire.Summary("a", nil, true)); err != nil {
			t.Fatalf("reply: %v", err)
		}
		if len(h.out.ofType(wire.MsgData)) != 1 {
			t.Fatalf("ratio %.2f: packet not sent", ratio)
		}
		return last
	}
	normal, low := run(1), run(0.25)
	if normal-low != 50 {
		t.Fatalf("normal charge %d, low charge %d: want 50 bytes saved", normal, low)
	}
}

func TestEffectiveSize(t *testing.T) {
	cases := []struct {
		size  int
		ratio float64
		want  int
	}{
		{100, 0.5, 50},
		{100, 1, 100},
		{1, 0.1, 1},
		{0, 0.5, 0},
	}
	for _, c := range cases {
		if got := EffectiveSize(c.size, c.ratio); got != c.want {
			t.Fatalf("EffectiveSize(%d, %.1f) = %d, want %d", c.size, c.ratio, got, c.want)
		}
	}
}

func TestFromWireDefaults(t *testing.T) {
	p := wire.DataPacket{PacketID: 5, Origin: "a", Destination: "c", CreatedAt: t0.UnixNano(), Class: uint32(buffer.ClassControl)}
	e := FromWire(p, time.Minute)
	if e.Priority != 10 {
		t.Fatalf("priority = %d, want class default 10", e.Priority)
	}
	if !e.ExpiresAt.Equal(t0.Add(time.Minute)) {
		t.Fatalf("expiry = %v", e.ExpiresAt)
	}
	if back := ToWire(e); back.PacketID != 5 || back.CreatedAt != p.CreatedAt {
		t.Fatalf("ToWire = %+v", back)
	}
}
