package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/SohamChaudhari2004/VISAAI/internal/channel"
	"github.com/SohamChaudhari2004/VISAAI/internal/session"
	"github.com/SohamChaudhari2004/VISAAI/internal/wire"
)

type fakeChannel struct {
	mu       sync.Mutex
	open     bool
	controls []wire.Control
	audio    [][]byte
	closed   bool
}

func (c *fakeChannel) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = true
	return nil
}

func (c *fakeChannel) SendControl(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return channel.ErrNotOpen
	}
	c.controls = append(c.controls, v.(wire.Control))
	return nil
}

func (c *fakeChannel) SendAudio(chunk []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return channel.ErrNotOpen
	}
	c.audio = append(c.audio, chunk)
	return nil
}

func (c *fakeChannel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	c.closed = true
	return nil
}

func (c *fakeChannel) setOpen(open bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = open
}

func (c *fakeChannel) controlCount(typ string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ctl := range c.controls {
		if ctl.Type == typ {
			n++
		}
	}
	return n
}

func (c *fakeChannel) audioCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.audio)
}

type fakeCapture struct {
	mu         sync.Mutex
	acquireErr error
	starts     int
	stops      int
	onChunk    func([]byte)
	onStart    func()
}

func (f *fakeCapture) Acquire() error { return f.acquireErr }

func (f *fakeCapture) Start(onChunk func([]byte)) error {
	f.mu.Lock()
	f.starts++
	f.onChunk = onChunk
	hook := f.onStart
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (f *fakeCapture) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onChunk != nil {
		f.stops++
		f.onChunk = nil
	}
}

func (f *fakeCapture) Release() {}

func (f *fakeCapture) emit(chunk []byte) {
	f.mu.Lock()
	cb := f.onChunk
	f.mu.Unlock()
	if cb != nil {
		cb(chunk)
	}
}

func (f *fakeCapture) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

type fakePlayer struct {
	playDur time.Duration
	mu      sync.Mutex
	refs    []string
}

func (p *fakePlayer) Play(ctx context.Context, audioRef string) error {
	p.mu.Lock()
	p.refs = append(p.refs, audioRef)
	p.mu.Unlock()
	select {
	case <-time.After(p.playDur):
	case <-ctx.Done():
	}
	return nil
}

func (p *fakePlayer) Stop() {}

type harness struct {
	ch        *fakeChannel
	cap       *fakeCapture
	pl        *fakePlayer
	model     *session.Model
	eng       *Engine
	transport chan channel.Event
	stop      func()

	mu     sync.Mutex
	fatals []error
	errors []string
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		ch:        &fakeChannel{},
		cap:       &fakeCapture{},
		pl:        &fakePlayer{playDur: 10 * time.Millisecond},
		model:     session.NewModel(),
		transport: make(chan channel.Event, 16),
	}
	hooks := Hooks{
		OnFatal: func(err error) {
			h.mu.Lock()
			h.fatals = append(h.fatals, err)
			h.mu.Unlock()
		},
		OnError: func(msg string) {
			h.mu.Lock()
			h.errors = append(h.errors, msg)
			h.mu.Unlock()
		},
	}
	h.eng = New(cfg, h.ch, h.cap, h.pl, h.model, hooks)
	stop, err := h.eng.Start(context.Background(), h.transport)
	if err != nil {
		t.Fatalf("start engine: %v", err)
	}
	h.stop = stop
	t.Cleanup(stop)
	return h
}

func (h *harness) beginSession() {
	h.eng.StartSession(
		session.Session{ID: "s1", VisaType: "tourist", QuestionIndex: 1, TotalQuestions: 5},
		session.Question{Index: 1, Text: "Why do you want to visit?", AudioURL: "/audio/q1.mp3"},
	)
}

func (h *harness) push(c wire.Control) {
	h.transport <- channel.Event{Kind: channel.EventControl, Control: c}
}

func waitState(t *testing.T, e *Engine, want TurnState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, still in %s", want, e.State())
}

func boolPtr(b bool) *bool { return &b }

func testCfg() Config {
	return Config{PostPlaybackDelay: 30 * time.Millisecond, RecordingCeiling: 500 * time.Millisecond}
}

func TestFullTurnCycle(t *testing.T) {
	h := newHarness(t, testCfg())
	h.beginSession()

	waitState(t, h.eng, PlayingQuestion)
	waitState(t, h.eng, PostPlaybackDelay)
	waitState(t, h.eng, Recording)

	if n := h.ch.controlCount(wire.TypeStartRecording); n != 1 {
		t.Fatalf("expected one start_recording, got %d", n)
	}
	h.cap.emit([]byte{1, 2, 3})
	if n := h.ch.audioCount(); n != 1 {
		t.Fatalf("expected chunk forwarded to channel, got %d", n)
	}

	h.eng.StopRecording()
	waitState(t, h.eng, AwaitingTranscription)
	if n := h.ch.controlCount(wire.TypeRecordingComplete); n != 1 {
		t.Fatalf("expected one recording-complete, got %d", n)
	}

	h.push(wire.Control{Type: wire.TypeTranscription, Text: "I want to see the museums."})
	waitState(t, h.eng, ShowingFeedback)

	h.push(wire.Control{
		Type:           wire.TypeNextQuestion,
		QuestionText:   "How long will you stay?",
		AudioURL:       "/audio/q2.mp3",
		QuestionIndex:  2,
		TotalQuestions: 5,
		LastEvaluation: &wire.Evaluation{FluencyScore: 80, Feedback: "good"},
	})
	waitState(t, h.eng, PlayingQuestion)

	if len(h.model.Answers) != 1 {
		t.Fatalf("expected one committed answer, got %d", len(h.model.Answers))
	}
	rec := h.model.Answers[0]
	if rec.QuestionIndex != 1 || rec.Transcript != "I want to see the museums." {
		t.Fatalf("unexpected answer record: %+v", rec)
	}
	if h.model.Session.QuestionIndex != 2 {
		t.Fatalf("expected question index 2, got %d", h.model.Session.QuestionIndex)
	}
	if h.model.Current.Text != "How long will you stay?" {
		t.Fatalf("unexpected current question: %q", h.model.Current.Text)
	}
}

func TestCeilingStopsRecording(t *testing.T) {
	cfg := testCfg()
	cfg.RecordingCeiling = 40 * time.Millisecond
	h := newHarness(t, cfg)
	h.beginSession()

	waitState(t, h.eng, Recording)
	waitState(t, h.eng, AwaitingTranscription)

	if _, stops := h.cap.counts(); stops != 1 {
		t.Fatalf("expected one capture stop, got %d", stops)
	}
	if n := h.ch.controlCount(wire.TypeRecordingComplete); n != 1 {
		t.Fatalf("expected one recording-complete, got %d", n)
	}
}

func TestStaleCeilingTimerIsDiscarded(t *testing.T) {
	cfg := testCfg()
	cfg.RecordingCeiling = 50 * time.Millisecond
	h := newHarness(t, cfg)
	h.beginSession()

	waitState(t, h.eng, Recording)
	h.eng.StopRecording()
	waitState(t, h.eng, AwaitingTranscription)

	// let the original ceiling deadline pass
	time.Sleep(80 * time.Millisecond)
	if got := h.eng.State(); got != AwaitingTranscription {
		t.Fatalf("stale ceiling moved state to %s", got)
	}
	if n := h.ch.controlCount(wire.TypeRecordingComplete); n != 1 {
		t.Fatalf("expected exactly one recording-complete, got %d", n)
	}
}

func TestNoRecordingOutsidePostPlaybackDelay(t *testing.T) {
	h := newHarness(t, testCfg())
	h.pl.playDur = 300 * time.Millisecond
	h.beginSession()

	waitState(t, h.eng, PlayingQuestion)
	h.push(wire.Control{Type: wire.TypeStartRecording})
	h.eng.StartRecordingNow()
	time.Sleep(30 * time.Millisecond)

	if starts, _ := h.cap.counts(); starts != 0 {
		t.Fatalf("recording started during playback, starts=%d", starts)
	}
	if got := h.eng.State(); got != PlayingQuestion {
		t.Fatalf("expected to remain in playing_question, got %s", got)
	}
}

func TestManualStartCutsDelayShort(t *testing.T) {
	cfg := testCfg()
	cfg.PostPlaybackDelay = 2 * time.Second
	cfg.AllowManualStart = true
	h := newHarness(t, cfg)
	h.beginSession()

	waitState(t, h.eng, PostPlaybackDelay)
	h.eng.StartRecordingNow()
	waitState(t, h.eng, Recording)
}

func TestServerStatusStopsRecording(t *testing.T) {
	h := newHarness(t, testCfg())
	h.beginSession()

	waitState(t, h.eng, Recording)
	h.push(wire.Control{Type: wire.TypeStatus, Recording: boolPtr(false)})
	waitState(t, h.eng, AwaitingTranscription)
}

func TestDuplicateTranscriptionKeepsFirst(t *testing.T) {
	h := newHarness(t, testCfg())
	h.beginSession()

	waitState(t, h.eng, Recording)
	h.eng.StopRecording()
	waitState(t, h.eng, AwaitingTranscription)

	h.push(wire.Control{Type: wire.TypeTranscription, Text: "first"})
	waitState(t, h.eng, ShowingFeedback)
	h.push(wire.Control{Type: wire.TypeTranscription, Text: "second"})
	h.push(wire.Control{
		Type:           wire.TypeNextQuestion,
		QuestionIndex:  2,
		QuestionText:   "next",
		AudioURL:       "/audio/q2.mp3",
		LastEvaluation: &wire.Evaluation{},
	})
	waitState(t, h.eng, PlayingQuestion)

	if len(h.model.Answers) != 1 {
		t.Fatalf("expected one answer, got %d", len(h.model.Answers))
	}
	if h.model.Answers[0].Transcript != "first" {
		t.Fatalf("expected first transcript kept, got %q", h.model.Answers[0].Transcript)
	}
}

func TestRecordingWaitsForOpenChannel(t *testing.T) {
	cfg := testCfg()
	cfg.PostPlaybackDelay = 50 * time.Millisecond
	h := newHarness(t, cfg)
	h.beginSession()

	waitState(t, h.eng, PostPlaybackDelay)
	h.ch.setOpen(false)
	time.Sleep(60 * time.Millisecond)
	if got := h.eng.State(); got != PostPlaybackDelay {
		t.Fatalf("expected to hold in post_playback_delay, got %s", got)
	}

	h.ch.setOpen(true)
	waitState(t, h.eng, Recording)
}

func TestInterviewComplete(t *testing.T) {
	h := newHarness(t, testCfg())
	h.beginSession()

	waitState(t, h.eng, Recording)
	h.eng.StopRecording()
	h.push(wire.Control{Type: wire.TypeTranscription, Text: "done"})
	waitState(t, h.eng, ShowingFeedback)

	final := &wire.FinalEvaluation{OverallScore: 82.5, FeedbackSummary: "solid"}
	h.push(wire.Control{
		Type:           wire.TypeInterviewComplete,
		Evaluation:     final,
		LastEvaluation: &wire.Evaluation{FluencyScore: 90},
	})
	waitState(t, h.eng, Complete)

	if h.model.Final == nil || h.model.Final.OverallScore != 82.5 {
		t.Fatalf("final evaluation not stored: %+v", h.model.Final)
	}
	if len(h.model.Answers) != 1 {
		t.Fatalf("expected last answer committed, got %d", len(h.model.Answers))
	}
	if !h.model.Session.IsComplete {
		t.Fatalf("session not marked complete")
	}
	h.ch.mu.Lock()
	closed := h.ch.closed
	h.ch.mu.Unlock()
	if !closed {
		t.Fatalf("channel not closed after completion")
	}
}

func TestTerminalChannelFailureIsFatal(t *testing.T) {
	h := newHarness(t, testCfg())
	h.beginSession()

	waitState(t, h.eng, Recording)
	h.transport <- channel.Event{Kind: channel.EventFailed, Err: errors.New("gave up")}
	waitState(t, h.eng, Idle)

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.fatals) != 1 {
		t.Fatalf("expected one fatal report, got %d", len(h.fatals))
	}
}

func TestMicrophoneDenialDisablesRecordingOnly(t *testing.T) {
	h := newHarness(t, testCfg())
	h.cap.acquireErr = errors.New("device busy")
	h.beginSession()

	// the session proceeds through playback despite the denied mic
	waitState(t, h.eng, PlayingQuestion)
	waitState(t, h.eng, PostPlaybackDelay)

	// let the delay deadline pass; recording must stay off and the
	// session must not terminate
	time.Sleep(80 * time.Millisecond)
	if starts, _ := h.cap.counts(); starts != 0 {
		t.Fatalf("capture started despite denial, starts=%d", starts)
	}
	if got := h.eng.State(); got != PostPlaybackDelay {
		t.Fatalf("expected to hold in post_playback_delay, got %s", got)
	}
	if h.model.Session == nil {
		t.Fatalf("session state was discarded")
	}
	h.ch.mu.Lock()
	closed := h.ch.closed
	h.ch.mu.Unlock()
	if closed {
		t.Fatalf("channel closed on microphone denial")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.errors) != 1 {
		t.Fatalf("expected exactly one error report, got %d: %v", len(h.errors), h.errors)
	}
	if len(h.fatals) != 0 {
		t.Fatalf("microphone denial must not be fatal, got %v", h.fatals)
	}
}

func TestRecordingStartsOnlyFromPostPlaybackDelay(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for iter := 0; iter < 12; iter++ {
		cfg := Config{
			PostPlaybackDelay: 10 * time.Millisecond,
			RecordingCeiling:  25 * time.Millisecond,
			AllowManualStart:  iter%2 == 0,
		}
		h := newHarness(t, cfg)
		h.pl.playDur = 5 * time.Millisecond

		var mu sync.Mutex
		var observed []TurnState
		h.cap.onStart = func() {
			mu.Lock()
			observed = append(observed, h.eng.State())
			mu.Unlock()
		}
		h.beginSession()

		for i := 0; i < 40; i++ {
			switch rng.Intn(9) {
			case 0:
				h.eng.StartRecordingNow()
			case 1:
				h.eng.StopRecording()
			case 2:
				h.eng.Continue()
			case 3:
				h.push(wire.Control{Type: wire.TypeTranscription, Text: "an answer"})
			case 4:
				h.push(wire.Control{
					Type:           wire.TypeNextQuestion,
					QuestionIndex:  rng.Intn(6) + 1,
					QuestionText:   "next",
					AudioURL:       "/audio/qn.mp3",
					TotalQuestions: 5,
					LastEvaluation: &wire.Evaluation{},
				})
			case 5:
				h.push(wire.Control{Type: wire.TypeStatus, Recording: boolPtr(false)})
			case 6:
				h.push(wire.Control{Type: wire.TypeStartRecording})
			case 7:
				h.push(wire.Control{Type: wire.TypeError, Message: "hiccup"})
			case 8:
				time.Sleep(3 * time.Millisecond)
			}
		}
		time.Sleep(50 * time.Millisecond)

		mu.Lock()
		for _, st := range observed {
			if st != PostPlaybackDelay {
				t.Fatalf("iteration %d: capture started from %s", iter, st)
			}
		}
		mu.Unlock()
		h.stop()
	}
}
