package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/SohamChaudhari2004/VISAAI/internal/channel"
	"github.com/SohamChaudhari2004/VISAAI/internal/session"
	"github.com/SohamChaudhari2004/VISAAI/internal/wire"
)

var errAlreadyStarted = errors.New("engine: already started")

// Config tunes the turn-taking timers.
type Config struct {
	// PostPlaybackDelay is the pause between the end of question audio
	// and the start of recording.
	PostPlaybackDelay time.Duration
	// RecordingCeiling bounds a single answer's duration.
	RecordingCeiling time.Duration
	// AllowManualStart lets the user cut the post-playback delay short.
	AllowManualStart bool
}

type eventKind int

const (
	evStartSession eventKind = iota
	evCaptureReady
	evCaptureDenied
	evPlaybackDone
	evDelayElapsed
	evCeilingExpired
	evManualStart
	evManualStop
	evContinue
)

// event is the engine's internal mailbox entry. Timer and playback
// events carry the generation they were armed in so stale firings are
// discarded after a state change.
type event struct {
	kind  eventKind
	gen   uint64
	sess  session.Session
	first session.Question
	err   error
}

// Engine runs the question/answer/feedback cycle. A single goroutine
// consumes events from the channel, the player, capture timers, and
// user intents, and is the only writer of the turn state and the
// session model.
type Engine struct {
	cfg    Config
	ch     Channel
	cap    Capture
	player Player
	model  *session.Model
	hooks  Hooks

	state   int32 // TurnState, atomic for readers outside the loop
	started int32

	// loop-owned, never touched outside run()
	gen          uint64
	captureOK    bool
	capDenied    bool
	delayTimer   *time.Timer
	ceilingTimer *time.Timer
	runCtx       context.Context

	events chan event
	done   chan struct{}
}

// New constructs an Engine around its collaborators. The model must be
// the one the presentation layer reads.
func New(cfg Config, ch Channel, cap Capture, player Player, model *session.Model, hooks Hooks) *Engine {
	if cfg.PostPlaybackDelay <= 0 {
		cfg.PostPlaybackDelay = 2 * time.Second
	}
	if cfg.RecordingCeiling <= 0 {
		cfg.RecordingCeiling = 20 * time.Second
	}
	return &Engine{
		cfg:    cfg,
		ch:     ch,
		cap:    cap,
		player: player,
		model:  model,
		hooks:  hooks,
		events: make(chan event, 64),
		done:   make(chan struct{}),
	}
}

// State returns the current turn state.
func (e *Engine) State() TurnState { return TurnState(atomic.LoadInt32(&e.state)) }

// Start launches the event loop consuming transport events from the
// channel manager. The returned stop function tears the session down
// and blocks until the loop has exited.
func (e *Engine) Start(ctx context.Context, transport <-chan channel.Event) (func(), error) {
	if !atomic.CompareAndSwapInt32(&e.started, 0, 1) {
		return nil, errAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.runCtx = runCtx
	go e.run(runCtx, transport)
	stop := func() {
		cancel()
		<-e.done
	}
	return stop, nil
}

// StartSession begins the cycle for a freshly confirmed session. The
// first question comes from the start-interview response; subsequent
// ones are pushed over the channel.
func (e *Engine) StartSession(s session.Session, first session.Question) {
	e.post(event{kind: evStartSession, sess: s, first: first})
}

// StopRecording is the user's tap-to-stop intent.
func (e *Engine) StopRecording() { e.post(event{kind: evManualStop}) }

// StartRecordingNow cuts the post-playback delay short. It is honored
// only when manual start is enabled.
func (e *Engine) StartRecordingNow() { e.post(event{kind: evManualStart}) }

// Continue acknowledges the feedback view and waits for the next push.
func (e *Engine) Continue() { e.post(event{kind: evContinue}) }

func (e *Engine) post(ev event) {
	select {
	case e.events <- ev:
	case <-e.done:
	}
}

func (e *Engine) run(ctx context.Context, transport <-chan channel.Event) {
	defer close(e.done)
	defer e.teardown()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.events:
			e.handle(ev)
		case tev := <-transport:
			e.handleTransport(tev)
		}
	}
}

func (e *Engine) teardown() {
	e.cancelTimers()
	e.player.Stop()
	e.cap.Stop()
	e.cap.Release()
	_ = e.ch.Close()
}

// setState is the single transition point. It invalidates all armed
// timers and in-flight playback by bumping the generation counter.
func (e *Engine) setState(s TurnState) {
	e.cancelTimers()
	e.gen++
	atomic.StoreInt32(&e.state, int32(s))
	log.Debug("turn state", "state", s)
	if e.hooks.OnStateChange != nil {
		e.hooks.OnStateChange(s)
	}
}

func (e *Engine) cancelTimers() {
	if e.delayTimer != nil {
		e.delayTimer.Stop()
		e.delayTimer = nil
	}
	if e.ceilingTimer != nil {
		e.ceilingTimer.Stop()
		e.ceilingTimer = nil
	}
}

func (e *Engine) handle(ev event) {
	switch ev.kind {
	case evStartSession:
		e.handleStartSession(ev.sess, ev.first)
	case evCaptureReady:
		e.captureOK = true
	case evCaptureDenied:
		// Denial disables recording for the session but nothing else:
		// playback, the channel, and the turn state all stay intact.
		log.Error("microphone unavailable, recording disabled", "error", ev.err)
		e.capDenied = true
		if e.hooks.OnError != nil {
			e.hooks.OnError("microphone unavailable, recording disabled")
		}
	case evPlaybackDone:
		if ev.gen != e.gen || e.State() != PlayingQuestion {
			return
		}
		e.setState(PostPlaybackDelay)
		e.armDelay(e.cfg.PostPlaybackDelay)
	case evDelayElapsed:
		if ev.gen != e.gen || e.State() != PostPlaybackDelay {
			return
		}
		e.beginRecording()
	case evCeilingExpired:
		if ev.gen != e.gen || e.State() != Recording {
			return
		}
		log.Info("recording ceiling reached")
		e.finishRecording()
	case evManualStart:
		if !e.cfg.AllowManualStart || e.State() != PostPlaybackDelay {
			return
		}
		if e.model.HasPendingAnswer() {
			return
		}
		e.beginRecording()
	case evManualStop:
		if e.State() != Recording {
			return
		}
		e.finishRecording()
	case evContinue:
		if e.State() != ShowingFeedback {
			return
		}
		e.setState(AwaitingQuestion)
	}
}

func (e *Engine) handleStartSession(s session.Session, first session.Question) {
	st := e.State()
	if st != Idle && st != Complete {
		log.Warn("session start ignored", "state", st)
		return
	}
	e.model.Begin(s, first)
	e.captureOK = false
	e.capDenied = false
	e.setState(AwaitingQuestion)
	if err := e.ch.Open(); err != nil {
		log.Warn("stream open", "error", err)
	}
	go func() {
		if err := e.cap.Acquire(); err != nil {
			e.post(event{kind: evCaptureDenied, err: err})
			return
		}
		e.post(event{kind: evCaptureReady})
	}()
	e.playQuestion(first)
}

// playQuestion hands the question audio to the player and waits for the
// single completion event. Playback failures end the turn's playback
// phase the same way a natural end does.
func (e *Engine) playQuestion(q session.Question) {
	e.player.Stop()
	e.setState(PlayingQuestion)
	gen := e.gen
	go func() {
		if err := e.player.Play(e.runCtx, q.AudioURL); err != nil {
			log.Warn("question playback failed", "question", q.Index, "error", err)
		}
		e.post(event{kind: evPlaybackDone, gen: gen})
	}()
}

func (e *Engine) armDelay(d time.Duration) {
	gen := e.gen
	e.delayTimer = time.AfterFunc(d, func() {
		e.post(event{kind: evDelayElapsed, gen: gen})
	})
}

// beginRecording opens the microphone and notifies the server. It runs
// only from PostPlaybackDelay and requires an open channel; when the
// channel is still reconnecting the delay is re-armed instead.
func (e *Engine) beginRecording() {
	if e.capDenied {
		// Already reported once. Hold here instead of re-arming the
		// delay; a typed answer over the fallback transport can still
		// finish the session.
		log.Warn("recording skipped, microphone denied")
		return
	}
	if !e.ch.Connected() {
		log.Info("channel not open, delaying recording")
		e.armDelay(e.cfg.PostPlaybackDelay)
		return
	}
	if !e.captureOK {
		log.Info("microphone not ready, delaying recording")
		e.armDelay(e.cfg.PostPlaybackDelay)
		return
	}
	if err := e.cap.Start(func(chunk []byte) {
		_ = e.ch.SendAudio(chunk)
	}); err != nil {
		log.Error("recording start failed", "error", err)
		if e.hooks.OnError != nil {
			e.hooks.OnError("could not start recording")
		}
		e.setState(AwaitingQuestion)
		return
	}
	if err := e.ch.SendControl(wire.Control{Type: wire.TypeStartRecording}); err != nil {
		log.Warn("start_recording send failed", "error", err)
	}
	e.setState(Recording)
	gen := e.gen
	e.ceilingTimer = time.AfterFunc(e.cfg.RecordingCeiling, func() {
		e.post(event{kind: evCeilingExpired, gen: gen})
	})
}

// finishRecording stops capture, which flushes the final audio chunk,
// then tells the server the answer is complete.
func (e *Engine) finishRecording() {
	e.cap.Stop()
	if err := e.ch.SendControl(wire.Control{Type: wire.TypeRecordingComplete}); err != nil {
		log.Warn("recording-complete send failed", "error", err)
	}
	e.setState(AwaitingTranscription)
}

func (e *Engine) handleTransport(tev channel.Event) {
	switch tev.Kind {
	case channel.EventOpened:
		log.Info("stream open", "state", e.State())
	case channel.EventControl:
		e.handleControl(tev.Control)
	case channel.EventBinary:
		log.Debug("unexpected binary frame from server", "bytes", len(tev.Binary))
	case channel.EventClosed:
		if st := e.State(); st != Complete && st != Idle {
			log.Warn("stream closed mid-session", "state", st)
			if e.hooks.OnError != nil {
				e.hooks.OnError("connection closed")
			}
			e.player.Stop()
			e.cap.Stop()
			e.setState(Idle)
		}
	case channel.EventFailed:
		log.Error("stream unavailable", "error", tev.Err)
		if e.hooks.OnFatal != nil {
			e.hooks.OnFatal(tev.Err)
		}
		e.player.Stop()
		e.cap.Stop()
		e.setState(Idle)
	}
}

func (e *Engine) handleControl(c wire.Control) {
	switch c.Type {
	case wire.TypeReady:
		log.Debug("server ready")
	case wire.TypeStatus:
		// a recording:false status is the server-side stop signal
		if c.Recording != nil && !*c.Recording && e.State() == Recording {
			e.finishRecording()
		}
	case wire.TypeStartRecording:
		// server override of the remaining delay
		if e.State() == PostPlaybackDelay {
			e.beginRecording()
		}
	case wire.TypeTranscription:
		e.handleTranscription(c.Text)
	case wire.TypeNextQuestion:
		e.handleNextQuestion(c)
	case wire.TypeInterviewComplete:
		e.handleInterviewComplete(c)
	case wire.TypeError:
		e.handleServerError(c.Message)
	default:
		log.Debug("ignoring control frame", "type", c.Type)
	}
}

func (e *Engine) handleTranscription(text string) {
	switch e.State() {
	case AwaitingTranscription:
		e.model.SetPendingTranscript(text)
		if e.hooks.OnTranscript != nil {
			e.hooks.OnTranscript(text)
		}
		e.setState(ShowingFeedback)
	case ShowingFeedback:
		// duplicate delivery, the model ignores it
		e.model.SetPendingTranscript(text)
	default:
		log.Warn("transcription outside answer flow", "state", e.State())
	}
}

func (e *Engine) handleNextQuestion(c wire.Control) {
	st := e.State()
	if st != AwaitingTranscription && st != ShowingFeedback && st != AwaitingQuestion {
		log.Warn("next question ignored", "state", st)
		return
	}
	if c.LastEvaluation != nil {
		if e.model.CommitAnswer(*c.LastEvaluation) && e.hooks.OnFeedback != nil {
			e.hooks.OnFeedback(e.model.Answers[len(e.model.Answers)-1])
		}
	}
	q := session.Question{Index: c.QuestionIndex, Text: c.QuestionText, AudioURL: c.AudioURL}
	if !e.model.AdvanceQuestion(q, c.TotalQuestions) {
		log.Warn("stale question push dropped", "index", c.QuestionIndex)
		return
	}
	e.playQuestion(q)
}

func (e *Engine) handleInterviewComplete(c wire.Control) {
	if e.State() == Complete {
		return
	}
	if c.LastEvaluation != nil {
		if e.model.CommitAnswer(*c.LastEvaluation) && e.hooks.OnFeedback != nil {
			e.hooks.OnFeedback(e.model.Answers[len(e.model.Answers)-1])
		}
	}
	e.model.Complete(c.Evaluation)
	e.setState(Complete)
	if e.hooks.OnComplete != nil {
		e.hooks.OnComplete(c.Evaluation)
	}
	_ = e.ch.Close()
}

// handleServerError surfaces a per-question failure and rewinds the
// answer flow so the server can push the question again or move on.
func (e *Engine) handleServerError(msg string) {
	log.Warn("server error", "message", msg)
	if e.hooks.OnError != nil {
		e.hooks.OnError(msg)
	}
	switch e.State() {
	case Recording:
		e.cap.Stop()
		e.setState(AwaitingQuestion)
	case AwaitingTranscription:
		e.setState(AwaitingQuestion)
	}
}
