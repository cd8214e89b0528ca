package engine

import (
	"context"

	"github.com/SohamChaudhari2004/VISAAI/internal/session"
	"github.com/SohamChaudhari2004/VISAAI/internal/wire"
)

// TurnState is the phase of the question/answer/feedback cycle. The
// Engine is its single writer; everything else only reads it or emits
// events the Engine consumes.
type TurnState int32

const (
	Idle TurnState = iota
	AwaitingQuestion
	PlayingQuestion
	PostPlaybackDelay
	Recording
	AwaitingTranscription
	ShowingFeedback
	Complete
)

func (s TurnState) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingQuestion:
		return "awaiting_question"
	case PlayingQuestion:
		return "playing_question"
	case PostPlaybackDelay:
		return "post_playback_delay"
	case Recording:
		return "recording"
	case AwaitingTranscription:
		return "awaiting_transcription"
	case ShowingFeedback:
		return "showing_feedback"
	case Complete:
		return "complete"
	}
	return "unknown"
}

// Channel is the duplex streaming connection the Engine drives. The
// Engine owns its lifecycle: it opens the handle on session start and
// closes it on completion, restart, and teardown.
type Channel interface {
	Open() error
	SendControl(v any) error
	SendAudio(chunk []byte) error
	Connected() bool
	Close() error
}

// Capture is the microphone adapter. Acquire is called once per
// session; Start/Stop bracket each answer while the device stays warm.
type Capture interface {
	Acquire() error
	Start(onChunk func([]byte)) error
	Stop()
	Release()
}

// Player plays one question's audio. Play returns exactly once per
// call; a failed load is reported as an error and treated like a
// natural end by the Engine.
type Player interface {
	Play(ctx context.Context, audioRef string) error
	Stop()
}

// Hooks let the presentation layer observe the session. All hooks are
// optional and invoked from the Engine's event loop.
type Hooks struct {
	OnStateChange func(TurnState)
	OnTranscript  func(text string)
	OnFeedback    func(rec session.AnswerRecord)
	OnComplete    func(final *wire.FinalEvaluation)
	// OnError reports recoverable problems: per-question server errors
	// and a denied microphone (the session continues without capture).
	OnError func(msg string)
	// OnFatal reports session-terminal failures, i.e. exhausted
	// reconnect attempts.
	OnFatal func(err error)
}
