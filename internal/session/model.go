package session

import (
	"github.com/SohamChaudhari2004/VISAAI/internal/wire"
)

// Session is the authoritative record of one interview session. It is
// created from a confirmed start-interview response and mutated only by
// the turn engine in response to confirmed server messages.
type Session struct {
	ID                string
	VisaType          string
	VoiceID           string
	SubscriptionLevel string
	QuestionIndex     int // 1-based, matches the server
	TotalQuestions    int
	IsComplete        bool
}

// Question is the single active question. It is replaced wholesale on
// each next_question message.
type Question struct {
	Index    int
	Text     string
	AudioURL string
}

// AnswerRecord pairs a transcript with its evaluation. Records are
// append-only and ordered by question index.
type AnswerRecord struct {
	QuestionIndex int
	Transcript    string
	Evaluation    wire.Evaluation
}

// Model bundles session state, the active question, and the answer
// history. The turn engine is its single writer; everything else reads.
type Model struct {
	Session  *Session
	Current  Question
	Answers  []AnswerRecord
	Final    *wire.FinalEvaluation
	recorded map[int]bool

	// pending transcript for the answer currently in flight; it becomes
	// an AnswerRecord once the matching evaluation arrives.
	pendingTranscript string
	pendingSet        bool
}

// NewModel returns an empty model with no active session.
func NewModel() *Model {
	return &Model{recorded: make(map[int]bool)}
}

// Begin installs a freshly confirmed session and its first question.
func (m *Model) Begin(s Session, first Question) {
	m.Session = &s
	m.Current = first
	m.Answers = nil
	m.Final = nil
	m.recorded = make(map[int]bool)
	m.pendingTranscript = ""
	m.pendingSet = false
}

// Reset destroys all session state. Used on restart and on terminal
// channel failure.
func (m *Model) Reset() {
	*m = *NewModel()
}

// SetPendingTranscript stores the transcript for the in-flight answer.
// Duplicate transcriptions for the same question are ignored.
func (m *Model) SetPendingTranscript(text string) {
	if m.pendingSet {
		return
	}
	m.pendingTranscript = text
	m.pendingSet = true
}

// HasPendingAnswer reports whether a transcript is waiting for its
// evaluation.
func (m *Model) HasPendingAnswer() bool { return m.pendingSet }

// CommitAnswer appends the in-flight answer with its evaluation. It is
// idempotent per question index: at most one record can exist for the
// question, regardless of duplicate server messages.
func (m *Model) CommitAnswer(eval wire.Evaluation) bool {
	if m.Session == nil {
		return false
	}
	idx := m.Current.Index
	if m.recorded[idx] {
		m.pendingTranscript = ""
		m.pendingSet = false
		return false
	}
	m.Answers = append(m.Answers, AnswerRecord{
		QuestionIndex: idx,
		Transcript:    m.pendingTranscript,
		Evaluation:    eval,
	})
	m.recorded[idx] = true
	m.pendingTranscript = ""
	m.pendingSet = false
	return true
}

// AdvanceQuestion installs the next question as confirmed by the
// server. The session question index never moves backwards.
func (m *Model) AdvanceQuestion(q Question, totalQuestions int) bool {
	if m.Session == nil || m.Session.IsComplete {
		return false
	}
	if q.Index < m.Session.QuestionIndex {
		return false
	}
	m.Current = q
	m.Session.QuestionIndex = q.Index
	if totalQuestions > 0 {
		m.Session.TotalQuestions = totalQuestions
	}
	return true
}

// Complete marks the session finished and stores the final evaluation.
func (m *Model) Complete(final *wire.FinalEvaluation) {
	if m.Session == nil {
		return
	}
	m.Session.IsComplete = true
	m.Final = final
}
