package server

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/SohamChaudhari2004/VISAAI/internal/wire"
)

// Transcriber converts one recorded answer to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Evaluator scores an answer and summarizes a finished session.
type Evaluator interface {
	EvaluateAnswer(ctx context.Context, question, transcript string) (wire.Evaluation, error)
	Summarize(ctx context.Context, answers []ScoredAnswer) (wire.FinalEvaluation, error)
}

// Synthesizer renders question text to playable audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, error)
}

// ScoredAnswer is one completed question/answer pair.
type ScoredAnswer struct {
	Question   string
	Transcript string
	Evaluation wire.Evaluation
}

// StubTranscriber produces a deterministic transcript keyed on the
// audio length. It stands in for a speech-to-text backend in tests and
// offline runs.
type StubTranscriber struct{}

func (StubTranscriber) Transcribe(_ context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("no audio received")
	}
	return fmt.Sprintf("transcribed answer (%d bytes of audio)", len(audio)), nil
}

// HeuristicEvaluator scores answers from transcript shape alone. The
// formulas are deterministic so sessions are reproducible.
type HeuristicEvaluator struct{}

func (HeuristicEvaluator) EvaluateAnswer(_ context.Context, question, transcript string) (wire.Evaluation, error) {
	words := len(strings.Fields(transcript))
	scale := func(base, perWord, limit int) int {
		s := base + words*perWord
		if s > limit {
			s = limit
		}
		return s
	}
	ev := wire.Evaluation{
		FluencyScore:         scale(55, 3, 95),
		ConfidenceScore:      scale(50, 4, 92),
		ContentAccuracyScore: scale(45, 4, 90),
		ClarityScore:         scale(60, 2, 94),
		ResponseTimeScore:    scale(70, 1, 90),
	}
	switch {
	case words == 0:
		ev.Feedback = "No answer was detected. Try speaking closer to the microphone."
	case words < 5:
		ev.Feedback = "Your answer was very short. Interviewers expect a complete sentence or two."
	case words > 60:
		ev.Feedback = "Good detail, but keep answers focused. Officers prefer concise responses."
	default:
		ev.Feedback = "Clear and appropriately detailed answer."
	}
	return ev, nil
}

var scoreLabels = map[string]string{
	"fluency":          "fluency",
	"confidence":       "confidence",
	"content_accuracy": "content accuracy",
	"clarity":          "clarity",
	"response_time":    "response time",
}

func (HeuristicEvaluator) Summarize(_ context.Context, answers []ScoredAnswer) (wire.FinalEvaluation, error) {
	if len(answers) == 0 {
		return wire.FinalEvaluation{FeedbackSummary: "No answers were recorded."}, nil
	}
	detailed := map[string]float64{}
	for _, a := range answers {
		detailed["fluency"] += float64(a.Evaluation.FluencyScore)
		detailed["confidence"] += float64(a.Evaluation.ConfidenceScore)
		detailed["content_accuracy"] += float64(a.Evaluation.ContentAccuracyScore)
		detailed["clarity"] += float64(a.Evaluation.ClarityScore)
		detailed["response_time"] += float64(a.Evaluation.ResponseTimeScore)
	}
	var overall float64
	for k := range detailed {
		detailed[k] /= float64(len(answers))
		overall += detailed[k]
	}
	overall /= float64(len(detailed))

	var strengths, improve []string
	keys := make([]string, 0, len(detailed))
	for k := range detailed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch {
		case detailed[k] >= 80:
			strengths = append(strengths, "Strong "+scoreLabels[k])
		case detailed[k] < 65:
			improve = append(improve, "Work on your "+scoreLabels[k])
		}
	}
	summary := fmt.Sprintf("You completed %d questions with an overall score of %.0f out of 100.", len(answers), overall)
	return wire.FinalEvaluation{
		OverallScore:    overall,
		FeedbackSummary: summary,
		DetailedScores:  detailed,
		Strengths:       strengths,
		AreasToImprove:  improve,
	}, nil
}

// StubSynthesizer emits a tiny placeholder payload per question so the
// audio pipeline stays exercised without a TTS backend.
type StubSynthesizer struct{}

func (StubSynthesizer) Synthesize(_ context.Context, text, voiceID string) ([]byte, error) {
	return []byte("AUDIO:" + voiceID + ":" + text), nil
}

// DefaultVoices is the voice list served when no TTS backend is wired.
var DefaultVoices = []Voice{
	{ID: "officer-f1", Name: "Officer Reyes", Language: "en-US"},
	{ID: "officer-m1", Name: "Officer Carter", Language: "en-US"},
	{ID: "officer-f2", Name: "Officer Okafor", Language: "en-GB"},
}

// Voice is one selectable interviewer voice.
type Voice struct {
	ID       string `json:"voice_id"`
	Name     string `json:"name"`
	Language string `json:"language"`
}
