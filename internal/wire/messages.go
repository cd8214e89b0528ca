package wire

import (
	"encoding/json"
	"fmt"
)

// Control frame types carried on the duplex channel. Binary frames are
// raw audio and carry no type tag.
const (
	TypePing              = "ping"
	TypePong              = "pong"
	TypeReady             = "ready"
	TypeStatus            = "status"
	TypeStartRecording    = "start_recording"
	TypeRecordingComplete = "recording-complete"
	TypeEndSession        = "end_session"
	TypeTranscription     = "transcription"
	TypeNextQuestion      = "next_question"
	TypeInterviewComplete = "interview_complete"
	TypeError             = "error"
)

// Init is the first control frame the client sends after the transport
// opens. It binds the connection to an interview session.
type Init struct {
	SessionID     string `json:"session_id"`
	QuestionIndex int    `json:"question_index"`
}

// Control is the envelope for every JSON frame on the duplex channel.
// Fields not used by a given type stay zero and are omitted on the wire.
type Control struct {
	Type           string           `json:"type"`
	Message        string           `json:"message,omitempty"`
	Text           string           `json:"text,omitempty"`
	Recording      *bool            `json:"recording,omitempty"`
	Processing     *bool            `json:"processing,omitempty"`
	QuestionText   string           `json:"question_text,omitempty"`
	AudioURL       string           `json:"audio_url,omitempty"`
	QuestionIndex  int              `json:"question_index,omitempty"`
	TotalQuestions int              `json:"total_questions,omitempty"`
	LastEvaluation *Evaluation      `json:"last_evaluation,omitempty"`
	Evaluation     *FinalEvaluation `json:"evaluation,omitempty"`
}

// Decode parses a JSON control frame. Frames without a type field are
// rejected so the channel manager can drop them without guessing.
func Decode(data []byte) (Control, error) {
	var c Control
	if err := json.Unmarshal(data, &c); err != nil {
		return Control{}, fmt.Errorf("decode control frame: %w", err)
	}
	if c.Type == "" {
		return Control{}, fmt.Errorf("control frame missing type field")
	}
	return c, nil
}

// Evaluation is the per-answer score set produced by the server.
// Scores are integers in [0,100].
type Evaluation struct {
	FluencyScore         int    `json:"fluency_score"`
	ConfidenceScore      int    `json:"confidence_score"`
	ContentAccuracyScore int    `json:"content_accuracy_score"`
	ClarityScore         int    `json:"clarity_score"`
	ResponseTimeScore    int    `json:"response_time_score"`
	Feedback             string `json:"feedback"`
}

// Overall is the mean of the five component scores.
func (e Evaluation) Overall() int {
	return (e.FluencyScore + e.ConfidenceScore + e.ContentAccuracyScore + e.ClarityScore + e.ResponseTimeScore) / 5
}

// FinalEvaluation summarizes a completed session.
type FinalEvaluation struct {
	OverallScore    float64            `json:"overall_score"`
	FeedbackSummary string             `json:"feedback_summary"`
	DetailedScores  map[string]float64 `json:"detailed_scores"`
	Strengths       []string           `json:"strengths"`
	AreasToImprove  []string           `json:"areas_to_improve"`
}
