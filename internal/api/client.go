package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/SohamChaudhari2004/VISAAI/internal/wire"
)

// Client talks to the interview server's REST control plane. Session
// creation and voice discovery happen here; the answer flow normally
// runs over the streaming channel, with SubmitAnswer kept as the
// non-streaming fallback transport.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// Voice is one selectable interviewer voice.
type Voice struct {
	ID       string `json:"voice_id"`
	Name     string `json:"name"`
	Language string `json:"language"`
}

// Voices lists the interviewer voices the server offers.
func (c *Client) Voices(ctx context.Context) ([]Voice, error) {
	var out struct {
		Voices []Voice `json:"voices"`
	}
	if err := c.getJSON(ctx, "/api/voices", &out); err != nil {
		return nil, err
	}
	return out.Voices, nil
}

// StartInterviewRequest configures a new session.
type StartInterviewRequest struct {
	VisaType          string `json:"visa_type"`
	SubscriptionLevel string `json:"subscription_level"`
	VoiceID           string `json:"voice_id,omitempty"`
}

// StartInterviewResponse confirms the session and carries the first
// question.
type StartInterviewResponse struct {
	SessionID      string `json:"session_id"`
	QuestionText   string `json:"question_text"`
	AudioURL       string `json:"audio_url"`
	QuestionIndex  int    `json:"question_index"`
	TotalQuestions int    `json:"total_questions"`
}

// StartInterview creates a session and returns its first question.
func (c *Client) StartInterview(ctx context.Context, req StartInterviewRequest) (*StartInterviewResponse, error) {
	var out StartInterviewResponse
	if err := c.postJSON(ctx, "/api/startInterview", req, &out); err != nil {
		return nil, err
	}
	if out.SessionID == "" {
		return nil, fmt.Errorf("interview api: start response missing session_id")
	}
	return &out, nil
}

// SubmitAnswerRequest carries one typed answer over the fallback
// transport.
type SubmitAnswerRequest struct {
	SessionID  string `json:"session_id"`
	AnswerText string `json:"answer_text"`
}

// SubmitAnswerResponse is the per-answer result of the fallback
// transport. It mirrors what the streaming channel would deliver as
// next_question or interview_complete.
type SubmitAnswerResponse struct {
	SessionComplete bool                  `json:"session_complete"`
	QuestionText    string                `json:"question_text,omitempty"`
	AudioURL        string                `json:"audio_url,omitempty"`
	QuestionIndex   int                   `json:"question_index,omitempty"`
	TotalQuestions  int                   `json:"total_questions,omitempty"`
	LastEvaluation  *wire.Evaluation      `json:"last_evaluation,omitempty"`
	FinalEvaluation *wire.FinalEvaluation `json:"final_evaluation,omitempty"`
}

// SubmitAnswer sends one answer as text. Used only when the streaming
// channel is unavailable; it never runs concurrently with the stream
// against the same session.
func (c *Client) SubmitAnswer(ctx context.Context, sessionID, answerText string) (*SubmitAnswerResponse, error) {
	var out SubmitAnswerResponse
	req := SubmitAnswerRequest{SessionID: sessionID, AnswerText: answerText}
	if err := c.postJSON(ctx, "/api/submitAnswer", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	buf, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("interview api: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("interview api: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("interview api: %s %s: status=%d body=%s", req.Method, req.URL.Path, resp.StatusCode, string(b))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("interview api: decode %s response: %w", req.URL.Path, err)
	}
	return nil
}
