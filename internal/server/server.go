package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/SohamChaudhari2004/VISAAI/internal/wire"
)

var errSessionComplete = errors.New("interview already complete")

// Server is the interview practice backend: REST control plane, the
// audio file routes, and the duplex streaming endpoint.
type Server struct {
	echo        *echo.Echo
	store       *Store
	transcriber Transcriber
	evaluator   Evaluator
	synthesizer Synthesizer
	voices      []Voice
}

// Option overrides a default collaborator.
type Option func(*Server)

// WithTranscriber swaps the speech-to-text backend.
func WithTranscriber(t Transcriber) Option { return func(s *Server) { s.transcriber = t } }

// WithEvaluator swaps the scoring backend.
func WithEvaluator(e Evaluator) Option { return func(s *Server) { s.evaluator = e } }

// WithSynthesizer swaps the text-to-speech backend.
func WithSynthesizer(sy Synthesizer) Option { return func(s *Server) { s.synthesizer = sy } }

// New assembles the server with routes and middleware.
func New(opts ...Option) *Server {
	s := &Server{
		store:       NewStore(),
		transcriber: StubTranscriber{},
		evaluator:   HeuristicEvaluator{},
		synthesizer: StubSynthesizer{},
		voices:      DefaultVoices,
	}
	for _, opt := range opts {
		opt(s)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/api/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/api/voices", s.handleVoices)
	e.POST("/api/startInterview", s.handleStartInterview)
	e.POST("/api/submitAnswer", s.handleSubmitAnswer)
	e.GET("/audio/:session/:file", s.handleAudio)
	e.GET("/ws/stream", s.handleStream)

	s.echo = e
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Start blocks serving on addr.
func (s *Server) Start(addr string) error { return s.echo.Start(addr) }

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error { return s.echo.Shutdown(ctx) }

func (s *Server) handleVoices(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"voices": s.voices})
}

type startInterviewRequest struct {
	VisaType          string `json:"visa_type"`
	SubscriptionLevel string `json:"subscription_level"`
	VoiceID           string `json:"voice_id"`
}

func (s *Server) handleStartInterview(c echo.Context) error {
	var req startInterviewRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	bank, err := questionBank(req.VisaType)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	n := questionCount(req.SubscriptionLevel)
	if n > len(bank) {
		n = len(bank)
	}
	voiceID := req.VoiceID
	if voiceID == "" {
		voiceID = s.voices[0].ID
	}

	iv := s.store.Create(req.VisaType, req.SubscriptionLevel, voiceID, bank[:n])
	audio, err := s.synthesizer.Synthesize(c.Request().Context(), iv.ActiveQuestion(), voiceID)
	if err != nil {
		log.Error("question synthesis failed", "session", iv.ID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "could not synthesize question audio"})
	}
	iv.mu.Lock()
	iv.Audio[1] = audio
	iv.mu.Unlock()

	log.Info("interview started", "session", iv.ID, "visa_type", iv.VisaType, "questions", n)
	return c.JSON(http.StatusOK, map[string]any{
		"session_id":      iv.ID,
		"question_text":   iv.ActiveQuestion(),
		"audio_url":       iv.AudioPath(1),
		"question_index":  1,
		"total_questions": len(iv.Questions),
	})
}

type submitAnswerRequest struct {
	SessionID  string `json:"session_id"`
	AnswerText string `json:"answer_text"`
}

// handleSubmitAnswer is the non-streaming fallback transport: one typed
// answer per request, the whole turn result in the response. It never
// drives a session concurrently with the stream handler.
func (s *Server) handleSubmitAnswer(c echo.Context) error {
	var req submitAnswerRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	iv, err := s.store.Get(req.SessionID)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}
	if strings.TrimSpace(req.AnswerText) == "" {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": "empty answer"})
	}
	if iv.streamHeld() {
		return c.JSON(http.StatusConflict, map[string]string{"error": "session is driven by an active stream"})
	}

	result, err := s.completeTurn(c.Request().Context(), iv, req.AnswerText)
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	}

	resp := map[string]any{"last_evaluation": result.evaluation}
	if result.final != nil {
		resp["session_complete"] = true
		resp["final_evaluation"] = result.final
	} else {
		resp["session_complete"] = false
		resp["question_text"] = result.nextText
		resp["audio_url"] = result.nextAudioURL
		resp["question_index"] = result.nextIndex
		resp["total_questions"] = len(iv.Questions)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleAudio(c echo.Context) error {
	iv, err := s.store.Get(c.Param("session"))
	if err != nil {
		return c.NoContent(http.StatusNotFound)
	}
	var index int
	if _, err := fmt.Sscanf(c.Param("file"), "q%d.mp3", &index); err != nil {
		return c.NoContent(http.StatusNotFound)
	}
	iv.mu.Lock()
	audio, ok := iv.Audio[index]
	iv.mu.Unlock()
	if !ok {
		return c.NoContent(http.StatusNotFound)
	}
	return c.Blob(http.StatusOK, "audio/mpeg", audio)
}

// turnResult is the outcome of one answered question.
type turnResult struct {
	transcript   string
	evaluation   wire.Evaluation
	nextText     string
	nextAudioURL string
	nextIndex    int
	final        *wire.FinalEvaluation
}

// completeTurn scores one transcribed answer, then either advances the
// interview or finishes it. Shared by the stream handler and the
// fallback transport.
func (s *Server) completeTurn(ctx context.Context, iv *Interview, transcript string) (*turnResult, error) {
	iv.mu.Lock()
	if iv.Complete {
		iv.mu.Unlock()
		return nil, errSessionComplete
	}
	question := iv.ActiveQuestion()
	iv.mu.Unlock()

	eval, err := s.evaluator.EvaluateAnswer(ctx, question, transcript)
	if err != nil {
		return nil, err
	}

	iv.mu.Lock()
	iv.Answers = append(iv.Answers, ScoredAnswer{Question: question, Transcript: transcript, Evaluation: eval})
	last := iv.Index >= len(iv.Questions)
	if !last {
		iv.Index++
	} else {
		iv.Complete = true
	}
	nextIndex := iv.Index
	answers := append([]ScoredAnswer(nil), iv.Answers...)
	iv.mu.Unlock()

	res := &turnResult{transcript: transcript, evaluation: eval}
	if last {
		final, err := s.evaluator.Summarize(ctx, answers)
		if err != nil {
			return nil, err
		}
		res.final = &final
		log.Info("interview complete", "session", iv.ID, "score", final.OverallScore)
		return res, nil
	}

	nextText := iv.Questions[nextIndex-1]
	nextAudio, err := s.synthesizer.Synthesize(ctx, nextText, iv.VoiceID)
	if err != nil {
		return nil, err
	}
	iv.mu.Lock()
	iv.Audio[nextIndex] = nextAudio
	iv.mu.Unlock()
	res.nextText = nextText
	res.nextAudioURL = iv.AudioPath(nextIndex)
	res.nextIndex = nextIndex
	return res, nil
}
