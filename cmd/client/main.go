package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/log"

	"github.com/SohamChaudhari2004/VISAAI/internal/api"
	"github.com/SohamChaudhari2004/VISAAI/internal/capture"
	"github.com/SohamChaudhari2004/VISAAI/internal/channel"
	"github.com/SohamChaudhari2004/VISAAI/internal/config"
	"github.com/SohamChaudhari2004/VISAAI/internal/engine"
	"github.com/SohamChaudhari2004/VISAAI/internal/playback"
	"github.com/SohamChaudhari2004/VISAAI/internal/session"
	"github.com/SohamChaudhari2004/VISAAI/internal/wire"
)

func main() {
	cfg := config.Load()
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client := api.NewClient(cfg.APIBaseURL)

	visaType, level, voiceID, err := setupForm(ctx, client)
	if err != nil {
		log.Fatal("setup failed", "error", err)
	}

	start, err := client.StartInterview(ctx, api.StartInterviewRequest{
		VisaType:          visaType,
		SubscriptionLevel: level,
		VoiceID:           voiceID,
	})
	if err != nil {
		log.Fatal("could not start interview", "error", err)
	}
	fmt.Printf("\nInterview started: %d questions. Speak after each question plays.\n", start.TotalQuestions)
	fmt.Printf("\nQuestion 1/%d: %s\n", start.TotalQuestions, start.QuestionText)

	mgr := channel.New(channel.Config{
		URL:                  cfg.StreamURL,
		HeartbeatInterval:    cfg.HeartbeatInterval,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	}, wire.Init{SessionID: start.SessionID, QuestionIndex: start.QuestionIndex})

	mic := capture.New(cfg.SampleRate, cfg.ChunkInterval)
	player := playback.New(cfg.APIBaseURL)
	model := session.NewModel()

	done := make(chan struct{})
	var doneOnce sync.Once
	finish := func() { doneOnce.Do(func() { close(done) }) }
	eng := engine.New(engine.Config{
		PostPlaybackDelay: cfg.PostPlaybackDelay,
		RecordingCeiling:  cfg.RecordingCeiling,
		AllowManualStart:  cfg.AllowManualStart,
	}, mgr, mic, player, model, engine.Hooks{
		OnStateChange: func(s engine.TurnState) {
			switch s {
			case engine.Recording:
				fmt.Println("\n● Recording. Press Enter when you are done.")
			case engine.AwaitingTranscription:
				fmt.Println("Processing your answer...")
			}
		},
		OnTranscript: func(text string) {
			fmt.Printf("\nYou said: %s\n", text)
		},
		OnFeedback: func(rec session.AnswerRecord) {
			printEvaluation(rec.Evaluation)
			if model.Session != nil && !model.Session.IsComplete {
				fmt.Printf("\nQuestion %d/%d: %s\n",
					model.Current.Index, model.Session.TotalQuestions, model.Current.Text)
			}
		},
		OnComplete: func(final *wire.FinalEvaluation) {
			printSummary(final)
			finish()
		},
		OnError: func(msg string) {
			fmt.Printf("\n! %s\n", msg)
		},
		OnFatal: func(err error) {
			log.Error("session failed", "error", err)
			finish()
		},
	})

	stop, err := eng.Start(ctx, mgr.Events())
	if err != nil {
		log.Fatal("engine start", "error", err)
	}
	defer stop()

	eng.StartSession(
		session.Session{
			ID:                start.SessionID,
			VisaType:          visaType,
			VoiceID:           voiceID,
			SubscriptionLevel: level,
			QuestionIndex:     start.QuestionIndex,
			TotalQuestions:    start.TotalQuestions,
		},
		session.Question{Index: start.QuestionIndex, Text: start.QuestionText, AudioURL: start.AudioURL},
	)

	// Enter stops the active recording, or cuts the pre-answer pause
	// short when manual start is enabled.
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			switch eng.State() {
			case engine.Recording:
				eng.StopRecording()
			case engine.PostPlaybackDelay:
				eng.StartRecordingNow()
			case engine.ShowingFeedback:
				eng.Continue()
			}
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
		fmt.Println("\nInterrupted.")
	}
}

func setupForm(ctx context.Context, client *api.Client) (visaType, level, voiceID string, err error) {
	voices, err := client.Voices(ctx)
	if err != nil {
		return "", "", "", fmt.Errorf("fetch voices: %w", err)
	}
	voiceOpts := make([]huh.Option[string], 0, len(voices))
	for _, v := range voices {
		voiceOpts = append(voiceOpts, huh.NewOption(v.Name, v.ID))
	}

	visaType = "tourist"
	level = "free"
	if len(voices) > 0 {
		voiceID = voices[0].ID
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Visa type").
				Options(
					huh.NewOption("Tourist (B-2)", "tourist"),
					huh.NewOption("Student (F-1)", "student"),
				).
				Value(&visaType),
			huh.NewSelect[string]().
				Title("Subscription level").
				Options(
					huh.NewOption("Free (5 questions)", "free"),
					huh.NewOption("Super (10 questions)", "super"),
					huh.NewOption("Premium (15 questions)", "premium"),
				).
				Value(&level),
			huh.NewSelect[string]().
				Title("Interviewer voice").
				Options(voiceOpts...).
				Value(&voiceID),
		),
	)
	if err := form.Run(); err != nil {
		return "", "", "", err
	}
	return visaType, level, voiceID, nil
}

func printEvaluation(ev wire.Evaluation) {
	fmt.Println("\nScores for your answer:")
	fmt.Printf("  Fluency          %3d\n", ev.FluencyScore)
	fmt.Printf("  Confidence       %3d\n", ev.ConfidenceScore)
	fmt.Printf("  Content accuracy %3d\n", ev.ContentAccuracyScore)
	fmt.Printf("  Clarity          %3d\n", ev.ClarityScore)
	fmt.Printf("  Response time    %3d\n", ev.ResponseTimeScore)
	fmt.Printf("  Overall          %3d\n", ev.Overall())
	if ev.Feedback != "" {
		fmt.Printf("  %s\n", ev.Feedback)
	}
}

func printSummary(final *wire.FinalEvaluation) {
	fmt.Println("\n=== Interview complete ===")
	if final == nil {
		return
	}
	fmt.Printf("Overall score: %.0f/100\n", final.OverallScore)
	if final.FeedbackSummary != "" {
		fmt.Println(final.FeedbackSummary)
	}
	if len(final.DetailedScores) > 0 {
		keys := make([]string, 0, len(final.DetailedScores))
		for k := range final.DetailedScores {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Println("\nBy category:")
		for _, k := range keys {
			fmt.Printf("  %-17s %.0f\n", strings.ReplaceAll(k, "_", " "), final.DetailedScores[k])
		}
	}
	for _, s := range final.Strengths {
		fmt.Printf("  + %s\n", s)
	}
	for _, a := range final.AreasToImprove {
		fmt.Printf("  - %s\n", a)
	}
}
