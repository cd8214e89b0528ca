package server

import (
	"context"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/SohamChaudhari2004/VISAAI/internal/wire"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleStream runs the duplex answer flow: binary audio up,
// JSON control frames both ways. All writes happen from this single
// goroutine.
func (s *Server) handleStream(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// The init payload binds the connection to a session.
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var init wire.Init
	if err := conn.ReadJSON(&init); err != nil {
		log.Warn("stream init read failed", "error", err)
		return nil
	}
	_ = conn.SetReadDeadline(time.Time{})

	iv, err := s.store.Get(init.SessionID)
	if err != nil {
		_ = sendControl(conn, wire.Control{Type: wire.TypeError, Message: "unknown session"})
		return nil
	}
	if !iv.attachStream() {
		_ = sendControl(conn, wire.Control{Type: wire.TypeError, Message: "session already has an active stream"})
		return nil
	}
	defer iv.detachStream()
	log.Info("stream attached", "session", iv.ID, "question_index", init.QuestionIndex)
	if err := sendControl(conn, wire.Control{Type: wire.TypeReady}); err != nil {
		return nil
	}

	ctx := context.Background()
	var answerBuf []byte
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			log.Info("stream detached", "session", iv.ID, "error", err)
			return nil
		}
		switch mt {
		case websocket.BinaryMessage:
			answerBuf = append(answerBuf, data...)
		case websocket.TextMessage:
			msg, derr := wire.Decode(data)
			if derr != nil {
				log.Warn("dropping malformed frame", "session", iv.ID, "error", derr)
				continue
			}
			switch msg.Type {
			case wire.TypePing:
				if err := sendControl(conn, wire.Control{Type: wire.TypePong}); err != nil {
					return nil
				}
			case wire.TypePong:
				// ignore
			case wire.TypeStartRecording:
				answerBuf = nil
				if err := sendControl(conn, statusControl(true, false)); err != nil {
					return nil
				}
			case wire.TypeRecordingComplete:
				done, err := s.streamTurn(ctx, conn, iv, answerBuf)
				answerBuf = nil
				if err != nil {
					return nil
				}
				if done {
					closeNormally(conn)
					return nil
				}
			case wire.TypeEndSession:
				log.Info("session ended by client", "session", iv.ID)
				closeNormally(conn)
				return nil
			default:
				log.Debug("ignoring frame", "type", msg.Type)
			}
		}
	}
}

// streamTurn processes one completed answer and pushes the results.
// It returns done=true when the interview finished. A non-nil error
// means the connection is unusable.
func (s *Server) streamTurn(ctx context.Context, conn *websocket.Conn, iv *Interview, audio []byte) (bool, error) {
	if err := sendControl(conn, statusControl(false, true)); err != nil {
		return false, err
	}
	transcript, err := s.transcriber.Transcribe(ctx, audio)
	if err != nil {
		log.Warn("transcription failed", "session", iv.ID, "error", err)
		return false, sendControl(conn, wire.Control{Type: wire.TypeError, Message: err.Error()})
	}
	result, err := s.completeTurn(ctx, iv, transcript)
	if err != nil {
		log.Warn("answer processing failed", "session", iv.ID, "error", err)
		return false, sendControl(conn, wire.Control{Type: wire.TypeError, Message: err.Error()})
	}
	if err := sendControl(conn, wire.Control{Type: wire.TypeTranscription, Text: result.transcript}); err != nil {
		return false, err
	}
	eval := result.evaluation
	if result.final != nil {
		return true, sendControl(conn, wire.Control{
			Type:           wire.TypeInterviewComplete,
			Evaluation:     result.final,
			LastEvaluation: &eval,
		})
	}
	return false, sendControl(conn, wire.Control{
		Type:           wire.TypeNextQuestion,
		QuestionText:   result.nextText,
		AudioURL:       result.nextAudioURL,
		QuestionIndex:  result.nextIndex,
		TotalQuestions: len(iv.Questions),
		LastEvaluation: &eval,
	})
}

func sendControl(conn *websocket.Conn, ctl wire.Control) error {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(ctl)
}

func statusControl(recording, processing bool) wire.Control {
	return wire.Control{Type: wire.TypeStatus, Recording: &recording, Processing: &processing}
}

func closeNormally(conn *websocket.Conn) {
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "interview complete"), deadline)
}
