package capture

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gordonklaus/portaudio"
)

// ErrPermissionDenied means the microphone could not be acquired.
// Capture-dependent features must degrade, not crash the session.
var ErrPermissionDenied = errors.New("capture: microphone permission denied")

// ErrAlreadyRecording is returned by Start while a recording is active.
var ErrAlreadyRecording = errors.New("capture: already recording")

// ErrNotAcquired is returned by Start before a successful Acquire.
var ErrNotAcquired = errors.New("capture: device not acquired")

// Adapter wraps the default input device as a start/stop source of
// encoded audio chunks. The device is acquired once per session and
// kept warm between questions; Stop leaves the stream open and idle.
type Adapter struct {
	sampleRate    int
	chunkInterval time.Duration

	mu        sync.Mutex
	stream    *portaudio.Stream
	frameBuf  []int16
	acquired  bool
	recording bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// New returns an adapter delivering one chunk per chunkInterval.
func New(sampleRate int, chunkInterval time.Duration) *Adapter {
	return &Adapter{
		sampleRate:    sampleRate,
		chunkInterval: chunkInterval,
		frameBuf:      make([]int16, sampleRate/100), // 10ms reads
	}
}

// Acquire opens the default input stream. It is called once per session
// lifetime; repeated calls after success are no-ops. A failure maps to
// ErrPermissionDenied and is reported once.
func (a *Adapter) Acquire() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.acquired {
		return nil
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(a.sampleRate), len(a.frameBuf), a.frameBuf)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	a.stream = stream
	a.acquired = true
	log.Info("microphone acquired", "sample_rate", a.sampleRate)
	return nil
}

// Start begins a recording, delivering encoded chunks to onChunk at the
// configured interval. Calling Start while recording returns
// ErrAlreadyRecording; there is no silent double-capture.
func (a *Adapter) Start(onChunk func([]byte)) error {
	a.mu.Lock()
	if !a.acquired {
		a.mu.Unlock()
		return ErrNotAcquired
	}
	if a.recording {
		a.mu.Unlock()
		return ErrAlreadyRecording
	}
	enc, err := NewOpusEncoder(a.sampleRate)
	if err != nil {
		a.mu.Unlock()
		return err
	}
	if err := a.stream.Start(); err != nil {
		a.mu.Unlock()
		return fmt.Errorf("start input stream: %w", err)
	}
	a.recording = true
	a.stopCh = make(chan struct{})
	a.doneCh = make(chan struct{})
	stopCh, doneCh := a.stopCh, a.doneCh
	a.mu.Unlock()

	go a.pump(NewChunker(enc), onChunk, stopCh, doneCh)
	return nil
}

// pump reads 10ms blocks from the device, feeds the chunker, and
// flushes a chunk every chunkInterval. On stop it flushes the pending
// partial chunk before signaling completion.
func (a *Adapter) pump(ch *Chunker, onChunk func([]byte), stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	flush := time.NewTicker(a.chunkInterval)
	defer flush.Stop()
	for {
		select {
		case <-stopCh:
			final, err := ch.FlushFinal()
			if err != nil {
				log.Warn("final chunk encode failed", "error", err)
			} else if len(final) > 0 {
				onChunk(final)
			}
			if err := a.stream.Stop(); err != nil {
				log.Warn("input stream stop failed", "error", err)
			}
			return
		case <-flush.C:
			if chunk := ch.Flush(); len(chunk) > 0 {
				onChunk(chunk)
			}
		default:
			if err := a.stream.Read(); err != nil {
				log.Warn("input read failed", "error", err)
				continue
			}
			block := make([]int16, len(a.frameBuf))
			copy(block, a.frameBuf)
			if err := ch.Push(block); err != nil {
				log.Warn("chunk encode failed", "error", err)
			}
		}
	}
}

// Stop flushes the pending chunk and idles the stream. The device stays
// acquired so the next question starts without re-prompting.
func (a *Adapter) Stop() {
	a.mu.Lock()
	if !a.recording {
		a.mu.Unlock()
		return
	}
	a.recording = false
	stopCh, doneCh := a.stopCh, a.doneCh
	a.stopCh, a.doneCh = nil, nil
	a.mu.Unlock()

	close(stopCh)
	<-doneCh
}

// Recording reports whether a capture is in progress.
func (a *Adapter) Recording() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.recording
}

// Release closes the device stream. Called on final teardown only.
func (a *Adapter) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.acquired {
		return
	}
	if a.recording {
		a.mu.Unlock()
		a.Stop()
		a.mu.Lock()
	}
	_ = a.stream.Close()
	portaudio.Terminate()
	a.stream = nil
	a.acquired = false
}
