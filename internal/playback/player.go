package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	mp3 "github.com/hajimehoshi/go-mp3"
)

// ErrPlaybackFailed marks load or decode failures. Callers treat it as
// equivalent to a natural end so the turn cycle never stalls on a bad
// audio file.
var ErrPlaybackFailed = errors.New("playback: failed")

// ErrBusy is returned when Play is called while audio is playing.
var ErrBusy = errors.New("playback: already playing")

// Output renders decoded PCM to a device. Faked in tests.
type Output interface {
	Open(sampleRate int) error
	Write(samples []int16) error
	Close() error
}

// Player fetches a question's synthesized audio, decodes it, and plays
// it to completion. Play returns exactly once per call, whether the
// audio ended naturally, was stopped, or failed to load.
type Player struct {
	baseURL   string
	client    *http.Client
	newOutput func() Output
	decode    func(io.Reader) (int, []int16, error)

	mu      sync.Mutex
	playing bool
	stopCh  chan struct{}
}

// New returns a Player resolving relative audio refs against baseURL.
func New(baseURL string) *Player {
	return &Player{
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: 30 * time.Second},
		newOutput: func() Output { return &PortaudioOutput{} },
		decode:    decodeMP3,
	}
}

// Play blocks until the audio ends, Stop is called, or the context is
// cancelled. Load and decode errors return ErrPlaybackFailed.
func (p *Player) Play(ctx context.Context, audioRef string) error {
	p.mu.Lock()
	if p.playing {
		p.mu.Unlock()
		return ErrBusy
	}
	p.playing = true
	p.stopCh = make(chan struct{})
	stop := p.stopCh
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.playing = false
		p.stopCh = nil
		p.mu.Unlock()
	}()

	url := p.resolve(audioRef)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPlaybackFailed, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: fetch %s: %v", ErrPlaybackFailed, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: fetch %s: status %d", ErrPlaybackFailed, url, resp.StatusCode)
	}

	rate, samples, err := p.decode(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: decode: %v", ErrPlaybackFailed, err)
	}

	out := p.newOutput()
	if err := out.Open(rate); err != nil {
		return fmt.Errorf("%w: open output: %v", ErrPlaybackFailed, err)
	}
	defer out.Close()

	block := rate / 10 // 100ms blocks keep Stop responsive
	for off := 0; off < len(samples); off += block {
		select {
		case <-stop:
			log.Debug("playback stopped", "ref", audioRef)
			return nil
		case <-ctx.Done():
			return nil
		default:
		}
		end := off + block
		if end > len(samples) {
			end = len(samples)
		}
		if err := out.Write(samples[off:end]); err != nil {
			return fmt.Errorf("%w: write output: %v", ErrPlaybackFailed, err)
		}
	}
	return nil
}

// Stop aborts the current playback, if any. Safe to call repeatedly.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing && p.stopCh != nil {
		close(p.stopCh)
		p.stopCh = nil
	}
}

func (p *Player) resolve(audioRef string) string {
	if strings.HasPrefix(audioRef, "http://") || strings.HasPrefix(audioRef, "https://") {
		return audioRef
	}
	if !strings.HasPrefix(audioRef, "/") {
		audioRef = "/" + audioRef
	}
	return p.baseURL + audioRef
}

// decodeMP3 decodes a whole mp3 stream into mono int16 samples.
// go-mp3 always emits 16-bit little-endian stereo; channels are
// averaged down to mono.
func decodeMP3(r io.Reader) (int, []int16, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return 0, nil, err
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return 0, nil, err
	}
	n := len(raw) / 4
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		l := int16(uint16(raw[i*4]) | uint16(raw[i*4+1])<<8)
		rch := int16(uint16(raw[i*4+2]) | uint16(raw[i*4+3])<<8)
		samples[i] = int16((int32(l) + int32(rch)) / 2)
	}
	return dec.SampleRate(), samples, nil
}
