package playback

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type fakeOutput struct {
	wrote  int32
	delay  time.Duration
	failed bool
}

func (f *fakeOutput) Open(sampleRate int) error { return nil }

func (f *fakeOutput) Write(samples []int16) error {
	if f.failed {
		return errors.New("device gone")
	}
	atomic.AddInt32(&f.wrote, int32(len(samples)))
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return nil
}

func (f *fakeOutput) Close() error { return nil }

func newTestPlayer(srv *httptest.Server, out Output, samples int) *Player {
	p := New(srv.URL)
	p.newOutput = func() Output { return out }
	p.decode = func(r io.Reader) (int, []int16, error) {
		_, _ = io.ReadAll(r)
		return 16000, make([]int16, samples), nil
	}
	return p
}

func audioServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte("mp3-bytes"))
	}))
}

func TestPlay_ReturnsOnceOnNaturalEnd(t *testing.T) {
	srv := audioServer(t, http.StatusOK)
	defer srv.Close()
	out := &fakeOutput{}
	p := newTestPlayer(srv, out, 3200)

	if err := p.Play(context.Background(), "/audio/q1.mp3"); err != nil {
		t.Fatalf("play: %v", err)
	}
	if got := atomic.LoadInt32(&out.wrote); got != 3200 {
		t.Fatalf("expected 3200 samples written, got %d", got)
	}
}

func TestPlay_StopEndsPlayback(t *testing.T) {
	srv := audioServer(t, http.StatusOK)
	defer srv.Close()
	out := &fakeOutput{delay: 20 * time.Millisecond}
	p := newTestPlayer(srv, out, 160000)

	done := make(chan error, 1)
	go func() { done <- p.Play(context.Background(), "/audio/q1.mp3") }()

	time.Sleep(50 * time.Millisecond)
	p.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("stop must end playback cleanly, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("playback did not end after stop")
	}
	if atomic.LoadInt32(&out.wrote) >= 160000 {
		t.Fatalf("expected playback cut short by stop")
	}
	// second Stop must be a harmless no-op
	p.Stop()
}

func TestPlay_HTTPErrorIsPlaybackFailed(t *testing.T) {
	srv := audioServer(t, http.StatusNotFound)
	defer srv.Close()
	p := newTestPlayer(srv, &fakeOutput{}, 100)

	err := p.Play(context.Background(), "/audio/missing.mp3")
	if !errors.Is(err, ErrPlaybackFailed) {
		t.Fatalf("expected ErrPlaybackFailed, got %v", err)
	}
}

func TestPlay_DecodeErrorIsPlaybackFailed(t *testing.T) {
	srv := audioServer(t, http.StatusOK)
	defer srv.Close()
	p := New(srv.URL)
	p.newOutput = func() Output { return &fakeOutput{} }
	p.decode = func(r io.Reader) (int, []int16, error) {
		return 0, nil, errors.New("bad frame header")
	}

	err := p.Play(context.Background(), "/audio/q1.mp3")
	if !errors.Is(err, ErrPlaybackFailed) {
		t.Fatalf("expected ErrPlaybackFailed, got %v", err)
	}
}

func TestPlay_RejectsConcurrentPlay(t *testing.T) {
	srv := audioServer(t, http.StatusOK)
	defer srv.Close()
	out := &fakeOutput{delay: 20 * time.Millisecond}
	p := newTestPlayer(srv, out, 160000)

	go func() { _ = p.Play(context.Background(), "/audio/q1.mp3") }()
	time.Sleep(50 * time.Millisecond)
	defer p.Stop()

	if err := p.Play(context.Background(), "/audio/q2.mp3"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}

func TestResolve(t *testing.T) {
	p := New("http://localhost:8000")
	if got := p.resolve("/audio/x.mp3"); got != "http://localhost:8000/audio/x.mp3" {
		t.Fatalf("unexpected resolve: %s", got)
	}
	if got := p.resolve("audio/x.mp3"); got != "http://localhost:8000/audio/x.mp3" {
		t.Fatalf("unexpected resolve: %s", got)
	}
	if got := p.resolve("https://cdn/x.mp3"); got != "https://cdn/x.mp3" {
		t.Fatalf("absolute url must pass through, got %s", got)
	}
}
