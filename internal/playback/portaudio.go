package playback

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// PortaudioOutput renders mono PCM to the default output device.
type PortaudioOutput struct {
	stream *portaudio.Stream
	buf    []int16
}

// Open prepares the default output stream at the given rate.
func (o *PortaudioOutput) Open(sampleRate int) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}
	o.buf = make([]int16, sampleRate/100) // 10ms buffers
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), len(o.buf), o.buf)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("start output stream: %w", err)
	}
	o.stream = stream
	return nil
}

// Write renders samples, padding the final partial buffer with silence.
func (o *PortaudioOutput) Write(samples []int16) error {
	for off := 0; off < len(samples); off += len(o.buf) {
		end := off + len(o.buf)
		if end > len(samples) {
			end = len(samples)
		}
		n := copy(o.buf, samples[off:end])
		for i := n; i < len(o.buf); i++ {
			o.buf[i] = 0
		}
		if err := o.stream.Write(); err != nil {
			return err
		}
	}
	return nil
}

// Close stops and releases the output stream.
func (o *PortaudioOutput) Close() error {
	if o.stream == nil {
		return nil
	}
	_ = o.stream.Stop()
	err := o.stream.Close()
	portaudio.Terminate()
	o.stream = nil
	return err
}
