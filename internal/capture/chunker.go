package capture

import (
	"encoding/binary"
	"fmt"

	"github.com/hraban/opus"
)

// FrameEncoder turns fixed-size PCM frames into wire payloads.
type FrameEncoder interface {
	// Encode compresses one frame of exactly FrameSamples() samples.
	Encode(frame []int16) ([]byte, error)
	// FrameSamples is the frame size the encoder expects.
	FrameSamples() int
}

// OpusEncoder encodes 20ms mono frames with Opus in VoIP mode.
type OpusEncoder struct {
	enc     *opus.Encoder
	samples int
	buf     []byte
}

// NewOpusEncoder creates an encoder for the given sample rate.
func NewOpusEncoder(sampleRate int) (*OpusEncoder, error) {
	enc, err := opus.NewEncoder(sampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("opus encoder: %w", err)
	}
	return &OpusEncoder{
		enc:     enc,
		samples: sampleRate / 50, // 20ms
		buf:     make([]byte, 4000),
	}, nil
}

func (e *OpusEncoder) FrameSamples() int { return e.samples }

func (e *OpusEncoder) Encode(frame []int16) ([]byte, error) {
	n, err := e.enc.Encode(frame, e.buf)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, e.buf[:n])
	return out, nil
}

// Chunker accumulates PCM samples, encodes full frames, and packs the
// encoded frames into one upload chunk per flush. Each encoded frame is
// prefixed with a 2-byte big-endian length so the receiver can split
// the chunk back into frames.
type Chunker struct {
	enc FrameEncoder
	pcm []int16
	out []byte
}

// NewChunker wraps a frame encoder.
func NewChunker(enc FrameEncoder) *Chunker {
	return &Chunker{enc: enc}
}

// Push buffers samples and encodes as many full frames as available.
func (c *Chunker) Push(samples []int16) error {
	c.pcm = append(c.pcm, samples...)
	size := c.enc.FrameSamples()
	for len(c.pcm) >= size {
		pkt, err := c.enc.Encode(c.pcm[:size])
		if err != nil {
			return fmt.Errorf("encode frame: %w", err)
		}
		c.appendPacket(pkt)
		copy(c.pcm, c.pcm[size:])
		c.pcm = c.pcm[:len(c.pcm)-size]
	}
	return nil
}

// Flush returns the chunk accumulated so far, or nil when empty.
// Partial PCM stays buffered for the next chunk.
func (c *Chunker) Flush() []byte {
	if len(c.out) == 0 {
		return nil
	}
	chunk := c.out
	c.out = nil
	return chunk
}

// FlushFinal zero-pads any remaining PCM to a full frame, encodes it,
// and returns the final chunk. Used when the recording stops.
func (c *Chunker) FlushFinal() ([]byte, error) {
	if len(c.pcm) > 0 {
		pad := make([]int16, c.enc.FrameSamples())
		copy(pad, c.pcm)
		pkt, err := c.enc.Encode(pad)
		if err != nil {
			return nil, fmt.Errorf("encode final frame: %w", err)
		}
		c.appendPacket(pkt)
		c.pcm = c.pcm[:0]
	}
	return c.Flush(), nil
}

func (c *Chunker) appendPacket(pkt []byte) {
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(pkt)))
	c.out = append(c.out, hdr[:]...)
	c.out = append(c.out, pkt...)
}

// SplitChunk separates a chunk back into its encoded frames. Truncated
// trailers are discarded.
func SplitChunk(chunk []byte) [][]byte {
	var frames [][]byte
	for len(chunk) >= 2 {
		n := int(binary.BigEndian.Uint16(chunk[:2]))
		chunk = chunk[2:]
		if n > len(chunk) {
			break
		}
		frames = append(frames, chunk[:n])
		chunk = chunk[n:]
	}
	return frames
}
