package acquisition

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/smallnest/ringbuffer"

	"github.com/tphakala/magtest/internal/model"
)

// frameSize is the encoded size of one sample: timestamp plus four float64s
const frameSize = 40

// DefaultWaveformSize is the number of recent samples kept for display
const DefaultWaveformSize = 1000

// Waveform keeps the most recent samples in a fixed-size byte ring buffer.
// When full, the oldest sample is overwritten.
type Waveform struct {
	mu       sync.Mutex
	rb       *ringbuffer.RingBuffer
	capacity int
}

// NewWaveform creates a waveform holding up to size samples
func NewWaveform(size int) *Waveform {
	if size <= 0 {
		size = DefaultWaveformSize
	}
	return &Waveform{
		rb:       ringbuffer.New(size * frameSize),
		capacity: size,
	}
}

// Add appends a sample, evicting the oldest one when full
func (w *Waveform) Add(s model.SignalSample) {
	var frame [frameSize]byte
	encodeFrame(frame[:], s)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.rb.Free() < frameSize {
		var discard [frameSize]byte
		_, _ = w.rb.Read(discard[:])
	}
	_, _ = w.rb.Write(frame[:])
}

// Len returns the number of samples held
func (w *Waveform) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rb.Length() / frameSize
}

// Cap returns the maximum number of samples held
func (w *Waveform) Cap() int {
	return w.capacity
}

// Snapshot returns the held samples oldest first without consuming them
func (w *Waveform) Snapshot() []model.SignalSample {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := w.rb.Length()
	if n == 0 {
		return nil
	}
	buf := make([]byte, n)
	read, _ := w.rb.Read(buf)
	buf = buf[:read]
	_, _ = w.rb.Write(buf)

	out := make([]model.SignalSample, 0, read/frameSize)
	for off := 0; off+frameSize <= read; off += frameSize {
		out = append(out, decodeFrame(buf[off:off+frameSize]))
	}
	return out
}

// Reset empties the waveform
func (w *Waveform) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rb.Reset()
}

func encodeFrame(b []byte, s model.SignalSample) {
	binary.LittleEndian.PutUint64(b[0:], uint64(s.Timestamp))
	binary.LittleEndian.PutUint64(b[8:], math.Float64bits(s.Amplitude))
	binary.LittleEndian.PutUint64(b[16:], math.Float64bits(s.Phase))
	binary.LittleEndian.PutUint64(b[24:], math.Float64bits(s.Position))
	binary.LittleEndian.PutUint64(b[32:], math.Float64bits(s.Frequency))
}

func decodeFrame(b []byte) model.SignalSample {
	return model.SignalSample{
		Timestamp: int64(binary.LittleEndian.Uint64(b[0:])),
		Amplitude: math.Float64frombits(binary.LittleEndian.Uint64(b[8:])),
		Phase:     math.Float64frombits(binary.LittleEndian.Uint64(b[16:])),
		Position:  math.Float64frombits(binary.LittleEndian.Uint64(b[24:])),
		Frequency: math.Float64frombits(binary.LittleEndian.Uint64(b[32:])),
	}
}
