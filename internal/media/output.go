package media

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"

	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"
)

// SampleSource fills dst with interleaved stereo float32 samples.
type SampleSource interface {
	Process(dst []float32)
}

// StreamReader exposes a SampleSource as 32-bit float little-endian PCM.
type StreamReader struct {
	mu     sync.Mutex
	source SampleSource
	buf    []float32
}

func NewStreamReader(source SampleSource) *StreamReader {
	return &StreamReader{source: source}
}

func (r *StreamReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	frames := len(p) / 8
	if frames == 0 {
		return 0, nil
	}
	need := frames * 2
	if cap(r.buf) < need {
		r.buf = make([]float32, need)
	}
	r.buf = r.buf[:need]
	r.source.Process(r.buf)
	for i, v := range r.buf {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(v))
	}
	return frames * 8, nil
}

func (r *StreamReader) Close() error { return nil }

// Voice is one playing stream on an Output.
type Voice interface {
	Play()
	Pause()
	IsPlaying() bool
	Close() error
}

// Output is where backends send audio.
type Output interface {
	SampleRate() int
	Open(src SampleSource) (Voice, error)
}

var (
	audioContextOnce sync.Once
	audioContext     *ebitaudio.Context
	audioSampleRate  int
)

// Only one ebiten audio context may exist per process.
func sharedAudioContext(sampleRate int) (*ebitaudio.Context, error) {
	audioContextOnce.Do(func() {
		audioSampleRate = sampleRate
		audioContext = ebitaudio.NewContext(sampleRate)
	})
	if audioSampleRate != sampleRate {
		return nil, fmt.Errorf("audio context already initialized at %d Hz (requested %d Hz)", audioSampleRate, sampleRate)
	}
	return audioContext, nil
}

// EbitenOutput plays through the process-wide ebiten audio context.
type EbitenOutput struct {
	ctx        *ebitaudio.Context
	sampleRate int
}

func NewEbitenOutput(sampleRate int) (*EbitenOutput, error) {
	ctx, err := sharedAudioContext(sampleRate)
	if err != nil {
		return nil, err
	}
	return &EbitenOutput{ctx: ctx, sampleRate: sampleRate}, nil
}

func (o *EbitenOutput) SampleRate() int { return o.sampleRate }

func (o *EbitenOutput) Open(src SampleSource) (Voice, error) {
	reader := NewStreamReader(src)
	pl, err := o.ctx.NewPlayerF32(reader)
	if err != nil {
		return nil, err
	}
	return &ebitenVoice{player: pl, reader: reader}, nil
}

type ebitenVoice struct {
	player *ebitaudio.Player
	reader io.ReadCloser
}

func (v *ebitenVoice) Play()           { v.player.Play() }
func (v *ebitenVoice) Pause()          { v.player.Pause() }
func (v *ebitenVoice) IsPlaying() bool { return v.player.IsPlaying() }

func (v *ebitenVoice) Close() error {
	v.player.Pause()
	v.player.Close()
	return v.reader.Close()
}
