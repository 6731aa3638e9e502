package cardwave

import (
	"encoding/binary"
	"math"
)

// EncodeWAV writes audio as 16-bit PCM WAV with interleaved channels at the
// audio's sample rate.
func EncodeWAV(audio *DecodedAudio) []byte {
	channels := audio.NumberOfChannels()
	if channels == 0 {
		channels = 1
	}
	frames := audio.Length()
	rate := int(math.Round(audio.SampleRate()))
	dataSize := frames * channels * 2
	out := make([]byte, 44+dataSize)
	copy(out[0:], "RIFF")
	binary.LittleEndian.PutUint32(out[4:], uint32(36+dataSize))
	copy(out[8:], "WAVE")
	copy(out[12:], "fmt ")
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 1)
	binary.LittleEndian.PutUint16(out[22:], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(rate))
	binary.LittleEndian.PutUint32(out[28:], uint32(rate*channels*2))
	binary.LittleEndian.PutUint16(out[32:], uint16(channels*2))
	binary.LittleEndian.PutUint16(out[34:], 16)
	copy(out[36:], "data")
	binary.LittleEndian.PutUint32(out[40:], uint32(dataSize))
	off := 44
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			var v float32
			if ch := audio.ChannelData(c); i < len(ch) {
				v = ch[i]
			}
			binary.LittleEndian.PutUint16(out[off:], uint16(pcm16(v)))
			off += 2
		}
	}
	return out
}

func pcm16(v float32) int16 {
	s := math.Round(float64(v) * 32767)
	if s > 32767 {
		s = 32767
	}
	if s < -32768 {
		s = -32768
	}
	return int16(s)
}
