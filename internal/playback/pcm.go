package playback

import (
	"encoding/binary"
	"math"
)

// scaleGain multiplies every 16-bit sample by gain percent in place,
// clamping at the int16 range. 100 leaves the stream untouched.
func scaleGain(pcm []byte, gain int) {
	if gain == 100 {
		return
	}
	for i := 0; i+1 < len(pcm); i += 2 {
		v := int(int16(binary.LittleEndian.Uint16(pcm[i:]))) * gain / 100
		if v > math.MaxInt16 {
			v = math.MaxInt16
		}
		if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(pcm[i:], uint16(int16(v)))
	}
}

// upmixMono duplicates each mono sample into a left/right pair.
func upmixMono(pcm []byte) []byte {
	out := make([]byte, 0, len(pcm)*2)
	for i := 0; i+1 < len(pcm); i += 2 {
		out = append(out, pcm[i], pcm[i+1], pcm[i], pcm[i+1])
	}
	return out
}

// resampleStereo16 converts a 16-bit stereo stream between sample rates
// by linear interpolation. Rates the device already matches pass through.
func resampleStereo16(pcm []byte, from, to int) []byte {
	if from == to || from <= 0 || to <= 0 {
		return pcm
	}
	const frameBytes = 4
	frames := len(pcm) / frameBytes
	outFrames := int(int64(frames) * int64(to) / int64(from))
	if outFrames == 0 {
		return nil
	}
	out := make([]byte, outFrames*frameBytes)
	for j := 0; j < outFrames; j++ {
		pos := float64(j) * float64(from) / float64(to)
		i := int(pos)
		frac := pos - float64(i)
		next := i + 1
		if next >= frames {
			next = frames - 1
		}
		for ch := 0; ch < 2; ch++ {
			a := float64(int16(binary.LittleEndian.Uint16(pcm[i*frameBytes+ch*2:])))
			b := float64(int16(binary.LittleEndian.Uint16(pcm[next*frameBytes+ch*2:])))
			v := a + (b-a)*frac
			binary.LittleEndian.PutUint16(out[j*frameBytes+ch*2:], uint16(int16(v)))
		}
	}
	return out
}
