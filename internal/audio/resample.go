package audio

import (
	"encoding/binary"
	"math"
)

// Resample converts float samples from sourceRate to targetRate using linear
// interpolation. When the rates match the input slice is returned unchanged.
// The function is stateless and runs on the capture callback path, so work is
// bounded by the output length and the only allocation is the output slice.
func Resample(samples []float32, sourceRate, targetRate int) []float32 {
	if sourceRate == targetRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(sourceRate) / float64(targetRate)
	outLen := int(math.Round(float64(len(samples)) * float64(targetRate) / float64(sourceRate)))
	if outLen == 0 {
		return nil
	}

	out := make([]float32, outLen)
	for i := 0; i < outLen; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
	}

	return out
}

// EncodePCM16 converts float samples in [-1, 1] to 16-bit signed little-endian
// PCM bytes. Values outside the range are clamped. Negative samples scale by
// 0x8000 and non-negative by 0x7FFF so both extremes map onto the full int16
// range.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}

		var v int16
		if s < 0 {
			v = int16(s * 0x8000)
		} else {
			v = int16(s * 0x7FFF)
		}

		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// DecodePCM16 converts 16-bit little-endian PCM bytes back to float samples.
// A trailing odd byte is ignored.
func DecodePCM16(data []byte) []float32 {
	out := make([]float32, len(data)/2)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(data[i*2:]))
		if v < 0 {
			out[i] = float32(v) / 0x8000
		} else {
			out[i] = float32(v) / 0x7FFF
		}
	}
	return out
}

// PCM16ToSamples converts PCM bytes to int16 samples for WAV encoding.
func PCM16ToSamples(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}
