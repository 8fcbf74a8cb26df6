package vocals

import (
	"encoding/binary"
	"math"
	"time"
)

// Sample helpers for 16-bit little-endian PCM, the encoding every audio
// stream uses on the wire.

// Float32ToPCM16 converts samples in [-1, 1] to PCM16 bytes, clipping
// anything outside that range.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s*math.MaxInt16)))
	}
	return out
}

// PCM16ToFloat32 converts PCM16 bytes to samples in [-1, 1]. A trailing odd
// byte is ignored.
func PCM16ToFloat32(data []byte) []float32 {
	samples := make([]float32, len(data)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = float32(v) / math.MaxInt16
	}
	return samples
}

// Int16ToPCM16 serializes device samples.
func Int16ToPCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// PCM16ToInt16 is the inverse of Int16ToPCM16.
func PCM16ToInt16(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// PCM16Duration is the playback time of n bytes.
func PCM16Duration(n int64, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	if channels <= 0 {
		channels = 1
	}
	bytesPerSecond := int64(sampleRate * channels * 2)
	return time.Duration(n) * time.Second / time.Duration(bytesPerSecond)
}

func NormalizeAudio(samples []float32) []float32 {
	if len(samples) == 0 {
		return samples
	}

	maxAmp := float32(0)
	for _, sample := range samples {
		if abs := float32(math.Abs(float64(sample))); abs > maxAmp {
			maxAmp = abs
		}
	}
	if maxAmp == 0 {
		return samples
	}

	// Leave headroom so the result never clips
	scale := float32(0.95) / maxAmp
	normalized := make([]float32, len(samples))
	for i, sample := range samples {
		normalized[i] = sample * scale
	}
	return normalized
}

func CalculateRMS(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}
	sum := float64(0)
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}
	return float32(math.Sqrt(sum / float64(len(samples))))
}

func ApplyGain(samples []float32, gainDb float32) []float32 {
	if len(samples) == 0 {
		return samples
	}
	gain := float32(math.Pow(10, float64(gainDb)/20))
	result := make([]float32, len(samples))
	for i, sample := range samples {
		result[i] = sample * gain
	}
	return result
}
