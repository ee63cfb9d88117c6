package audio

import "time"

// EncodePCM16 converts normalized float samples into 16-bit signed
// little-endian PCM. Samples are clamped to [-1, 1]; negative values scale by
// 0x8000 and non-negative by 0x7FFF so both extremes map onto the full int16
// range.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, sample := range samples {
		if sample < -1 {
			sample = -1
		} else if sample > 1 {
			sample = 1
		}

		var value int16
		if sample < 0 {
			value = int16(sample * 0x8000)
		} else {
			value = int16(sample * 0x7FFF)
		}

		out[2*i] = byte(value)
		out[2*i+1] = byte(value >> 8)
	}
	return out
}

// DecodePCM16 converts 16-bit signed little-endian PCM back into normalized
// float samples. A trailing odd byte is ignored.
func DecodePCM16(data []byte) []float32 {
	out := make([]float32, len(data)/2)
	for i := range out {
		value := int16(uint16(data[2*i]) | uint16(data[2*i+1])<<8)
		if value < 0 {
			out[i] = float32(value) / 0x8000
		} else {
			out[i] = float32(value) / 0x7FFF
		}
	}
	return out
}

// Resample converts samples from inputRate to targetRate by strided
// decimation: output[i] = input[floor(i*inputRate/targetRate)]. There is no
// anti-alias filtering; this trades fidelity for a reproducible, allocation
// light pipeline and is only intended for speech.
func Resample(samples []float32, inputRate, targetRate int) []float32 {
	if inputRate == targetRate || inputRate <= 0 || targetRate <= 0 {
		return samples
	}

	outLen := len(samples) * targetRate / inputRate
	out := make([]float32, outLen)
	for i := range out {
		out[i] = samples[i*inputRate/targetRate]
	}
	return out
}

// PCM16Duration reports how long the given PCM16 byte payload plays for at
// the given sample rate.
func PCM16Duration(data []byte, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := len(data) / 2
	return time.Duration(float64(samples) / float64(sampleRate) * float64(time.Second))
}
