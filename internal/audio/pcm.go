package audio

import (
	"fmt"
	"math"
)

const (
	// Level scale of a browser AnalyserNode with default decibel range,
	// so server-derived readings share thresholds with client-sent ones.
	minDecibels = -100.0
	maxDecibels = -30.0
	maxLevel    = 255.0

	// Broadband power spread across analyser bins lands roughly this far
	// below the full-scale RMS level.
	binSpreadDecibels = 30.0
)

// DecodePCM16 converts little-endian 16-bit PCM bytes to samples
func DecodePCM16(pcmData []byte) ([]int16, error) {
	if len(pcmData)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples)")
	}

	samples := make([]int16, len(pcmData)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int16(pcmData[i*2]) | int16(pcmData[i*2+1])<<8
	}
	return samples, nil
}

// CalculateRMS calculates the root mean square (RMS) of audio samples
// Useful for detecting audio levels and silence
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// EnergyLevel maps PCM samples onto the 0-255 analyser level scale
func EnergyLevel(samples []int16) float64 {
	rms := CalculateRMS(samples)
	if rms <= 0 {
		return 0
	}

	db := 20*math.Log10(rms/32768.0) - binSpreadDecibels
	level := maxLevel * (db - minDecibels) / (maxDecibels - minDecibels)

	switch {
	case level < 0:
		return 0
	case level > maxLevel:
		return maxLevel
	}
	return level
}

// DetectSilence detects if audio samples represent silence
// Uses a simple energy threshold on the analyser scale
func DetectSilence(samples []int16, threshold float64) bool {
	return EnergyLevel(samples) <= threshold
}
