// Package params holds the pure translations between host-side normalized
// synthesis parameters and provider-native values.
package params

import "github.com/speechswitch/swbridge/internal/engine"

// Speed maps a host rate in [-100, 100] to an engine speed multiplier.
// 0 is normal speed, 100 is 6x, -100 is 1/6x. The curve is continuous and
// monotonic across zero.
func Speed(rate int) float64 {
	r := float64(clamp(rate))
	if r >= 0 {
		return 1 + r/20
	}
	return 1 / (1 - r/20)
}

// PitchMultiplier maps a host pitch in [-100, 100] to a relative pitch
// multiplier. 0 is unchanged, 100 is 3x, -100 is 1/3x.
func PitchMultiplier(pitch int) float64 {
	p := float64(clamp(pitch))
	if p >= 0 {
		return 1 + p/50
	}
	return 1 / (1 - p/50)
}

func clamp(v int) int {
	if v > 100 {
		return 100
	}
	if v < -100 {
		return -100
	}
	return v
}

// Punctuation maps the host's punctuation mode name onto the engine's level.
// Unknown values fall back to "some", matching the host's default behavior.
func Punctuation(mode string) engine.PunctuationLevel {
	switch mode {
	case "all":
		return engine.PunctAll
	case "most":
		return engine.PunctMost
	case "none":
		return engine.PunctNone
	case "some":
		return engine.PunctSome
	}
	return engine.PunctSome
}
