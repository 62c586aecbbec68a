package voice

import (
	"fmt"
	"strings"
)

// Composite voice names are "<provider> <voice>"; engines identify voices as
// "<voice>,<language>". These helpers convert between the two forms and fail
// loudly on malformed input instead of guessing.

// SplitComposite splits a host-facing composite name at the first space.
func SplitComposite(name string) (provider, voiceName string, err error) {
	provider, voiceName, found := strings.Cut(name, " ")
	if !found || provider == "" || voiceName == "" {
		return "", "", fmt.Errorf("malformed composite voice name %q", name)
	}
	return provider, voiceName, nil
}

// JoinComposite builds the host-facing name for a provider's voice.
func JoinComposite(provider, voiceName string) string {
	return provider + " " + voiceName
}

// SplitVoiceID splits an engine-reported voice id at the last comma. Voice
// names may themselves contain commas; languages never do.
func SplitVoiceID(id string) (voiceName, language string, err error) {
	i := strings.LastIndex(id, ",")
	if i <= 0 || i == len(id)-1 {
		return "", "", fmt.Errorf("malformed engine voice id %q", id)
	}
	return id[:i], id[i+1:], nil
}

// JoinVoiceID builds the id an engine expects for SetVoice.
func JoinVoiceID(voiceName, language string) string {
	return voiceName + "," + language
}

// NormalizeLocale upper-cases the region subtag of a language tag, e.g.
// "en-us" becomes "en-US". Engines report tags in lower case; the host's
// voice selection expects the region capitalized. Tags without a region pass
// through unchanged.
func NormalizeLocale(tag string) string {
	lang, region, found := strings.Cut(tag, "-")
	if !found {
		return tag
	}
	return lang + "-" + strings.ToUpper(region)
}
