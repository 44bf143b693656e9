package tts

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

const ratioEpsilon = 1e-9

// VoiceWeight is one voice in a mix. Voice is the resolved engine voice
// (for piper, a model path); Name is the friendly name it was given as.
type VoiceWeight struct {
	Name   string
	Voice  string
	Weight float64
}

// VoiceMix is a set of voices whose weights sum to 1.
type VoiceMix []VoiceWeight

// Dominant returns the highest weighted voice. Ties go to the voice listed
// first.
func (m VoiceMix) Dominant() VoiceWeight {
	var best VoiceWeight
	for i, v := range m {
		if i == 0 || v.Weight > best.Weight {
			best = v
		}
	}
	return best
}

// String renders the mix as name:percent pairs.
func (m VoiceMix) String() string {
	parts := make([]string, len(m))
	for i, v := range m {
		parts[i] = fmt.Sprintf("%s:%.0f%%", v.Name, v.Weight*100)
	}
	return strings.Join(parts, " ")
}

// ParseVoiceConfig parses a mix such as "am_adam50_am_michael50" into
// weighted voices resolved through mappings. Underscore separated tokens
// accumulate into a friendly name until a token ends in digits, which give
// the percentage for that name.
//
// A mix summing to zero (or empty) speaks with defaultVoice alone. A mix
// below 100% gives the remainder to defaultVoice. A mix above 100% is
// scaled down proportionally.
func ParseVoiceConfig(config string, mappings map[string]string, defaultVoice string) (VoiceMix, error) {
	config = strings.TrimSpace(config)
	if config == "" && defaultVoice == "" {
		return nil, fmt.Errorf("%w: empty voice config and no default voice", ErrInvalidVoiceConfig)
	}

	var (
		mix  VoiceMix
		sum  float64
		name []string
	)
	if config != "" {
		for _, tok := range strings.Split(config, "_") {
			digits := len(tok) - len(strings.TrimRight(tok, "0123456789"))
			if digits == 0 {
				name = append(name, tok)
				continue
			}
			head := tok[:len(tok)-digits]
			if head != "" {
				name = append(name, head)
			}
			friendly := strings.Join(name, "_")
			name = name[:0]
			if friendly == "" {
				return nil, fmt.Errorf("%w: %q has no voice name", ErrInvalidVoiceConfig, tok)
			}

			pct, err := strconv.Atoi(tok[len(tok)-digits:])
			if err != nil {
				return nil, fmt.Errorf("%w: %q: %v", ErrInvalidVoiceConfig, tok, err)
			}
			voice, ok := mappings[friendly]
			if !ok {
				return nil, fmt.Errorf("%w: voice %q not found in mappings", ErrInvalidVoiceConfig, friendly)
			}
			w := float64(pct) / 100
			mix = append(mix, VoiceWeight{Name: friendly, Voice: voice, Weight: w})
			sum += w
		}
		if len(name) > 0 {
			return nil, fmt.Errorf("%w: %q has no percentage", ErrInvalidVoiceConfig, strings.Join(name, "_"))
		}
	}

	switch {
	case sum < ratioEpsilon:
		def, err := resolveDefault(mappings, defaultVoice, "sums to 0%")
		if err != nil {
			return nil, err
		}
		mix = VoiceMix{def}

	case sum < 1-ratioEpsilon:
		def, err := resolveDefault(mappings, defaultVoice, "sums to less than 100%")
		if err != nil {
			return nil, err
		}
		def.Weight = 1 - sum
		merged := false
		for i := range mix {
			if mix[i].Voice == def.Voice {
				mix[i].Weight += def.Weight
				merged = true
				break
			}
		}
		if !merged {
			mix = append(mix, def)
		}

	case sum > 1+ratioEpsilon:
		for i := range mix {
			mix[i].Weight /= sum
		}
	}

	var total float64
	for _, v := range mix {
		total += v.Weight
	}
	if math.Abs(total-1) > 1e-7 {
		return nil, fmt.Errorf("%w: weights sum to %.4f", ErrInvalidVoiceConfig, total)
	}
	return mix, nil
}

func resolveDefault(mappings map[string]string, name, why string) (VoiceWeight, error) {
	if name == "" {
		return VoiceWeight{}, fmt.Errorf("%w: mix %s and no default voice is set", ErrInvalidVoiceConfig, why)
	}
	voice, ok := mappings[name]
	if !ok {
		return VoiceWeight{}, fmt.Errorf("%w: default voice %q not found in mappings", ErrInvalidVoiceConfig, name)
	}
	return VoiceWeight{Name: name, Voice: voice, Weight: 1}, nil
}

// VoiceNames returns the friendly names in mappings, sorted.
func VoiceNames(mappings map[string]string) []string {
	names := make([]string, 0, len(mappings))
	for n := range mappings {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
