package synthesis

import (
	"hash/fnv"
	"strings"

	"github.com/verbly-ai/verbly/pkg/provider/tts"
)

// Profile describes the voice a character should speak with, independent of
// any provider's voice-id namespace. Mapping a profile into a namespace is a
// pure function: the same profile always yields the same voice for a given
// provider, so a character's voice is stable across turns.
type Profile struct {
	// Gender is "male" or "female".
	Gender string

	// Style is the character's teaching style ("cheerful", "calm", "strict").
	Style string

	// Role is the scenario role the character plays (e.g., "barista").
	Role string
}

// Mapper translates a profile into one provider's voice namespace. The
// second return is false when the profile has no mapping; the chain then
// falls through to that provider's default voice rather than aborting.
type Mapper func(Profile) (tts.Voice, bool)

// StaticMapper maps "gender/style" keys to fixed voices. Profiles without an
// entry report no mapping.
func StaticMapper(table map[string]tts.Voice) Mapper {
	return func(p Profile) (tts.Voice, bool) {
		v, ok := table[strings.ToLower(p.Gender)+"/"+strings.ToLower(p.Style)]
		return v, ok
	}
}

// CatalogMapper selects deterministically from a provider's voice catalog.
// Voices whose "gender" metadata matches the profile are preferred; within
// the candidate set the pick is a stable hash of (style, role), so the same
// profile always lands on the same voice.
func CatalogMapper(voices []tts.Voice) Mapper {
	return func(p Profile) (tts.Voice, bool) {
		if len(voices) == 0 {
			return tts.Voice{}, false
		}
		candidates := make([]tts.Voice, 0, len(voices))
		for _, v := range voices {
			if strings.EqualFold(v.Metadata["gender"], p.Gender) {
				candidates = append(candidates, v)
			}
		}
		if len(candidates) == 0 {
			candidates = voices
		}

		h := fnv.New32a()
		h.Write([]byte(strings.ToLower(p.Style)))
		h.Write([]byte{0})
		h.Write([]byte(strings.ToLower(p.Role)))
		return candidates[h.Sum32()%uint32(len(candidates))], true
	}
}
