package memory

import "strings"

// DefaultTagVocabulary maps a semantic tag to the keywords that imply it.
// Used as a fallback when a candidate arrives without tags; deployments
// override this via configuration.
var DefaultTagVocabulary = map[string][]string{
	"work":          {"work", "job", "office", "project", "deadline", "boss"},
	"family":        {"family", "mother", "father", "sister", "brother", "parents"},
	"relationships": {"relationship", "friend", "partner", "love", "breakup"},
	"health":        {"health", "sick", "doctor", "sleep", "tired", "pain"},
	"creativity":    {"write", "draw", "music", "create", "art", "poem"},
	"philosophy":    {"meaning", "existence", "consciousness", "truth", "soul"},
	"travel":        {"travel", "trip", "flight", "city", "country"},
	"learning":      {"learn", "study", "book", "course", "read"},
	"emotions":      {"feel", "feeling", "emotion", "mood"},
	"future":        {"future", "plan", "dream", "goal", "hope"},
	"past":          {"remember", "memory", "childhood", "used to", "ago"},
}

// ExtractTags derives semantic tags from a fragment by keyword lookup,
// normalized and capped. Returns nil when nothing matches.
func ExtractTags(f Fragment, vocabulary map[string][]string) []string {
	if vocabulary == nil {
		vocabulary = DefaultTagVocabulary
	}
	text := strings.ToLower(f.Text())
	var tags []string
	for tag, keywords := range vocabulary {
		for _, kw := range keywords {
			if strings.Contains(text, kw) {
				tags = append(tags, tag)
				break
			}
		}
	}
	return NormalizeTags(tags)
}
