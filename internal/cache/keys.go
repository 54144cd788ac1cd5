package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Cache types used by the novelty pipeline. Keys are always content-
// addressed (never by wall clock or request id) so identical logical
// requests collide on the same key regardless of arrival time.
const (
	TypeFinal       = "final"
	TypeEmbedding   = "embedding"
	TypeKNN         = "knn"
	TypeProfile     = "profile"
	TypePercentile  = "percentile"
	TypeCalibration = "calibration"
	TypeTemporal    = "temporal"
)

// Keys derives namespaced, type-scoped cache keys. The layout is
// <prefix>:novelty:<type>:<user>:<content hashes...>.
type Keys struct {
	Prefix string
}

func (k Keys) join(parts ...string) string {
	return k.Prefix + ":" + strings.Join(parts, ":")
}

// Final keys the full evaluation result by user plus hashes of the
// normalized text, rounded emotion map and sorted tag list.
func (k Keys) Final(userID, text string, emotions map[string]float64, tags []string) string {
	return k.join("novelty", TypeFinal, userID,
		HashText(NormalizeText(text)),
		HashText(canonicalEmotions(emotions)),
		HashTags(tags))
}

// Embedding keys a text's embedding vector. Not user-scoped: the vector
// depends only on content.
func (k Keys) Embedding(text string) string {
	return k.join("novelty", TypeEmbedding, HashText(text))
}

// KNN keys a nearest-neighbor result set by user, query vector and limit.
func (k Keys) KNN(userID string, vector []float32, limit int) string {
	return k.join("novelty", TypeKNN, userID, HashVector(vector), "limit"+strconv.Itoa(limit))
}

// Profile keys the cached user profile row.
func (k Keys) Profile(userID string) string {
	return k.join("novelty", TypeProfile, userID)
}

// Percentile keys the cached 90th-percentile value.
func (k Keys) Percentile(userID string) string {
	return k.join("novelty", TypePercentile, userID)
}

// Calibration keys the cached calibration status.
func (k Keys) Calibration(userID string) string {
	return k.join("novelty", TypeCalibration, userID)
}

// Temporal keys the days-since-similar-tags lookup by user and tag set.
func (k Keys) Temporal(userID string, tags []string) string {
	return k.join("novelty", TypeTemporal, userID, HashTags(tags))
}

// VectorSearch keys a search-index vector query result.
func (k Keys) VectorSearch(userID string, vector []float32, limit int) string {
	return k.join("search", "vector", userID, HashVector(vector), strconv.Itoa(limit))
}

// UserPattern returns a glob matching every key of the given type for a
// user, for pattern invalidation. The separator before the wildcard keeps
// "u1" from also sweeping "u10".
func (k Keys) UserPattern(cacheType, userID string) string {
	return k.join("novelty", cacheType, userID) + ":*"
}

// NormalizeText lowercases and collapses whitespace so trivially different
// texts hash identically.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(text))), " ")
}

// HashText returns a 16-hex-char digest of the text, "empty" for empty input.
func HashText(text string) string {
	if text == "" {
		return "empty"
	}
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:16]
}

// HashTags hashes a tag set order-independently, "notags" for empty input.
func HashTags(tags []string) string {
	if len(tags) == 0 {
		return "notags"
	}
	sorted := make([]string, len(tags))
	copy(sorted, tags)
	sort.Strings(sorted)
	return HashText(strings.Join(sorted, "|"))
}

// HashVector hashes an embedding by its raw bytes, "none" for empty input.
func HashVector(vector []float32) string {
	if len(vector) == 0 {
		return "none"
	}
	buf := make([]byte, 4*len(vector))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])[:16]
}

// canonicalEmotions serializes an emotion map deterministically: values
// rounded to 3 decimals, keys sorted by json.Marshal.
func canonicalEmotions(emotions map[string]float64) string {
	m := make(map[string]float64, len(emotions))
	for k, v := range emotions {
		m[k] = math.Round(v*1000) / 1000
	}
	b, _ := json.Marshal(m)
	return string(b)
}
