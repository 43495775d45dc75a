package artifactcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"github.com/pantrylab/pantryd/internal/domain"
)

// profileFields is the canonical JSON shape hashed into a profile
// fingerprint. Only fields that change what the assistant may generate
// belong here; cosmetic profile edits must not churn the cache.
type profileFields struct {
	Allergies            []string `json:"allergies"`
	CulturalRestrictions []string `json:"cultural_restrictions"`
	DietTypes            []string `json:"diet_types"`
}

// ProfileFingerprint returns the first 16 hex chars of the SHA-256 over
// the sorted restriction fields of the profile. Two profiles with the
// same restrictions share a fingerprint regardless of field order.
func ProfileFingerprint(p domain.Profile) string {
	f := profileFields{
		Allergies:            sortedCopy(p.Allergies),
		CulturalRestrictions: sortedCopy(p.CulturalRestrictions),
		DietTypes:            sortedCopy(p.DietTypes),
	}
	data, _ := json.Marshal(f)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}

// Recipe is the subset of a generated recipe that determines its
// identity for deduplication.
type Recipe struct {
	Name        string
	Ingredients []string
	Method      string
	Cuisine     string
	DietaryTags []string
}

// RecipeFingerprint hashes a recipe by its structure rather than its
// title, so renamed duplicates are still detected. Ingredients and tags
// are lowercased, trimmed, and sorted; empty components stay in the
// joined string so field boundaries never shift.
func RecipeFingerprint(r Recipe) string {
	parts := []string{
		strings.Join(normalizeList(r.Ingredients), "|"),
		strings.ToLower(strings.TrimSpace(r.Method)),
		strings.ToLower(strings.TrimSpace(r.Cuisine)),
		strings.Join(normalizeList(r.DietaryTags), "|"),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "::")))
	return hex.EncodeToString(sum[:])
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// IsHashCollision reports whether two recipes that hash identically are
// in fact different recipes. Structural hashing ignores names, so name
// overlap is the tiebreaker: under 50% shared words reads as a
// collision.
func IsHashCollision(a, b Recipe) bool {
	if RecipeFingerprint(a) != RecipeFingerprint(b) {
		return false
	}
	aw := wordSet(a.Name)
	bw := wordSet(b.Name)
	if len(aw) == 0 || len(bw) == 0 {
		return false
	}
	inter := 0
	for w := range aw {
		if bw[w] {
			inter++
		}
	}
	union := len(aw) + len(bw) - inter
	return float64(inter)/float64(union) < 0.5
}

func wordSet(name string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(name)) {
		set[w] = true
	}
	return set
}

// DiversityScore reports the share of unique fingerprints in a batch of
// generated recipes, from 0 (all duplicates) to 1 (all unique).
func DiversityScore(fingerprints []string) float64 {
	if len(fingerprints) == 0 {
		return 0
	}
	if len(fingerprints) == 1 {
		return 1
	}
	uniq := make(map[string]struct{}, len(fingerprints))
	for _, fp := range fingerprints {
		if fp != "" {
			uniq[fp] = struct{}{}
		}
	}
	return float64(len(uniq)) / float64(len(fingerprints))
}

// HashContent returns the full SHA-256 hex of raw input bytes, used as
// the input half of cache keys for image-derived artifacts.
func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
