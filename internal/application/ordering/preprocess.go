package ordering

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pantrylab/pantryd/internal/storefront"
)

// PreprocessResult is the outcome of normalizing a raw grocery list.
// Dropped records input lines that produced no usable atom; they are
// surfaced to the caller, never silently discarded.
type PreprocessResult struct {
	Items      []storefront.Item
	Dropped    []string
	Confidence float64
	// Fallback is set when the normalizer's output could not be parsed
	// and the items came from the raw lines instead.
	Fallback bool
}

// preprocess runs the external normalizer over the raw list and parses
// its output strictly. Any failure, from the normalizer call itself to
// unparseable output, falls back to treating each raw line as one item
// with quantity 1.
func (p *Pipeline) preprocess(ctx context.Context, rawList string) PreprocessResult {
	if p.normalizer == nil {
		return rawFallback(rawList)
	}

	out, err := p.normalizer.Normalize(ctx, rawList)
	if err != nil {
		p.log.Warn().Err(err).Msg("normalizer failed, using raw list")
		return rawFallback(rawList)
	}

	items, dropped, ok := parseNormalized(out)
	if !ok || len(items) == 0 {
		p.log.Warn().Msg("normalizer output unparseable, using raw list")
		return rawFallback(rawList)
	}

	res := PreprocessResult{
		Items:   dedupeItems(items),
		Dropped: dropped,
	}
	total := len(res.Items) + len(dropped)
	if total > 0 {
		res.Confidence = float64(len(res.Items)) / float64(total)
	}
	return res
}

// parseNormalized accepts the shapes the collaborator actually emits: a
// bare JSON array, an object wrapping the array under "items", or
// either of those inside a fenced code block.
func parseNormalized(out string) (items []storefront.Item, dropped []string, ok bool) {
	payload := strings.TrimSpace(stripFences(out))
	if payload == "" {
		return nil, nil, false
	}

	if err := json.Unmarshal([]byte(payload), &items); err == nil {
		items, dropped = filterItems(items)
		return items, dropped, true
	}

	var wrapper struct {
		Items   []storefront.Item `json:"items"`
		Dropped []string          `json:"dropped"`
	}
	if err := json.Unmarshal([]byte(payload), &wrapper); err == nil && len(wrapper.Items) > 0 {
		items, dropped = filterItems(wrapper.Items)
		return items, append(dropped, wrapper.Dropped...), true
	}

	return nil, nil, false
}

// stripFences unwraps ```json ... ``` style fencing, returning the
// inner payload. Input without fences passes through unchanged.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	start := strings.Index(s, "```")
	if start < 0 {
		return s
	}
	rest := s[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		// drop the language tag line ("json")
		if tag := strings.TrimSpace(rest[:nl]); tag == "" || len(tag) <= 10 && !strings.ContainsAny(tag, "{}[]") {
			rest = rest[nl+1:]
		}
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

func filterItems(in []storefront.Item) (items []storefront.Item, dropped []string) {
	for _, it := range in {
		it.Name = strings.TrimSpace(it.Name)
		if it.Name == "" || it.Quantity < 0 {
			dropped = append(dropped, it.Name)
			continue
		}
		if it.Quantity == 0 {
			it.Quantity = 1
		}
		it.Unit = strings.ToLower(strings.TrimSpace(it.Unit))
		items = append(items, it)
	}
	return items, dropped
}

// dedupeItems merges atoms with the same (name, unit), summing
// quantities. Order of first appearance is kept.
func dedupeItems(items []storefront.Item) []storefront.Item {
	type key struct{ name, unit string }
	idx := make(map[key]int, len(items))
	out := make([]storefront.Item, 0, len(items))
	for _, it := range items {
		k := key{strings.ToLower(it.Name), it.Unit}
		if i, ok := idx[k]; ok {
			out[i].Quantity += it.Quantity
			continue
		}
		idx[k] = len(out)
		out = append(out, it)
	}
	return out
}

// rawFallback treats each non-empty line of the raw list as one item.
func rawFallback(rawList string) PreprocessResult {
	var items []storefront.Item
	for _, line := range strings.Split(rawList, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*• "))
		if line == "" {
			continue
		}
		items = append(items, storefront.Item{Name: line, Quantity: 1})
	}
	return PreprocessResult{
		Items:    dedupeItems(items),
		Fallback: true,
	}
}

func maskLabel(label string) string {
	if len(label) <= 4 {
		return "****"
	}
	return "****" + label[len(label)-4:]
}
