package ordering

import (
	"math"
	"sort"
	"strings"

	"github.com/pantrylab/pantryd/internal/storefront"
)

// Ranking weights. History beats name similarity beats price: a product
// the user actually buys should win over a cheaper near-match.
const (
	scoreSubstring    = 10.0
	scoreWordOverlap  = 2.0 // per overlapping word
	scoreHistoryExact = 15.0
	scoreBrand        = 8.0
	scorePackClose    = 5.0 // within 20% of average consumption
	scorePackNear     = 3.0 // within 50%
	scorePackFar      = 1.0
	scorePriceWeight  = 5.0
	scorePriceUniform = 2.5
	scoreOffer        = 3.0
	scorePositionBase = 3.0
	scorePositionStep = 0.5
)

type rankedProduct struct {
	storefront.Product
	Score float64
}

// rankVariants filters unavailable candidates and orders the rest by
// descending score. Position index refers to the store's own result
// order, a weak proxy for its relevance ranking.
func rankVariants(item storefront.Item, candidates []storefront.Product, hist History) []rankedProduct {
	avail := make([]rankedProduct, 0, len(candidates))
	positions := make([]int, 0, len(candidates))
	for i, c := range candidates {
		if !c.Available {
			continue
		}
		avail = append(avail, rankedProduct{Product: c})
		positions = append(positions, i)
	}
	if len(avail) == 0 {
		return nil
	}

	minPrice, uniform := priceBaseline(avail)
	query := strings.ToLower(strings.TrimSpace(item.Name))

	for i := range avail {
		p := &avail[i]
		name := strings.ToLower(p.Name)

		p.Score += nameSimilarity(name, query)

		if hist.PurchasedNames[name] {
			p.Score += scoreHistoryExact
		} else if brandMatch(name, hist.Brands) {
			p.Score += scoreBrand
		}

		if avg, ok := hist.AvgPackSize[query]; ok && avg > 0 && p.PackSize > 0 {
			p.Score += packSizeScore(p.PackSize, avg)
		}

		if uniform {
			p.Score += scorePriceUniform
		} else if p.Price > 0 {
			p.Score += (minPrice / p.Price) * scorePriceWeight
		}

		if p.HasOffer {
			p.Score += scoreOffer
		}

		p.Score += math.Max(0, scorePositionBase-scorePositionStep*float64(positions[i]))
	}

	sort.SliceStable(avail, func(i, j int) bool { return avail[i].Score > avail[j].Score })
	return avail
}

// nameSimilarity is the baseline score: full substring containment
// outweighs any amount of word overlap.
func nameSimilarity(name, query string) float64 {
	if query == "" {
		return 0
	}
	if strings.Contains(name, query) {
		return scoreSubstring
	}
	overlap := 0
	for _, w := range strings.Fields(query) {
		if strings.Contains(name, w) {
			overlap++
		}
	}
	return float64(overlap) * scoreWordOverlap
}

func brandMatch(name string, brands map[string]bool) bool {
	for b := range brands {
		if b != "" && strings.Contains(name, b) {
			return true
		}
	}
	return false
}

func packSizeScore(pack, avg float64) float64 {
	dev := math.Abs(pack-avg) / avg
	switch {
	case dev <= 0.20:
		return scorePackClose
	case dev <= 0.50:
		return scorePackNear
	default:
		return scorePackFar
	}
}

// priceBaseline returns the minimum positive price and whether all
// candidates share one price (within a cent).
func priceBaseline(ps []rankedProduct) (min float64, uniform bool) {
	min = math.Inf(1)
	max := 0.0
	for _, p := range ps {
		if p.Price <= 0 {
			continue
		}
		if p.Price < min {
			min = p.Price
		}
		if p.Price > max {
			max = p.Price
		}
	}
	if math.IsInf(min, 1) {
		return 0, true
	}
	return min, max-min < 0.01
}
