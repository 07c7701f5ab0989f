// Package extractor turns free-text chat into candidate price offers. It is
// a lexical heuristic, not a classifier: deterministic, side-effect free,
// and independently testable from the session state machine.
package extractor

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ramon2115/negotiation-game2/models"
)

// Tag classifies how a numeric token reads in context.
type Tag string

const (
	TagPlain       Tag = "plain"        // bare number, no contextual signal
	TagOfferPhrase Tag = "offer_phrase" // inside an offer-declaration window
	TagRejection   Tag = "rejection"    // inside a rejection window
	TagModelNumber Tag = "model_number" // adjacent to a product qualifier
)

// Candidate is one scored numeric token.
type Candidate struct {
	Value      float64 `json:"value"`
	Confidence float64 `json:"confidence"`
	Tag        Tag     `json:"tag"`
}

// Result is the extractor's verdict for one message. Offer is nil when no
// candidate clears the confidence floor.
type Result struct {
	Offer      *float64    `json:"offer"`
	Candidates []Candidate `json:"candidates"`
}

const (
	baseConfidence  = 0.5
	confidenceFloor = 0.2
	// Candidates within this distance of the best confidence form the
	// cluster role bias selects from.
	clusterBand = 0.1
	// Context window inspected on each side of a numeric token.
	windowSize = 30
)

var numberPattern = regexp.MustCompile(`\$?\d{1,3}(?:,\d{3})+(?:\.\d+)?|\$?\d+(?:\.\d+)?`)

// Words that mark an adjacent number as a catalog/model designation rather
// than a price ("iPhone 14", "Series 9").
var qualifierBefore = map[string]bool{
	"iphone": true, "galaxy": true, "pixel": true, "macbook": true,
	"series": true, "model": true, "gen": true, "version": true,
	"no": true, "v": true, "mark": true,
}

var qualifierAfter = map[string]bool{
	"pro": true, "plus": true, "max": true, "ultra": true, "mini": true,
	"series": true, "gb": true, "tb": true, "inch": true,
}

var offerPhrases = []string{
	"i can offer", "i can do", "i can sell", "i can go",
	"how about", "what about", "my final offer", "final offer",
	"i'll give", "i will give", "i'll pay", "i will pay",
	"i'll do", "i'll take it for", "would you take", "deal at",
	"i'm offering", "asking",
}

var rejectionPhrases = []string{
	"too high", "too low", "too expensive", "too much", "too steep",
	"can't afford", "cannot afford", "no way", "not worth",
}

// Extract scans text for numeric tokens, scores each as a plausible price
// offer, and applies the role-biased selection policy.
func Extract(text string, role models.Role) Result {
	res := Result{Candidates: scan(text)}
	res.Offer = choose(res.Candidates, role)
	return res
}

func scan(text string) []Candidate {
	// Match against the lowered text so window offsets line up with the
	// phrase lookups below.
	lower := strings.ToLower(text)
	matches := numberPattern.FindAllStringIndex(lower, -1)
	candidates := make([]Candidate, 0, len(matches))
	for _, m := range matches {
		token := lower[m[0]:m[1]]
		hasCurrency := strings.HasPrefix(token, "$")
		raw := strings.ReplaceAll(strings.TrimPrefix(token, "$"), ",", "")
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		candidates = append(candidates, score(lower, m[0], m[1], value, hasCurrency))
	}
	return candidates
}

func score(lower string, start, end int, value float64, hasCurrency bool) Candidate {
	// Catalog numbers are almost never prices; suppress before anything
	// else can boost them back up.
	if qualifierBefore[wordBefore(lower, start)] || qualifierAfter[wordAfter(lower, end)] {
		return Candidate{Value: value, Confidence: 0.05, Tag: TagModelNumber}
	}

	window := contextWindow(lower, start, end)
	conf := baseConfidence
	tag := TagPlain

	if containsAny(window, offerPhrases) {
		conf += 0.35
		tag = TagOfferPhrase
	} else if containsAny(window, rejectionPhrases) {
		// Dampen, don't eliminate: a rejected number may still anchor a
		// later offer.
		conf *= 0.6
		tag = TagRejection
	}

	if hasCurrency {
		conf += 0.15
	}

	conf *= plausibility(value)
	if conf > 1 {
		conf = 1
	}
	return Candidate{Value: value, Confidence: conf, Tag: tag}
}

// plausibility scales confidence by how reasonable the magnitude is as a
// price: mid-range values score full, extremes are heavily discounted.
func plausibility(v float64) float64 {
	switch {
	case v >= 5 && v <= 20000:
		return 1.0
	case v >= 1 && v < 5, v > 20000 && v <= 100000:
		return 0.7
	default:
		return 0.35
	}
}

func choose(candidates []Candidate, role models.Role) *float64 {
	eligible := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Confidence >= confidenceFloor {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return nil
	}

	// An explicit offer declaration beats everything else.
	var declared *Candidate
	for i := range eligible {
		c := &eligible[i]
		if c.Tag != TagOfferPhrase {
			continue
		}
		if declared == nil || c.Confidence > declared.Confidence {
			declared = c
		}
	}
	if declared != nil {
		v := declared.Value
		return &v
	}

	best := eligible[0]
	for _, c := range eligible[1:] {
		if c.Confidence > best.Confidence {
			best = c
		}
	}
	if role == "" {
		v := best.Value
		return &v
	}

	// Role bias over the top-confidence cluster: sellers anchor high,
	// buyers anchor low.
	chosen := best
	for _, c := range eligible {
		if c.Confidence < best.Confidence-clusterBand {
			continue
		}
		if role == models.RoleSeller && c.Value > chosen.Value {
			chosen = c
		}
		if role == models.RoleBuyer && c.Value < chosen.Value {
			chosen = c
		}
	}
	v := chosen.Value
	return &v
}

func contextWindow(lower string, start, end int) string {
	lo := start - windowSize
	if lo < 0 {
		lo = 0
	}
	hi := end + windowSize
	if hi > len(lower) {
		hi = len(lower)
	}
	return lower[lo:hi]
}

func containsAny(window string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(window, p) {
			return true
		}
	}
	return false
}

func wordBefore(lower string, pos int) string {
	end := pos
	for end > 0 && lower[end-1] == ' ' {
		end--
	}
	start := end
	for start > 0 && isWordByte(lower[start-1]) {
		start--
	}
	return lower[start:end]
}

func wordAfter(lower string, pos int) string {
	start := pos
	for start < len(lower) && lower[start] == ' ' {
		start++
	}
	end := start
	for end < len(lower) && isWordByte(lower[end]) {
		end++
	}
	return lower[start:end]
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9' || b == '\''
}
