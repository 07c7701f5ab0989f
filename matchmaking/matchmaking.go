// Package matchmaking draws negotiation pairs from a room's waiting pool,
// balancing buyer/seller assignments over rounds and preferring partners
// the participants have not met before. The random source is injected so
// pairings are reproducible under test.
package matchmaking

import (
	"math/rand"

	"github.com/ramon2115/negotiation-game2/ledger"
	"github.com/ramon2115/negotiation-game2/models"
)

// Match is one balanced pairing: exactly one buyer and one seller.
type Match struct {
	Buyer  *models.Participant
	Seller *models.Participant
}

// Pair produces a maximal set of disjoint pairs from the pool. The pool is
// treated as an immutable input; role and partnership history is recorded
// on the participants through the ledger before returning.
//
// An odd pool leaves the last drawn participant waiting; a pool smaller
// than two produces no pairs.
func Pair(pool []*models.Participant, rng *rand.Rand) []Match {
	if len(pool) < 2 {
		return nil
	}

	// Stable pool position, used as the final role tie-break.
	position := make(map[string]int, len(pool))
	for i, p := range pool {
		position[p.ID] = i
	}

	shuffled := make([]*models.Participant, len(pool))
	copy(shuffled, pool)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	matches := make([]Match, 0, len(pool)/2)
	remaining := shuffled
	for len(remaining) >= 2 {
		x := remaining[0]
		remaining = remaining[1:]

		// Prefer a partner neither side has met; fall back to the first
		// remaining candidate so small pools still make progress, at the
		// cost of repeat pairings.
		pick := 0
		for i, cand := range remaining {
			if !ledger.HasPartneredWith(x, cand) {
				pick = i
				break
			}
		}
		y := remaining[pick]
		remaining = append(remaining[:pick:pick], remaining[pick+1:]...)

		buyer, seller := assignRoles(x, y, position, rng)
		ledger.RecordRole(buyer, models.RoleBuyer)
		ledger.RecordRole(seller, models.RoleSeller)
		ledger.RecordPartnership(buyer, seller)
		matches = append(matches, Match{Buyer: buyer, Seller: seller})
	}
	return matches
}

// assignRoles gives each side its preferred (less-played) role when the
// preferences differ. When both want the same role, the one with fewer
// prior buyer rounds becomes buyer; an exact tie resolves by stable pool
// order so the procedure stays deterministic under a fixed seed.
func assignRoles(x, y *models.Participant, position map[string]int, rng *rand.Rand) (buyer, seller *models.Participant) {
	px := ledger.PreferredRole(x, rng)
	py := ledger.PreferredRole(y, rng)

	if px != py {
		if px == models.RoleBuyer {
			return x, y
		}
		return y, x
	}

	bx, by := ledger.BuyerCount(x), ledger.BuyerCount(y)
	switch {
	case bx < by:
		return x, y
	case by < bx:
		return y, x
	case position[x.ID] < position[y.ID]:
		return x, y
	default:
		return y, x
	}
}
