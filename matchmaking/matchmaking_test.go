package matchmaking

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/ramon2115/negotiation-game2/ledger"
	"github.com/ramon2115/negotiation-game2/models"
)

func makePool(n int) []*models.Participant {
	pool := make([]*models.Participant, n)
	for i := range pool {
		pool[i] = &models.Participant{ID: fmt.Sprintf("p%d", i)}
	}
	return pool
}

func TestPairCounts(t *testing.T) {
	for _, n := range []int{0, 1, 2, 3, 4, 7, 10} {
		t.Run(fmt.Sprintf("pool=%d", n), func(t *testing.T) {
			rng := rand.New(rand.NewSource(int64(n)))
			matches := Pair(makePool(n), rng)
			if got, want := len(matches), n/2; got != want {
				t.Fatalf("pairs = %d, want %d", got, want)
			}
		})
	}
}

func TestPairDisjointAndRoleExclusive(t *testing.T) {
	for seed := int64(0); seed < 20; seed++ {
		pool := makePool(9)
		rng := rand.New(rand.NewSource(seed))
		matches := Pair(pool, rng)

		seen := map[string]bool{}
		for _, m := range matches {
			if m.Buyer.ID == m.Seller.ID {
				t.Fatalf("seed %d: participant paired with themselves", seed)
			}
			for _, p := range []*models.Participant{m.Buyer, m.Seller} {
				if seen[p.ID] {
					t.Fatalf("seed %d: %s appears in two pairs", seed, p.ID)
				}
				seen[p.ID] = true
			}
			if m.Buyer.Role != models.RoleBuyer || m.Seller.Role != models.RoleSeller {
				t.Fatalf("seed %d: roles not exactly buyer/seller: %q/%q",
					seed, m.Buyer.Role, m.Seller.Role)
			}
		}
	}
}

func TestPairRecordsLedger(t *testing.T) {
	pool := makePool(2)
	rng := rand.New(rand.NewSource(7))
	matches := Pair(pool, rng)
	if len(matches) != 1 {
		t.Fatalf("pairs = %d, want 1", len(matches))
	}
	m := matches[0]
	if !ledger.HasPartneredWith(m.Buyer, m.Seller) {
		t.Error("partnership not recorded")
	}
	if len(m.Buyer.RoleHistory) != 1 || len(m.Seller.RoleHistory) != 1 {
		t.Error("role history not recorded")
	}
}

func TestPairPrefersNovelPartners(t *testing.T) {
	// a-b and c-d have met; every participant still has two novel options,
	// so no shuffle order should ever force a repeat pairing.
	for seed := int64(0); seed < 100; seed++ {
		pool := makePool(4)
		ledger.RecordPartnership(pool[0], pool[1])
		ledger.RecordPartnership(pool[2], pool[3])

		rng := rand.New(rand.NewSource(seed))
		for _, m := range Pair(pool, rng) {
			bad := (m.Buyer.ID == "p0" && m.Seller.ID == "p1") ||
				(m.Buyer.ID == "p1" && m.Seller.ID == "p0") ||
				(m.Buyer.ID == "p2" && m.Seller.ID == "p3") ||
				(m.Buyer.ID == "p3" && m.Seller.ID == "p2")
			if bad {
				t.Fatalf("seed %d: re-paired previous partners %s/%s",
					seed, m.Buyer.ID, m.Seller.ID)
			}
		}
	}
}

func TestPairFallbackRepairsExhaustedPool(t *testing.T) {
	// With every combination exhausted, re-pairing is the only way to make
	// progress and must still happen.
	pool := makePool(2)
	ledger.RecordPartnership(pool[0], pool[1])
	rng := rand.New(rand.NewSource(3))
	matches := Pair(pool, rng)
	if len(matches) != 1 {
		t.Fatalf("pairs = %d, want 1 (fallback re-pairing)", len(matches))
	}
}

func TestRoleBalanceConvergenceTwoPlayers(t *testing.T) {
	// Two participants meeting every round alternate roles, so the counts
	// never drift more than one apart.
	pool := makePool(2)
	rng := rand.New(rand.NewSource(11))
	for round := 0; round < 31; round++ {
		Pair(pool, rng)
		for _, p := range pool {
			diff := ledger.BuyerCount(p) - ledger.SellerCount(p)
			if diff < -1 || diff > 1 {
				t.Fatalf("round %d: |buyer-seller| = %d for %s", round, abs(diff), p.ID)
			}
		}
	}
}

func TestRoleBalanceConvergencePool(t *testing.T) {
	// Larger pools can wobble by a round when both sides prefer the same
	// role, but the preference rule pulls everyone back toward balance.
	// Strict |buyer-seller| <= 1 holds per pairing, not per participant
	// over time: with the equal-count tie broken by pool order, two
	// fresh sellers meeting leaves one at a transient difference of 2,
	// so this regime asserts a loose per-participant cap and a tight
	// pool average instead. The two-player test above covers the strict
	// alternation case.
	pool := makePool(8)
	rng := rand.New(rand.NewSource(42))

	const rounds = 100
	for round := 0; round < rounds; round++ {
		Pair(pool, rng)
	}

	total := 0
	for _, p := range pool {
		diff := abs(ledger.BuyerCount(p) - ledger.SellerCount(p))
		total += diff
		if diff > 4 {
			t.Errorf("%s drifted to |buyer-seller| = %d after %d rounds", p.ID, diff, rounds)
		}
		if got := ledger.BuyerCount(p) + ledger.SellerCount(p); got != rounds {
			t.Errorf("%s played %d rounds, want %d", p.ID, got, rounds)
		}
	}
	if avg := float64(total) / float64(len(pool)); avg > 1.5 {
		t.Errorf("average |buyer-seller| = %.2f, want <= 1.5", avg)
	}
}

func TestPairDeterministicUnderSeed(t *testing.T) {
	run := func() []string {
		pool := makePool(6)
		rng := rand.New(rand.NewSource(99))
		var out []string
		for _, m := range Pair(pool, rng) {
			out = append(out, m.Buyer.ID+"/"+m.Seller.ID)
		}
		return out
	}
	first := run()
	second := run()
	if len(first) != len(second) {
		t.Fatal("pairings differ in length across identical seeds")
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("pairing %d differs across identical seeds: %s vs %s", i, first[i], second[i])
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
