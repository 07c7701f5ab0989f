// Package ledger maintains each participant's role and partner history,
// used by matchmaking to balance role assignments and prefer novel
// pairings. State lives on the participant records themselves so the
// store's write-through covers it; every operation is a total function with
// no error conditions.
package ledger

import (
	"math/rand"

	"github.com/ramon2115/negotiation-game2/models"
)

// RecordRole appends a round's role assignment to the participant's
// history and sets it as the current role.
func RecordRole(p *models.Participant, role models.Role) {
	p.RoleHistory = append(p.RoleHistory, role)
	p.Role = role
}

// BuyerCount is the number of rounds the participant played as buyer.
func BuyerCount(p *models.Participant) int {
	return countRole(p, models.RoleBuyer)
}

// SellerCount is the number of rounds the participant played as seller.
func SellerCount(p *models.Participant) int {
	return countRole(p, models.RoleSeller)
}

func countRole(p *models.Participant, role models.Role) int {
	n := 0
	for _, r := range p.RoleHistory {
		if r == role {
			n++
		}
	}
	return n
}

// PreferredRole is whichever role the participant has held less often.
// First encounter or an exact tie resolves uniformly at random from the
// injected source.
func PreferredRole(p *models.Participant, rng *rand.Rand) models.Role {
	buyers := BuyerCount(p)
	sellers := SellerCount(p)
	switch {
	case buyers < sellers:
		return models.RoleBuyer
	case sellers < buyers:
		return models.RoleSeller
	}
	if rng.Intn(2) == 0 {
		return models.RoleBuyer
	}
	return models.RoleSeller
}

// HasPartneredWith reports whether the two participants were ever paired.
// The query is symmetric over both partner sets.
func HasPartneredWith(a, b *models.Participant) bool {
	return contains(a.Partners, b.ID) || contains(b.Partners, a.ID)
}

// RecordPartnership adds each participant to the other's partner set.
// Idempotent.
func RecordPartnership(a, b *models.Participant) {
	if !contains(a.Partners, b.ID) {
		a.Partners = append(a.Partners, b.ID)
	}
	if !contains(b.Partners, a.ID) {
		b.Partners = append(b.Partners, a.ID)
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
