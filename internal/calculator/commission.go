// Package calculator computes settlement totals and the per-recipient
// commission breakdown from a day's completed payments. Pure functions over
// in-memory inputs: no storage, no clock, no external calls, deterministic
// for the same input set.
package calculator

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/mwukenya/settlement/internal/models"
)

// RecipientShare is one recipient's accumulated commission for the date.
type RecipientShare struct {
	RecipientID   string
	RecipientType models.RecipientType
	Amount        decimal.Decimal
	PaymentCount  int
}

// UnattributedShare is a commission that could not be credited to anyone:
// the payment names no override and the payer has no current assignment.
// The amount stays with the union through the residual.
type UnattributedShare struct {
	PaymentID     string
	RecipientType models.RecipientType
	Amount        decimal.Decimal
}

// Breakdown is the full aggregation result for one settlement date.
type Breakdown struct {
	TotalCollected              decimal.Decimal
	ShaAmount                   decimal.Decimal
	MwuAmount                   decimal.Decimal
	TotalDelegateCommissions    decimal.Decimal
	TotalCoordinatorCommissions decimal.Decimal
	TotalPayments               int
	UniqueMembers               int

	// Shares lists recipients owed a nonzero commission, ordered by type
	// then recipient ID so repeated runs produce identical output.
	Shares []RecipientShare

	// Unattributed lists commission amounts with no resolvable recipient.
	Unattributed []UnattributedShare
}

// Aggregate folds a date's completed payments into settlement totals and the
// per-recipient commission breakdown. directory maps payer member IDs to
// their directory entries and is consulted only when a payment carries no
// recipient override.
//
// The MWU amount is the residual: totalCollected minus the SHA share and all
// attributed commissions. Unattributed commissions therefore stay with the
// union, and the four shares always sum back to totalCollected exactly.
func Aggregate(payments []models.Payment, directory map[string]models.Member) *Breakdown {
	b := &Breakdown{
		TotalCollected:              decimal.Zero,
		ShaAmount:                   decimal.Zero,
		MwuAmount:                   decimal.Zero,
		TotalDelegateCommissions:    decimal.Zero,
		TotalCoordinatorCommissions: decimal.Zero,
		TotalPayments:               len(payments),
	}

	type key struct {
		id    string
		rtype models.RecipientType
	}
	shares := make(map[key]*RecipientShare)
	payers := make(map[string]struct{})

	credit := func(p *models.Payment, rtype models.RecipientType, recipientID string, amount decimal.Decimal) {
		if !amount.IsPositive() {
			return
		}
		if recipientID == "" {
			b.Unattributed = append(b.Unattributed, UnattributedShare{
				PaymentID:     p.ID,
				RecipientType: rtype,
				Amount:        amount,
			})
			return
		}

		k := key{id: recipientID, rtype: rtype}
		share, ok := shares[k]
		if !ok {
			share = &RecipientShare{RecipientID: recipientID, RecipientType: rtype}
			shares[k] = share
		}
		share.Amount = share.Amount.Add(amount)
		share.PaymentCount++

		if rtype == models.RecipientDelegate {
			b.TotalDelegateCommissions = b.TotalDelegateCommissions.Add(amount)
		} else {
			b.TotalCoordinatorCommissions = b.TotalCoordinatorCommissions.Add(amount)
		}
	}

	for i := range payments {
		p := &payments[i]
		payers[p.MemberID] = struct{}{}

		b.TotalCollected = b.TotalCollected.Add(p.Amount)
		b.ShaAmount = b.ShaAmount.Add(p.ShaPortion)

		credit(p, models.RecipientDelegate, resolveRecipient(p.CommissionDelegateID, p.MemberID, directory, models.RecipientDelegate), p.DelegateCommission)
		credit(p, models.RecipientCoordinator, resolveRecipient(p.CommissionCoordinatorID, p.MemberID, directory, models.RecipientCoordinator), p.CoordinatorCommission)
	}

	b.UniqueMembers = len(payers)
	b.MwuAmount = b.TotalCollected.
		Sub(b.ShaAmount).
		Sub(b.TotalDelegateCommissions).
		Sub(b.TotalCoordinatorCommissions)

	b.Shares = make([]RecipientShare, 0, len(shares))
	for _, share := range shares {
		b.Shares = append(b.Shares, *share)
	}
	sort.Slice(b.Shares, func(i, j int) bool {
		if b.Shares[i].RecipientType != b.Shares[j].RecipientType {
			return b.Shares[i].RecipientType < b.Shares[j].RecipientType
		}
		return b.Shares[i].RecipientID < b.Shares[j].RecipientID
	})

	return b
}

// resolveRecipient picks the credited recipient for one commission: the
// payment-level override wins, otherwise the payer's current assignment.
// Empty means unattributable.
func resolveRecipient(override, payerID string, directory map[string]models.Member, rtype models.RecipientType) string {
	if override != "" {
		return override
	}
	member, ok := directory[payerID]
	if !ok {
		return ""
	}
	if rtype == models.RecipientDelegate {
		return member.DelegateID
	}
	return member.CoordinatorID
}

// Drift returns totalCollected minus the sum of the four shares. It is zero
// by construction; exposed so callers can assert the reconciliation.
func (b *Breakdown) Drift() decimal.Decimal {
	return b.TotalCollected.
		Sub(b.ShaAmount).
		Sub(b.MwuAmount).
		Sub(b.TotalDelegateCommissions).
		Sub(b.TotalCoordinatorCommissions)
}
