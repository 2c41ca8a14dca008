// Package seeder fills a development database with a plausible day of union
// members and micro-payments, so settlement runs can be exercised without a
// copy of the production ledger.
package seeder

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/bxcodec/faker/v3"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mwukenya/settlement/internal/errs"
	"github.com/mwukenya/settlement/internal/models"
	"github.com/mwukenya/settlement/internal/storage"
)

// Options sizes the seeded directory and ledger.
type Options struct {
	// Date is the settlement date ("YYYY-MM-DD") the payments land on.
	Date string

	Coordinators int
	Delegates    int
	Members      int

	// Payments is the number of completed ledger payments spread over the
	// members. A few extra pending rows are written on top; settlement must
	// ignore them.
	Payments int

	// Seed fixes the random source; zero seeds from the clock.
	Seed int64
}

// Summary reports what was written.
type Summary struct {
	Coordinators    int
	Delegates       int
	Members         int
	Payments        int
	PendingPayments int
	TotalCollected  decimal.Decimal
}

// tiers are the union's posted daily contribution amounts with their insurer
// and referral shares.
var tiers = []struct {
	amount, sha, delegate, coordinator int64
}{
	{200, 24, 8, 4},
	{500, 60, 20, 10},
	{1000, 120, 40, 20},
}

func applyDefaults(opts *Options) {
	if opts.Coordinators <= 0 {
		opts.Coordinators = 2
	}
	if opts.Delegates <= 0 {
		opts.Delegates = 6
	}
	if opts.Members <= 0 {
		opts.Members = 40
	}
	if opts.Payments <= 0 {
		opts.Payments = 60
	}
}

// Run seeds the store with coordinators, delegates assigned to them, members
// assigned to both, and the date's payments. Amounts come from the posted
// contribution tiers, so a settlement generated over the seeded day conserves
// its total exactly.
func Run(ctx context.Context, store storage.Store, opts Options) (*Summary, error) {
	const op = "seeder.run"

	date, err := models.ParseSettlementDate(opts.Date)
	if err != nil {
		return nil, errs.E(errs.KindValidation, op, "invalid seed date", err)
	}
	applyDefaults(&opts)

	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	coordinators := make([]string, 0, opts.Coordinators)
	for i := 0; i < opts.Coordinators; i++ {
		m := models.Member{
			ID:          uuid.New().String(),
			FullName:    faker.Name(),
			PhoneNumber: msisdn(rng),
			Role:        models.RoleCoordinator,
			Active:      true,
		}
		if err := store.CreateMember(ctx, &m); err != nil {
			return nil, err
		}
		coordinators = append(coordinators, m.ID)
	}

	type assignment struct {
		delegateID    string
		coordinatorID string
	}
	delegates := make([]assignment, 0, opts.Delegates)
	for i := 0; i < opts.Delegates; i++ {
		coordinatorID := coordinators[rng.Intn(len(coordinators))]
		m := models.Member{
			ID:            uuid.New().String(),
			FullName:      faker.Name(),
			PhoneNumber:   msisdn(rng),
			Role:          models.RoleDelegate,
			CoordinatorID: coordinatorID,
			Active:        true,
		}
		if err := store.CreateMember(ctx, &m); err != nil {
			return nil, err
		}
		delegates = append(delegates, assignment{delegateID: m.ID, coordinatorID: coordinatorID})
	}

	memberIDs := make([]string, 0, opts.Members)
	for i := 0; i < opts.Members; i++ {
		a := delegates[rng.Intn(len(delegates))]
		m := models.Member{
			ID:            uuid.New().String(),
			FullName:      faker.Name(),
			PhoneNumber:   msisdn(rng),
			Role:          models.RoleMember,
			DelegateID:    a.delegateID,
			CoordinatorID: a.coordinatorID,
			Active:        true,
		}
		if err := store.CreateMember(ctx, &m); err != nil {
			return nil, err
		}
		memberIDs = append(memberIDs, m.ID)
	}

	total := decimal.Zero
	for i := 0; i < opts.Payments; i++ {
		tier := tiers[rng.Intn(len(tiers))]
		p := models.Payment{
			ID:                    uuid.New().String(),
			MemberID:              memberIDs[rng.Intn(len(memberIDs))],
			Amount:                decimal.NewFromInt(tier.amount),
			Status:                models.PaymentCompleted,
			SettlementDate:        date,
			ShaPortion:            decimal.NewFromInt(tier.sha),
			DelegateCommission:    decimal.NewFromInt(tier.delegate),
			CoordinatorCommission: decimal.NewFromInt(tier.coordinator),
		}
		if err := store.CreatePayment(ctx, &p); err != nil {
			return nil, err
		}
		total = total.Add(p.Amount)
	}

	pending := opts.Payments / 10
	for i := 0; i < pending; i++ {
		tier := tiers[rng.Intn(len(tiers))]
		p := models.Payment{
			ID:                    uuid.New().String(),
			MemberID:              memberIDs[rng.Intn(len(memberIDs))],
			Amount:                decimal.NewFromInt(tier.amount),
			Status:                models.PaymentPending,
			SettlementDate:        date,
			ShaPortion:            decimal.NewFromInt(tier.sha),
			DelegateCommission:    decimal.NewFromInt(tier.delegate),
			CoordinatorCommission: decimal.NewFromInt(tier.coordinator),
		}
		if err := store.CreatePayment(ctx, &p); err != nil {
			return nil, err
		}
	}

	summary := &Summary{
		Coordinators:    opts.Coordinators,
		Delegates:       opts.Delegates,
		Members:         opts.Members,
		Payments:        opts.Payments,
		PendingPayments: pending,
		TotalCollected:  total,
	}
	slog.Info("Seeded development data",
		"settlement_date", date,
		"coordinators", summary.Coordinators,
		"delegates", summary.Delegates,
		"members", summary.Members,
		"payments", summary.Payments,
		"pending_payments", summary.PendingPayments,
		"total_collected", summary.TotalCollected,
	)
	return summary, nil
}

func msisdn(rng *rand.Rand) string {
	return fmt.Sprintf("2547%08d", rng.Intn(100000000))
}
