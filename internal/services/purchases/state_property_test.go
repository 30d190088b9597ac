package purchases

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/MichaelUrman/bookstore/internal/domain/enums"
	"github.com/MichaelUrman/bookstore/internal/domain/model"
	"github.com/MichaelUrman/bookstore/internal/domain/rules"
)

const (
	opConfirm = iota
	opCancel
	opMarkReady
	opExpire
	opCount
)

// Property: whatever sequence of customer, reconciler and sweep operations
// runs, a purchase only moves along allowed edges and its delivery email is
// written at most once.
func TestPurchaseStatusFollowsTransitionTable(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("status changes follow allowed edges", prop.ForAll(
		func(ops []int) bool {
			return runOps(t, ops) == nil
		},
		gen.SliceOf(gen.IntRange(0, opCount-1)),
	))

	properties.TestingRun(t)
}

func runOps(t *testing.T, ops []int) error {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	created := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return created }
	p, err := svc.CreatePurchase(ctx, CreateInput{PublicationID: 10, CustomerID: 7})
	if err != nil {
		return err
	}

	var deliveredTo string
	for i, op := range ops {
		before := store.rows[p.ID]

		switch op {
		case opConfirm:
			_, _ = svc.ConfirmIntent(ctx, p.ID, 7)
		case opCancel:
			_, _ = svc.Cancel(ctx, p.ID, 7)
		case opMarkReady:
			_, _, _ = svc.MarkReady(ctx, p.ID, model.DeliveryEmail{Address: fmt.Sprintf("buyer%d@example.com", i)})
		case opExpire:
			_, _ = svc.Expire(ctx, created.Add(time.Hour))
		}

		after := store.rows[p.ID]
		if !allowedStep(before.Status, after.Status) {
			return fmt.Errorf("op %d moved %s to %s", op, before.Status, after.Status)
		}
		if before.EmailSent && !after.EmailSent {
			return fmt.Errorf("email_sent cleared")
		}
		if after.EmailSent {
			if deliveredTo == "" {
				deliveredTo = after.Email.Address
			}
			if after.Email.Address != deliveredTo {
				return fmt.Errorf("delivery email rewritten from %s to %s", deliveredTo, after.Email.Address)
			}
		}
	}
	return nil
}

func allowedStep(from, to enums.PurchaseStatus) bool {
	if from == to {
		return true
	}
	if to == enums.PurchaseStatusExpired {
		return rules.CanExpire(from)
	}
	return rules.CanTransition(from, to)
}
