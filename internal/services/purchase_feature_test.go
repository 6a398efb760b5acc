package service

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/cucumber/godog"
	"github.com/honeynil/SubscriptionShopBot/internal/models"
)

type purchaseFeature struct {
	t     *testing.T
	env   *testEnv
	plan  *models.Plan
	order *models.Order
	err   error
}

func (f *purchaseFeature) reset() {
	f.env = newTestEnv(f.t)
	f.plan, f.order, f.err = nil, nil, nil
}

func (f *purchaseFeature) aUserWithBalance(userID, balance int64) error {
	f.env.user(f.t, userID, balance)
	return nil
}

func (f *purchaseFeature) aPlanWithStock(price int64, units int) error {
	f.plan = f.env.plan(f.t, price, units)
	return nil
}

func (f *purchaseFeature) aDiscountCode(code string, percent, maxUsage int) error {
	f.env.code(f.t, code, percent, maxUsage, nil)
	return nil
}

func (f *purchaseFeature) userBuysWithCode(userID int64, code string) error {
	order, _, err := f.env.orders.Purchase(f.env.ctx, userID, f.plan.ID, code)
	if order != nil {
		f.order = order
	}
	f.err = err
	return nil
}

func (f *purchaseFeature) userBuys(userID int64) error {
	return f.userBuysWithCode(userID, "")
}

func (f *purchaseFeature) unitsAdded(units int) error {
	payloads := make([]string, units)
	for i := range payloads {
		payloads[i] = fmt.Sprintf("vless://restock-%d", i)
	}
	_, err := f.env.inventory.Add(f.env.ctx, f.plan.ID, payloads)
	return err
}

func (f *purchaseFeature) orderIs(state string) error {
	if f.order == nil {
		return fmt.Errorf("no order was created")
	}
	got, err := f.env.orders.Get(f.env.ctx, f.order.UserID, f.order.ID)
	if err != nil {
		return err
	}
	if string(got.State) != state {
		return fmt.Errorf("expected order %d to be %s, got %s", got.ID, state, got.State)
	}
	return nil
}

func (f *purchaseFeature) purchaseFails(reason string) error {
	if f.err == nil {
		return fmt.Errorf("expected purchase to fail with %q", reason)
	}
	if !strings.Contains(f.err.Error(), reason) {
		return fmt.Errorf("expected %q, got %v", reason, f.err)
	}
	return nil
}

func (f *purchaseFeature) userHasBalance(userID, want int64) error {
	got, err := f.env.ledger.Balance(f.env.ctx, userID)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("expected balance %d, got %d", want, got)
	}
	return nil
}

func (f *purchaseFeature) codeUsed(code string, want int) error {
	d, err := f.env.discounts.Get(f.env.ctx, code)
	if err != nil {
		return err
	}
	if d.UsedCount != want {
		return fmt.Errorf("expected %s to be used %d times, got %d", code, want, d.UsedCount)
	}
	return nil
}

func (f *purchaseFeature) unitsAvailable(want int64) error {
	level, err := f.env.inventory.Stock(f.env.ctx, f.plan.ID)
	if err != nil {
		return err
	}
	if level.Available != want {
		return fmt.Errorf("expected %d available units, got %d", want, level.Available)
	}
	return nil
}

func (f *purchaseFeature) incidentOpen(kind string) error {
	list, err := f.env.admin.Inconsistencies(f.env.ctx)
	if err != nil {
		return err
	}
	for _, rec := range list {
		if string(rec.Kind) == kind {
			return nil
		}
	}
	return fmt.Errorf("no open %s incident among %d", kind, len(list))
}

func (f *purchaseFeature) ledgerConsistent(userID int64) error {
	rec, err := f.env.ledger.Reconcile(f.env.ctx, userID)
	if err != nil {
		return err
	}
	if !rec.Consistent() {
		return fmt.Errorf("wallet of user %d drifted by %d", userID, rec.Drift)
	}
	return nil
}

func TestPurchaseFeatures(t *testing.T) {
	f := &purchaseFeature{t: t}
	suite := godog.TestSuite{
		ScenarioInitializer: func(sc *godog.ScenarioContext) {
			sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
				f.reset()
				return ctx, nil
			})

			sc.Step(`^a user (\d+) with a wallet balance of (\d+)$`, f.aUserWithBalance)
			sc.Step(`^a plan priced (\d+) with (\d+) units in stock$`, f.aPlanWithStock)
			sc.Step(`^a discount code "([^"]*)" for (\d+) percent with (\d+) uses$`, f.aDiscountCode)

			sc.Step(`^user (\d+) buys the plan with code "([^"]*)"$`, f.userBuysWithCode)
			sc.Step(`^user (\d+) buys the plan$`, f.userBuys)
			sc.Step(`^(\d+) units are added to the plan$`, f.unitsAdded)

			sc.Step(`^the order is "([^"]*)"$`, f.orderIs)
			sc.Step(`^the purchase fails with "([^"]*)"$`, f.purchaseFails)
			sc.Step(`^user (\d+) has a wallet balance of (\d+)$`, f.userHasBalance)
			sc.Step(`^the discount code "([^"]*)" has been used (\d+) times$`, f.codeUsed)
			sc.Step(`^the plan has (\d+) units available$`, f.unitsAvailable)
			sc.Step(`^an "([^"]*)" incident is open$`, f.incidentOpen)
			sc.Step(`^the ledger of user (\d+) is consistent$`, f.ledgerConsistent)
		},
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features/purchase.feature"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
