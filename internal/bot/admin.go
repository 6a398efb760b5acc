package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/honeynil/SubscriptionShopBot/internal/models"
	pkgerrors "github.com/honeynil/SubscriptionShopBot/pkg/errors"
)

func (d *Dispatcher) stats(ctx context.Context, _ Update) (Response, error) {
	st, err := d.svc.Admin.Stats(ctx)
	if err != nil {
		return Response{}, err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Users: %d\nRevenue: %s\nPending receipts: %d\nOpen tickets: %d\n",
		st.Users, formatMoney(st.Revenue), st.PendingReceipts, st.OpenTickets)
	b.WriteString("Orders:")
	for _, state := range []models.OrderState{models.OrderPending, models.OrderPaid, models.OrderFulfilled, models.OrderCancelled, models.OrderExpired} {
		fmt.Fprintf(&b, " %s=%d", state, st.OrdersByState[state])
	}
	b.WriteString("\nStock:\n")
	for _, lvl := range st.Stock {
		fmt.Fprintf(&b, "plan %d: %d free of %d\n", lvl.PlanID, lvl.Available, lvl.Total)
	}
	return Response{Text: b.String()}, nil
}

func (d *Dispatcher) pendingReceipts(ctx context.Context, _ Update) (Response, error) {
	receipts, err := d.svc.Receipts.ListPending(ctx, 20)
	if err != nil {
		return Response{}, err
	}
	if len(receipts) == 0 {
		return Response{Text: "No receipts to review."}, nil
	}
	var resp Response
	var b strings.Builder
	for _, r := range receipts {
		fmt.Fprintf(&b, "#%d user %d %s %s file %s", r.ID, r.UserID, r.Purpose, formatMoney(r.Amount), r.FileRef)
		if r.OrderID != nil {
			fmt.Fprintf(&b, " order #%d", *r.OrderID)
		}
		b.WriteString("\n")
		ref := strconv.FormatInt(r.ID, 10)
		resp.Options = append(resp.Options,
			Option{Label: "Approve #" + ref, Action: "approve", Payload: ref},
			Option{Label: "Reject #" + ref, Action: "reject", Payload: ref})
	}
	resp.Text = b.String()
	return resp, nil
}

func (d *Dispatcher) approve(ctx context.Context, u Update) (Response, error) {
	id, err := parseID(u.Payload)
	if err != nil {
		return Response{}, err
	}
	r, err := d.svc.Receipts.Approve(ctx, id, u.UserID)
	if err != nil {
		return Response{}, err
	}
	return Response{Text: fmt.Sprintf("Receipt #%d approved, %s for user %d.", r.ID, formatMoney(r.Amount), r.UserID)}, nil
}

func (d *Dispatcher) reject(ctx context.Context, u Update) (Response, error) {
	id, err := parseID(u.Payload)
	if err != nil {
		return Response{}, err
	}
	r, err := d.svc.Receipts.Reject(ctx, id, u.UserID)
	if err != nil {
		return Response{}, err
	}
	return Response{Text: fmt.Sprintf("Receipt #%d rejected.", r.ID)}, nil
}

// addPlan expects name|price|days|traffic.
func (d *Dispatcher) addPlan(ctx context.Context, u Update) (Response, error) {
	parts := strings.Split(u.Payload, "|")
	if len(parts) != 4 {
		return Response{}, fmt.Errorf("%w: usage /add_plan <name>|<price>|<days>|<traffic>", pkgerrors.ErrInvalidInput)
	}
	price, err := parseMoney(parts[1])
	if err != nil {
		return Response{}, err
	}
	days, err := strconv.Atoi(strings.TrimSpace(parts[2]))
	if err != nil {
		return Response{}, fmt.Errorf("%w: %q is not a number of days", pkgerrors.ErrInvalidInput, parts[2])
	}
	plan := &models.Plan{
		Name:         strings.TrimSpace(parts[0]),
		Price:        price,
		DurationDays: days,
		Traffic:      strings.TrimSpace(parts[3]),
		Active:       true,
	}
	if err := d.svc.Catalog.Create(ctx, plan); err != nil {
		return Response{}, err
	}
	return Response{Text: fmt.Sprintf("Plan #%d %s created.", plan.ID, plan.Name)}, nil
}

func (d *Dispatcher) planActive(active bool) handlerFunc {
	return func(ctx context.Context, u Update) (Response, error) {
		id, err := parseID(u.Payload)
		if err != nil {
			return Response{}, err
		}
		if err := d.svc.Catalog.SetActive(ctx, id, active); err != nil {
			return Response{}, err
		}
		return Response{Text: fmt.Sprintf("Plan #%d active=%t.", id, active)}, nil
	}
}

// addStock takes the plan id on the first line and one payload per line.
func (d *Dispatcher) addStock(ctx context.Context, u Update) (Response, error) {
	head, body, _ := strings.Cut(strings.TrimSpace(u.Payload), "\n")
	planID, err := parseID(head)
	if err != nil {
		return Response{}, err
	}
	added, err := d.svc.Inventory.Add(ctx, planID, strings.Split(body, "\n"))
	if err != nil {
		return Response{}, err
	}
	return Response{Text: fmt.Sprintf("%d units added to plan #%d.", added, planID)}, nil
}

func (d *Dispatcher) stock(ctx context.Context, _ Update) (Response, error) {
	levels, err := d.svc.Inventory.StockAll(ctx)
	if err != nil {
		return Response{}, err
	}
	var b strings.Builder
	for _, lvl := range levels {
		fmt.Fprintf(&b, "plan %d: %d free, %d claimed, %d total\n", lvl.PlanID, lvl.Available, lvl.Claimed, lvl.Total)
	}
	if b.Len() == 0 {
		return Response{Text: "No plans."}, nil
	}
	return Response{Text: b.String()}, nil
}

func (d *Dispatcher) fulfill(ctx context.Context, u Update) (Response, error) {
	id, err := parseID(u.Payload)
	if err != nil {
		return Response{}, err
	}
	order, unit, err := d.svc.Orders.Fulfill(ctx, id)
	if err != nil {
		return Response{}, err
	}
	return Response{Text: fmt.Sprintf("Order #%d fulfilled with unit #%d.", order.ID, unit.ID)}, nil
}

// addCode expects: code percent max_uses [plan_id] [valid_days].
func (d *Dispatcher) addCode(ctx context.Context, u Update) (Response, error) {
	f := strings.Fields(u.Payload)
	if len(f) < 3 {
		return Response{}, fmt.Errorf("%w: usage /add_code <code> <percent> <max uses> [plan id] [valid days]", pkgerrors.ErrInvalidInput)
	}
	percent, err := strconv.Atoi(f[1])
	if err != nil {
		return Response{}, fmt.Errorf("%w: bad percent %q", pkgerrors.ErrInvalidInput, f[1])
	}
	maxUsage, err := strconv.Atoi(f[2])
	if err != nil {
		return Response{}, fmt.Errorf("%w: bad max uses %q", pkgerrors.ErrInvalidInput, f[2])
	}
	code := &models.DiscountCode{Code: f[0], Percent: percent, MaxUsage: maxUsage}
	if len(f) > 3 && f[3] != "0" {
		planID, err := parseID(f[3])
		if err != nil {
			return Response{}, err
		}
		code.PlanID = &planID
	}
	if len(f) > 4 {
		days, err := strconv.Atoi(f[4])
		if err != nil || days <= 0 {
			return Response{}, fmt.Errorf("%w: bad valid days %q", pkgerrors.ErrInvalidInput, f[4])
		}
		exp := time.Now().Add(time.Duration(days) * 24 * time.Hour)
		code.ExpiresAt = &exp
	}
	if err := d.svc.Discounts.Create(ctx, code); err != nil {
		return Response{}, err
	}
	return Response{Text: fmt.Sprintf("Code %s: %d%% off, %d uses.", code.Code, code.Percent, code.MaxUsage)}, nil
}

func (d *Dispatcher) ban(banned bool) handlerFunc {
	return func(ctx context.Context, u Update) (Response, error) {
		id, err := parseID(u.Payload)
		if err != nil {
			return Response{}, err
		}
		if err := d.svc.Users.SetBanned(ctx, id, banned); err != nil {
			return Response{}, err
		}
		return Response{Text: fmt.Sprintf("User %d banned=%t.", id, banned)}, nil
	}
}

func (d *Dispatcher) adjust(ctx context.Context, u Update) (Response, error) {
	args := splitArgs(u.Payload, 3)
	if len(args) < 2 {
		return Response{}, fmt.Errorf("%w: usage /adjust <user id> <amount> [reason]", pkgerrors.ErrInvalidInput)
	}
	userID, err := parseID(args[0])
	if err != nil {
		return Response{}, err
	}
	amount, err := parseSignedMoney(args[1])
	if err != nil {
		return Response{}, err
	}
	var reason string
	if len(args) == 3 {
		reason = args[2]
	}
	balance, err := d.svc.Admin.AdjustBalance(ctx, u.UserID, userID, amount, reason)
	if err != nil {
		return Response{}, err
	}
	return Response{Text: fmt.Sprintf("User %d balance is now %s.", userID, formatMoney(balance))}, nil
}

func (d *Dispatcher) broadcast(ctx context.Context, u Update) (Response, error) {
	if err := d.svc.Admin.Broadcast(ctx, u.UserID, u.Payload); err != nil {
		return Response{}, err
	}
	return Response{Text: "Broadcast queued."}, nil
}

func (d *Dispatcher) issues(ctx context.Context, _ Update) (Response, error) {
	list, err := d.svc.Admin.Inconsistencies(ctx)
	if err != nil {
		return Response{}, err
	}
	if len(list) == 0 {
		return Response{Text: "No open issues."}, nil
	}
	var resp Response
	var b strings.Builder
	for _, inc := range list {
		fmt.Fprintf(&b, "#%d [%s] user %d: %s\n", inc.ID, inc.Kind, inc.UserID, inc.Detail)
		ref := strconv.FormatInt(inc.ID, 10)
		resp.Options = append(resp.Options, Option{Label: "Resolve #" + ref, Action: "resolve", Payload: ref})
	}
	resp.Text = b.String()
	return resp, nil
}

func (d *Dispatcher) resolve(ctx context.Context, u Update) (Response, error) {
	id, err := parseID(u.Payload)
	if err != nil {
		return Response{}, err
	}
	if err := d.svc.Admin.Resolve(ctx, u.UserID, id); err != nil {
		return Response{}, err
	}
	return Response{Text: fmt.Sprintf("Issue #%d resolved.", id)}, nil
}

func (d *Dispatcher) reconcile(ctx context.Context, _ Update) (Response, error) {
	drifted, err := d.svc.Admin.Reconcile(ctx)
	if err != nil {
		return Response{}, err
	}
	if len(drifted) == 0 {
		return Response{Text: "All wallets match their ledgers."}, nil
	}
	var b strings.Builder
	for _, r := range drifted {
		fmt.Fprintf(&b, "user %d: cached %s, ledger %s\n", r.UserID, formatMoney(r.Cached), formatMoney(r.Computed))
	}
	return Response{Text: b.String()}, nil
}

func (d *Dispatcher) queue(ctx context.Context, _ Update) (Response, error) {
	tickets, err := d.svc.Tickets.Queue(ctx)
	if err != nil {
		return Response{}, err
	}
	if len(tickets) == 0 {
		return Response{Text: "No tickets waiting."}, nil
	}
	var b strings.Builder
	for _, t := range tickets {
		fmt.Fprintf(&b, "#%d user %d: %s\n", t.ID, t.UserID, t.Subject)
	}
	return Response{Text: b.String()}, nil
}

func (d *Dispatcher) answer(ctx context.Context, u Update) (Response, error) {
	args := splitArgs(u.Payload, 2)
	if len(args) != 2 {
		return Response{}, fmt.Errorf("%w: usage /answer <ticket id> <text>", pkgerrors.ErrInvalidInput)
	}
	id, err := parseID(args[0])
	if err != nil {
		return Response{}, err
	}
	if _, err := d.svc.Tickets.Reply(ctx, id, u.UserID, models.SenderAdmin, args[1]); err != nil {
		return Response{}, err
	}
	return Response{Text: fmt.Sprintf("Answer to ticket #%d sent.", id)}, nil
}
