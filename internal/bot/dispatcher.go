// Package bot maps chat actions onto the shop services and renders their
// results as text with menu options.
package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	stderrors "errors"

	"github.com/honeynil/SubscriptionShopBot/internal/infrastructure/observability"
	"github.com/honeynil/SubscriptionShopBot/internal/infrastructure/redis"
	"github.com/honeynil/SubscriptionShopBot/internal/models"
	service "github.com/honeynil/SubscriptionShopBot/internal/services"
	pkgerrors "github.com/honeynil/SubscriptionShopBot/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	requestTTL   = 24 * time.Hour
	historyLimit = 10
)

// Update is one inbound user action, already decoded from the transport.
type Update struct {
	UserID      int64
	DisplayName string
	Action      string
	Payload     string
	// FileRef is the transport id of an attached receipt image, if any.
	FileRef   string
	RequestID string
}

type Option struct {
	Label   string
	Action  string
	Payload string
}

type Response struct {
	Text    string
	Options []Option
}

type Services struct {
	Users     *service.UserService
	Catalog   *service.CatalogService
	Orders    *service.OrderService
	Receipts  *service.ReceiptService
	Tickets   *service.TicketService
	Ledger    *service.LedgerService
	Inventory *service.InventoryService
	Discounts *service.DiscountService
	Admin     *service.AdminService
}

type handlerFunc func(ctx context.Context, u Update) (Response, error)

type Dispatcher struct {
	svc         Services
	isAdmin     func(userID int64) bool
	redisClient redis.RedisClient
	user        map[string]handlerFunc
	admin       map[string]handlerFunc
}

func NewDispatcher(svc Services, isAdmin func(int64) bool, redisClient redis.RedisClient) *Dispatcher {
	d := &Dispatcher{svc: svc, isAdmin: isAdmin, redisClient: redisClient}
	d.user = map[string]handlerFunc{
		"start":        d.start,
		"help":         d.help,
		"menu":         d.help,
		"plans":        d.plans,
		"plan":         d.plan,
		"buy":          d.buy,
		"pay_wallet":   d.payWallet,
		"pay_receipt":  d.payReceipt,
		"cancel":       d.cancel,
		"orders":       d.orders,
		"order":        d.order,
		"balance":      d.balance,
		"history":      d.history,
		"topup":        d.topup,
		"ticket":       d.openTicket,
		"tickets":      d.tickets,
		"reply":        d.replyTicket,
		"close_ticket": d.closeTicket,
	}
	d.admin = map[string]handlerFunc{
		"stats":     d.stats,
		"receipts":  d.pendingReceipts,
		"approve":   d.approve,
		"reject":    d.reject,
		"add_plan":  d.addPlan,
		"plan_on":   d.planActive(true),
		"plan_off":  d.planActive(false),
		"add_stock": d.addStock,
		"stock":     d.stock,
		"add_code":  d.addCode,
		"ban":       d.ban(true),
		"unban":     d.ban(false),
		"adjust":    d.adjust,
		"broadcast": d.broadcast,
		"issues":    d.issues,
		"resolve":   d.resolve,
		"reconcile": d.reconcile,
		"queue":     d.queue,
		"answer":    d.answer,
		"fulfill":   d.fulfill,
	}
	return d
}

// Handle runs one update. Errors never escape: they are rendered for the user.
func (d *Dispatcher) Handle(ctx context.Context, u Update) Response {
	tracer := otel.Tracer("bot-dispatcher")
	ctx, span := tracer.Start(ctx, "Handle")
	defer span.End()
	span.SetAttributes(attribute.Int64("user_id", u.UserID), attribute.String("action", u.Action))

	action := strings.ToLower(strings.TrimPrefix(u.Action, "/"))
	ctx = observability.WithAttrs(ctx, "user_id", u.UserID, "action", action)

	if u.RequestID != "" && !d.firstDelivery(ctx, u.RequestID) {
		observability.WithContext(ctx).Info("duplicate update ignored", "request_id", u.RequestID)
		return Response{Text: "This request was already processed."}
	}

	h, ok := d.user[action]
	if !ok && d.isAdmin(u.UserID) {
		h, ok = d.admin[action]
	}
	if !ok {
		return Response{Text: "Unknown command. Send /help for the list of commands."}
	}

	if action != "start" {
		if _, err := d.svc.Users.Active(ctx, u.UserID); err != nil {
			if stderrors.Is(err, pkgerrors.ErrNotFound) {
				return Response{Text: "Send /start first."}
			}
			return Response{Text: MessageFor(err)}
		}
	}

	resp, err := h(ctx, u)
	if err != nil {
		observability.WithContext(ctx).Warn("action failed", "error", err)
		return Response{Text: MessageFor(err), Options: resp.Options}
	}
	return resp
}

// firstDelivery claims the request id. Redis failures let the update through.
func (d *Dispatcher) firstDelivery(ctx context.Context, requestID string) bool {
	ok, err := d.redisClient.SetNX(ctx, "request:"+requestID, "1", requestTTL)
	if err != nil {
		observability.WithContext(ctx).Error("failed to record request id", "request_id", requestID, "error", err)
		return true
	}
	return ok
}

// MessageFor turns a service error into text for the chat.
func MessageFor(err error) string {
	switch {
	case stderrors.Is(err, pkgerrors.ErrInsufficientFunds):
		return "Not enough funds in your wallet. Top up and try again."
	case stderrors.Is(err, pkgerrors.ErrOutOfStock):
		return "This plan is out of stock right now. Your payment is kept and the order will be delivered after restock."
	case stderrors.Is(err, pkgerrors.ErrDiscountExpired):
		return "This discount code has expired."
	case stderrors.Is(err, pkgerrors.ErrOrderExpired):
		return "The payment window for this order has closed. Place a new order."
	case stderrors.Is(err, pkgerrors.ErrUsageExceeded):
		return "This discount code has been used up."
	case stderrors.Is(err, pkgerrors.ErrPlanMismatch):
		return "This discount code is not valid for this plan."
	case stderrors.Is(err, pkgerrors.ErrDiscountNotFound):
		return "Unknown discount code."
	case stderrors.Is(err, pkgerrors.ErrNotFound):
		return "Not found."
	case stderrors.Is(err, pkgerrors.ErrInvalidState):
		return "This action is not possible in the current state."
	case stderrors.Is(err, pkgerrors.ErrUserBanned):
		return "Your account is blocked."
	case stderrors.Is(err, pkgerrors.ErrPlanInactive):
		return "This plan is not available."
	case stderrors.Is(err, pkgerrors.ErrBusy):
		return "Another operation is in progress, please retry in a moment."
	case stderrors.Is(err, pkgerrors.ErrInvalidInput):
		return "Invalid input: " + err.Error()
	}
	return "Something went wrong, please try again later."
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: expected a positive id, got %q", pkgerrors.ErrInvalidInput, s)
	}
	return id, nil
}

// splitArgs splits the payload into the first n-1 fields and the rest.
func splitArgs(payload string, n int) []string {
	return strings.SplitN(strings.TrimSpace(payload), " ", n)
}

func (d *Dispatcher) start(ctx context.Context, u Update) (Response, error) {
	user, err := d.svc.Users.Register(ctx, u.UserID, u.DisplayName)
	if err != nil {
		return Response{}, err
	}
	if _, err := d.svc.Users.Active(ctx, user.ID); err != nil {
		return Response{}, err
	}
	return Response{
		Text:    fmt.Sprintf("Welcome, %s!", u.DisplayName),
		Options: mainMenu(),
	}, nil
}

func mainMenu() []Option {
	return []Option{
		{Label: "Plans", Action: "plans"},
		{Label: "My orders", Action: "orders"},
		{Label: "Wallet", Action: "balance"},
		{Label: "Support", Action: "tickets"},
	}
}

func (d *Dispatcher) help(_ context.Context, u Update) (Response, error) {
	var b strings.Builder
	b.WriteString("Commands:\n")
	b.WriteString("/plans, /plan <id>, /buy <plan id> [code]\n")
	b.WriteString("/pay_wallet <order id>, /pay_receipt <order id> <amount> (attach photo)\n")
	b.WriteString("/cancel <order id>, /orders, /order <id>\n")
	b.WriteString("/balance, /history, /topup <amount> (attach photo)\n")
	b.WriteString("/ticket <text>, /tickets, /reply <ticket id> <text>, /close_ticket <id>\n")
	if d.isAdmin(u.UserID) {
		b.WriteString("\nAdmin:\n")
		b.WriteString("/stats, /receipts, /approve <id>, /reject <id>\n")
		b.WriteString("/add_plan <name>|<price>|<days>|<traffic>, /plan_on <id>, /plan_off <id>\n")
		b.WriteString("/add_stock <plan id> then one payload per line, /stock, /fulfill <order id>\n")
		b.WriteString("/add_code <code> <percent> <max uses> [plan id] [valid days]\n")
		b.WriteString("/ban <user id>, /unban <user id>, /adjust <user id> <amount> [reason]\n")
		b.WriteString("/broadcast <text>, /issues, /resolve <id>, /reconcile\n")
		b.WriteString("/queue, /answer <ticket id> <text>\n")
	}
	return Response{Text: b.String(), Options: mainMenu()}, nil
}

func (d *Dispatcher) plans(ctx context.Context, _ Update) (Response, error) {
	plans, err := d.svc.Catalog.ListActive(ctx)
	if err != nil {
		return Response{}, err
	}
	if len(plans) == 0 {
		return Response{Text: "No plans are on sale right now."}, nil
	}
	resp := Response{Text: "Available plans:"}
	for _, p := range plans {
		resp.Options = append(resp.Options, Option{
			Label:   fmt.Sprintf("%s · %s", p.Name, formatMoney(p.Price)),
			Action:  "plan",
			Payload: strconv.FormatInt(p.ID, 10),
		})
	}
	return resp, nil
}

func (d *Dispatcher) plan(ctx context.Context, u Update) (Response, error) {
	id, err := parseID(u.Payload)
	if err != nil {
		return Response{}, err
	}
	p, err := d.svc.Catalog.Purchasable(ctx, id)
	if err != nil {
		return Response{}, err
	}
	stock, err := d.svc.Inventory.Stock(ctx, id)
	if err != nil {
		return Response{}, err
	}
	text := fmt.Sprintf("%s\nPrice: %s\nDuration: %d days\nTraffic: %s\nIn stock: %d",
		p.Name, formatMoney(p.Price), p.DurationDays, p.Traffic, stock.Available)
	return Response{
		Text:    text,
		Options: []Option{{Label: "Buy", Action: "buy", Payload: strconv.FormatInt(p.ID, 10)}},
	}, nil
}

func (d *Dispatcher) buy(ctx context.Context, u Update) (Response, error) {
	args := splitArgs(u.Payload, 2)
	planID, err := parseID(args[0])
	if err != nil {
		return Response{}, err
	}
	var code string
	if len(args) == 2 {
		code = args[1]
	}
	order, err := d.svc.Orders.CreateOrder(ctx, u.UserID, planID, code)
	if err != nil {
		return Response{}, err
	}
	text := fmt.Sprintf("Order #%d created. To pay: %s", order.ID, formatMoney(order.Price))
	if order.DiscountPercent > 0 {
		text += fmt.Sprintf(" (%d%% off %s)", order.DiscountPercent, formatMoney(order.BasePrice))
	}
	text += fmt.Sprintf("\nPay before %s. To pay by bank transfer send the receipt photo with /pay_receipt %d <amount>.",
		order.ExpiresAt.UTC().Format("2006-01-02 15:04 MST"), order.ID)
	ref := strconv.FormatInt(order.ID, 10)
	return Response{
		Text: text,
		Options: []Option{
			{Label: "Pay from wallet", Action: "pay_wallet", Payload: ref},
			{Label: "Cancel", Action: "cancel", Payload: ref},
		},
	}, nil
}

func (d *Dispatcher) payWallet(ctx context.Context, u Update) (Response, error) {
	orderID, err := parseID(u.Payload)
	if err != nil {
		return Response{}, err
	}
	paid, err := d.svc.Orders.PayWithWallet(ctx, u.UserID, orderID)
	if err != nil {
		if stderrors.Is(err, pkgerrors.ErrInsufficientFunds) {
			return Response{Options: []Option{{Label: "Top up", Action: "topup"}}}, err
		}
		return Response{}, err
	}
	order, unit, err := d.svc.Orders.Fulfill(ctx, paid.ID)
	if err != nil {
		return Response{}, err
	}
	return Response{Text: deliveredText(order, unit)}, nil
}

func deliveredText(order *models.Order, unit *models.InventoryUnit) string {
	return fmt.Sprintf("Order #%d is ready:\n\n%s", order.ID, unit.Payload)
}

func (d *Dispatcher) payReceipt(ctx context.Context, u Update) (Response, error) {
	args := splitArgs(u.Payload, 2)
	if len(args) != 2 {
		return Response{}, fmt.Errorf("%w: usage /pay_receipt <order id> <amount>", pkgerrors.ErrInvalidInput)
	}
	orderID, err := parseID(args[0])
	if err != nil {
		return Response{}, err
	}
	amount, err := parseMoney(args[1])
	if err != nil {
		return Response{}, err
	}
	receipt, err := d.svc.Receipts.Submit(ctx, u.UserID, models.PurposeOrderPayment, amount, u.FileRef, &orderID)
	if err != nil {
		return Response{}, err
	}
	return Response{Text: fmt.Sprintf("Receipt #%d for order #%d is under review.", receipt.ID, orderID)}, nil
}

func (d *Dispatcher) topup(ctx context.Context, u Update) (Response, error) {
	if strings.TrimSpace(u.Payload) == "" {
		return Response{Text: "Send the payment receipt photo with the caption /topup <amount>."}, nil
	}
	amount, err := parseMoney(u.Payload)
	if err != nil {
		return Response{}, err
	}
	receipt, err := d.svc.Receipts.Submit(ctx, u.UserID, models.PurposeWalletTopup, amount, u.FileRef, nil)
	if err != nil {
		return Response{}, err
	}
	return Response{Text: fmt.Sprintf("Receipt #%d for %s is under review.", receipt.ID, formatMoney(amount))}, nil
}

func (d *Dispatcher) cancel(ctx context.Context, u Update) (Response, error) {
	orderID, err := parseID(u.Payload)
	if err != nil {
		return Response{}, err
	}
	if _, err := d.svc.Orders.Cancel(ctx, u.UserID, orderID); err != nil {
		return Response{}, err
	}
	return Response{Text: fmt.Sprintf("Order #%d cancelled.", orderID)}, nil
}

func (d *Dispatcher) orders(ctx context.Context, u Update) (Response, error) {
	orders, err := d.svc.Orders.History(ctx, u.UserID, historyLimit)
	if err != nil {
		return Response{}, err
	}
	if len(orders) == 0 {
		return Response{Text: "You have no orders yet.", Options: []Option{{Label: "Plans", Action: "plans"}}}, nil
	}
	resp := Response{Text: "Your orders:"}
	for _, o := range orders {
		resp.Options = append(resp.Options, Option{
			Label:   fmt.Sprintf("#%d · %s · %s", o.ID, o.State, formatMoney(o.Price)),
			Action:  "order",
			Payload: strconv.FormatInt(o.ID, 10),
		})
	}
	return resp, nil
}

func (d *Dispatcher) order(ctx context.Context, u Update) (Response, error) {
	orderID, err := parseID(u.Payload)
	if err != nil {
		return Response{}, err
	}
	o, err := d.svc.Orders.Get(ctx, u.UserID, orderID)
	if err != nil {
		return Response{}, err
	}
	ref := strconv.FormatInt(o.ID, 10)
	switch o.State {
	case models.OrderFulfilled:
		unit, err := d.svc.Orders.Delivered(ctx, u.UserID, o.ID)
		if err != nil {
			return Response{}, err
		}
		return Response{Text: deliveredText(o, unit)}, nil
	case models.OrderPending:
		text := fmt.Sprintf("Order #%d awaits payment of %s.", o.ID, formatMoney(o.Price))
		if o.ReceiptID != nil {
			return Response{Text: fmt.Sprintf("Order #%d: receipt #%d is under review.", o.ID, *o.ReceiptID)}, nil
		}
		return Response{Text: text, Options: []Option{
			{Label: "Pay from wallet", Action: "pay_wallet", Payload: ref},
			{Label: "Cancel", Action: "cancel", Payload: ref},
		}}, nil
	case models.OrderPaid:
		return Response{Text: fmt.Sprintf("Order #%d is paid and waits for delivery.", o.ID)}, nil
	}
	return Response{Text: fmt.Sprintf("Order #%d is %s.", o.ID, o.State)}, nil
}

func (d *Dispatcher) balance(ctx context.Context, u Update) (Response, error) {
	balance, err := d.svc.Ledger.Balance(ctx, u.UserID)
	if err != nil {
		return Response{}, err
	}
	return Response{
		Text: fmt.Sprintf("Wallet balance: %s", formatMoney(balance)),
		Options: []Option{
			{Label: "Top up", Action: "topup"},
			{Label: "History", Action: "history"},
		},
	}, nil
}

func (d *Dispatcher) history(ctx context.Context, u Update) (Response, error) {
	txs, err := d.svc.Ledger.History(ctx, u.UserID, historyLimit)
	if err != nil {
		return Response{}, err
	}
	if len(txs) == 0 {
		return Response{Text: "No wallet operations yet."}, nil
	}
	var b strings.Builder
	b.WriteString("Last operations:\n")
	for _, tx := range txs {
		fmt.Fprintf(&b, "%s  %s  %s  %s\n", tx.CreatedAt.UTC().Format("2006-01-02 15:04"), formatSigned(tx.Amount), tx.Kind, tx.Description)
	}
	return Response{Text: b.String()}, nil
}

func (d *Dispatcher) openTicket(ctx context.Context, u Update) (Response, error) {
	ticket, err := d.svc.Tickets.Open(ctx, u.UserID, "", u.Payload)
	if err != nil {
		return Response{}, err
	}
	return Response{Text: fmt.Sprintf("Ticket #%d opened. We will answer soon.", ticket.ID)}, nil
}

func (d *Dispatcher) tickets(ctx context.Context, u Update) (Response, error) {
	tickets, err := d.svc.Tickets.ListByUser(ctx, u.UserID)
	if err != nil {
		return Response{}, err
	}
	if len(tickets) == 0 {
		return Response{Text: "No tickets. Describe your problem with /ticket <text>."}, nil
	}
	var b strings.Builder
	for _, t := range tickets {
		fmt.Fprintf(&b, "#%d [%s] %s\n", t.ID, t.Status, t.Subject)
	}
	return Response{Text: b.String()}, nil
}

func (d *Dispatcher) replyTicket(ctx context.Context, u Update) (Response, error) {
	args := splitArgs(u.Payload, 2)
	if len(args) != 2 {
		return Response{}, fmt.Errorf("%w: usage /reply <ticket id> <text>", pkgerrors.ErrInvalidInput)
	}
	id, err := parseID(args[0])
	if err != nil {
		return Response{}, err
	}
	if _, err := d.svc.Tickets.Reply(ctx, id, u.UserID, models.SenderUser, args[1]); err != nil {
		return Response{}, err
	}
	return Response{Text: "Message sent."}, nil
}

func (d *Dispatcher) closeTicket(ctx context.Context, u Update) (Response, error) {
	id, err := parseID(u.Payload)
	if err != nil {
		return Response{}, err
	}
	if err := d.svc.Tickets.Close(ctx, id, u.UserID, d.isAdmin(u.UserID)); err != nil {
		return Response{}, err
	}
	return Response{Text: fmt.Sprintf("Ticket #%d closed.", id)}, nil
}
