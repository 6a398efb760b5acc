package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/honeynil/SubscriptionShopBot/internal/infrastructure/auth"
	"github.com/honeynil/SubscriptionShopBot/internal/models"
	service "github.com/honeynil/SubscriptionShopBot/internal/services"
	pkgerrors "github.com/honeynil/SubscriptionShopBot/pkg/errors"
)

// Services groups what the admin API drives.
type Services struct {
	Auth      *auth.AdminAuth
	Admin     *service.AdminService
	Catalog   *service.CatalogService
	Inventory *service.InventoryService
	Discounts *service.DiscountService
	Receipts  *service.ReceiptService
	Orders    *service.OrderService
	Users     *service.UserService
	Ledger    *service.LedgerService
	Tickets   *service.TicketService
}

type Handler struct {
	svc Services
}

func NewHandler(svc Services) *Handler {
	return &Handler{svc: svc}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// fail maps domain errors onto HTTP status codes.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pkgerrors.ErrNotFound):
		h.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, pkgerrors.ErrInvalidState), errors.Is(err, pkgerrors.ErrAlreadyExists),
		errors.Is(err, pkgerrors.ErrBusy):
		h.writeError(w, http.StatusConflict, err)
	case errors.Is(err, pkgerrors.ErrInvalidInput), errors.Is(err, pkgerrors.ErrNilEntity),
		errors.Is(err, pkgerrors.ErrInsufficientFunds), errors.Is(err, pkgerrors.ErrExpired),
		errors.Is(err, pkgerrors.ErrUsageExceeded), errors.Is(err, pkgerrors.ErrPlanMismatch):
		h.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, pkgerrors.ErrOutOfStock):
		h.writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, pkgerrors.ErrInvalidCredentials), errors.Is(err, pkgerrors.ErrUnauthorized):
		h.writeError(w, http.StatusUnauthorized, err)
	default:
		h.writeError(w, http.StatusInternalServerError, err)
	}
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, pkgerrors.ErrInvalidInput
	}
	return id, nil
}

func adminID(r *http.Request) int64 {
	if claims, ok := auth.AdminFromContext(r.Context()); ok {
		return claims.AdminID
	}
	return 0
}

func queryLimit(r *http.Request, def int) int {
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		return n
	}
	return def
}

func (h *Handler) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/login", h.Login).Methods("POST")
}

func (h *Handler) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/stats", h.Stats).Methods("GET")

	r.HandleFunc("/plans", h.ListPlans).Methods("GET")
	r.HandleFunc("/plans", h.CreatePlan).Methods("POST")
	r.HandleFunc("/plans/{id:[0-9]+}", h.UpdatePlan).Methods("PUT")
	r.HandleFunc("/plans/{id:[0-9]+}/inventory", h.AddInventory).Methods("POST")
	r.HandleFunc("/stock", h.Stock).Methods("GET")

	r.HandleFunc("/discounts", h.CreateDiscount).Methods("POST")
	r.HandleFunc("/discounts/{code}", h.GetDiscount).Methods("GET")

	r.HandleFunc("/receipts", h.PendingReceipts).Methods("GET")
	r.HandleFunc("/receipts/{id:[0-9]+}/approve", h.ApproveReceipt).Methods("POST")
	r.HandleFunc("/receipts/{id:[0-9]+}/reject", h.RejectReceipt).Methods("POST")

	r.HandleFunc("/orders/{id:[0-9]+}", h.GetOrder).Methods("GET")
	r.HandleFunc("/orders/{id:[0-9]+}/fulfill", h.FulfillOrder).Methods("POST")

	r.HandleFunc("/users/{id:[0-9]+}/ban", h.Ban).Methods("POST")
	r.HandleFunc("/users/{id:[0-9]+}/ban", h.Unban).Methods("DELETE")
	r.HandleFunc("/users/{id:[0-9]+}/adjust", h.AdjustBalance).Methods("POST")
	r.HandleFunc("/users/{id:[0-9]+}/transactions", h.Transactions).Methods("GET")
	r.HandleFunc("/users/{id:[0-9]+}/reconcile", h.ReconcileUser).Methods("GET")

	r.HandleFunc("/broadcasts", h.Broadcast).Methods("POST")

	r.HandleFunc("/inconsistencies", h.Inconsistencies).Methods("GET")
	r.HandleFunc("/inconsistencies/{id:[0-9]+}/resolve", h.ResolveInconsistency).Methods("POST")

	r.HandleFunc("/tickets", h.TicketQueue).Methods("GET")
	r.HandleFunc("/tickets/{id:[0-9]+}/messages", h.TicketMessages).Methods("GET")
	r.HandleFunc("/tickets/{id:[0-9]+}/answer", h.AnswerTicket).Methods("POST")
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	token, err := h.svc.Auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Admin.Stats(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.svc.Catalog.ListAll(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plans)
}

type planRequest struct {
	Name         string `json:"name"`
	Price        int64  `json:"price"`
	DurationDays int    `json:"duration_days"`
	Traffic      string `json:"traffic"`
	Active       bool   `json:"active"`
}

func (p planRequest) plan() *models.Plan {
	return &models.Plan{Name: p.Name, Price: p.Price, DurationDays: p.DurationDays, Traffic: p.Traffic, Active: p.Active}
}

func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	plan := req.plan()
	if err := h.svc.Catalog.Create(r.Context(), plan); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, plan)
}

func (h *Handler) UpdatePlan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	plan := req.plan()
	plan.ID = id
	if err := h.svc.Catalog.Update(r.Context(), plan); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (h *Handler) AddInventory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	var req struct {
		Payloads []string `json:"payloads"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	added, err := h.svc.Inventory.Add(r.Context(), id, req.Payloads)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"added": added})
}

func (h *Handler) Stock(w http.ResponseWriter, r *http.Request) {
	levels, err := h.svc.Inventory.StockAll(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, levels)
}

func (h *Handler) CreateDiscount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code      string     `json:"code"`
		Percent   int        `json:"percent"`
		PlanID    *int64     `json:"plan_id"`
		ExpiresAt *time.Time `json:"expires_at"`
		MaxUsage  int        `json:"max_usage"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	code := &models.DiscountCode{Code: req.Code, Percent: req.Percent, PlanID: req.PlanID, ExpiresAt: req.ExpiresAt, MaxUsage: req.MaxUsage}
	if err := h.svc.Discounts.Create(r.Context(), code); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, code)
}

func (h *Handler) GetDiscount(w http.ResponseWriter, r *http.Request) {
	code, err := h.svc.Discounts.Get(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, code)
}

func (h *Handler) PendingReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := h.svc.Receipts.ListPending(r.Context(), queryLimit(r, 50))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}

func (h *Handler) ApproveReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	receipt, err := h.svc.Receipts.Approve(r.Context(), id, adminID(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (h *Handler) RejectReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	receipt, err := h.svc.Receipts.Reject(r.Context(), id, adminID(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	order, err := h.svc.Orders.GetAny(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) FulfillOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	order, unit, err := h.svc.Orders.Fulfill(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order, "unit_id": unit.ID})
}

func (h *Handler) Ban(w http.ResponseWriter, r *http.Request) {
	h.setBanned(w, r, true)
}

func (h *Handler) Unban(w http.ResponseWriter, r *http.Request) {
	h.setBanned(w, r, false)
}

func (h *Handler) setBanned(w http.ResponseWriter, r *http.Request, banned bool) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	if err := h.svc.Users.SetBanned(r.Context(), id, banned); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	var req struct {
		Amount int64  `json:"amount"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	balance, err := h.svc.Admin.AdjustBalance(r.Context(), adminID(r), id, req.Amount, req.Reason)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}

func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	history, err := h.svc.Ledger.History(r.Context(), id, queryLimit(r, 100))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *Handler) ReconcileUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	rec, err := h.svc.Ledger.Reconcile(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.svc.Admin.Broadcast(r.Context(), adminID(r), req.Text); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *Handler) Inconsistencies(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Admin.Inconsistencies(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) ResolveInconsistency(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	if err := h.svc.Admin.Resolve(r.Context(), adminID(r), id); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) TicketQueue(w http.ResponseWriter, r *http.Request) {
	tickets, err := h.svc.Tickets.Queue(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tickets)
}

func (h *Handler) TicketMessages(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	msgs, err := h.svc.Tickets.Messages(r.Context(), id, 0, true)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *Handler) AnswerTicket(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	var req struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	msg, err := h.svc.Tickets.Reply(r.Context(), id, adminID(r), models.SenderAdmin, req.Body)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}
