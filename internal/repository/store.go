package repository

// Store bundles every repository of one backend.
type Store struct {
	Users           UserRepository
	Ledger          LedgerRepository
	Plans           PlanRepository
	Inventory       InventoryRepository
	Discounts       DiscountRepository
	Orders          OrderRepository
	Receipts        ReceiptRepository
	Tickets         TicketRepository
	Inconsistencies InconsistencyRepository
}
