// Package memory is an in-process backend built on go-memdb. Write
// transactions are serialized by memdb, which gives every repository method
// the same all-or-nothing behaviour as the Postgres backend. Stored objects are
// never mutated in place; updates insert a modified copy.
package memory

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/hashicorp/go-memdb"
	"github.com/honeynil/SubscriptionShopBot/internal/repository"
)

const (
	tableUsers           = "users"
	tableTransactions    = "transactions"
	tablePlans           = "plans"
	tableUnits           = "units"
	tableDiscounts       = "discounts"
	tableRedemptions     = "redemptions"
	tableOrders          = "orders"
	tableReceipts        = "receipts"
	tableTickets         = "tickets"
	tableMessages        = "messages"
	tableInconsistencies = "inconsistencies"
)

func idIndex() *memdb.IndexSchema {
	return &memdb.IndexSchema{Name: "id", Unique: true, Indexer: &memdb.IntFieldIndex{Field: "ID"}}
}

func intIndex(name, field string) *memdb.IndexSchema {
	return &memdb.IndexSchema{Name: name, Indexer: &memdb.IntFieldIndex{Field: field}}
}

func stringIndex(name, field string) *memdb.IndexSchema {
	return &memdb.IndexSchema{Name: name, Indexer: &memdb.StringFieldIndex{Field: field}}
}

func table(name string, indexes ...*memdb.IndexSchema) *memdb.TableSchema {
	ts := &memdb.TableSchema{Name: name, Indexes: map[string]*memdb.IndexSchema{}}
	for _, idx := range indexes {
		ts.Indexes[idx.Name] = idx
	}
	return ts
}

func schema() *memdb.DBSchema {
	tables := []*memdb.TableSchema{
		table(tableUsers, idIndex()),
		table(tableTransactions, idIndex(), intIndex("user", "UserID")),
		table(tablePlans, idIndex()),
		table(tableUnits, idIndex(), intIndex("plan", "PlanID")),
		table(tableDiscounts, idIndex(),
			&memdb.IndexSchema{Name: "code", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "Code"}}),
		table(tableRedemptions,
			&memdb.IndexSchema{Name: "id", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "Token"}}),
		table(tableOrders, idIndex(), intIndex("user", "UserID"), stringIndex("state", "State")),
		table(tableReceipts, idIndex(), stringIndex("status", "Status")),
		table(tableTickets, idIndex(), intIndex("user", "UserID"), stringIndex("status", "Status")),
		table(tableMessages, idIndex(), intIndex("ticket", "TicketID")),
		table(tableInconsistencies, idIndex()),
	}
	s := &memdb.DBSchema{Tables: map[string]*memdb.TableSchema{}}
	for _, t := range tables {
		s.Tables[t.Name] = t
	}
	return s
}

type backend struct {
	db  *memdb.MemDB
	seq map[string]*atomic.Int64
}

func newBackend() (*backend, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("failed to create memdb: %w", err)
	}
	b := &backend{db: db, seq: map[string]*atomic.Int64{}}
	for _, name := range []string{tableTransactions, tablePlans, tableUnits, tableDiscounts, tableOrders,
		tableReceipts, tableTickets, tableMessages, tableInconsistencies} {
		b.seq[name] = &atomic.Int64{}
	}
	return b, nil
}

func (b *backend) nextID(table string) int64 {
	return b.seq[table].Add(1)
}

// NewStore returns an empty in-memory store.
func NewStore() (*repository.Store, error) {
	b, err := newBackend()
	if err != nil {
		return nil, err
	}
	return &repository.Store{
		Users:           &UserRepository{b: b},
		Ledger:          &LedgerRepository{b: b},
		Plans:           &PlanRepository{b: b},
		Inventory:       &InventoryRepository{b: b},
		Discounts:       &DiscountRepository{b: b},
		Orders:          &OrderRepository{b: b},
		Receipts:        &ReceiptRepository{b: b},
		Tickets:         &TicketRepository{b: b},
		Inconsistencies: &InconsistencyRepository{b: b},
	}, nil
}

// first returns the first object matching the index lookup, or nil.
func first[T any](txn *memdb.Txn, table, index string, args ...any) (*T, error) {
	raw, err := txn.First(table, index, args...)
	if err != nil {
		return nil, fmt.Errorf("memdb lookup %s.%s: %w", table, index, err)
	}
	if raw == nil {
		return nil, nil
	}
	return raw.(*T), nil
}

// all collects every object matching the index lookup.
func all[T any](txn *memdb.Txn, table, index string, args ...any) ([]*T, error) {
	it, err := txn.Get(table, index, args...)
	if err != nil {
		return nil, fmt.Errorf("memdb scan %s.%s: %w", table, index, err)
	}
	var out []*T
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, raw.(*T))
	}
	return out, nil
}

// sortByID orders objects by their int64 id. memdb encodes integer keys as
// varints, so index iteration order is not numeric.
func sortByID[T any](items []*T, id func(*T) int64, desc bool) {
	sort.Slice(items, func(i, j int) bool {
		if desc {
			return id(items[i]) > id(items[j])
		}
		return id(items[i]) < id(items[j])
	})
}

func limitSlice[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

func values[T any](items []*T) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		out = append(out, *it)
	}
	return out
}

func insert(txn *memdb.Txn, table string, obj any) error {
	if err := txn.Insert(table, obj); err != nil {
		return fmt.Errorf("memdb insert %s: %w", table, err)
	}
	return nil
}
