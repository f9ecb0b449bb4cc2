package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"retailflow/backend/internal/domain"
	"retailflow/backend/internal/store"
)

// Store keeps the item table, receipts and operator accounts in process
// memory. Every operation takes the single mutex, so the composite
// sale/return mutations are trivially atomic: a caller either observes
// the state before a commit or after it, never in between.
type Store struct {
	mu            sync.RWMutex
	items         map[string]domain.Item
	receipts      map[int64]*domain.Receipt
	nextReceiptNo int64
	operators     map[string]domain.Operator
}

func New() *Store {
	return &Store{
		items:     make(map[string]domain.Item),
		receipts:  make(map[int64]*domain.Receipt),
		operators: make(map[string]domain.Operator),
	}
}

// NewSeeded returns a store preloaded with a small item table and the
// default dev operators, for running without a database or CSV files.
func NewSeeded() *Store {
	s := New()

	items := []domain.Item{
		{UPC: "030000512203", Description: "Rolled Oats 18oz", MaxQty: 60, OrderThreshold: 12, ReplenishmentQty: 24, OnHand: 40, UnitPrice: decimal.RequireFromString("3.49")},
		{UPC: "041196910148", Description: "Chicken Noodle Soup", MaxQty: 80, OrderThreshold: 20, ReplenishmentQty: 36, OnHand: 55, UnitPrice: decimal.RequireFromString("1.89")},
		{UPC: "049000050103", Description: "Sparkling Water 12pk", MaxQty: 40, OrderThreshold: 8, ReplenishmentQty: 16, OnHand: 22, UnitPrice: decimal.RequireFromString("5.99")},
		{UPC: "072250011532", Description: "Whole Wheat Bread", MaxQty: 30, OrderThreshold: 6, ReplenishmentQty: 12, OnHand: 18, UnitPrice: decimal.RequireFromString("2.75")},
		{UPC: "078742370361", Description: "Dozen Large Eggs", MaxQty: 50, OrderThreshold: 10, ReplenishmentQty: 20, OnHand: 33, UnitPrice: decimal.RequireFromString("4.25")},
		{UPC: "011110857668", Description: "2% Milk Gallon", MaxQty: 45, OrderThreshold: 9, ReplenishmentQty: 18, OnHand: 27, UnitPrice: decimal.RequireFromString("3.15")},
		{UPC: "028400047708", Description: "Tortilla Chips", MaxQty: 70, OrderThreshold: 14, ReplenishmentQty: 28, OnHand: 51, UnitPrice: decimal.RequireFromString("3.99")},
		{UPC: "051000012616", Description: "Tomato Ketchup 20oz", MaxQty: 65, OrderThreshold: 13, ReplenishmentQty: 26, OnHand: 44, UnitPrice: decimal.RequireFromString("2.49")},
	}
	for _, item := range items {
		s.items[item.UPC] = item
	}

	for username, op := range seedOperators() {
		s.operators[username] = op
	}

	return s
}

// seedOperators builds the initial operator accounts for dev/demo mode.
// Credentials come from SEED_MANAGER_PASSWORD and SEED_CASHIER_PASSWORD;
// if unset, hardcoded dev defaults are used with a warning. These are
// never used in production (the backend uses PostgreSQL when
// DATABASE_URL is set).
func seedOperators() map[string]domain.Operator {
	managerPwd := envOr("SEED_MANAGER_PASSWORD", "manager123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_MANAGER_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_MANAGER_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	operators := map[string]domain.Operator{}
	for _, o := range []struct {
		username string
		password string
		role     string
	}{
		{"manager", managerPwd, domain.RoleManager},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(o.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", o.username, err)
		}
		operators[o.username] = domain.Operator{
			Username:  o.username,
			Password:  string(hash),
			Role:      o.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return operators
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) ListItems(_ context.Context) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.Item, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, b domain.Item) int {
		return strings.Compare(a.UPC, b.UPC)
	})
	return items, nil
}

func (s *Store) GetItem(_ context.Context, upc string) (*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[upc]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := item
	return &copied, nil
}

func (s *Store) PutItem(_ context.Context, item domain.Item) error {
	if item.UPC == "" || item.Description == "" {
		return store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[item.UPC] = item
	return nil
}

func (s *Store) ApplyStockDelta(_ context.Context, upc string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.applyStockDeltaLocked(upc, delta)
}

func (s *Store) applyStockDeltaLocked(upc string, delta int) error {
	item, ok := s.items[upc]
	if !ok {
		return store.ErrNotFound
	}
	item.OnHand += delta
	s.items[upc] = item
	return nil
}

func (s *Store) CreateReceipt(_ context.Context, lines []domain.SaleLine) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.createReceiptLocked(lines), nil
}

func (s *Store) createReceiptLocked(lines []domain.SaleLine) int64 {
	s.nextReceiptNo++
	receipt := &domain.Receipt{
		ReceiptNo: s.nextReceiptNo,
		Canceled:  false,
		Lines:     cloneLines(lines),
		CreatedAt: time.Now().UTC(),
	}
	s.receipts[receipt.ReceiptNo] = receipt
	return receipt.ReceiptNo
}

func (s *Store) GetReceipt(_ context.Context, receiptNo int64) (*domain.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	receipt, ok := s.receipts[receiptNo]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneReceipt(receipt), nil
}

func (s *Store) SetReceiptCanceled(_ context.Context, receiptNo int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	receipt, ok := s.receipts[receiptNo]
	if !ok {
		return store.ErrNotFound
	}
	receipt.Canceled = true
	return nil
}

func (s *Store) UpdateReceiptLineQty(_ context.Context, receiptNo int64, upc string, newQty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	receipt, ok := s.receipts[receiptNo]
	if !ok {
		return store.ErrNotFound
	}
	setLineQtyLocked(receipt, upc, newQty)
	return nil
}

// setLineQtyLocked overwrites the matching line's quantity, dropping the
// line entirely when the new quantity is zero or below.
func setLineQtyLocked(receipt *domain.Receipt, upc string, newQty int) {
	if newQty <= 0 {
		receipt.Lines = slices.DeleteFunc(receipt.Lines, func(l domain.SaleLine) bool {
			return l.UPC == upc
		})
		return
	}
	for i := range receipt.Lines {
		if receipt.Lines[i].UPC == upc {
			receipt.Lines[i].Qty = newQty
		}
	}
}

func (s *Store) CommitSale(_ context.Context, lines []domain.SaleLine) (*domain.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(lines) == 0 {
		return nil, store.ErrInvalidRequest
	}

	// Validate everything before touching state, so a rejected sale
	// leaves neither inventory nor receipts mutated.
	need := make(map[string]int, len(lines))
	for _, line := range lines {
		if line.Qty < 1 {
			return nil, store.ErrInvalidQty
		}
		need[line.UPC] += line.Qty
	}
	for upc, qty := range need {
		item, ok := s.items[upc]
		if !ok {
			return nil, store.ErrNotFound
		}
		if item.OnHand < qty {
			return nil, store.ErrInsufficientStock
		}
	}

	for upc, qty := range need {
		if err := s.applyStockDeltaLocked(upc, -qty); err != nil {
			return nil, err
		}
	}
	receiptNo := s.createReceiptLocked(lines)
	return cloneReceipt(s.receipts[receiptNo]), nil
}

func (s *Store) CancelReceipt(_ context.Context, receiptNo int64) (*domain.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	receipt, ok := s.receipts[receiptNo]
	if !ok {
		return nil, store.ErrNotFound
	}
	if receipt.Canceled {
		return nil, store.ErrAlreadyCanceled
	}

	for _, line := range receipt.Lines {
		if err := s.applyStockDeltaLocked(line.UPC, line.Qty); err != nil {
			return nil, err
		}
	}
	receipt.Canceled = true
	return cloneReceipt(receipt), nil
}

func (s *Store) ReduceReceiptLine(_ context.Context, receiptNo int64, upc string, returnQty int) (*domain.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	receipt, ok := s.receipts[receiptNo]
	if !ok {
		return nil, store.ErrNotFound
	}
	if receipt.Canceled {
		return nil, store.ErrAlreadyCanceled
	}

	lineIdx := slices.IndexFunc(receipt.Lines, func(l domain.SaleLine) bool {
		return l.UPC == upc
	})
	if lineIdx < 0 {
		return nil, store.ErrLineNotFound
	}
	line := receipt.Lines[lineIdx]
	if returnQty < 1 || returnQty > line.Qty {
		return nil, store.ErrInvalidQty
	}

	if err := s.applyStockDeltaLocked(upc, returnQty); err != nil {
		return nil, err
	}
	setLineQtyLocked(receipt, upc, line.Qty-returnQty)
	return cloneReceipt(receipt), nil
}

func (s *Store) CreateOperator(_ context.Context, op domain.Operator) error {
	if op.Username == "" || op.Password == "" {
		return store.ErrInvalidRequest
	}
	if op.Role == "" {
		op.Role = domain.RoleCashier
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.operators[op.Username] = op
	return nil
}

func (s *Store) ListOperators(_ context.Context) ([]domain.Operator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	operators := make([]domain.Operator, 0, len(s.operators))
	for _, op := range s.operators {
		operators = append(operators, op)
	}
	slices.SortFunc(operators, func(a, b domain.Operator) int {
		return strings.Compare(a.Username, b.Username)
	})
	return operators, nil
}

func cloneLines(lines []domain.SaleLine) []domain.SaleLine {
	copied := make([]domain.SaleLine, len(lines))
	copy(copied, lines)
	return copied
}

func cloneReceipt(receipt *domain.Receipt) *domain.Receipt {
	copied := *receipt
	copied.Lines = cloneLines(receipt.Lines)
	return &copied
}
