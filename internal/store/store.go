package store

import (
	"context"
	"errors"

	"retailflow/backend/internal/domain"
)

// Business-rule failures are reported as typed sentinels so callers can
// branch with errors.Is. Any other error surfacing from a Repository is
// a storage fault for that operation.
var (
	ErrNotFound           = errors.New("not found")
	ErrLineNotFound       = errors.New("receipt line not found")
	ErrAlreadyCanceled    = errors.New("receipt already canceled")
	ErrInvalidQty         = errors.New("invalid quantity")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrInsufficientTender = errors.New("insufficient tender")
	ErrInsufficientStock  = errors.New("insufficient stock")
)

// Repository is the combined inventory ledger and receipt store. The
// single-operation contracts are dumb state mutations with no business
// policy; policy lives in the coordinators. The composite operations
// (CommitSale, CancelReceipt, ReduceReceiptLine) pair an inventory
// mutation with a receipt mutation and must commit or roll back as one
// unit, even under concurrent callers.
type Repository interface {
	// Inventory ledger.
	ListItems(ctx context.Context) ([]domain.Item, error)
	GetItem(ctx context.Context, upc string) (*domain.Item, error)
	PutItem(ctx context.Context, item domain.Item) error
	// ApplyStockDelta shifts an item's on-hand count by delta (negative
	// for sale, positive for return). No bounds check: callers are
	// responsible for the delta being valid.
	ApplyStockDelta(ctx context.Context, upc string, delta int) error

	// Receipt store. Receipt numbers are unique and strictly increasing
	// across CreateReceipt calls. SetReceiptCanceled is an unconditional
	// flag set; UpdateReceiptLineQty overwrites a line's quantity and
	// deletes the line when newQty <= 0.
	CreateReceipt(ctx context.Context, lines []domain.SaleLine) (int64, error)
	GetReceipt(ctx context.Context, receiptNo int64) (*domain.Receipt, error)
	SetReceiptCanceled(ctx context.Context, receiptNo int64) error
	UpdateReceiptLineQty(ctx context.Context, receiptNo int64, upc string, newQty int) error

	// Atomic pairs. CommitSale decrements on-hand for every line and
	// creates the receipt, or does neither. CancelReceipt restores every
	// line's quantity and flips the canceled flag. ReduceReceiptLine
	// restores returnQty units and shrinks the matching line.
	CommitSale(ctx context.Context, lines []domain.SaleLine) (*domain.Receipt, error)
	CancelReceipt(ctx context.Context, receiptNo int64) (*domain.Receipt, error)
	ReduceReceiptLine(ctx context.Context, receiptNo int64, upc string, returnQty int) (*domain.Receipt, error)

	// Operator accounts.
	CreateOperator(ctx context.Context, op domain.Operator) error
	ListOperators(ctx context.Context) ([]domain.Operator, error)
}
