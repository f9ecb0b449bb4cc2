package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Item is one row of the register's item table. OnHand is owned by the
// inventory ledger and is only ever mutated through signed deltas.
type Item struct {
	UPC              string          `json:"upc"`
	Description      string          `json:"description"`
	MaxQty           int             `json:"max_qty"`
	OrderThreshold   int             `json:"order_threshold"`
	ReplenishmentQty int             `json:"replenishment_qty"`
	OnHand           int             `json:"on_hand"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
}

// SaleLine snapshots the item's description and price at sale time, so
// later price edits never alter historical receipts.
type SaleLine struct {
	UPC         string          `json:"upc"`
	Description string          `json:"description"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Qty         int             `json:"qty"`
}

func (l SaleLine) Amount() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Qty)))
}

// Receipt is the permanent record of a committed sale. Receipts are
// never deleted: a full return flips Canceled, a partial return shrinks
// a line (removing it when its quantity reaches zero).
type Receipt struct {
	ReceiptNo int64      `json:"receipt_no"`
	Canceled  bool       `json:"canceled"`
	Lines     []SaleLine `json:"lines"`
	CreatedAt time.Time  `json:"created_at"`
}

func (r Receipt) Total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range r.Lines {
		total = total.Add(line.Amount())
	}
	return total
}

type SaleItemRequest struct {
	UPC string `json:"upc"`
	Qty int    `json:"qty"`
}

type SaleRequest struct {
	TenderedCash decimal.Decimal   `json:"tendered_cash"`
	Items        []SaleItemRequest `json:"items"`
}

type SaleResponse struct {
	ReceiptNo int64           `json:"receipt_no"`
	Total     decimal.Decimal `json:"total"`
	Tendered  decimal.Decimal `json:"tendered"`
	Change    decimal.Decimal `json:"change"`
	Lines     []SaleLine      `json:"lines"`
	CreatedAt string          `json:"created_at"`
}

type FullReturnRequest struct {
	ReceiptNo int64 `json:"receipt_no"`
}

type PartialReturnRequest struct {
	ReceiptNo int64  `json:"receipt_no"`
	UPC       string `json:"upc"`
	Qty       int    `json:"qty"`
}

type ReturnResponse struct {
	ReceiptNo    int64           `json:"receipt_no"`
	Canceled     bool            `json:"canceled"`
	RestockedQty int             `json:"restocked_qty"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
	Lines        []SaleLine      `json:"lines"`
}

type ReceiptResponse struct {
	Receipt Receipt `json:"receipt"`
}

type ItemListResponse struct {
	Items []Item `json:"items"`
}

// ReorderSuggestion is derived from the item table: an item at or below
// its order threshold suggests its replenishment quantity, capped so
// restocking never exceeds MaxQty.
type ReorderSuggestion struct {
	UPC            string `json:"upc"`
	Description    string `json:"description"`
	OnHand         int    `json:"on_hand"`
	OrderThreshold int    `json:"order_threshold"`
	SuggestedQty   int    `json:"suggested_qty"`
}

type ReorderReportResponse struct {
	GeneratedAt string              `json:"generated_at"`
	Suggestions []ReorderSuggestion `json:"suggestions"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// Operator is an internal persistence model for register credentials.
// Password holds a bcrypt hash, never plaintext.
type Operator struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	RoleManager = "manager"
	RoleCashier = "cashier"
)
