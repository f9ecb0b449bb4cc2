package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"retailflow/backend/internal/domain"
	"retailflow/backend/internal/store"
)

func seedItem(t *testing.T, s *Store, upc string, onHand int) {
	t.Helper()
	err := s.PutItem(context.Background(), domain.Item{
		UPC:         upc,
		Description: "test item " + upc,
		OnHand:      onHand,
		UnitPrice:   decimal.RequireFromString("2.50"),
	})
	if err != nil {
		t.Fatalf("put item: %v", err)
	}
}

func saleLine(upc string, qty int) domain.SaleLine {
	return domain.SaleLine{
		UPC:         upc,
		Description: "test item " + upc,
		UnitPrice:   decimal.RequireFromString("2.50"),
		Qty:         qty,
	}
}

func TestReceiptNumbersAreMonotonic(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedItem(t, s, "100", 100)

	seen := make(map[int64]bool)
	var last int64
	for i := 0; i < 5; i++ {
		receipt, err := s.CommitSale(ctx, []domain.SaleLine{saleLine("100", 1)})
		if err != nil {
			t.Fatalf("commit sale %d: %v", i, err)
		}
		if receipt.ReceiptNo <= last {
			t.Fatalf("receipt no %d not greater than previous %d", receipt.ReceiptNo, last)
		}
		if seen[receipt.ReceiptNo] {
			t.Fatalf("receipt no %d issued twice", receipt.ReceiptNo)
		}
		seen[receipt.ReceiptNo] = true
		last = receipt.ReceiptNo
	}
}

func TestApplyStockDeltaIsSigned(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedItem(t, s, "100", 10)

	if err := s.ApplyStockDelta(ctx, "100", -4); err != nil {
		t.Fatalf("negative delta: %v", err)
	}
	if err := s.ApplyStockDelta(ctx, "100", 7); err != nil {
		t.Fatalf("positive delta: %v", err)
	}
	item, err := s.GetItem(ctx, "100")
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if item.OnHand != 13 {
		t.Fatalf("on hand = %d, want 13", item.OnHand)
	}

	if err := s.ApplyStockDelta(ctx, "missing", 1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("delta on unknown upc = %v, want ErrNotFound", err)
	}
}

func TestCommitSaleLeavesNoTraceOnFailure(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedItem(t, s, "100", 5)

	_, err := s.CommitSale(ctx, []domain.SaleLine{
		saleLine("100", 2),
		saleLine("missing", 1),
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}

	item, err := s.GetItem(ctx, "100")
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if item.OnHand != 5 {
		t.Fatalf("failed sale mutated stock: on hand = %d", item.OnHand)
	}
	if _, err := s.GetReceipt(ctx, 1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("failed sale created a receipt: %v", err)
	}
}

func TestCommitSaleRejectsOversell(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedItem(t, s, "100", 3)

	_, err := s.CommitSale(ctx, []domain.SaleLine{saleLine("100", 4)})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("error = %v, want ErrInsufficientStock", err)
	}
}

func TestCancelReceiptRestocksOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedItem(t, s, "100", 10)

	receipt, err := s.CommitSale(ctx, []domain.SaleLine{saleLine("100", 4)})
	if err != nil {
		t.Fatalf("commit sale: %v", err)
	}

	canceled, err := s.CancelReceipt(ctx, receipt.ReceiptNo)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !canceled.Canceled {
		t.Fatalf("expected canceled flag set")
	}

	if _, err := s.CancelReceipt(ctx, receipt.ReceiptNo); !errors.Is(err, store.ErrAlreadyCanceled) {
		t.Fatalf("second cancel = %v, want ErrAlreadyCanceled", err)
	}

	item, err := s.GetItem(ctx, "100")
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if item.OnHand != 10 {
		t.Fatalf("on hand = %d, want 10", item.OnHand)
	}
}

func TestCancelZeroLineReceiptSucceeds(t *testing.T) {
	s := New()
	ctx := context.Background()

	receiptNo, err := s.CreateReceipt(ctx, nil)
	if err != nil {
		t.Fatalf("create receipt: %v", err)
	}
	canceled, err := s.CancelReceipt(ctx, receiptNo)
	if err != nil {
		t.Fatalf("cancel zero-line receipt: %v", err)
	}
	if !canceled.Canceled {
		t.Fatalf("expected canceled flag set")
	}
}

func TestReduceReceiptLineBounds(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedItem(t, s, "100", 20)

	receipt, err := s.CommitSale(ctx, []domain.SaleLine{saleLine("100", 5)})
	if err != nil {
		t.Fatalf("commit sale: %v", err)
	}

	if _, err := s.ReduceReceiptLine(ctx, receipt.ReceiptNo, "100", 6); !errors.Is(err, store.ErrInvalidQty) {
		t.Fatalf("over-quantity = %v, want ErrInvalidQty", err)
	}
	if _, err := s.ReduceReceiptLine(ctx, receipt.ReceiptNo, "100", 0); !errors.Is(err, store.ErrInvalidQty) {
		t.Fatalf("zero quantity = %v, want ErrInvalidQty", err)
	}
	if _, err := s.ReduceReceiptLine(ctx, receipt.ReceiptNo, "999", 1); !errors.Is(err, store.ErrLineNotFound) {
		t.Fatalf("unknown line = %v, want ErrLineNotFound", err)
	}

	reduced, err := s.ReduceReceiptLine(ctx, receipt.ReceiptNo, "100", 5)
	if err != nil {
		t.Fatalf("full-line reduce: %v", err)
	}
	if len(reduced.Lines) != 0 {
		t.Fatalf("expected line removed, got %+v", reduced.Lines)
	}
	if reduced.Canceled {
		t.Fatalf("reduce must not cancel the receipt")
	}

	item, err := s.GetItem(ctx, "100")
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if item.OnHand != 20 {
		t.Fatalf("on hand = %d, want 20", item.OnHand)
	}
}

func TestGetReceiptReturnsACopy(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedItem(t, s, "100", 10)

	receipt, err := s.CommitSale(ctx, []domain.SaleLine{saleLine("100", 2)})
	if err != nil {
		t.Fatalf("commit sale: %v", err)
	}

	first, err := s.GetReceipt(ctx, receipt.ReceiptNo)
	if err != nil {
		t.Fatalf("get receipt: %v", err)
	}
	first.Lines[0].Qty = 99
	first.Canceled = true

	second, err := s.GetReceipt(ctx, receipt.ReceiptNo)
	if err != nil {
		t.Fatalf("get receipt: %v", err)
	}
	if second.Lines[0].Qty != 2 || second.Canceled {
		t.Fatalf("caller mutation leaked into store: %+v", second)
	}
}

func TestSeededStoreHasOperators(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	operators, err := s.ListOperators(ctx)
	if err != nil {
		t.Fatalf("list operators: %v", err)
	}
	roles := make(map[string]string, len(operators))
	for _, op := range operators {
		roles[op.Username] = op.Role
	}
	if roles["manager"] != domain.RoleManager || roles["cashier"] != domain.RoleCashier {
		t.Fatalf("unexpected seeded operators: %+v", roles)
	}

	items, err := s.ListItems(ctx)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if len(items) == 0 {
		t.Fatalf("seeded store has no items")
	}
}
