package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"retailflow/backend/internal/cache"
	"retailflow/backend/internal/domain"
	"retailflow/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// InventoryExporter receives the full item table after every committed
// sale or return (write-through). The exporter owns the durable format;
// export failure is logged and never rolls back a commit.
type InventoryExporter interface {
	Export(items []domain.Item) error
}

type NoopExporter struct{}

func (NoopExporter) Export(_ []domain.Item) error { return nil }

// Service holds the sale and return transaction coordinators. The
// repository is a dumb record keeper; all business policy (tender
// sufficiency, return quantity bounds, cancellation state) lives here.
type Service struct {
	repo     store.Repository
	receipts cache.ReceiptCache
	cacheTTL time.Duration
	exporter InventoryExporter
}

func New(repo store.Repository, receipts cache.ReceiptCache, cacheTTL time.Duration, exporter InventoryExporter) *Service {
	if receipts == nil {
		receipts = cache.NoopReceiptCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	if exporter == nil {
		exporter = NoopExporter{}
	}
	return &Service{
		repo:     repo,
		receipts: receipts,
		cacheTTL: cacheTTL,
		exporter: exporter,
	}
}

func (s *Service) ListItems(ctx context.Context) ([]domain.Item, error) {
	return s.repo.ListItems(ctx)
}

// CommitSale validates the request, snapshots price and description per
// line, rejects insufficient tender, and hands the decrement/receipt
// pair to the repository as one atomic commit.
func (s *Service) CommitSale(ctx context.Context, req domain.SaleRequest) (domain.SaleResponse, error) {
	normalized := normalizeSaleItems(req.Items)
	if len(normalized) == 0 {
		return domain.SaleResponse{}, store.ErrInvalidRequest
	}

	lines := make([]domain.SaleLine, 0, len(normalized))
	total := decimal.Zero
	for _, reqItem := range normalized {
		if reqItem.Qty < 1 {
			return domain.SaleResponse{}, store.ErrInvalidQty
		}
		item, err := s.repo.GetItem(ctx, reqItem.UPC)
		if err != nil {
			return domain.SaleResponse{}, err
		}
		line := domain.SaleLine{
			UPC:         item.UPC,
			Description: item.Description,
			UnitPrice:   item.UnitPrice,
			Qty:         reqItem.Qty,
		}
		lines = append(lines, line)
		total = total.Add(line.Amount())
	}

	if req.TenderedCash.Cmp(total) < 0 {
		return domain.SaleResponse{}, store.ErrInsufficientTender
	}

	receipt, err := s.repo.CommitSale(ctx, lines)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	s.exportInventory(ctx, "sale", receipt.ReceiptNo)

	return domain.SaleResponse{
		ReceiptNo: receipt.ReceiptNo,
		Total:     total,
		Tendered:  req.TenderedCash,
		Change:    req.TenderedCash.Sub(total),
		Lines:     receipt.Lines,
		CreatedAt: receipt.CreatedAt.Format(time.RFC3339),
	}, nil
}

// GetReceipt is a pure read: any number of calls returns identical data
// until a return mutates the receipt.
func (s *Service) GetReceipt(ctx context.Context, receiptNo int64) (domain.ReceiptResponse, error) {
	if receiptNo < 1 {
		return domain.ReceiptResponse{}, store.ErrNotFound
	}

	if cached, ok, err := s.receipts.Get(ctx, receiptNo); err != nil {
		log.Printf("[service] WARN: receipt cache read failed no=%d: %v", receiptNo, err)
	} else if ok {
		return domain.ReceiptResponse{Receipt: *cached}, nil
	}

	receipt, err := s.repo.GetReceipt(ctx, receiptNo)
	if err != nil {
		return domain.ReceiptResponse{}, err
	}

	if err := s.receipts.Set(ctx, receiptNo, receipt, s.cacheTTL); err != nil {
		log.Printf("[service] WARN: receipt cache write failed no=%d: %v", receiptNo, err)
	}

	return domain.ReceiptResponse{Receipt: *receipt}, nil
}

// ReturnAll reverses an entire receipt: every line's quantity goes back
// to inventory and the receipt is flagged canceled, atomically. A
// second call is rejected with ErrAlreadyCanceled and restores nothing.
func (s *Service) ReturnAll(ctx context.Context, req domain.FullReturnRequest) (domain.ReturnResponse, error) {
	if err := requireManager(ctx); err != nil {
		return domain.ReturnResponse{}, err
	}

	existing, err := s.repo.GetReceipt(ctx, req.ReceiptNo)
	if err != nil {
		return domain.ReturnResponse{}, err
	}
	if existing.Canceled {
		return domain.ReturnResponse{}, store.ErrAlreadyCanceled
	}

	receipt, err := s.repo.CancelReceipt(ctx, req.ReceiptNo)
	if err != nil {
		return domain.ReturnResponse{}, err
	}

	restocked := 0
	for _, line := range receipt.Lines {
		restocked += line.Qty
	}

	s.invalidateReceipt(ctx, req.ReceiptNo)
	s.exportInventory(ctx, "full-return", req.ReceiptNo)

	return domain.ReturnResponse{
		ReceiptNo:    receipt.ReceiptNo,
		Canceled:     true,
		RestockedQty: restocked,
		RefundAmount: receipt.Total(),
		Lines:        receipt.Lines,
	}, nil
}

// ReturnPartial reverses a bounded quantity of a single receipt line.
// Returning a line's full quantity deletes the line; the receipt itself
// stays open even when its last line disappears (only an explicit full
// return cancels a receipt).
func (s *Service) ReturnPartial(ctx context.Context, req domain.PartialReturnRequest) (domain.ReturnResponse, error) {
	if err := requireManager(ctx); err != nil {
		return domain.ReturnResponse{}, err
	}
	if req.Qty < 1 {
		return domain.ReturnResponse{}, store.ErrInvalidQty
	}
	upc := strings.TrimSpace(req.UPC)
	if upc == "" {
		return domain.ReturnResponse{}, store.ErrLineNotFound
	}

	existing, err := s.repo.GetReceipt(ctx, req.ReceiptNo)
	if err != nil {
		return domain.ReturnResponse{}, err
	}
	if existing.Canceled {
		return domain.ReturnResponse{}, store.ErrAlreadyCanceled
	}

	var line *domain.SaleLine
	for i := range existing.Lines {
		if existing.Lines[i].UPC == upc {
			line = &existing.Lines[i]
			break
		}
	}
	if line == nil {
		return domain.ReturnResponse{}, store.ErrLineNotFound
	}
	if req.Qty > line.Qty {
		return domain.ReturnResponse{}, store.ErrInvalidQty
	}
	refund := line.UnitPrice.Mul(decimal.NewFromInt(int64(req.Qty)))

	receipt, err := s.repo.ReduceReceiptLine(ctx, req.ReceiptNo, upc, req.Qty)
	if err != nil {
		return domain.ReturnResponse{}, err
	}

	s.invalidateReceipt(ctx, req.ReceiptNo)
	s.exportInventory(ctx, "partial-return", req.ReceiptNo)

	return domain.ReturnResponse{
		ReceiptNo:    receipt.ReceiptNo,
		Canceled:     receipt.Canceled,
		RestockedQty: req.Qty,
		RefundAmount: refund,
		Lines:        receipt.Lines,
	}, nil
}

// ReorderReport suggests replenishment for items at or below their
// order threshold, capped so on-hand never exceeds the item's max.
func (s *Service) ReorderReport(ctx context.Context) (domain.ReorderReportResponse, error) {
	items, err := s.repo.ListItems(ctx)
	if err != nil {
		return domain.ReorderReportResponse{}, err
	}

	suggestions := make([]domain.ReorderSuggestion, 0, len(items))
	for _, item := range items {
		if item.OnHand > item.OrderThreshold {
			continue
		}
		suggested := item.ReplenishmentQty
		if item.MaxQty > 0 && item.OnHand+suggested > item.MaxQty {
			suggested = item.MaxQty - item.OnHand
		}
		if suggested < 1 {
			continue
		}
		suggestions = append(suggestions, domain.ReorderSuggestion{
			UPC:            item.UPC,
			Description:    item.Description,
			OnHand:         item.OnHand,
			OrderThreshold: item.OrderThreshold,
			SuggestedQty:   suggested,
		})
	}

	return domain.ReorderReportResponse{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Suggestions: suggestions,
	}, nil
}

func requireManager(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleManager {
		return fmt.Errorf("manager role required")
	}
	return nil
}

func (s *Service) invalidateReceipt(ctx context.Context, receiptNo int64) {
	if err := s.receipts.Invalidate(ctx, receiptNo); err != nil {
		log.Printf("[service] WARN: receipt cache invalidation failed no=%d: %v", receiptNo, err)
	}
}

func (s *Service) exportInventory(ctx context.Context, op string, receiptNo int64) {
	items, err := s.repo.ListItems(ctx)
	if err != nil {
		log.Printf("[service] WARN: inventory export read failed after %s no=%d: %v", op, receiptNo, err)
		return
	}
	if err := s.exporter.Export(items); err != nil {
		log.Printf("[service] WARN: inventory export failed after %s no=%d: %v", op, receiptNo, err)
	}
}

// normalizeSaleItems trims identifiers, drops empty entries, and merges
// duplicate UPCs so receipt lines stay unique per (receipt, upc).
func normalizeSaleItems(items []domain.SaleItemRequest) []domain.SaleItemRequest {
	merged := make(map[string]int, len(items))
	order := make([]string, 0, len(items))
	for _, item := range items {
		upc := strings.TrimSpace(item.UPC)
		if upc == "" {
			continue
		}
		if _, seen := merged[upc]; !seen {
			order = append(order, upc)
		}
		merged[upc] += item.Qty
	}

	normalized := make([]domain.SaleItemRequest, 0, len(order))
	for _, upc := range order {
		normalized = append(normalized, domain.SaleItemRequest{UPC: upc, Qty: merged[upc]})
	}
	return normalized
}
