package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"retailflow/backend/internal/domain"
	"retailflow/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS items (
			upc TEXT PRIMARY KEY,
			description TEXT NOT NULL,
			max_qty INTEGER NOT NULL DEFAULT 0,
			order_threshold INTEGER NOT NULL DEFAULT 0,
			replenishment_qty INTEGER NOT NULL DEFAULT 0,
			on_hand INTEGER NOT NULL DEFAULT 0,
			unit_price NUMERIC(12,2) NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS receipts (
			receipt_no BIGSERIAL PRIMARY KEY,
			canceled BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS receipt_lines (
			receipt_no BIGINT NOT NULL REFERENCES receipts(receipt_no),
			upc TEXT NOT NULL,
			description TEXT NOT NULL,
			unit_price NUMERIC(12,2) NOT NULL,
			qty INTEGER NOT NULL,
			PRIMARY KEY (receipt_no, upc)
		)`,
		`CREATE TABLE IF NOT EXISTS operators (
			username TEXT PRIMARY KEY,
			password TEXT NOT NULL,
			role TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ListItems(ctx context.Context) ([]domain.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT upc, description, max_qty, order_threshold, replenishment_qty, on_hand, unit_price
		FROM items
		ORDER BY upc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Item, 0, 128)
	for rows.Next() {
		var item domain.Item
		if err := rows.Scan(&item.UPC, &item.Description, &item.MaxQty, &item.OrderThreshold,
			&item.ReplenishmentQty, &item.OnHand, &item.UnitPrice); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetItem(ctx context.Context, upc string) (*domain.Item, error) {
	var item domain.Item
	err := s.db.QueryRowContext(ctx, `
		SELECT upc, description, max_qty, order_threshold, replenishment_qty, on_hand, unit_price
		FROM items
		WHERE upc = $1
	`, upc).Scan(&item.UPC, &item.Description, &item.MaxQty, &item.OrderThreshold,
		&item.ReplenishmentQty, &item.OnHand, &item.UnitPrice)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) PutItem(ctx context.Context, item domain.Item) error {
	if item.UPC == "" || item.Description == "" {
		return store.ErrInvalidRequest
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (upc, description, max_qty, order_threshold, replenishment_qty, on_hand, unit_price, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())
		ON CONFLICT (upc)
		DO UPDATE SET description = EXCLUDED.description, max_qty = EXCLUDED.max_qty,
			order_threshold = EXCLUDED.order_threshold, replenishment_qty = EXCLUDED.replenishment_qty,
			on_hand = EXCLUDED.on_hand, unit_price = EXCLUDED.unit_price, updated_at = now()
	`, item.UPC, item.Description, item.MaxQty, item.OrderThreshold, item.ReplenishmentQty, item.OnHand, item.UnitPrice)
	return err
}

func (s *Store) ApplyStockDelta(ctx context.Context, upc string, delta int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE items
		SET on_hand = on_hand + $1, updated_at = now()
		WHERE upc = $2
	`, delta, upc)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateReceipt(ctx context.Context, lines []domain.SaleLine) (int64, error) {
	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = pgTx.Rollback() }()

	receiptNo, err := insertReceipt(ctx, pgTx, lines)
	if err != nil {
		return 0, err
	}
	if err := pgTx.Commit(); err != nil {
		return 0, err
	}
	return receiptNo, nil
}

func insertReceipt(ctx context.Context, pgTx *sql.Tx, lines []domain.SaleLine) (int64, error) {
	var receiptNo int64
	err := pgTx.QueryRowContext(ctx, `
		INSERT INTO receipts (canceled, created_at)
		VALUES (false, now())
		RETURNING receipt_no
	`).Scan(&receiptNo)
	if err != nil {
		return 0, err
	}

	for _, line := range lines {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO receipt_lines (receipt_no, upc, description, unit_price, qty)
			VALUES ($1,$2,$3,$4,$5)
		`, receiptNo, line.UPC, line.Description, line.UnitPrice, line.Qty)
		if err != nil {
			return 0, err
		}
	}
	return receiptNo, nil
}

func (s *Store) GetReceipt(ctx context.Context, receiptNo int64) (*domain.Receipt, error) {
	var receipt domain.Receipt
	err := s.db.QueryRowContext(ctx, `
		SELECT receipt_no, canceled, created_at
		FROM receipts
		WHERE receipt_no = $1
	`, receiptNo).Scan(&receipt.ReceiptNo, &receipt.Canceled, &receipt.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	lines, err := queryReceiptLines(ctx, s.db.QueryContext, receiptNo, false)
	if err != nil {
		return nil, err
	}
	receipt.Lines = lines
	return &receipt, nil
}

type queryFunc func(ctx context.Context, query string, args ...any) (*sql.Rows, error)

func queryReceiptLines(ctx context.Context, query queryFunc, receiptNo int64, forUpdate bool) ([]domain.SaleLine, error) {
	stmt := `
		SELECT upc, description, unit_price, qty
		FROM receipt_lines
		WHERE receipt_no = $1
		ORDER BY upc
	`
	if forUpdate {
		stmt += ` FOR UPDATE`
	}
	rows, err := query(ctx, stmt, receiptNo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.SaleLine, 0, 8)
	for rows.Next() {
		var line domain.SaleLine
		if err := rows.Scan(&line.UPC, &line.Description, &line.UnitPrice, &line.Qty); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (s *Store) SetReceiptCanceled(ctx context.Context, receiptNo int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE receipts
		SET canceled = true
		WHERE receipt_no = $1
	`, receiptNo)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateReceiptLineQty(ctx context.Context, receiptNo int64, upc string, newQty int) error {
	if newQty <= 0 {
		_, err := s.db.ExecContext(ctx, `
			DELETE FROM receipt_lines
			WHERE receipt_no = $1 AND upc = $2
		`, receiptNo, upc)
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE receipt_lines
		SET qty = $3
		WHERE receipt_no = $1 AND upc = $2
	`, receiptNo, upc, newQty)
	return err
}

// CommitSale decrements on-hand stock for every line and creates the
// receipt inside one serializable transaction: either all of it commits
// or none of it does.
func (s *Store) CommitSale(ctx context.Context, lines []domain.SaleLine) (*domain.Receipt, error) {
	if len(lines) == 0 {
		return nil, store.ErrInvalidRequest
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	for _, line := range lines {
		if line.Qty < 1 {
			return nil, store.ErrInvalidQty
		}

		var onHand int
		err := pgTx.QueryRowContext(ctx, `
			SELECT on_hand
			FROM items
			WHERE upc = $1
			FOR UPDATE
		`, line.UPC).Scan(&onHand)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, store.ErrNotFound
			}
			return nil, err
		}
		if onHand < line.Qty {
			return nil, store.ErrInsufficientStock
		}

		_, err = pgTx.ExecContext(ctx, `
			UPDATE items
			SET on_hand = on_hand - $1, updated_at = now()
			WHERE upc = $2
		`, line.Qty, line.UPC)
		if err != nil {
			return nil, err
		}
	}

	receiptNo, err := insertReceipt(ctx, pgTx, lines)
	if err != nil {
		return nil, err
	}

	var createdAt time.Time
	err = pgTx.QueryRowContext(ctx, `
		SELECT created_at FROM receipts WHERE receipt_no = $1
	`, receiptNo).Scan(&createdAt)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	return &domain.Receipt{
		ReceiptNo: receiptNo,
		Canceled:  false,
		Lines:     lines,
		CreatedAt: createdAt,
	}, nil
}

// CancelReceipt restores every line's quantity to inventory and flips
// the canceled flag, atomically. The canceled status is re-checked
// inside the transaction so a concurrent double return cannot restock
// twice.
func (s *Store) CancelReceipt(ctx context.Context, receiptNo int64) (*domain.Receipt, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var receipt domain.Receipt
	err = pgTx.QueryRowContext(ctx, `
		SELECT receipt_no, canceled, created_at
		FROM receipts
		WHERE receipt_no = $1
		FOR UPDATE
	`, receiptNo).Scan(&receipt.ReceiptNo, &receipt.Canceled, &receipt.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if receipt.Canceled {
		return nil, store.ErrAlreadyCanceled
	}

	lines, err := queryReceiptLines(ctx, pgTx.QueryContext, receiptNo, false)
	if err != nil {
		return nil, err
	}

	for _, line := range lines {
		_, err := pgTx.ExecContext(ctx, `
			UPDATE items
			SET on_hand = on_hand + $1, updated_at = now()
			WHERE upc = $2
		`, line.Qty, line.UPC)
		if err != nil {
			return nil, err
		}
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE receipts
		SET canceled = true
		WHERE receipt_no = $1 AND canceled = false
	`, receiptNo)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	receipt.Canceled = true
	receipt.Lines = lines
	return &receipt, nil
}

// ReduceReceiptLine restores returnQty units to inventory and shrinks
// the matching receipt line, deleting it when the quantity reaches
// zero, atomically.
func (s *Store) ReduceReceiptLine(ctx context.Context, receiptNo int64, upc string, returnQty int) (*domain.Receipt, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var receipt domain.Receipt
	err = pgTx.QueryRowContext(ctx, `
		SELECT receipt_no, canceled, created_at
		FROM receipts
		WHERE receipt_no = $1
		FOR UPDATE
	`, receiptNo).Scan(&receipt.ReceiptNo, &receipt.Canceled, &receipt.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if receipt.Canceled {
		return nil, store.ErrAlreadyCanceled
	}

	var lineQty int
	err = pgTx.QueryRowContext(ctx, `
		SELECT qty
		FROM receipt_lines
		WHERE receipt_no = $1 AND upc = $2
		FOR UPDATE
	`, receiptNo, upc).Scan(&lineQty)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrLineNotFound
		}
		return nil, err
	}
	if returnQty < 1 || returnQty > lineQty {
		return nil, store.ErrInvalidQty
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE items
		SET on_hand = on_hand + $1, updated_at = now()
		WHERE upc = $2
	`, returnQty, upc)
	if err != nil {
		return nil, err
	}

	newQty := lineQty - returnQty
	if newQty <= 0 {
		_, err = pgTx.ExecContext(ctx, `
			DELETE FROM receipt_lines
			WHERE receipt_no = $1 AND upc = $2
		`, receiptNo, upc)
	} else {
		_, err = pgTx.ExecContext(ctx, `
			UPDATE receipt_lines
			SET qty = $3
			WHERE receipt_no = $1 AND upc = $2
		`, receiptNo, upc, newQty)
	}
	if err != nil {
		return nil, err
	}

	lines, err := queryReceiptLines(ctx, pgTx.QueryContext, receiptNo, false)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	receipt.Lines = lines
	return &receipt, nil
}

func (s *Store) CreateOperator(ctx context.Context, op domain.Operator) error {
	if op.Username == "" || op.Password == "" {
		return store.ErrInvalidRequest
	}
	if op.Role == "" {
		op.Role = domain.RoleCashier
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO operators (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,now())
		ON CONFLICT (username)
		DO UPDATE SET password = EXCLUDED.password, role = EXCLUDED.role, active = EXCLUDED.active
	`, op.Username, op.Password, op.Role, op.Active)
	return err
}

func (s *Store) ListOperators(ctx context.Context) ([]domain.Operator, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM operators
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	operators := make([]domain.Operator, 0, 8)
	for rows.Next() {
		var op domain.Operator
		if err := rows.Scan(&op.Username, &op.Password, &op.Role, &op.Active, &op.CreatedAt); err != nil {
			return nil, err
		}
		operators = append(operators, op)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return operators, nil
}
