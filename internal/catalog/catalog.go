// Package catalog is the file boundary for the item table and operator
// roster. It produces validated records for the core and writes updated
// on-hand counts back; malformed rows are skipped at load time so the
// core never re-validates.
package catalog

import (
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"retailflow/backend/internal/domain"
)

var itemHeader = []string{
	"Item_UPC", "Item_Description", "Item_Max_Qty", "Item_Order_Threshold",
	"Item_Replenishment_Order_Qty", "Item_On_Hand", "Item_Unit_Price",
}

// LoadItems reads the item table CSV. Rows that fail to parse are
// skipped with a warning rather than aborting the load.
func LoadItems(path string) ([]domain.Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return readItems(f)
}

func readItems(r io.Reader) ([]domain.Item, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read item header: %w", err)
	}
	col := indexColumns(header)

	items := make([]domain.Item, 0, 64)
	for lineNum := 2; ; lineNum++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Printf("[catalog] WARN: skipping unreadable row %d: %v", lineNum, err)
			continue
		}

		item, err := parseItemRecord(col, record)
		if err != nil {
			log.Printf("[catalog] WARN: skipping malformed row %d: %v", lineNum, err)
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func indexColumns(header []string) map[string]int {
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	return col
}

func parseItemRecord(col map[string]int, record []string) (domain.Item, error) {
	field := func(name string) (string, error) {
		idx, ok := col[name]
		if !ok || idx >= len(record) {
			return "", fmt.Errorf("missing column %s", name)
		}
		return strings.TrimSpace(record[idx]), nil
	}
	intField := func(name string) (int, error) {
		raw, err := field(name)
		if err != nil {
			return 0, err
		}
		return strconv.Atoi(raw)
	}

	var item domain.Item
	var err error
	if item.UPC, err = field("Item_UPC"); err != nil {
		return domain.Item{}, err
	}
	if item.UPC == "" {
		return domain.Item{}, fmt.Errorf("empty Item_UPC")
	}
	if item.Description, err = field("Item_Description"); err != nil {
		return domain.Item{}, err
	}
	if item.MaxQty, err = intField("Item_Max_Qty"); err != nil {
		return domain.Item{}, err
	}
	if item.OrderThreshold, err = intField("Item_Order_Threshold"); err != nil {
		return domain.Item{}, err
	}
	if item.ReplenishmentQty, err = intField("Item_Replenishment_Order_Qty"); err != nil {
		return domain.Item{}, err
	}
	if item.OnHand, err = intField("Item_On_Hand"); err != nil {
		return domain.Item{}, err
	}
	priceRaw, err := field("Item_Unit_Price")
	if err != nil {
		return domain.Item{}, err
	}
	if item.UnitPrice, err = decimal.NewFromString(priceRaw); err != nil {
		return domain.Item{}, fmt.Errorf("bad Item_Unit_Price %q: %w", priceRaw, err)
	}
	if item.OnHand < 0 || item.UnitPrice.IsNegative() {
		return domain.Item{}, fmt.Errorf("negative on-hand or price")
	}
	return item, nil
}

// SaveItems writes the full item table back, carrying the updated
// on-hand counts. The write goes through a temp file and rename so a
// crash mid-write never truncates the table.
func SaveItems(path string, items []domain.Item) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".items-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	writer := csv.NewWriter(tmp)
	if err := writer.Write(itemHeader); err != nil {
		_ = tmp.Close()
		return err
	}
	for _, item := range items {
		record := []string{
			item.UPC,
			item.Description,
			strconv.Itoa(item.MaxQty),
			strconv.Itoa(item.OrderThreshold),
			strconv.Itoa(item.ReplenishmentQty),
			strconv.Itoa(item.OnHand),
			item.UnitPrice.StringFixed(2),
		}
		if err := writer.Write(record); err != nil {
			_ = tmp.Close()
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// LoadOperators reads the operator roster CSV (User_ID, Password).
// Passwords in the file are plaintext and must be hashed before they
// reach a store.
func LoadOperators(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read operator header: %w", err)
	}
	col := indexColumns(header)
	userIdx, userOK := col["User_ID"]
	pwdIdx, pwdOK := col["Password"]
	if !userOK || !pwdOK {
		return nil, fmt.Errorf("operator roster missing User_ID or Password column")
	}

	operators := make(map[string]string)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if userIdx >= len(record) || pwdIdx >= len(record) {
			continue
		}
		username := strings.TrimSpace(record[userIdx])
		password := strings.TrimSpace(record[pwdIdx])
		if username == "" || password == "" {
			continue
		}
		operators[username] = password
	}
	return operators, nil
}

// FileExporter persists the item table to a CSV path after commits.
type FileExporter struct {
	Path string
}

func (e FileExporter) Export(items []domain.Item) error {
	return SaveItems(e.Path, items)
}
