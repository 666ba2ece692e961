package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/Spok95/wms-pda/internal/domain/order"
)

const (
	SheetScanned = "Scanned" // first sheet, opened by default
	SheetPending = "Pending"
)

// Write renders the rows of one order as an XLSX workbook with a scanned and
// a pending sheet.
func Write(w io.Writer, o order.Order, snap order.Snapshot) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	// 1) sheets: the default one is renamed instead of deleted
	if err := f.SetSheetName(f.GetSheetName(f.GetActiveSheetIndex()), SheetScanned); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(SheetPending); err != nil {
		return fmt.Errorf("add sheet: %w", err)
	}

	// 2) scanned rows, header first
	scanned := [][]interface{}{{
		"order_no", "detail_id", "barcode", "material_code", "material_name", "spec",
		"warehouse_code", "location", "qty", "accepted", "submitted",
	}}
	for _, r := range snap.Scanned {
		scanned = append(scanned, []interface{}{
			o.No, r.DetailID, r.Barcode, r.MaterialCode, r.MaterialName, r.Spec,
			r.WarehouseCode, r.Location, r.Qty, yesNo(r.ScanStatus), yesNo(r.Submitted),
		})
	}
	if err := writeRows(f, SheetScanned, scanned); err != nil {
		return err
	}

	// 3) pending lines
	pending := [][]interface{}{{
		"order_no", "detail_id", "material_code", "material_name", "spec",
		"warehouse_code", "location", "expected_qty", "scanned_qty",
	}}
	for _, p := range snap.Pending {
		pending = append(pending, []interface{}{
			o.No, p.DetailID, p.MaterialCode, p.MaterialName, p.Spec,
			p.WarehouseCode, p.Location, p.ExpectedQty, p.ScannedQty,
		})
	}
	if err := writeRows(f, SheetPending, pending); err != nil {
		return err
	}

	// 4) readable ids and names, then out
	if err := f.SetColWidth(SheetScanned, "B", "F", 18); err != nil {
		return fmt.Errorf("column width: %w", err)
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// writeRows puts rows[i] on sheet row i+1 starting at column A.
func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &r); err != nil {
			return fmt.Errorf("%s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

// FileName is the download name of an order export.
func FileName(o order.Order, at time.Time) string {
	// order numbers may hold characters no file system takes
	no := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`/\:*?"<>| `, r) {
			return '_'
		}
		return r
	}, o.No)
	return fmt.Sprintf("%s_%s_%s.xlsx", o.Kind, no, at.Format("20060102_150405"))
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
