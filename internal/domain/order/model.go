package order

import "time"

// Kind selects the endpoint family of an order.
type Kind string

const (
	KindMaterialIn  Kind = "material_in"  // raw material receipt
	KindMaterialOut Kind = "material_out" // material issue
	KindMoldIn      Kind = "mold_in"      // mold return to stock
	KindMoldOut     Kind = "mold_out"     // mold issue
	KindFinishedOut Kind = "finished_out" // finished goods shipment
)

// Kinds in menu order.
var Kinds = []Kind{KindMaterialIn, KindMaterialOut, KindMoldIn, KindMoldOut, KindFinishedOut}

func (k Kind) Valid() bool {
	for _, v := range Kinds {
		if k == v {
			return true
		}
	}
	return false
}

// Order is one inbound or outbound transaction opened from a search result.
type Order struct {
	ID          string // server id, used in every call
	No          string // printed order number the operator types
	Kind        Kind
	TypeName    string
	WorkOrderNo string
	Operator    string // from config, not from the server
	CreatedAt   time.Time
}

// Summary is a search-result row.
type Summary struct {
	ID           string
	No           string
	OrderType    string
	TypeName     string
	Status       string // dictionary code, see dict
	SupplierName string
	PurchaseNo   string
	WorkOrderNo  string
	MaterialName string
	Qty          int
	CreatedAt    string // as the server formats it
}

// Query filters ListOrders. Dates are widened to whole days.
type Query struct {
	No         string // exact order number, or "" for the date range
	From       time.Time
	To         time.Time
	Statuses   []string
	OrderType  string
	OrderTypes []string
	PageNo     int
	PageSize   int
}

// PendingRow is an expected line supplied by the backend.
type PendingRow struct {
	DetailID      string `json:"detailId"`
	MaterialCode  string `json:"materialCode"`
	MaterialName  string `json:"materialName"`
	Spec          string `json:"spec"`
	ExpectedQty   int    `json:"expectedQty"`
	ScannedQty    int    `json:"scannedQty"`
	Location      string `json:"location"`
	WarehouseCode string `json:"warehouseCode"`
}

// Exhausted means no more scans fit on the line.
func (p PendingRow) Exhausted() bool { return p.ScannedQty >= p.ExpectedQty }

// ScannedRow is keyed by (Barcode, DetailID).
//
// ScanStatus is the server's scan confirmation: rows loaded with it false
// wait for State.ConfirmScans. Submitted rows went out in a successful
// confirmation.
type ScannedRow struct {
	Barcode       string `json:"barcode"`
	DetailID      string `json:"detailId"`
	MaterialCode  string `json:"materialCode"`
	MaterialName  string `json:"materialName"`
	Spec          string `json:"spec"`
	Location      string `json:"location"`
	WarehouseCode string `json:"warehouseCode"`
	Qty           int    `json:"qty"`
	ScanStatus    bool   `json:"scanStatus"`
	Submitted     bool   `json:"submitted"`
}

func (r ScannedRow) Key() Key { return Key{DetailID: r.DetailID, Barcode: r.Barcode} }

// Key addresses a row. An empty Barcode addresses the pending row of DetailID.
type Key struct {
	DetailID string
	Barcode  string
}

// Placement is the bin data written onto a row.
type Placement struct {
	WarehouseCode string
	WarehouseName string
	Location      string
}

// Snapshot is a copy of the row sets.
type Snapshot struct {
	Pending []PendingRow `json:"pending"`
	Scanned []ScannedRow `json:"scanned"`
}

// ConfirmRequest is the payload of the confirm call.
type ConfirmRequest struct {
	OrderID       string          `json:"id" validate:"required"`
	OrderNo       string          `json:"orderNo"`
	OrderType     string          `json:"orderType" validate:"required"`
	OrderTypeName string          `json:"orderTypeName,omitempty"`
	WorkOrderNo   string          `json:"workOrderNo,omitempty"`
	Operator      string          `json:"operator" validate:"required"`
	Date          string          `json:"date" validate:"required"`
	Details       []ConfirmDetail `json:"details" validate:"required,min=1,dive"`
}

// ConfirmDetail is one scanned row in the confirm payload.
type ConfirmDetail struct {
	DetailID      string `json:"detailId" validate:"required"`
	Barcode       string `json:"barcode" validate:"required"`
	MaterialCode  string `json:"materialCode"`
	MaterialName  string `json:"materialName"`
	Spec          string `json:"spec,omitempty"`
	WarehouseCode string `json:"warehouseCode"`
	Location      string `json:"location"`
	Qty           int    `json:"qty" validate:"min=1"`
}
