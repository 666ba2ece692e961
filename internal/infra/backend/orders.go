package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/Spok95/wms-pda/internal/domain/order"
)

// ErrOrderNotFound means the list query has no order with that exact number.
var ErrOrderNotFound = errors.New("order not found")

// Endpoints is the path set of one order kind. Param is the stem the backend
// uses in parameter and field names ("instock", "outstock").
type Endpoints struct {
	Param          string
	List           string
	Detail         string
	ScanDetail     string
	ScanByBarcode  string
	ScanConfirm    string
	CancelScan     string
	UpdateQuantity string
	UpdateLocation string
	JudgeScanAll   string
	Confirm        string
	ResolveBarcode string
}

// inbound and outbound differ in stems and a few paths; kinds share the rest.
func inbound(prefix string) Endpoints {
	return Endpoints{
		Param:          "instock",
		List:           prefix + "/getInStock",
		Detail:         prefix + "/getInStockDetail",
		ScanDetail:     prefix + "/getInStockScanDetail",
		ScanByBarcode:  prefix + "/getInStockByBarcode",
		ScanConfirm:    prefix + "/scanConfirm",
		CancelScan:     prefix + "/cancelScan",
		UpdateQuantity: prefix + "/updateQuantity",
		UpdateLocation: prefix + "/updateLocation",
		JudgeScanAll:   prefix + "/judgeInstockDetailScanAll",
		Confirm:        prefix + "/confirm",
	}
}

func outbound(prefix string) Endpoints {
	return Endpoints{
		Param:          "outstock",
		List:           prefix + "/getOutStock",
		Detail:         prefix + "/getOutStockDetail",
		ScanDetail:     prefix + "/getOutStockScanDetail",
		ScanByBarcode:  prefix + "/getOutStockByBarcode",
		ScanConfirm:    prefix + "/scanOutConfirm",
		CancelScan:     prefix + "/cancelOutScan",
		UpdateQuantity: prefix + "/updateQuantity",
		UpdateLocation: prefix + "/updateLocation",
		JudgeScanAll:   prefix + "/judgeOutstockDetailScanAll",
		Confirm:        prefix + "/confirm",
	}
}

// DefaultEndpoints are the stock server paths of kind.
func DefaultEndpoints(kind order.Kind) Endpoints {
	switch kind {
	case order.KindMaterialOut:
		return outbound("/normalService/pda/wmsMaterialOutstock")
	case order.KindMoldIn:
		return inbound("/normalService/pda/wmsMoldInstock")
	case order.KindMoldOut:
		return outbound("/normalService/pda/wmsMoldOutstock")
	case order.KindFinishedOut:
		return outbound("/normalService/pda/wmsProductOutstock")
	}
	return inbound("/normalService/pda/wmsMaterialInstock") // material_in
}

// With applies per-name path overrides as they appear in config
// (list, detail, scan_detail, scan_by_barcode, scan_confirm, cancel_scan,
// update_quantity, update_location, judge_scan_all, confirm, resolve_barcode).
func (e Endpoints) With(overrides map[string]string) Endpoints {
	for k, v := range overrides {
		v = strings.TrimSpace(v)
		if v == "" {
			continue // blank keeps the default
		}
		switch strings.ToLower(k) {
		case "list":
			e.List = v
		case "detail":
			e.Detail = v
		case "scan_detail", "scandetail":
			e.ScanDetail = v
		case "scan_by_barcode", "scanbybarcode":
			e.ScanByBarcode = v
		case "scan_confirm", "scanconfirm":
			e.ScanConfirm = v
		case "cancel_scan", "cancelscan":
			e.CancelScan = v
		case "update_quantity", "updatequantity":
			e.UpdateQuantity = v
		case "update_location", "updatelocation":
			e.UpdateLocation = v
		case "judge_scan_all", "judgescanall":
			e.JudgeScanAll = v
		case "confirm":
			e.Confirm = v
		case "resolve_barcode", "resolvebarcode":
			e.ResolveBarcode = v
		case "param":
			e.Param = v
		}
	}
	return e
}

func (e Endpoints) param(suffix string) string { return e.Param + suffix }

// capitalized form some detail endpoints expect ("InstockId").
func (e Endpoints) paramTitle(suffix string) string {
	if e.Param == "" {
		return suffix
	}
	return strings.ToUpper(e.Param[:1]) + e.Param[1:] + suffix
}

// Orders is the backend of one order kind. It implements session.Backend.
type Orders struct {
	c    *Client
	kind order.Kind
	ep   Endpoints
}

func (c *Client) Orders(kind order.Kind, ep Endpoints) *Orders {
	return &Orders{c: c, kind: kind, ep: ep}
}

func (o *Orders) Kind() order.Kind { return o.kind }

// summaryDTO covers both list shapes; inbound and outbound fill different fields.
type summaryDTO struct {
	ID            string `json:"id"`
	InstockNo     string `json:"instockNo"`
	OutstockNo    string `json:"outstockNo"`
	OrderType     string `json:"orderType"`
	OrderTypeName string `json:"orderTypeName"`
	Status        string `json:"status"`
	SupplierName  string `json:"supplierName"`
	Customer      string `json:"customer"`
	PurchaseNo    string `json:"purchaseNo"`
	WorkOrderNo   string `json:"workOrderNo"`
	MaterialName  string `json:"materialName"`
	InstockQty    qty    `json:"instockQty"`
	OutstockQty   qty    `json:"outstockQty"`
	CreatedTime   string `json:"createdTime"`
}

// ListOrders searches orders. The created-time window covers whole days.
func (o *Orders) ListOrders(ctx context.Context, q order.Query) (PageResult[order.Summary], error) {
	v := url.Values{}
	if !q.From.IsZero() {
		v.Set("createdTimeBegin", q.From.Format("2006-01-02")+" 00:00:00")
	}
	if !q.To.IsZero() {
		v.Set("createdTimeEnd", q.To.Format("2006-01-02")+" 23:59:59")
	}
	// 1-based, 50 per page unless asked otherwise
	pageNo, pageSize := q.PageNo, q.PageSize
	if pageNo < 1 {
		pageNo = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	v.Set("pageNo", fmt.Sprint(pageNo))
	v.Set("pageSize", fmt.Sprint(pageSize))
	if no := trim(q.No); no != "" {
		v.Set(o.ep.param("No"), no) // instockNo / outstockNo
	}
	if len(q.Statuses) > 0 {
		v.Set(o.ep.param("StatusList"), strings.Join(q.Statuses, ","))
	}
	if q.OrderType != "" {
		v.Set("orderType", q.OrderType)
	}
	if len(q.OrderTypes) > 0 {
		v.Set("orderTypeList", strings.Join(q.OrderTypes, ","))
	}

	const op = "list orders"
	env, err := o.c.get(ctx, op, o.ep.List, v)
	if err != nil {
		return PageResult[order.Summary]{}, err
	}
	if !env.Success {
		return PageResult[order.Summary]{}, &order.RejectionError{Op: op, Message: env.Message}
	}
	page, err := decodePage[summaryDTO](env.Result)
	if err != nil {
		return PageResult[order.Summary]{}, &order.NetworkError{Op: op, Err: fmt.Errorf("decode page: %w", err)}
	}

	out := PageResult[order.Summary]{PageNo: page.PageNo, PageSize: page.PageSize, Total: page.Total}
	for _, r := range page.Records {
		s := order.Summary{
			ID:           r.ID,
			No:           firstOf(r.InstockNo, r.OutstockNo),
			OrderType:    r.OrderType,
			TypeName:     r.OrderTypeName,
			Status:       r.Status,
			SupplierName: firstOf(r.SupplierName, r.Customer),
			PurchaseNo:   r.PurchaseNo,
			WorkOrderNo:  r.WorkOrderNo,
			MaterialName: r.MaterialName,
			Qty:          int(r.InstockQty),
			CreatedAt:    r.CreatedTime,
		}
		if s.Qty == 0 {
			s.Qty = int(r.OutstockQty) // outbound list
		}
		out.Records = append(out.Records, s)
	}
	return out, nil
}

// FindOrder opens the order with the exact number no.
func (o *Orders) FindOrder(ctx context.Context, no, operator string) (order.Order, error) {
	page, err := o.ListOrders(ctx, order.Query{No: no})
	if err != nil {
		return order.Order{}, err
	}
	// the list search may return near matches, keep only the exact number
	for _, s := range page.Records {
		if strings.EqualFold(s.No, trim(no)) {
			return order.Order{
				ID:          s.ID,
				No:          s.No,
				Kind:        o.kind,
				TypeName:    s.TypeName,
				WorkOrderNo: s.WorkOrderNo,
				Operator:    operator,
			}, nil
		}
	}
	return order.Order{}, fmt.Errorf("%s %s: %w", o.kind, no, ErrOrderNotFound)
}

// pendingDTO is one detail line; qty is what the server has scanned so far.
type pendingDTO struct {
	ID                    string `json:"id"`
	MaterialCode          string `json:"materialCode"`
	MaterialName          string `json:"materialName"`
	Spec                  string `json:"spec"`
	InstockQty            *qty   `json:"instockQty"`
	OutstockQty           *qty   `json:"outstockQty"`
	Qty                   qty    `json:"qty"`
	Location              string `json:"location"`
	InstockWarehouseCode  string `json:"instockWarehouseCode"`
	OutstockWarehouseCode string `json:"outstockWarehouseCode"`
}

// PendingRows loads the detail lines of an order in server order.
func (o *Orders) PendingRows(ctx context.Context, orderID string) ([]order.PendingRow, error) {
	const op = "pending rows"
	env, err := o.c.get(ctx, op, o.ep.Detail, url.Values{o.ep.param("Id"): {orderID}})
	if err != nil {
		return nil, err
	}
	var dtos []pendingDTO
	if err := env.decode(op, &dtos); err != nil {
		return nil, err
	}
	rows := make([]order.PendingRow, 0, len(dtos))
	for _, d := range dtos {
		// expected quantity lives in instockQty or outstockQty by kind
		expected := 0
		switch {
		case d.InstockQty != nil:
			expected = int(*d.InstockQty)
		case d.OutstockQty != nil:
			expected = int(*d.OutstockQty)
		}
		rows = append(rows, order.PendingRow{
			DetailID:      trim(d.ID),
			MaterialCode:  trim(d.MaterialCode),
			MaterialName:  d.MaterialName,
			Spec:          d.Spec,
			ExpectedQty:   expected,
			ScannedQty:    int(d.Qty),
			Location:      trim(d.Location),
			WarehouseCode: trim(firstOf(d.InstockWarehouseCode, d.OutstockWarehouseCode)),
		})
	}
	return rows, nil
}

type scannedDTO struct {
	ID            string `json:"id"`
	Barcode       string `json:"barcode"`
	MaterialCode  string `json:"materialCode"`
	MaterialName  string `json:"materialName"`
	Spec          string `json:"spec"`
	Qty           qty    `json:"qty"`
	WarehouseCode string `json:"warehouseCode"`
	Location      string `json:"location"`
	ScanStatus    *bool  `json:"scanStatus"`
}

// ScannedRows loads the scan records already stored for an order, including
// those still waiting for scan confirmation.
func (o *Orders) ScannedRows(ctx context.Context, orderID string) ([]order.ScannedRow, error) {
	const op = "scanned rows"
	env, err := o.c.get(ctx, op, o.ep.ScanDetail, url.Values{o.ep.paramTitle("Id"): {orderID}})
	if err != nil {
		return nil, err
	}
	var dtos []scannedDTO
	if err := env.decode(op, &dtos); err != nil {
		return nil, err
	}
	rows := make([]order.ScannedRow, 0, len(dtos))
	for _, d := range dtos {
		rows = append(rows, order.ScannedRow{
			Barcode:       trim(d.Barcode),
			DetailID:      trim(d.ID),
			MaterialCode:  trim(d.MaterialCode),
			MaterialName:  trim(d.MaterialName),
			Spec:          trim(d.Spec),
			Location:      trim(d.Location),
			WarehouseCode: trim(d.WarehouseCode),
			Qty:           int(d.Qty),
			ScanStatus:    d.ScanStatus != nil && *d.ScanStatus, // null is false
		})
	}
	return rows, nil
}

// AcceptScan registers one scan of barcode against the order.
func (o *Orders) AcceptScan(ctx context.Context, orderID, barcode string) error {
	const op = "accept scan"
	env, err := o.c.post(ctx, op, o.ep.ScanByBarcode, map[string]string{"barcode": barcode, "id": orderID})
	if err != nil {
		return err
	}
	return env.write(op)
}

// scanItem addresses one scan record; id is the detail line, not the order.
type scanItem struct {
	Barcode string `json:"barcode"`
	ID      string `json:"id"`
}

func scanItems(keys []order.Key) []scanItem {
	items := make([]scanItem, 0, len(keys))
	for _, k := range keys {
		items = append(items, scanItem{Barcode: k.Barcode, ID: k.DetailID})
	}
	return items
}

// ScanConfirm moves scan records from scanStatus=false to true in one batch.
func (o *Orders) ScanConfirm(ctx context.Context, _ string, keys []order.Key) error {
	const op = "scan confirm"
	env, err := o.c.post(ctx, op, o.ep.ScanConfirm, scanItems(keys))
	if err != nil {
		return err
	}
	return env.write(op)
}

// CancelScan deletes scan records; the detail id addresses them, not the order.
func (o *Orders) CancelScan(ctx context.Context, _ string, keys []order.Key) error {
	const op = "cancel scan"
	env, err := o.c.post(ctx, op, o.ep.CancelScan, scanItems(keys))
	if err != nil {
		return err
	}
	return env.write(op)
}

// UpdateQuantity overwrites the quantity of one scan record.
func (o *Orders) UpdateQuantity(ctx context.Context, orderID string, key order.Key, n int) error {
	const op = "update quantity"
	env, err := o.c.post(ctx, op, o.ep.UpdateQuantity, map[string]any{
		"barcode":  key.Barcode,
		"detailId": key.DetailID,
		"id":       orderID,
		"quantity": n,
	})
	if err != nil {
		return err
	}
	return env.write(op)
}

// UpdateLocation stores a bin on a detail line, or on one scan record when
// the key has a barcode.
func (o *Orders) UpdateLocation(ctx context.Context, orderID string, key order.Key, p order.Placement) error {
	const op = "update location"
	body := map[string]string{
		"detailId":                 key.DetailID,
		"id":                       orderID,
		o.ep.param("Warehouse"):     p.WarehouseName,
		o.ep.param("WarehouseCode"): p.WarehouseCode,
		"location":                 p.Location,
	}
	if key.Barcode != "" {
		body["barcode"] = key.Barcode
	}
	env, err := o.c.post(ctx, op, o.ep.UpdateLocation, body)
	if err != nil {
		return err
	}
	return env.write(op)
}

// JudgeScanAll is true only on an explicit result=true.
func (o *Orders) JudgeScanAll(ctx context.Context, orderID string) (bool, error) {
	const op = "judge scan all"
	env, err := o.c.get(ctx, op, o.ep.JudgeScanAll, url.Values{"id": {orderID}})
	if err != nil {
		return false, err
	}
	v, ok := env.resultBool()
	return ok && v, nil
}

// Confirm submits the order. Only success=true with result=true counts.
func (o *Orders) Confirm(ctx context.Context, req order.ConfirmRequest) error {
	const op = "confirm"
	env, err := o.c.post(ctx, op, o.ep.Confirm, req)
	if err != nil {
		return err
	}
	return env.strict(op)
}

// ResolveDetail maps a code with no local match to a detail id. Without a
// configured endpoint every such code is unknown.
func (o *Orders) ResolveDetail(ctx context.Context, orderID, code string) (string, error) {
	if o.ep.ResolveBarcode == "" {
		return "", nil
	}
	const op = "resolve barcode"
	env, err := o.c.get(ctx, op, o.ep.ResolveBarcode, url.Values{"id": {orderID}, "barcode": {code}})
	if err != nil {
		return "", err
	}
	if !env.Success || isNull(env.Result) {
		return "", nil // unknown code, not an error
	}
	// result is either the bare id or an object carrying it
	var id string
	if err := json.Unmarshal(env.Result, &id); err == nil {
		return trim(id), nil
	}
	var obj struct {
		DetailID string `json:"detailId"`
		ID       string `json:"id"`
	}
	if err := json.Unmarshal(env.Result, &obj); err != nil {
		return "", &order.NetworkError{Op: op, Err: fmt.Errorf("decode result: %w", err)}
	}
	return trim(firstOf(obj.DetailID, obj.ID)), nil
}

// firstOf returns the first non-blank value.
func firstOf(vals ...string) string {
	for _, v := range vals {
		if trim(v) != "" {
			return v
		}
	}
	return ""
}
