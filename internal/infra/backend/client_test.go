package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Spok95/wms-pda/internal/domain/order"
	"github.com/Spok95/wms-pda/internal/infra/idgen"
)

type captured struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   string
}

type stub struct {
	mu       sync.Mutex
	requests []captured
	replies  map[string]reply
}

type reply struct {
	status int
	body   string
}

func (s *stub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	s.requests = append(s.requests, captured{Method: r.Method, Path: r.URL.Path, Query: r.URL.Query(), Header: r.Header.Clone(), Body: string(b)})
	rep, ok := s.replies[r.URL.Path]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	if rep.status == 0 {
		rep.status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rep.status)
	_, _ = io.WriteString(w, rep.body)
}

func (s *stub) last(t *testing.T) captured {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.requests)
	return s.requests[len(s.requests)-1]
}

func newStub(t *testing.T, replies map[string]reply, opts ...Option) (*stub, *Client) {
	t.Helper()
	s := &stub{replies: replies}
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	c, err := New(ClientContext{BaseURL: srv.URL, Token: `"Bearer abc.def"`, Operator: "op-7"}, opts...)
	require.NoError(t, err)
	return s, c
}

const inPrefix = "/normalService/pda/wmsMaterialInstock"

func inOrders(c *Client) *Orders {
	return c.Orders(order.KindMaterialIn, DefaultEndpoints(order.KindMaterialIn))
}

func TestBaseURL(t *testing.T) {
	u, err := BaseURL("https://wms.example.com", "10.0.0.5", "8080")
	require.NoError(t, err)
	assert.Equal(t, "https://wms.example.com", u)

	u, err = BaseURL("", "10.0.0.5", "8080")
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5:8080", u)

	u, err = BaseURL("", "HTTPS://wms.local", "")
	require.NoError(t, err)
	assert.Equal(t, "HTTPS://wms.local", u)

	_, err = BaseURL(" ", "", "8080")
	assert.Error(t, err)
}

func TestCleanToken(t *testing.T) {
	assert.Equal(t, "abc.def", CleanToken(`"Bearer abc.def"`))
	assert.Equal(t, "abc.def", CleanToken("bearer: abc.def\n"))
	assert.Equal(t, "abcdef", CleanToken("'abc def'"))
	assert.Equal(t, "", CleanToken("  "))
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix(), "sub": "op-7"}).SignedString([]byte("secret"))
	require.NoError(t, err)

	got, ok := ClientContext{Token: "Bearer " + tok}.TokenExpiry()
	require.True(t, ok)
	assert.True(t, got.Equal(exp))

	_, ok = ClientContext{Token: "opaque-token"}.TokenExpiry()
	assert.False(t, ok)
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	_, err := New(ClientContext{})
	assert.Error(t, err)
	_, err = New(ClientContext{BaseURL: "wms.local"})
	assert.Error(t, err)
}

func TestAcceptScanSendsAuthAndBody(t *testing.T) {
	ids, err := idgen.New(3)
	require.NoError(t, err)
	s, c := newStub(t, map[string]reply{
		inPrefix + "/getInStockByBarcode": {body: `{"code":200,"message":"ok","success":true,"result":null,"costTime":4}`},
	}, WithRequestIDs(ids))

	require.NoError(t, inOrders(c).AcceptScan(context.Background(), "O1", "B1"))

	req := s.last(t)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "abc.def", req.Header.Get("token"))
	assert.Equal(t, "abc.def", req.Header.Get("satoken"))
	assert.Equal(t, "Bearer abc.def", req.Header.Get("Authorization"))
	assert.NotEmpty(t, req.Header.Get("X-Request-Id"))
	assert.JSONEq(t, `{"barcode":"B1","id":"O1"}`, req.Body)
}

func TestWriteOutcomes(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{"success", 200, `{"success":true,"result":true}`, func(t *testing.T, err error) { assert.NoError(t, err) }},
		{"success without result", 200, `{"success":true}`, func(t *testing.T, err error) { assert.NoError(t, err) }},
		{"soft failure", 200, `{"success":true,"result":false,"message":"barcode used"}`, func(t *testing.T, err error) {
			var re *order.RejectionError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, "barcode used", re.Message)
		}},
		{"business failure", 200, `{"success":false,"message":"not on order"}`, func(t *testing.T, err error) {
			assert.Equal(t, "not on order", order.UserMessage(err))
		}},
		{"server error", 500, `{"success":false,"message":"db down"}`, func(t *testing.T, err error) {
			var ne *order.NetworkError
			require.ErrorAs(t, err, &ne)
			assert.Equal(t, 500, ne.Status)
			assert.Equal(t, "db down", ne.Message)
		}},
		{"garbage", 200, `<html>`, func(t *testing.T, err error) {
			var ne *order.NetworkError
			require.ErrorAs(t, err, &ne)
			assert.Equal(t, "Server unreachable, please retry", order.UserMessage(err))
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, c := newStub(t, map[string]reply{inPrefix + "/getInStockByBarcode": {status: tc.status, body: tc.body}})
			tc.check(t, inOrders(c).AcceptScan(context.Background(), "O1", "B1"))
		})
	}
}

func TestTransportFailureIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()
	c, err := New(ClientContext{BaseURL: base}, WithTimeout(time.Second))
	require.NoError(t, err)

	err = inOrders(c).AcceptScan(context.Background(), "O1", "B1")
	var ne *order.NetworkError
	require.ErrorAs(t, err, &ne)
	assert.Zero(t, ne.Status)
}

func TestConfirmNeedsResultTrue(t *testing.T) {
	_, c := newStub(t, map[string]reply{
		inPrefix + "/confirm": {body: `{"success":true,"result":false,"message":"order already closed"}`},
	})
	err := inOrders(c).Confirm(context.Background(), order.ConfirmRequest{OrderID: "O1"})
	var re *order.RejectionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "order already closed", order.UserMessage(err))

	s, c := newStub(t, map[string]reply{inPrefix + "/confirm": {body: `{"success":true,"result":true}`}})
	req := order.ConfirmRequest{OrderID: "O1", OrderType: "material_in", Operator: "op-7", Date: "2026-10-18 10:00:00",
		Details: []order.ConfirmDetail{{DetailID: "D1", Barcode: "B1", Qty: 2}}}
	require.NoError(t, inOrders(c).Confirm(context.Background(), req))

	var sent map[string]any
	require.NoError(t, json.Unmarshal([]byte(s.last(t).Body), &sent))
	assert.Equal(t, "O1", sent["id"])
	assert.Len(t, sent["details"], 1)
}

func TestJudgeScanAll(t *testing.T) {
	for body, want := range map[string]bool{
		`{"success":true,"result":true}`:   true,
		`{"success":true,"result":"true"}`: true,
		`{"success":true,"result":false}`:  false,
		`{"success":true}`:                 false,
		`{"success":false,"result":true}`:  true,
	} {
		s, c := newStub(t, map[string]reply{inPrefix + "/judgeInstockDetailScanAll": {body: body}})
		got, err := inOrders(c).JudgeScanAll(context.Background(), "O1")
		require.NoError(t, err)
		assert.Equal(t, want, got, body)
		assert.Equal(t, "O1", s.last(t).Query.Get("id"))
	}
}

func TestPendingRowsQuantities(t *testing.T) {
	s, c := newStub(t, map[string]reply{
		inPrefix + "/getInStockDetail": {body: `{"success":true,"result":[
			{"id":"D1","materialCode":"M1","materialName":"Resin","instockQty":"3","qty":2.5,"location":"L1","instockWarehouseCode":"WH1"},
			{"id":"D2","materialCode":"M2","instockQty":null,"qty":""},
			{"id":"D3","materialCode":"M3","instockQty":4.4,"qty":null}
		]}`},
	})

	rows, err := inOrders(c).PendingRows(context.Background(), "O1")
	require.NoError(t, err)
	assert.Equal(t, "O1", s.last(t).Query.Get("instockId"))
	require.Len(t, rows, 3)
	assert.Equal(t, order.PendingRow{DetailID: "D1", MaterialCode: "M1", MaterialName: "Resin", ExpectedQty: 3, ScannedQty: 3, Location: "L1", WarehouseCode: "WH1"}, rows[0])
	assert.Equal(t, 0, rows[1].ExpectedQty)
	assert.Equal(t, 0, rows[1].ScannedQty)
	assert.Equal(t, 4, rows[2].ExpectedQty)
}

func TestScannedRowsOutbound(t *testing.T) {
	s, c := newStub(t, map[string]reply{
		"/normalService/pda/wmsMaterialOutstock/getOutStockScanDetail": {body: `{"success":true,"result":[
			{"id":" D1 ","barcode":" B1 ","qty":"2","scanStatus":true},
			{"id":"D2","barcode":"B2","qty":1,"scanStatus":null}
		]}`},
	})
	o := c.Orders(order.KindMaterialOut, DefaultEndpoints(order.KindMaterialOut))

	rows, err := o.ScannedRows(context.Background(), "O9")
	require.NoError(t, err)
	assert.Equal(t, "O9", s.last(t).Query.Get("OutstockId"))
	require.Len(t, rows, 2)
	assert.Equal(t, order.ScannedRow{Barcode: "B1", DetailID: "D1", Qty: 2, ScanStatus: true}, rows[0])
	assert.False(t, rows[1].ScanStatus)
}

func TestListOrders(t *testing.T) {
	s, c := newStub(t, map[string]reply{
		inPrefix + "/getInStock": {body: `{"success":true,"result":{"pageNo":1,"pageSize":50,"total":1,"records":[
			{"id":"O1","instockNo":"IN-0001","orderType":"purchase","orderTypeName":"Purchase","supplierName":"ACME","instockQty":"12","createdTime":"2026-10-18 08:00:00"}
		]}}`},
	})
	from := time.Date(2026, 10, 1, 15, 30, 0, 0, time.Local)
	to := time.Date(2026, 10, 18, 9, 0, 0, 0, time.Local)

	page, err := inOrders(c).ListOrders(context.Background(), order.Query{
		No: " IN-0001 ", From: from, To: to, Statuses: []string{"0", "1"}, OrderTypes: []string{"purchase", "return"},
	})
	require.NoError(t, err)
	q := s.last(t).Query
	assert.Equal(t, "2026-10-01 00:00:00", q.Get("createdTimeBegin"))
	assert.Equal(t, "2026-10-18 23:59:59", q.Get("createdTimeEnd"))
	assert.Equal(t, "1", q.Get("pageNo"))
	assert.Equal(t, "50", q.Get("pageSize"))
	assert.Equal(t, "IN-0001", q.Get("instockNo"))
	assert.Equal(t, "0,1", q.Get("instockStatusList"))
	assert.Equal(t, "purchase,return", q.Get("orderTypeList"))

	require.Len(t, page.Records, 1)
	assert.Equal(t, int64(1), page.Total)
	assert.Equal(t, order.Summary{ID: "O1", No: "IN-0001", OrderType: "purchase", TypeName: "Purchase", SupplierName: "ACME", Qty: 12, CreatedAt: "2026-10-18 08:00:00"}, page.Records[0])
}

func TestFindOrderNestedPage(t *testing.T) {
	_, c := newStub(t, map[string]reply{
		"/normalService/pda/wmsMaterialOutstock/getOutStock": {body: `{"success":true,"result":{"list":{"total":2,"records":[
			{"id":"O7","outstockNo":"OUT-0007-A"},
			{"id":"O8","outstockNo":"OUT-0007"}
		]}}}`},
	})
	o := c.Orders(order.KindMaterialOut, DefaultEndpoints(order.KindMaterialOut))

	got, err := o.FindOrder(context.Background(), "out-0007", "op-7")
	require.NoError(t, err)
	assert.Equal(t, order.Order{ID: "O8", No: "OUT-0007", Kind: order.KindMaterialOut, Operator: "op-7"}, got)

	_, err = o.FindOrder(context.Background(), "OUT-9999", "op-7")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestCancelAndUpdates(t *testing.T) {
	s, c := newStub(t, map[string]reply{
		inPrefix + "/cancelScan":     {body: `{"success":true,"result":true}`},
		inPrefix + "/updateQuantity": {body: `{"success":true,"result":true}`},
		inPrefix + "/updateLocation": {body: `{"success":true,"result":true}`},
	})
	o := inOrders(c)
	ctx := context.Background()

	require.NoError(t, o.CancelScan(ctx, "O1", []order.Key{{DetailID: "D1", Barcode: "B1"}}))
	assert.JSONEq(t, `[{"barcode":"B1","id":"D1"}]`, s.last(t).Body)

	require.NoError(t, o.UpdateQuantity(ctx, "O1", order.Key{DetailID: "D1", Barcode: "B1"}, 5))
	assert.JSONEq(t, `{"barcode":"B1","detailId":"D1","id":"O1","quantity":5}`, s.last(t).Body)

	require.NoError(t, o.UpdateLocation(ctx, "O1", order.Key{DetailID: "D1"}, order.Placement{WarehouseCode: "WH1", WarehouseName: "Main", Location: "WH1-A-01-01"}))
	assert.JSONEq(t, `{"detailId":"D1","id":"O1","instockWarehouse":"Main","instockWarehouseCode":"WH1","location":"WH1-A-01-01"}`, s.last(t).Body)
}

func TestScanConfirmBatch(t *testing.T) {
	const outPrefix = "/normalService/pda/wmsMaterialOutstock"
	s, c := newStub(t, map[string]reply{
		inPrefix + "/scanConfirm":     {body: `{"success":true,"result":true}`},
		outPrefix + "/scanOutConfirm": {body: `{"success":true,"result":false,"message":"already confirmed"}`},
	})
	ctx := context.Background()
	keys := []order.Key{{DetailID: "D1", Barcode: "B1"}, {DetailID: "D2", Barcode: "B2"}}

	require.NoError(t, inOrders(c).ScanConfirm(ctx, "O1", keys))
	got := s.last(t)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, inPrefix+"/scanConfirm", got.Path)
	assert.JSONEq(t, `[{"barcode":"B1","id":"D1"},{"barcode":"B2","id":"D2"}]`, got.Body)

	out := c.Orders(order.KindMaterialOut, DefaultEndpoints(order.KindMaterialOut))
	err := out.ScanConfirm(ctx, "O2", keys[:1])
	var re *order.RejectionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "already confirmed", re.Message)

	ep := DefaultEndpoints(order.KindMoldIn).With(map[string]string{"scan_confirm": "/mold/scanConfirm"})
	assert.Equal(t, "/mold/scanConfirm", ep.ScanConfirm)
}

func TestResolveDetail(t *testing.T) {
	ep := DefaultEndpoints(order.KindMaterialIn).With(map[string]string{"resolve_barcode": "/pda/resolve"})
	_, c := newStub(t, map[string]reply{"/pda/resolve": {body: `{"success":true,"result":{"detailId":"D4"}}`}})

	id, err := c.Orders(order.KindMaterialIn, ep).ResolveDetail(context.Background(), "O1", "PKG")
	require.NoError(t, err)
	assert.Equal(t, "D4", id)

	id, err = inOrders(c).ResolveDetail(context.Background(), "O1", "PKG")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestLocationTreeAndBins(t *testing.T) {
	s, c := newStub(t, map[string]reply{
		DefaultPaths.LocationTree: {body: `{"success":true,"result":{"catalogueType":"root","children":[
			{"catalogueType":"warehouse","warehouseName":"Main","warehouseCode":"WH1","children":[]}
		]}}`},
		DefaultPaths.LocationBins: {body: `{"success":true,"result":{"records":[
			{"id":"1","warehouseCode":"WH1","layer":"A-01","location":"WH1-A-01-01","inventoryStatus":"INSTOCK","status":"1"},
			{"id":"2","warehouseCode":"WH1","layer":"A-01","location":"WH1-A-01-02","inventoryStatus":"free","status":1}
		]}}`},
	})
	ctx := context.Background()

	tree, err := c.LocationTree(ctx)
	require.NoError(t, err)
	require.Len(t, tree, 1)
	assert.Equal(t, "WH1", tree[0].WarehouseCode)

	bins, err := c.BinsByLayer(ctx, "WH1", "A-01")
	require.NoError(t, err)
	q := s.last(t).Query
	assert.Equal(t, "A-01", q.Get("layer"))
	assert.Equal(t, "1", q.Get("status"))
	assert.Equal(t, "50", q.Get("pageSize"))
	require.Len(t, bins, 2)
	assert.True(t, bins[0].InStock)
	assert.True(t, bins[0].Active)
	assert.False(t, bins[1].InStock)
	assert.True(t, bins[1].Active)
}

func TestDictFields(t *testing.T) {
	_, c := newStub(t, map[string]reply{
		DefaultPaths.Dict: {body: `{"success":true,"result":[{"field":"instockStatus","dictItems":[{"dictItemValue":"1","dictItemName":"Pending"}]}]}`},
	})
	fields, err := c.DictFields(context.Background())
	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.Equal(t, "Pending", fields[0].Items[0].Name)
}

func TestEndpointsOverride(t *testing.T) {
	ep := DefaultEndpoints(order.KindMoldOut).With(map[string]string{"confirm": "/custom/confirm", "list": " "})
	assert.Equal(t, "/custom/confirm", ep.Confirm)
	assert.Equal(t, "/normalService/pda/wmsMoldOutstock/getOutStock", ep.List)
	assert.Equal(t, "outstock", ep.Param)
}

func TestRateLimitHonoursContext(t *testing.T) {
	_, c := newStub(t, map[string]reply{inPrefix + "/getInStockByBarcode": {body: `{"success":true}`}}, WithRateLimit(0.001, 1))
	o := inOrders(c)
	require.NoError(t, o.AcceptScan(context.Background(), "O1", "B1"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := o.AcceptScan(ctx, "O1", "B1")
	var ne *order.NetworkError
	assert.ErrorAs(t, err, &ne)
}

func TestDecodePageShapes(t *testing.T) {
	p, err := decodePage[string](json.RawMessage(`["a","b"]`))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, p.Records)

	p, err = decodePage[string](json.RawMessage(`null`))
	require.NoError(t, err)
	assert.Empty(t, p.Records)

	p, err = decodePage[string](json.RawMessage(`{"list":{"records":["x"]}}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, p.Records)
	assert.Equal(t, int64(1), p.Total)
}

func TestQtyRounding(t *testing.T) {
	for in, want := range map[string]int{`2.5`: 3, `"2.5"`: 3, `-2.5`: -3, `2.49`: 2, `null`: 0, `""`: 0, `7`: 7} {
		var q qty
		require.NoError(t, json.Unmarshal([]byte(in), &q), in)
		assert.Equal(t, want, int(q), in)
	}
	var q qty
	assert.Error(t, json.Unmarshal([]byte(`"abc"`), &q))
}
