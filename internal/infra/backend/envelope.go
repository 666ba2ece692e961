package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Spok95/wms-pda/internal/domain/order"
)

// envelope is the common response wrapper of the backend.
type envelope struct {
	Code     json.Number     `json:"code"` // informational, success decides
	Message  string          `json:"message"`
	Success  bool            `json:"success"`
	Result   json.RawMessage `json:"result"`
	CostTime json.Number     `json:"costTime"` // server-side ms, unused
}

// resultBool reports the result when it is a JSON boolean (or "true"/"false").
func (e *envelope) resultBool() (value, ok bool) {
	switch strings.Trim(string(bytes.TrimSpace(e.Result)), `"`) {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}

// write accepts success=true unless the result is an explicit false.
func (e *envelope) write(op string) error {
	if !e.Success {
		return &order.RejectionError{Op: op, Message: e.Message}
	}
	if v, ok := e.resultBool(); ok && !v {
		return &order.RejectionError{Op: op, Message: e.Message}
	}
	return nil
}

// strict needs success=true and result=true; anything else is a soft failure.
func (e *envelope) strict(op string) error {
	v, ok := e.resultBool()
	if !e.Success || !ok || !v {
		return &order.RejectionError{Op: op, Message: e.Message}
	}
	return nil
}

// decode unmarshals result into dst. A null result leaves dst untouched.
func (e *envelope) decode(op string, dst any) error {
	if !e.Success {
		return &order.RejectionError{Op: op, Message: e.Message}
	}
	if isNull(e.Result) {
		return nil
	}
	if err := json.Unmarshal(e.Result, dst); err != nil {
		return &order.NetworkError{Op: op, Err: fmt.Errorf("decode result: %w", err)}
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

// PageResult is the one shape paged results are normalized to.
type PageResult[T any] struct {
	PageNo   int
	PageSize int
	Total    int64
	Records  []T
}

// rawPage is every page shape seen so far; decodePage picks the filled one.
type rawPage[T any] struct {
	PageNo   int         `json:"pageNo"`
	PageSize int         `json:"pageSize"`
	Total    json.Number `json:"total"`
	Records  []T         `json:"records"`
	List     *struct {
		Total   json.Number `json:"total"`
		Records []T         `json:"records"`
	} `json:"list"`
}

// decodePage accepts result.records, result.list.records or a bare array.
func decodePage[T any](raw json.RawMessage) (PageResult[T], error) {
	var out PageResult[T]
	t := bytes.TrimSpace(raw)
	if isNull(t) {
		return out, nil
	}
	// bare array: no paging info at all
	if t[0] == '[' {
		err := json.Unmarshal(t, &out.Records)
		out.Total = int64(len(out.Records))
		return out, err
	}
	var p rawPage[T]
	if err := json.Unmarshal(t, &p); err != nil {
		return out, err
	}
	out.PageNo, out.PageSize = p.PageNo, p.PageSize
	out.Records = p.Records
	total := p.Total
	// nested under "list" on some endpoints
	if out.Records == nil && p.List != nil {
		out.Records = p.List.Records
		if total == "" {
			total = p.List.Total
		}
	}
	if n, err := total.Int64(); err == nil {
		out.Total = n
	} else {
		// missing or non-numeric total: count what we got
		out.Total = int64(len(out.Records))
	}
	return out, nil
}

// qty decodes numbers, numeric strings and null, rounding half away from zero.
type qty int

func (q *qty) UnmarshalJSON(b []byte) error {
	t := bytes.TrimSpace(b)
	// some endpoints send "" for an empty quantity
	if bytes.Equal(t, []byte(`""`)) {
		*q = 0
		return nil
	}
	var d decimal.NullDecimal
	if err := d.UnmarshalJSON(t); err != nil {
		return fmt.Errorf("quantity %s: %w", t, err)
	}
	if !d.Valid {
		*q = 0
		return nil
	}
	*q = qty(d.Decimal.Round(0).IntPart())
	return nil
}

func trim(s string) string { return strings.TrimSpace(s) }
