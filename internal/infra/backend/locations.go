package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/Spok95/wms-pda/internal/domain/dict"
	"github.com/Spok95/wms-pda/internal/domain/location"
	"github.com/Spok95/wms-pda/internal/domain/order"
)

// LocationTree returns the children of the hierarchy root.
func (c *Client) LocationTree(ctx context.Context) ([]location.RawNode, error) {
	const op = "location tree"
	env, err := c.get(ctx, op, c.paths.LocationTree, nil)
	if err != nil {
		return nil, err
	}
	// the root node itself is a placeholder, warehouses are its children
	var root struct {
		Children []location.RawNode `json:"children"`
	}
	if err := env.decode(op, &root); err != nil {
		return nil, err
	}
	return root.Children, nil
}

// binDTO is one record of the bin page query.
type binDTO struct {
	ID              string      `json:"id"`
	WarehouseCode   string      `json:"warehouseCode"`
	WarehouseName   string      `json:"warehouseName"`
	Zone            string      `json:"zone"`
	Rack            string      `json:"rack"`
	Layer           string      `json:"layer"`
	Location        string      `json:"location"`
	InventoryStatus string      `json:"inventoryStatus"`
	Status          json.Number `json:"status"` // number or numeric string
}

// BinsByLayer lists the active bins of one rack layer (first page of 50).
func (c *Client) BinsByLayer(ctx context.Context, warehouseCode, layerCode string) ([]location.Bin, error) {
	const op = "bins by layer"
	q := url.Values{
		"warehouseCode": {warehouseCode},
		"layer":         {layerCode},
		"pageNo":        {"1"},
		"pageSize":      {"50"},
		"status":        {"1"}, // active bins only
	}
	env, err := c.get(ctx, op, c.paths.LocationBins, q)
	if err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, &order.RejectionError{Op: op, Message: env.Message}
	}
	page, err := decodePage[binDTO](env.Result)
	if err != nil {
		return nil, &order.NetworkError{Op: op, Err: fmt.Errorf("decode page: %w", err)}
	}
	bins := make([]location.Bin, 0, len(page.Records))
	for _, r := range page.Records {
		bins = append(bins, location.Bin{
			ID:              r.ID,
			WarehouseCode:   r.WarehouseCode,
			WarehouseName:   r.WarehouseName,
			ZoneCode:        r.Zone,
			RackCode:        r.Rack,
			LayerCode:       r.Layer,
			Location:        r.Location,
			InventoryStatus: r.InventoryStatus,
			InStock:         strings.EqualFold(r.InventoryStatus, "instock"), // case-insensitive
			Active:          r.Status.String() == "1",
		})
	}
	return bins, nil
}

// DictFields loads every dictionary in one call; dict.Resolver picks a field.
func (c *Client) DictFields(ctx context.Context) ([]dict.Field, error) {
	const op = "dictionary"
	env, err := c.get(ctx, op, c.paths.Dict, nil)
	if err != nil {
		return nil, err
	}
	var fields []dict.Field
	if err := env.decode(op, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}
