package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Spok95/wms-pda/internal/domain/order"
)

var (
	ErrInvalidLevel = errors.New("bins can only be resolved on a storage rack layer")
	ErrNoLocation   = errors.New("bin has no location code")
)

// Source is the backend side of the picker.
type Source interface {
	LocationTree(ctx context.Context) ([]RawNode, error)
	BinsByLayer(ctx context.Context, warehouseCode, layerCode string) ([]Bin, error)
}

// Assigner stores a bin on an order row; *order.State implements it.
type Assigner interface {
	AssignLocation(ctx context.Context, key order.Key, p order.Placement) error
}

// Picker walks the location hierarchy for one assignment. Nothing is cached:
// occupancy changes under other terminals.
type Picker struct {
	src Source
	log *slog.Logger
}

func NewPicker(src Source, log *slog.Logger) *Picker {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Picker{src: src, log: log}
}

// LoadTree fetches the whole hierarchy, fresh on every call.
func (p *Picker) LoadTree(ctx context.Context) ([]Node, error) {
	raw, err := p.src.LocationTree(ctx)
	if err != nil {
		return nil, fmt.Errorf("load location tree: %w", err)
	}
	return Build(raw), nil
}

// ResolveBins lists the bins of a rack layer node.
func (p *Picker) ResolveBins(ctx context.Context, n Node) ([]Bin, error) {
	// only a layer has bins; warehouses and racks are just grouping
	if !n.IsLayer() {
		return nil, fmt.Errorf("%w: %s is %q", ErrInvalidLevel, n.Path, n.CatalogueType)
	}
	bins, err := p.src.BinsByLayer(ctx, n.WarehouseCode, n.LayerCode)
	if err != nil {
		return nil, fmt.Errorf("bins of %s: %w", n.LayerCode, err)
	}
	p.log.Debug("bins resolved", "warehouse_code", n.WarehouseCode, "layer_code", n.LayerCode, "count", len(bins))
	return bins, nil
}

// Assign attaches bin b, picked under node n, to the row addressed by key.
// The level is checked before anything reaches the backend.
func (p *Picker) Assign(ctx context.Context, rows Assigner, key order.Key, n Node, b Bin) error {
	if !n.IsLayer() {
		return fmt.Errorf("%w: %s is %q", ErrInvalidLevel, n.Path, n.CatalogueType)
	}
	if strings.TrimSpace(b.Location) == "" {
		return ErrNoLocation
	}
	// bin records sometimes lack the warehouse, the layer always has it
	warehouse := b.WarehouseCode
	if warehouse == "" {
		warehouse = n.WarehouseCode
	}
	// the row changes only once the server has stored the bin
	err := rows.AssignLocation(ctx, key, order.Placement{
		WarehouseCode: warehouse,
		WarehouseName: b.WarehouseName,
		Location:      b.Location,
	})
	if err != nil {
		return err
	}
	p.log.Info("bin assigned", "detail_id", key.DetailID, "barcode", key.Barcode, "location", b.Location)
	return nil
}

// Build converts the backend tree, naming each node with the fallbacks the
// backend data needs.
func Build(raw []RawNode) []Node {
	out := make([]Node, 0, len(raw))
	for _, r := range raw {
		out = append(out, build(r, ""))
	}
	return out
}

// build converts one node and its subtree; parent is the path above it.
func build(r RawNode, parent string) Node {
	t := CatalogueType(r.CatalogueType).normalize()
	name := displayName(t, r)
	path := name
	if parent != "" {
		path = parent + "/" + name
	}
	n := Node{
		CatalogueType: t,
		Name:          name,
		Code:          r.CatalogueCode,
		Path:          path,
		WarehouseCode: r.WarehouseCode,
		LayerCode:     firstNonEmpty(r.Location, r.CatalogueCode), // layers carry their code in location
	}
	for _, c := range r.Children {
		n.Children = append(n.Children, build(c, path))
	}
	return n
}

// displayName falls back through the fields each level fills, then a generic
// label so no node prints blank.
func displayName(t CatalogueType, r RawNode) string {
	switch t {
	case TypeWarehouse:
		return firstNonEmpty(r.WarehouseName, r.CatalogueName, "Warehouse")
	case TypeArea:
		return firstNonEmpty(r.CatalogueName, r.ParentName, "Area")
	case TypeRack:
		return firstNonEmpty(r.CatalogueName, "Rack")
	case TypeRackLayer:
		return firstNonEmpty(r.CatalogueName, r.Location, "Rack layer")
	}
	return firstNonEmpty(r.CatalogueName, r.WarehouseName, r.ParentName, "Node")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// Layers lists every rack layer in depth-first order.
func Layers(nodes []Node) []Node {
	var out []Node
	var walk func([]Node)
	walk = func(ns []Node) {
		for _, n := range ns {
			if n.IsLayer() {
				out = append(out, n)
			}
			walk(n.Children)
		}
	}
	walk(nodes)
	return out
}

// FindLayer returns the layer node with the given warehouse and layer code.
func FindLayer(nodes []Node, warehouseCode, layerCode string) (Node, bool) {
	for _, n := range Layers(nodes) {
		if n.WarehouseCode == warehouseCode && n.LayerCode == layerCode {
			return n, true
		}
	}
	return Node{}, false
}
