package location

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Spok95/wms-pda/internal/domain/order"
)

type fakeSource struct {
	tree     []RawNode
	bins     map[string][]Bin
	err      error
	binCalls int
}

func (f *fakeSource) LocationTree(context.Context) ([]RawNode, error) {
	return f.tree, f.err
}

func (f *fakeSource) BinsByLayer(_ context.Context, warehouseCode, layerCode string) ([]Bin, error) {
	f.binCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.bins[warehouseCode+"/"+layerCode], nil
}

type fakeAssigner struct {
	calls []order.Placement
	err   error
}

func (f *fakeAssigner) AssignLocation(_ context.Context, _ order.Key, p order.Placement) error {
	f.calls = append(f.calls, p)
	return f.err
}

func sampleTree() []RawNode {
	return []RawNode{{
		CatalogueType: "warehouse", WarehouseName: "Main store", WarehouseCode: "WH1",
		Children: []RawNode{{
			CatalogueType: "area", ParentName: "Main store", WarehouseCode: "WH1",
			Children: []RawNode{{
				CatalogueType: "STORAGE_RACK", CatalogueName: "Rack A", CatalogueCode: "A", WarehouseCode: "WH1",
				Children: []RawNode{
					{CatalogueType: "storage_rack_layer", CatalogueCode: "A-01", WarehouseCode: "WH1"},
					{CatalogueType: "storage_rack_layer", CatalogueName: "Layer 2", Location: "A-02", CatalogueCode: "X", WarehouseCode: "WH1"},
				},
			}},
		}},
	}}
}

func TestLoadTreeNamesAndLayerCodes(t *testing.T) {
	p := NewPicker(&fakeSource{tree: sampleTree()}, nil)

	tree, err := p.LoadTree(context.Background())
	require.NoError(t, err)
	require.Len(t, tree, 1)
	assert.Equal(t, "Main store", tree[0].Name)

	area := tree[0].Children[0]
	assert.Equal(t, "Main store", area.Name)
	rack := area.Children[0]
	assert.Equal(t, TypeRack, rack.CatalogueType)
	assert.Equal(t, "Main store/Main store/Rack A", rack.Path)

	layers := Layers(tree)
	require.Len(t, layers, 2)
	assert.Equal(t, "Rack layer", layers[0].Name)
	assert.Equal(t, "A-01", layers[0].LayerCode)
	assert.Equal(t, "Layer 2", layers[1].Name)
	assert.Equal(t, "A-02", layers[1].LayerCode, "location wins over catalogue code")
}

func TestLoadTreeError(t *testing.T) {
	p := NewPicker(&fakeSource{err: &order.NetworkError{Op: "location tree", Status: 502}}, nil)
	_, err := p.LoadTree(context.Background())
	var ne *order.NetworkError
	assert.ErrorAs(t, err, &ne)
}

func TestResolveBinsOnlyOnLayers(t *testing.T) {
	src := &fakeSource{
		tree: sampleTree(),
		bins: map[string][]Bin{"WH1/A-01": {{Location: "WH1-A-01-01", InStock: true}, {Location: "WH1-A-01-02"}}},
	}
	p := NewPicker(src, nil)
	tree, err := p.LoadTree(context.Background())
	require.NoError(t, err)

	rack := tree[0].Children[0].Children[0]
	_, err = p.ResolveBins(context.Background(), rack)
	assert.ErrorIs(t, err, ErrInvalidLevel)
	assert.Zero(t, src.binCalls)

	layer, ok := FindLayer(tree, "WH1", "A-01")
	require.True(t, ok)
	bins, err := p.ResolveBins(context.Background(), layer)
	require.NoError(t, err)
	require.Len(t, bins, 2)
	assert.False(t, bins[0].Free())
	assert.True(t, bins[1].Free())
}

func TestAssignOnRackIsInvalidLevel(t *testing.T) {
	p := NewPicker(&fakeSource{}, nil)
	rows := &fakeAssigner{}
	rack := Node{CatalogueType: TypeRack, Path: "Main/Rack A", WarehouseCode: "WH1"}

	err := p.Assign(context.Background(), rows, order.Key{DetailID: "D1"}, rack, Bin{Location: "WH1-A-01-01"})
	assert.ErrorIs(t, err, ErrInvalidLevel)
	assert.Empty(t, rows.calls)
}

func TestAssignWritesPlacement(t *testing.T) {
	p := NewPicker(&fakeSource{}, nil)
	rows := &fakeAssigner{}
	layer := Node{CatalogueType: TypeRackLayer, WarehouseCode: "WH1", LayerCode: "A-01"}

	err := p.Assign(context.Background(), rows, order.Key{DetailID: "D1"}, layer, Bin{Location: "WH1-A-01-01", WarehouseName: "Main"})
	require.NoError(t, err)
	assert.Equal(t, []order.Placement{{WarehouseCode: "WH1", WarehouseName: "Main", Location: "WH1-A-01-01"}}, rows.calls)

	assert.ErrorIs(t, p.Assign(context.Background(), rows, order.Key{DetailID: "D1"}, layer, Bin{}), ErrNoLocation)
}

func TestAssignSurfacesBackendFailure(t *testing.T) {
	p := NewPicker(&fakeSource{}, nil)
	rows := &fakeAssigner{err: errors.New("boom")}
	layer := Node{CatalogueType: TypeRackLayer, WarehouseCode: "WH1", LayerCode: "A-01"}

	err := p.Assign(context.Background(), rows, order.Key{DetailID: "D1"}, layer, Bin{Location: "L"})
	assert.EqualError(t, err, "boom")
}

func TestAssignThroughOrderState(t *testing.T) {
	api := &locationOnlyBackend{}
	st := order.NewState(order.Order{ID: "O1"}, []order.PendingRow{{DetailID: "D1", ExpectedQty: 1}}, nil, api)
	p := NewPicker(&fakeSource{}, nil)
	layer := Node{CatalogueType: TypeRackLayer, WarehouseCode: "WH1", LayerCode: "A-01"}

	require.NoError(t, p.Assign(context.Background(), st, order.Key{DetailID: "D1"}, layer, Bin{Location: "WH1-A-01-07"}))
	assert.Equal(t, "WH1-A-01-07", st.Snapshot().Pending[0].Location)
	assert.Equal(t, "WH1", st.Snapshot().Pending[0].WarehouseCode)
}

type locationOnlyBackend struct{}

func (locationOnlyBackend) AcceptScan(context.Context, string, string) error { return nil }
func (locationOnlyBackend) CancelScan(context.Context, string, []order.Key) error { return nil }
func (locationOnlyBackend) UpdateQuantity(context.Context, string, order.Key, int) error {
	return nil
}
func (locationOnlyBackend) UpdateLocation(context.Context, string, order.Key, order.Placement) error {
	return nil
}
func (locationOnlyBackend) ScanConfirm(context.Context, string, []order.Key) error { return nil }
