package location

import "strings"

type CatalogueType string

const (
	TypeWarehouse CatalogueType = "warehouse"
	TypeArea      CatalogueType = "area"
	TypeRack      CatalogueType = "storage_rack"
	TypeRackLayer CatalogueType = "storage_rack_layer"
)

// Level is the depth of a catalogue type; unknown types sit at 0.
func (t CatalogueType) Level() int {
	switch t.normalize() {
	case TypeArea:
		return 1
	case TypeRack:
		return 2
	case TypeRackLayer:
		return 3
	}
	return 0
}

func (t CatalogueType) normalize() CatalogueType {
	return CatalogueType(strings.ToLower(strings.TrimSpace(string(t))))
}

// Node is one entry of the warehouse hierarchy.
type Node struct {
	CatalogueType CatalogueType
	Name          string
	Code          string
	Path          string
	WarehouseCode string
	LayerCode     string
	Children      []Node
}

func (n Node) IsLayer() bool { return n.CatalogueType.normalize() == TypeRackLayer }

// RawNode is a tree entry as the backend returns it.
type RawNode struct {
	CatalogueType string    `json:"catalogueType"`
	CatalogueName string    `json:"catalogueName"`
	CatalogueCode string    `json:"catalogueCode"`
	WarehouseName string    `json:"warehouseName"`
	WarehouseCode string    `json:"warehouseCode"`
	ParentName    string    `json:"parentName"`
	Location      string    `json:"location"`
	Children      []RawNode `json:"children"`
}

// Bin is a concrete storage location under a rack layer.
type Bin struct {
	ID              string
	WarehouseCode   string
	WarehouseName   string
	ZoneCode        string
	RackCode        string
	LayerCode       string
	Location        string
	InventoryStatus string
	InStock         bool
	Active          bool
}

// Free reports whether nothing is stored in the bin.
func (b Bin) Free() bool { return !b.InStock }
