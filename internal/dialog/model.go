package dialog

// State is where a terminal's operator left off.
type State string

const (
	StateIdle    State = "idle"
	StateOrder   State = "order"    // an order session is open
	StateQtyEdit State = "qty_edit" // next input is a quantity for Payload["barcode"]
	StateBinPick State = "bin_pick" // a rack layer is selected, waiting for a bin
	StateConfirm State = "confirm"  // a confirmation was started and not finished
)

type Payload map[string]any

type Item struct {
	TerminalID string
	State      State
	Payload    Payload
}

// Keys used in Payload.
const (
	KeyKind    = "kind"
	KeyOrderNo = "order_no"
	KeyBarcode = "barcode"
	KeyLayer   = "layer"
	KeyWh      = "warehouse"
)
