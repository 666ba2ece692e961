package terminal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Spok95/wms-pda/internal/dialog"
	"github.com/Spok95/wms-pda/internal/domain/location"
	"github.com/Spok95/wms-pda/internal/domain/order"
	"github.com/Spok95/wms-pda/internal/export"
	"github.com/Spok95/wms-pda/internal/session"
)

const historyLimit = 10 // attempts shown by :history

// Dictionary domains used for display.
const (
	dictOrderStatus     = "status"
	dictInventoryStatus = "inventoryStatus"
)

// handleCommand runs one ":" command and reports whether the operator quit.
func (t *Terminal) handleCommand(ctx context.Context, line string) bool {
	fields := strings.Fields(strings.TrimPrefix(line, ":"))
	if len(fields) == 0 {
		return false
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	/*** SESSION ***/

	case "quit", "q":
		return true

	case "help", "h":
		t.printf("%s", helpText)

	case "find":
		if len(args) < 1 {
			t.printf("Usage: :find <kind> [order number]\n")
			return false
		}
		t.find(ctx, order.Kind(args[0]), strings.Join(args[1:], " "))

	case "open":
		if len(args) < 2 {
			t.printf("Usage: :open <kind> <order number>\n")
			return false
		}
		if err := t.open(ctx, order.Kind(args[0]), args[1]); err != nil {
			t.printf("Open failed: %s\n", order.UserMessage(err))
		}

	/*** ROWS ***/

	case "rows":
		if s := t.mustSession(); s != nil {
			t.Wait() // show rows after the scans already typed
			t.printRows(s)
		}

	case "accept":
		t.acceptScans(ctx)

	case "qty":
		t.quantity(ctx, args)

	case "cancel":
		t.cancelScan(ctx, args)

	/*** LOCATIONS ***/

	case "tree":
		t.tree(ctx)

	case "bins":
		t.listBins(ctx, args)

	case "bin":
		t.assignBin(ctx, args)

	/*** CONFIRMATION ***/

	case "confirm":
		t.confirm(ctx)

	case "abandon":
		t.abandon(ctx)

	case "export":
		t.export(ctx)

	case "history":
		t.printHistory(ctx, args)

	default:
		t.printf("Unknown command %q. Type :help.\n", cmd)
	}
	return false
}

// mustSession returns the open session or tells the operator there is none.
func (t *Terminal) mustSession() *session.Session {
	s := t.session()
	if s == nil {
		t.printf("No order is open.\n")
	}
	return s
}

func (t *Terminal) backendFor(kind order.Kind) (Orders, error) {
	if !kind.Valid() {
		names := make([]string, 0, len(order.Kinds))
		for _, k := range order.Kinds {
			names = append(names, string(k))
		}
		return nil, fmt.Errorf("unknown order kind %q, use one of: %s", kind, strings.Join(names, ", "))
	}
	return t.orders(kind), nil
}

// find lists orders by number, or today's orders when no number is given.
func (t *Terminal) find(ctx context.Context, kind order.Kind, no string) {
	api, err := t.backendFor(kind)
	if err != nil {
		t.printf("%s\n", err)
		return
	}
	today := t.now()
	q := order.Query{No: no}
	if no == "" {
		q.From, q.To = today, today // whole day, the backend query is per date
	}
	page, err := api.ListOrders(ctx, q)
	if err != nil {
		t.printf("Search failed: %s\n", order.UserMessage(err))
		return
	}
	if len(page.Records) == 0 {
		t.printf("No orders found.\n")
		return
	}
	for _, s := range page.Records {
		t.printf("%s  %s  %s  qty %d  %s\n", s.No, t.name(ctx, dictOrderStatus, s.Status), s.TypeName, s.Qty, s.CreatedAt)
	}
	// only the first page is shown on a handheld
	if page.Total > int64(len(page.Records)) {
		t.printf("... %d of %d shown\n", len(page.Records), page.Total)
	}
}

// open loads an order into a new session and replaces the current one.
func (t *Terminal) open(ctx context.Context, kind order.Kind, no string) error {
	api, err := t.backendFor(kind)
	if err != nil {
		return err
	}
	// 1) warn when the current order still has scans on the server
	if cur := t.session(); cur != nil && len(cur.Rows().Accepted()) > 0 && cur.Phase() != session.StateConfirmed {
		t.printf("Leaving %s with %d accepted row(s) on the server.\n", cur.Order().No, len(cur.Rows().Accepted()))
	}
	t.Wait()

	// 2) find the order and load its rows
	o, err := api.FindOrder(ctx, no, t.cfg.Operator)
	if err != nil {
		return err
	}
	opts := append([]session.Option{session.WithLogger(t.log)}, t.sessOpts...)
	s, err := session.Open(ctx, o, api, opts...)
	if err != nil {
		return err
	}
	// 3) switch over; a debounce window must not span two orders
	t.setSession(s)
	t.norm.Reset()
	t.saveState(ctx, dialog.StateOrder, nil)

	t.printf("Opened %s %s (%s)\n", o.Kind, o.No, o.TypeName)
	t.printRows(s)
	return nil
}

// saveState records where the operator is so a restart can resume. Kind and
// order number are always part of the payload.
func (t *Terminal) saveState(ctx context.Context, st dialog.State, extra dialog.Payload) {
	s := t.session()
	if s == nil {
		return
	}
	p := dialog.Payload{
		dialog.KeyKind:    string(s.Order().Kind),
		dialog.KeyOrderNo: s.Order().No,
	}
	for k, v := range extra {
		p[k] = v
	}
	// best effort, the operator is not told
	if err := t.store.Set(ctx, t.cfg.TerminalID, st, p); err != nil {
		t.log.Warn("save terminal state failed", "state", string(st), "err", err)
	}
}

func (t *Terminal) resetState(ctx context.Context) {
	if err := t.store.Reset(ctx, t.cfg.TerminalID); err != nil {
		t.log.Warn("reset terminal state failed", "err", err)
	}
}

// findScanned looks up a scanned row by barcode, or "barcode@detailId" when a
// barcode sits on more than one line.
func findScanned(s *session.Session, ref string) (order.ScannedRow, bool) {
	barcode, detailID, _ := strings.Cut(ref, "@")
	for _, r := range s.Rows().Snapshot().Scanned {
		if r.Barcode == barcode && (detailID == "" || r.DetailID == detailID) {
			return r, true
		}
	}
	return order.ScannedRow{}, false
}

// quantity handles ":qty <barcode> [n]". Without n it asks for the quantity
// on the next line.
func (t *Terminal) quantity(ctx context.Context, args []string) {
	s := t.mustSession()
	if s == nil {
		return
	}
	if len(args) < 1 {
		t.printf("Usage: :qty <barcode> [quantity]\n")
		return
	}
	t.Wait()
	row, ok := findScanned(s, args[0])
	if !ok {
		t.printf("%s is not scanned on this order.\n", args[0])
		return
	}
	// two-step form: remember the row, the next plain line is the quantity
	if len(args) == 1 {
		t.saveState(ctx, dialog.StateQtyEdit, dialog.Payload{dialog.KeyBarcode: row.Barcode + "@" + row.DetailID})
		t.printf("Quantity for %s (now %d):\n", row.Barcode, row.Qty)
		return
	}
	t.setQuantity(ctx, s, row, args[1])
}

// onQuantityInput is the second step of ":qty <barcode>".
func (t *Terminal) onQuantityInput(ctx context.Context, st *dialog.Item, line string) {
	s := t.mustSession()
	if s == nil {
		t.resetState(ctx)
		return
	}
	ref, _ := dialog.GetString(st.Payload, dialog.KeyBarcode)
	t.saveState(ctx, dialog.StateOrder, nil) // one answer only, even a wrong one
	row, ok := findScanned(s, ref)
	if !ok {
		// cancelled between the two steps
		t.printf("Row %s is gone.\n", ref)
		return
	}
	t.setQuantity(ctx, s, row, line)
}

func (t *Terminal) setQuantity(ctx context.Context, s *session.Session, row order.ScannedRow, value string) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		t.printf("%q is not a quantity.\n", value)
		return
	}
	// the state checks the line quota before asking the server
	if err := s.Rows().UpdateQuantity(ctx, row.DetailID, row.Barcode, n); err != nil {
		t.printf("Quantity not changed: %s\n", order.UserMessage(err))
		return
	}
	t.printf("%s: qty %d\n", row.Barcode, n)
}

// acceptScans asks the backend to confirm scan records it still holds as
// not accepted, typically left over from an interrupted shift.
func (t *Terminal) acceptScans(ctx context.Context) {
	s := t.mustSession()
	if s == nil {
		return
	}
	t.Wait()
	n, err := s.ConfirmScans(ctx)
	if err != nil {
		t.printf("Scans not accepted: %s\n", order.UserMessage(err))
		return
	}
	if n == 0 {
		t.printf("No scans are waiting for acceptance.\n")
		return
	}
	t.printf("%d scan(s) accepted.\n", n)
}

// cancelScan removes one scanned row on the server and locally.
func (t *Terminal) cancelScan(ctx context.Context, args []string) {
	s := t.mustSession()
	if s == nil {
		return
	}
	if len(args) < 1 {
		t.printf("Usage: :cancel <barcode>\n")
		return
	}
	t.Wait() // the row may still be on its way in
	row, ok := findScanned(s, args[0])
	if !ok {
		t.printf("%s is not scanned on this order.\n", args[0])
		return
	}
	if err := s.Rows().CancelScan(ctx, row.DetailID, row.Barcode); err != nil {
		t.printf("Scan not cancelled: %s\n", order.UserMessage(err))
		return
	}
	t.printf("%s cancelled.\n", row.Barcode)
}

// tree lists every rack layer of every warehouse, numbered for :bins.
func (t *Terminal) tree(ctx context.Context) {
	if t.mustSession() == nil {
		return
	}
	nodes, err := t.picker.LoadTree(ctx)
	if err != nil {
		t.printf("Locations unavailable: %s\n", order.UserMessage(err))
		return
	}
	layers := location.Layers(nodes)
	// a new tree invalidates the previous layer and bin picks
	t.mu.Lock()
	t.layers, t.layer, t.bins = layers, nil, nil
	t.mu.Unlock()
	if len(layers) == 0 {
		t.printf("No rack layers.\n")
		return
	}
	for i, n := range layers {
		t.printf("%2d  %s\n", i+1, n.Path)
	}
}

// listBins shows the bins of one layer from the last :tree.
func (t *Terminal) listBins(ctx context.Context, args []string) {
	if t.mustSession() == nil {
		return
	}
	if len(args) < 1 {
		t.printf("Usage: :bins <layer number from :tree>\n")
		return
	}
	t.mu.Lock()
	layers := t.layers
	t.mu.Unlock()
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 || n > len(layers) {
		t.printf("Pick a layer between 1 and %d (run :tree first).\n", len(layers))
		return
	}
	layer := layers[n-1]
	bins, err := t.picker.ResolveBins(ctx, layer)
	if err != nil {
		t.printf("Bins unavailable: %s\n", order.UserMessage(err))
		return
	}
	t.mu.Lock()
	t.layer, t.bins = &layer, bins
	t.mu.Unlock()
	t.saveState(ctx, dialog.StateBinPick, dialog.Payload{dialog.KeyWh: layer.WarehouseCode, dialog.KeyLayer: layer.LayerCode})

	if len(bins) == 0 {
		t.printf("No bins on %s.\n", layer.Path)
		return
	}
	for i, b := range bins {
		state := "free"
		// occupied bins show the server's inventory status name
		if !b.Free() {
			state = t.name(ctx, dictInventoryStatus, b.InventoryStatus)
		}
		t.printf("%2d  %s  %s\n", i+1, b.Location, state)
	}
}

// assignBin writes a bin from the last :bins onto a scanned row or, when the
// argument is not a scanned barcode, onto the pending line with that id.
func (t *Terminal) assignBin(ctx context.Context, args []string) {
	s := t.mustSession()
	if s == nil {
		return
	}
	if len(args) < 2 {
		t.printf("Usage: :bin <bin number from :bins> <barcode | detail id>\n")
		return
	}
	t.mu.Lock()
	layer, bins := t.layer, t.bins
	t.mu.Unlock()
	if layer == nil {
		t.printf("Pick a rack layer with :bins first.\n")
		return
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 || n > len(bins) {
		t.printf("Pick a bin between 1 and %d.\n", len(bins))
		return
	}
	bin := bins[n-1]

	t.Wait()
	key := order.Key{DetailID: args[1]} // pending line unless a scanned row matches
	if row, ok := findScanned(s, args[1]); ok {
		key = row.Key()
	}
	if err := t.picker.Assign(ctx, s.Rows(), key, *layer, bin); err != nil {
		if errors.Is(err, order.ErrRowNotFound) {
			t.printf("%s is neither a scanned barcode nor a line of this order.\n", args[1])
			return
		}
		t.printf("Location not set: %s\n", order.UserMessage(err))
		return
	}
	t.saveState(ctx, dialog.StateOrder, nil)
	t.printf("%s -> %s\n", args[1], bin.Location)
}

// confirm runs the completeness check and submits the order. On success the
// terminal goes back to idle.
func (t *Terminal) confirm(ctx context.Context) {
	s := t.mustSession()
	if s == nil {
		return
	}
	t.Wait() // every typed scan takes part in the check
	t.saveState(ctx, dialog.StateConfirm, nil)
	err := s.Confirm(ctx)
	switch {
	case err == nil:
		t.printf("Order %s confirmed.\n", s.Order().No)
		t.setSession(nil)
		t.resetState(ctx)
		return
	case errors.Is(err, session.ErrNotFullyScanned):
		t.printf("Not all items have been scanned.\n")
	case errors.Is(err, session.ErrScanRace):
		t.printf("Scans changed during the check, confirm again.\n")
	case errors.Is(err, session.ErrNothingScanned):
		t.printf("Nothing scanned yet.\n")
	case errors.Is(err, session.ErrUnconfirmedScans):
		t.printf("Some scans are not accepted yet. Use :accept or :cancel <barcode>.\n")
	default:
		t.printf("Confirm failed: %s\n", order.UserMessage(err))
	}
	// any failure leaves the order open for another try
	t.saveState(ctx, dialog.StateOrder, nil)
}

// abandon closes the order without confirming. Scans already on the server
// have to be cancelled first.
func (t *Terminal) abandon(ctx context.Context) {
	s := t.mustSession()
	if s == nil {
		return
	}
	t.Wait()
	if err := s.Cancel(); err != nil {
		if errors.Is(err, session.ErrScansOutstanding) {
			t.printf("Cancel the scanned rows first (:rows, :cancel <barcode>).\n")
			return
		}
		t.printf("Cannot abandon: %s\n", order.UserMessage(err))
		return
	}
	t.printf("Order %s abandoned.\n", s.Order().No)
	t.setSession(nil)
	t.resetState(ctx)
}

// export saves the rows of the open order as XLSX and, with the bot
// configured, sends the file to the supervisor.
func (t *Terminal) export(ctx context.Context) {
	s := t.mustSession()
	if s == nil {
		return
	}
	t.Wait()
	o := s.Order()

	// 1) build the workbook in memory
	var buf bytes.Buffer
	if err := export.Write(&buf, o, s.Rows().Snapshot()); err != nil {
		t.printf("Export failed: %s\n", err)
		return
	}
	name := export.FileName(o, t.now())

	// 2) keep a copy on the terminal
	dir := t.cfg.ExportDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.printf("Export failed: %s\n", err)
		return
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.printf("Export failed: %s\n", err)
		return
	}
	t.printf("Saved %s\n", path)

	// 3) and one for the supervisor
	if t.docs != nil {
		caption := fmt.Sprintf("Order %s (%s), terminal %s", o.No, o.Kind, t.cfg.TerminalID)
		if err := t.docs.SendDocument(ctx, name, buf.Bytes(), caption); err != nil {
			t.log.Warn("export delivery failed", "file", name, "err", err)
			t.printf("Could not send the file to the supervisor.\n")
			return
		}
		t.printf("Sent to the supervisor.\n")
	}
}

// printHistory shows the journal of an order, the open one by default.
func (t *Terminal) printHistory(ctx context.Context, args []string) {
	if t.history == nil {
		t.printf("Journal is disabled on this terminal.\n")
		return
	}
	no := strings.Join(args, " ")
	if no == "" {
		if s := t.session(); s != nil {
			no = s.Order().No
		}
	}
	if no == "" {
		t.printf("Usage: :history <order number>\n")
		return
	}
	items, err := t.history.ByOrder(ctx, no, historyLimit)
	if err != nil {
		t.log.Error("history lookup failed", "order_no", no, "err", err)
		t.printf("Failed to read the journal.\n")
		return
	}
	if len(items) == 0 {
		t.printf("No confirmation attempts for %s.\n", no)
		return
	}
	for _, a := range items {
		t.printf("%s  %-17s rows %d, qty %d", a.At.Local().Format(time.DateTime), a.Outcome, a.Rows, a.Qty)
		if a.Message != "" {
			t.printf("  %s", a.Message)
		}
		t.printf("\n")
	}
}

// printRows prints both row sets:
//
//	D1  MAT-1 Bolt  1/2  A-01-01
//	MAT-1  Bolt  qty 1  A-01-01  accepted
func (t *Terminal) printRows(s *session.Session) {
	snap := s.Rows().Snapshot()
	t.printf("Pending:\n")
	for _, p := range snap.Pending {
		loc := p.Location
		if loc == "" {
			loc = "-"
		}
		t.printf("  %s  %s %s  %d/%d  %s\n", p.DetailID, p.MaterialCode, p.MaterialName, p.ScannedQty, p.ExpectedQty, loc)
	}
	t.printf("Scanned:\n")
	if len(snap.Scanned) == 0 {
		t.printf("  none\n")
	}
	for _, r := range snap.Scanned {
		state := "accepted"
		// submitted wins: a confirmed row stays accepted on the server
		switch {
		case r.Submitted:
			state = "submitted"
		case !r.ScanStatus:
			state = "not accepted" // waits for :accept
		}
		loc := r.Location
		if loc == "" {
			loc = "-"
		}
		t.printf("  %s  %s  qty %d  %s  %s\n", r.Barcode, r.MaterialName, r.Qty, loc, state)
	}
	if n := len(s.Rows().Unconfirmed()); n > 0 {
		t.printf("%d row(s) not accepted yet. Use :accept.\n", n)
	}
	if s.Rows().FullyScanned() {
		t.printf("All lines scanned. Use :confirm.\n")
	}
}

const helpText = `Commands:
  :find <kind> [no]     search orders (today when no number is given)
  :open <kind> <no>     open an order; kinds: material_in, material_out, mold_in, mold_out, finished_out
  :rows                 show pending and scanned rows
  :accept               accept scans the server still holds as not accepted
  :qty <barcode> [n]    change the quantity of a scanned row
  :cancel <barcode>     cancel a scanned row
  :tree                 list rack layers
  :bins <n>             list bins of rack layer n
  :bin <n> <barcode>    put a scanned row (or a detail id) into bin n
  :confirm              confirm the order
  :abandon              close the order without confirming
  :export               save the rows as XLSX
  :history [no]         confirmation attempts of an order
  :quit
Anything else is treated as a scan.
`
