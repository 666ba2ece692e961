package order

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Spok95/wms-pda/internal/scan"
)

// Backend is the set of write calls the reconciliation state makes.
// Implementations return *NetworkError or *RejectionError on failure.
type Backend interface {
	AcceptScan(ctx context.Context, orderID, barcode string) error
	CancelScan(ctx context.Context, orderID string, keys []Key) error
	UpdateQuantity(ctx context.Context, orderID string, key Key, qty int) error
	UpdateLocation(ctx context.Context, orderID string, key Key, p Placement) error
	// ScanConfirm promotes scan records the backend holds as unconfirmed.
	ScanConfirm(ctx context.Context, orderID string, keys []Key) error
}

// DetailResolver maps a code that matches nothing locally to a detail line.
// An empty detail id means the code is unknown to the order.
type DetailResolver interface {
	ResolveDetail(ctx context.Context, orderID, code string) (string, error)
}

type Option func(*State)

// WithLogger sets the logger; the session passes one scoped to the order.
func WithLogger(l *slog.Logger) Option {
	return func(s *State) { s.log = l }
}

// WithWriteTimeout bounds a backend write once it has been detached from the
// caller's cancellation.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *State) { s.writeTimeout = d }
}

// State owns the pending and scanned rows of one order-viewing session.
//
// Lock order: scanMu, then a row lock, then mu. Backend calls are made while
// holding scanMu and/or a row lock, never mu.
type State struct {
	order        Order
	api          Backend
	resolver     DetailResolver
	log          *slog.Logger
	writeTimeout time.Duration

	scanMu sync.Mutex // one scan (or scan confirm batch) at a time

	mu      sync.Mutex
	pending []PendingRow
	scanned []ScannedRow
	locks   map[Key]*sync.Mutex // per-row write locks, created on demand
	version uint64
	closed  bool
}

func NewState(o Order, pending []PendingRow, scanned []ScannedRow, api Backend, opts ...Option) *State {
	s := &State{
		order:        o,
		api:          api,
		log:          slog.New(slog.DiscardHandler),
		writeTimeout: 15 * time.Second,
		pending:      append([]PendingRow(nil), pending...),
		scanned:      append([]ScannedRow(nil), scanned...),
		locks:        map[Key]*sync.Mutex{},
	}
	// resolving unknown codes is optional on the backend side
	if r, ok := api.(DetailResolver); ok {
		s.resolver = r
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *State) Order() Order { return s.order }

// ApplyScan matches code against the order and, after the backend accepts it,
// adds one unit to the matching scanned row. Calls are serialized per order.
func (s *State) ApplyScan(ctx context.Context, code string) (ScannedRow, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return ScannedRow{}, ErrEmptyCode
	}

	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	// 1) which line does the code belong to
	detailID, err := s.match(ctx, code)
	if err != nil {
		return ScannedRow{}, err
	}

	key := Key{DetailID: detailID, Barcode: code}
	rl := s.rowLock(key)
	rl.Lock()
	defer rl.Unlock()

	// 2) the server accepts or refuses; nothing changes locally before that
	wctx, cancel := s.writeContext(ctx)
	defer cancel()
	if err := s.api.AcceptScan(wctx, s.order.ID, code); err != nil {
		s.log.Warn("accept scan failed", "order_id", s.order.ID, "detail_id", detailID, "barcode", code, "err", err)
		return ScannedRow{}, asNetwork("accept scan", err)
	}

	// 3) apply locally, unless the session was closed meanwhile
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ScannedRow{}, ErrSessionClosed
	}
	pi := s.pendingIndex(detailID)
	if pi < 0 {
		return ScannedRow{}, ErrRowNotFound
	}
	p := &s.pending[pi]
	p.ScannedQty++

	var row ScannedRow
	if i := s.scannedIndex(key); i >= 0 {
		// same barcode on the same line adds up
		s.scanned[i].Qty++
		s.scanned[i].ScanStatus = true
		row = s.scanned[i]
	} else {
		// first scan of this barcode on the line
		row = ScannedRow{
			Barcode:       code,
			DetailID:      detailID,
			MaterialCode:  p.MaterialCode,
			MaterialName:  p.MaterialName,
			Spec:          p.Spec,
			Location:      p.Location,
			WarehouseCode: p.WarehouseCode,
			Qty:           1,
			ScanStatus:    true,
		}
		s.scanned = append(s.scanned, row)
	}
	s.version++
	s.log.Debug("scan applied", "order_id", s.order.ID, "detail_id", detailID, "barcode", code, "qty", row.Qty)
	return row, nil
}

// match resolves code to a detail id and fast-fails when every line the code
// matches is exhausted. The backend stays the authority and may still reject.
//
// Lines already holding this barcode are tried first, then pending lines by
// material code or GTIN in backend order. The first line with room wins.
func (s *State) match(ctx context.Context, code string) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrSessionClosed
	}

	matched := false
	for _, r := range s.scanned {
		if r.Barcode != code {
			continue
		}
		err := s.checkQuotaLocked(r.DetailID)
		if err == nil {
			s.mu.Unlock()
			return r.DetailID, nil
		}
		// a full line falls through to the next line of the same material
		if errors.Is(err, ErrQuotaExceeded) {
			matched = true
		}
	}

	// GS1 labels carry the material GTIN in AI 01
	gtin := ""
	if g, err := scan.ParseGS1(code); err == nil {
		gtin = g.GTIN
	}
	for _, p := range s.pending {
		if p.MaterialCode == "" || (p.MaterialCode != code && p.MaterialCode != gtin) {
			continue
		}
		matched = true
		if !p.Exhausted() {
			s.mu.Unlock()
			return p.DetailID, nil
		}
	}
	s.mu.Unlock()

	if matched {
		return "", ErrQuotaExceeded // every matching line is full
	}
	// last resort: ask the server, e.g. for package labels
	if s.resolver == nil {
		return "", ErrNotFound
	}

	detailID, err := s.resolver.ResolveDetail(ctx, s.order.ID, code)
	if err != nil {
		return "", asNetwork("resolve barcode", err)
	}
	if detailID == "" {
		return "", ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return detailID, s.checkQuotaLocked(detailID)
}

// checkQuotaLocked needs s.mu held.
func (s *State) checkQuotaLocked(detailID string) error {
	i := s.pendingIndex(detailID)
	if i < 0 {
		return ErrNotFound
	}
	if s.pending[i].Exhausted() {
		return ErrQuotaExceeded
	}
	return nil
}

// CancelScan removes a scanned row after the backend cancels it. On failure
// the row stays so the operator can retry.
func (s *State) CancelScan(ctx context.Context, detailID, barcode string) error {
	key := Key{DetailID: detailID, Barcode: barcode}
	if barcode == "" {
		return ErrRowNotFound // pending lines cannot be cancelled
	}
	rl := s.rowLock(key)
	rl.Lock()
	defer rl.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.scannedIndex(key) < 0 {
		s.mu.Unlock()
		return ErrRowNotFound
	}
	s.mu.Unlock()

	wctx, cancel := s.writeContext(ctx)
	defer cancel()
	if err := s.api.CancelScan(wctx, s.order.ID, []Key{key}); err != nil {
		s.log.Warn("cancel scan failed", "order_id", s.order.ID, "detail_id", detailID, "barcode", barcode, "err", err)
		return asNetwork("cancel scan", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	i := s.scannedIndex(key)
	if i < 0 {
		return ErrRowNotFound
	}
	// the whole row goes, and its units free up on the line
	qty := s.scanned[i].Qty
	s.scanned = append(s.scanned[:i], s.scanned[i+1:]...)
	if pi := s.pendingIndex(detailID); pi >= 0 {
		s.pending[pi].ScannedQty = max(s.pending[pi].ScannedQty-qty, 0)
	}
	s.version++
	return nil
}

// UpdateQuantity sets the quantity of a backend-accepted row.
func (s *State) UpdateQuantity(ctx context.Context, detailID, barcode string, qty int) error {
	if qty < 1 {
		return ErrInvalidQuantity
	}
	key := Key{DetailID: detailID, Barcode: barcode}
	rl := s.rowLock(key)
	rl.Lock()
	defer rl.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	i := s.scannedIndex(key)
	if i < 0 {
		s.mu.Unlock()
		return ErrRowNotFound
	}
	row := s.scanned[i]
	if !row.ScanStatus {
		s.mu.Unlock()
		return ErrNotScanned
	}
	// the new quantity replaces the row's share of the line
	if pi := s.pendingIndex(detailID); pi >= 0 {
		p := s.pending[pi]
		if p.ScannedQty-row.Qty+qty > p.ExpectedQty {
			s.mu.Unlock()
			return ErrQuotaExceeded
		}
	}
	s.mu.Unlock()
	if row.Qty == qty {
		return nil // nothing to send
	}

	wctx, cancel := s.writeContext(ctx)
	defer cancel()
	if err := s.api.UpdateQuantity(wctx, s.order.ID, key, qty); err != nil {
		s.log.Warn("update quantity failed", "order_id", s.order.ID, "detail_id", detailID, "barcode", barcode, "qty", qty, "err", err)
		return asNetwork("update quantity", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if i = s.scannedIndex(key); i < 0 {
		return ErrRowNotFound
	}
	// the row lock kept Qty stable since the check above
	delta := qty - s.scanned[i].Qty
	s.scanned[i].Qty = qty
	if pi := s.pendingIndex(detailID); pi >= 0 {
		s.pending[pi].ScannedQty = max(s.pending[pi].ScannedQty+delta, 0)
	}
	s.version++
	return nil
}

// AssignLocation writes a bin onto a pending row (empty barcode) or a scanned
// row. The row changes only after the backend stores the location.
func (s *State) AssignLocation(ctx context.Context, key Key, p Placement) error {
	rl := s.rowLock(key)
	rl.Lock()
	defer rl.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.rowIndex(key) < 0 {
		s.mu.Unlock()
		return ErrRowNotFound
	}
	s.mu.Unlock()

	wctx, cancel := s.writeContext(ctx)
	defer cancel()
	if err := s.api.UpdateLocation(wctx, s.order.ID, key, p); err != nil {
		s.log.Warn("update location failed", "order_id", s.order.ID, "detail_id", key.DetailID, "location", p.Location, "err", err)
		return asNetwork("update location", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	i := s.rowIndex(key)
	if i < 0 {
		return ErrRowNotFound
	}
	if key.Barcode == "" {
		// pending line: later scans of it inherit the bin
		s.pending[i].Location = p.Location
		s.pending[i].WarehouseCode = p.WarehouseCode
	} else {
		s.scanned[i].Location = p.Location
		s.scanned[i].WarehouseCode = p.WarehouseCode
	}
	s.version++
	return nil
}

// Snapshot returns copies of both row sets.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Pending: append([]PendingRow(nil), s.pending...),
		Scanned: append([]ScannedRow(nil), s.scanned...),
	}
}

// Accepted returns backend-accepted rows not yet submitted in a confirmation.
func (s *State) Accepted() []ScannedRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ScannedRow
	for _, r := range s.scanned {
		if r.ScanStatus && !r.Submitted {
			out = append(out, r)
		}
	}
	return out
}

// Unconfirmed returns scanned rows the backend still holds with
// scanStatus=false. They are neither editable nor confirmable until
// ConfirmScans promotes them.
func (s *State) Unconfirmed() []ScannedRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ScannedRow
	for _, r := range s.scanned {
		if !r.ScanStatus && !r.Submitted {
			out = append(out, r)
		}
	}
	return out
}

// ConfirmScans sends every unconfirmed row to the backend in one batch and
// marks them accepted once it succeeds. It returns how many rows moved.
func (s *State) ConfirmScans(ctx context.Context) (int, error) {
	// no scan may land on a row while its batch is in flight
	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrSessionClosed
	}
	var keys []Key
	for _, r := range s.scanned {
		if !r.ScanStatus && !r.Submitted {
			keys = append(keys, r.Key())
		}
	}
	s.mu.Unlock()
	if len(keys) == 0 {
		return 0, nil
	}

	wctx, cancel := s.writeContext(ctx)
	defer cancel()
	if err := s.api.ScanConfirm(wctx, s.order.ID, keys); err != nil {
		s.log.Warn("scan confirm failed", "order_id", s.order.ID, "rows", len(keys), "err", err)
		return 0, asNetwork("scan confirm", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrSessionClosed
	}
	n := 0
	for _, k := range keys {
		// a row cancelled meanwhile is simply gone
		if i := s.scannedIndex(k); i >= 0 && !s.scanned[i].ScanStatus {
			s.scanned[i].ScanStatus = true
			n++
		}
	}
	s.version++
	s.log.Info("scans confirmed", "order_id", s.order.ID, "rows", n)
	return n, nil
}

// FullyScanned is the local view only; the backend check decides.
func (s *State) FullyScanned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return false
	}
	for _, p := range s.pending {
		if !p.Exhausted() {
			return false
		}
	}
	return true
}

// Version increases on every row mutation.
func (s *State) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// MarkSubmitted flags the given rows as part of a successful confirmation.
func (s *State) MarkSubmitted(rows []ScannedRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		if i := s.scannedIndex(r.Key()); i >= 0 {
			s.scanned[i].Submitted = true
		}
	}
	s.version++
}

// Close detaches the row set: later write completions no longer touch it.
func (s *State) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Closed reports whether Close has been called.
func (s *State) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// writeContext keeps ctx values but not its cancellation: a write the server
// may already have applied is never abandoned halfway.
func (s *State) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
}

// rowLock returns the write lock of k. Locks are never removed; a session
// touches few rows.
func (s *State) rowLock(k Key) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[k]
	if !ok {
		l = &sync.Mutex{}
		s.locks[k] = l
	}
	return l
}

func (s *State) pendingIndex(detailID string) int {
	for i, p := range s.pending {
		if p.DetailID == detailID {
			return i
		}
	}
	return -1
}

func (s *State) scannedIndex(k Key) int {
	for i, r := range s.scanned {
		if r.DetailID == k.DetailID && r.Barcode == k.Barcode {
			return i
		}
	}
	return -1
}

// rowIndex looks in pending for an empty barcode, in scanned otherwise.
func (s *State) rowIndex(k Key) int {
	if k.Barcode == "" {
		return s.pendingIndex(k.DetailID)
	}
	return s.scannedIndex(k)
}
