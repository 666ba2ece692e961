package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator"

	"github.com/Spok95/wms-pda/internal/domain/order"
	"github.com/Spok95/wms-pda/internal/infra/metrics"
	"github.com/Spok95/wms-pda/internal/scan"
)

var validate = validator.New()

type Option func(*Session)

func WithLogger(l *slog.Logger) Option { return func(s *Session) { s.log = l } }

func WithRecorder(r Recorder) Option { return func(s *Session) { s.rec = r } }

func WithNotifier(n Notifier) Option { return func(s *Session) { s.notify = n } }

func WithQueueSize(n int) Option { return func(s *Session) { s.queueSize = n } }

func WithWriteTimeout(d time.Duration) Option { return func(s *Session) { s.writeTimeout = d } }

// WithRejudgeLimit bounds how often the completeness check is repeated when
// rows change while it runs.
func WithRejudgeLimit(n int) Option { return func(s *Session) { s.rejudgeLimit = n } }

type job struct {
	ctx  context.Context
	ev   scan.Event
	done chan Result
}

// Session is one order-viewing session: the reconciliation state, a
// single-consumer scan queue and the confirmation state machine.
type Session struct {
	state        *order.State
	api          Backend
	rec          Recorder
	notify       Notifier
	log          *slog.Logger
	now          func() time.Time
	queueSize    int
	writeTimeout time.Duration
	rejudgeLimit int

	confirmMu sync.Mutex // one confirmation (or scan confirm batch) at a time

	mu    sync.Mutex
	phase State

	// sendMu guards jobs against a send after close
	sendMu sync.RWMutex
	closed bool
	jobs   chan job
	done   chan struct{} // closed when the worker exits
}

// Open loads the pending and scanned rows of o and starts the scan worker.
func Open(ctx context.Context, o order.Order, api Backend, opts ...Option) (*Session, error) {
	s := &Session{
		api:          api,
		log:          slog.New(slog.DiscardHandler),
		now:          time.Now,
		queueSize:    16,
		writeTimeout: 15 * time.Second,
		rejudgeLimit: 1,
		phase:        StateOpen,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("order_id", o.ID, "order_no", o.No, "kind", string(o.Kind))

	// 1) both row sets come from the server, nothing is carried over locally
	pending, err := api.PendingRows(ctx, o.ID)
	if err != nil {
		return nil, fmt.Errorf("pending rows of %s: %w", o.No, err)
	}
	scanned, err := api.ScannedRows(ctx, o.ID)
	if err != nil {
		return nil, fmt.Errorf("scanned rows of %s: %w", o.No, err)
	}

	// 2) reconciliation state
	s.state = order.NewState(o, pending, scanned, api,
		order.WithLogger(s.log),
		order.WithWriteTimeout(s.writeTimeout),
	)
	// scans left from an earlier visit count as scanning
	if len(s.state.Accepted())+len(s.state.Unconfirmed()) > 0 {
		s.phase = StateScanning
	}

	// 3) single consumer, so scans apply in arrival order
	s.jobs = make(chan job, s.queueSize)
	go s.worker()

	metrics.OpenSessions.Inc()
	s.log.Info("order opened", "pending_rows", len(pending), "scanned_rows", len(scanned))
	return s, nil
}

func (s *Session) Order() order.Order { return s.state.Order() }

// Rows exposes the reconciliation state for row-level operations
// (cancel, quantity, location).
func (s *Session) Rows() *order.State { return s.state }

// Phase is the confirmation state machine position.
func (s *Session) Phase() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Session) setPhase(p State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != p {
		s.log.Debug("session state", "from", string(s.phase), "to", string(p))
	}
	s.phase = p
}

// worker applies queued scans one by one until the queue is closed.
func (s *Session) worker() {
	defer close(s.done)
	for j := range s.jobs {
		// after Close the state itself refuses, so leftovers fail fast
		row, err := s.state.ApplyScan(j.ctx, j.ev.Code)
		kind := string(s.state.Order().Kind)
		metrics.Scans.WithLabelValues(kind, scanResult(err)).Inc()
		if err == nil {
			// the first accepted scan moves open -> scanning, later ones change nothing
			s.mu.Lock()
			if s.phase == StateOpen {
				s.phase = StateScanning
			}
			s.mu.Unlock()
		} else {
			s.log.Info("scan not applied", "barcode", j.ev.Code, "symbology", string(j.ev.Symbology), "err", err)
		}
		j.done <- Result{Code: j.ev.Code, Row: row, Err: err}
	}
}

// Submit queues ev for the worker. The result channel always receives exactly
// one value.
func (s *Session) Submit(ctx context.Context, ev scan.Event) <-chan Result {
	out := make(chan Result, 1)

	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed {
		out <- Result{Code: ev.Code, Err: order.ErrSessionClosed}
		return out
	}
	// a full queue blocks the caller until the worker catches up or ctx ends
	select {
	case s.jobs <- job{ctx: ctx, ev: ev, done: out}:
	case <-ctx.Done():
		out <- Result{Code: ev.Code, Err: ctx.Err()}
	}
	return out
}

// Scan submits ev and waits for its result.
func (s *Session) Scan(ctx context.Context, ev scan.Event) (order.ScannedRow, error) {
	select {
	case r := <-s.Submit(ctx, ev):
		return r.Row, r.Err
	case <-ctx.Done():
		return order.ScannedRow{}, ctx.Err()
	}
}

// Confirm runs the completeness check and, when the backend reports the order
// fully scanned, submits the accepted rows. It never retries on its own.
func (s *Session) Confirm(ctx context.Context) error {
	s.confirmMu.Lock()
	defer s.confirmMu.Unlock()

	// 1) local preconditions, no server call yet
	switch s.Phase() {
	case StateConfirmed:
		return ErrAlreadyConfirmed
	case StateCancelled:
		return order.ErrSessionClosed
	}
	if s.state.Closed() {
		return order.ErrSessionClosed
	}
	// unconfirmed rows would silently drop out of the request
	if n := len(s.state.Unconfirmed()); n > 0 {
		return fmt.Errorf("%w: %d row(s)", ErrUnconfirmedScans, n)
	}
	if len(s.state.Accepted()) == 0 {
		return ErrNothingScanned
	}

	// 2) completeness check on the server
	s.setPhase(StateVerifying)
	rows, err := s.judge(ctx)
	if err != nil {
		s.setPhase(StateScanning)
		s.finish(ctx, s.attempt(attemptOutcome(err), err, rows))
		return err
	}

	// 3) build and check the request
	req := s.request(rows)
	if err := validate.Struct(req); err != nil {
		s.setPhase(StateScanning)
		err = fmt.Errorf("confirm request: %w", err)
		s.finish(ctx, s.attempt(OutcomeInvalid, err, rows))
		return err
	}

	// 4) submit; once sent it runs to completion even if the caller goes away
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
	defer cancel()
	if err := s.api.Confirm(wctx, req); err != nil {
		s.setPhase(StateScanning)
		s.log.Warn("confirm failed", "rows", len(rows), "err", err)
		s.finish(ctx, s.attempt(attemptOutcome(err), err, rows))
		return err
	}

	// 5) success: rows are submitted and the order is done on this terminal
	s.state.MarkSubmitted(rows)
	s.setPhase(StateConfirmed)
	s.log.Info("order confirmed", "rows", len(rows))
	s.finish(ctx, s.attempt(OutcomeConfirmed, nil, rows))
	s.Close()
	return nil
}

// ConfirmScans promotes the rows the backend still holds as unconfirmed so
// they can be edited and confirmed. Not allowed while a confirmation runs.
func (s *Session) ConfirmScans(ctx context.Context) (int, error) {
	s.confirmMu.Lock()
	defer s.confirmMu.Unlock()

	switch s.Phase() {
	case StateConfirmed:
		return 0, ErrAlreadyConfirmed
	case StateCancelled:
		return 0, order.ErrSessionClosed
	}
	n, err := s.state.ConfirmScans(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.mu.Lock()
		if s.phase == StateOpen {
			s.phase = StateScanning
		}
		s.mu.Unlock()
	}
	return n, nil
}

// judge asks the backend whether the order is fully scanned and returns the
// rows that check covered. When rows change while the check runs it is
// repeated, up to rejudgeLimit times.
func (s *Session) judge(ctx context.Context) ([]order.ScannedRow, error) {
	id := s.state.Order().ID
	for attempt := 0; ; attempt++ {
		v := s.state.Version() // rows as of the start of this check
		ok, err := s.api.JudgeScanAll(ctx, id)
		if err != nil {
			return s.state.Accepted(), err
		}
		rows := s.state.Accepted()
		if !ok {
			return rows, ErrNotFullyScanned
		}
		// unchanged rows are exactly the rows the server judged
		if s.state.Version() == v {
			return rows, nil
		}
		if attempt >= s.rejudgeLimit {
			return rows, ErrScanRace
		}
		s.log.Info("rows changed during completeness check, checking again", "attempt", attempt+1)
	}
}

// request is the confirm payload: order header plus one detail per row.
func (s *Session) request(rows []order.ScannedRow) order.ConfirmRequest {
	o := s.state.Order()
	req := order.ConfirmRequest{
		OrderID:       o.ID,
		OrderNo:       o.No,
		OrderType:     string(o.Kind),
		OrderTypeName: o.TypeName,
		WorkOrderNo:   o.WorkOrderNo,
		Operator:      o.Operator,
		Date:          s.now().Format(time.DateTime), // server expects local "2006-01-02 15:04:05"
	}
	for _, r := range rows {
		req.Details = append(req.Details, order.ConfirmDetail{
			DetailID:      r.DetailID,
			Barcode:       r.Barcode,
			MaterialCode:  r.MaterialCode,
			MaterialName:  r.MaterialName,
			Spec:          r.Spec,
			WarehouseCode: r.WarehouseCode,
			Location:      r.Location,
			Qty:           r.Qty,
		})
	}
	return req
}

// attempt summarizes one confirmation try for the journal and the bot.
func (s *Session) attempt(out Outcome, err error, rows []order.ScannedRow) Attempt {
	o := s.state.Order()
	a := Attempt{
		OrderID:  o.ID,
		OrderNo:  o.No,
		Kind:     o.Kind,
		Operator: o.Operator,
		Outcome:  out,
		Rows:     len(rows),
		At:       s.now(),
	}
	for _, r := range rows {
		a.Qty += r.Qty
	}
	if err != nil {
		a.Message = order.UserMessage(err)
	}
	return a
}

// finish records the attempt and alerts the supervisor. Neither may change
// the outcome, so failures are only logged.
func (s *Session) finish(ctx context.Context, a Attempt) {
	metrics.Confirmations.WithLabelValues(string(a.Kind), string(a.Outcome)).Inc()
	ctx = context.WithoutCancel(ctx) // the attempt happened, it gets recorded
	if s.rec != nil {
		if err := s.rec.Record(ctx, a); err != nil {
			s.log.Warn("journal write failed", "outcome", string(a.Outcome), "err", err)
		}
	}
	// the supervisor hears about final answers only, not retries
	if s.notify != nil && (a.Outcome == OutcomeConfirmed || a.Outcome == OutcomeRejected) {
		if err := s.notify.Notify(ctx, a); err != nil {
			s.log.Warn("notify failed", "outcome", string(a.Outcome), "err", err)
		}
	}
}

// Cancel abandons the order locally. Accepted and unconfirmed scans stay on
// the backend, so they must be cancelled row by row first.
func (s *Session) Cancel() error {
	switch s.Phase() {
	case StateConfirmed:
		return ErrAlreadyConfirmed
	case StateCancelled:
		return nil // already done
	case StateVerifying:
		return fmt.Errorf("cancel while confirming: %w", order.ErrSessionClosed)
	}
	if n := len(s.state.Accepted()) + len(s.state.Unconfirmed()); n > 0 {
		return fmt.Errorf("%w: %d row(s)", ErrScansOutstanding, n)
	}
	s.setPhase(StateCancelled)
	s.Close()
	return nil
}

// Close tears the session down without touching the backend. Queued scans
// fail with order.ErrSessionClosed; a write already in flight completes on
// the backend but no longer changes the rows.
func (s *Session) Close() {
	s.state.Close()

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.jobs) // the worker drains what is queued and exits
	metrics.OpenSessions.Dec()

	if n := len(s.state.Accepted()); n > 0 && s.Phase() != StateConfirmed {
		s.log.Warn("order left with accepted scans", "rows", n)
	}
}

// Done is closed once the worker has drained the queue.
func (s *Session) Done() <-chan struct{} { return s.done }

// scanResult is the metrics label of a scan outcome.
func scanResult(err error) string {
	var ne *order.NetworkError
	var re *order.RejectionError
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, order.ErrNotFound):
		return "not_found"
	case errors.Is(err, order.ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, order.ErrSessionClosed):
		return "closed"
	case errors.As(err, &re):
		return "rejected"
	case errors.As(err, &ne):
		return "network_error"
	}
	return "error"
}

// attemptOutcome classifies a failed confirmation for the journal.
func attemptOutcome(err error) Outcome {
	var re *order.RejectionError
	switch {
	case errors.Is(err, ErrNotFullyScanned):
		return OutcomeNotFullyScanned
	case errors.Is(err, ErrScanRace):
		return OutcomeScanRace
	case errors.As(err, &re):
		return OutcomeRejected
	}
	return OutcomeNetworkError
}
