package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Spok95/wms-pda/internal/dialog"
	"github.com/Spok95/wms-pda/internal/domain/location"
	"github.com/Spok95/wms-pda/internal/domain/order"
	"github.com/Spok95/wms-pda/internal/infra/backend"
	httpx "github.com/Spok95/wms-pda/internal/infra/http"
	"github.com/Spok95/wms-pda/internal/scan"
	"github.com/Spok95/wms-pda/internal/session"
)

// Orders is the backend of one order kind.
type Orders interface {
	session.Backend
	ListOrders(ctx context.Context, q order.Query) (backend.PageResult[order.Summary], error)
	FindOrder(ctx context.Context, no, operator string) (order.Order, error)
}

// Store keeps where the operator left off.
type Store interface {
	Get(ctx context.Context, terminalID string) (*dialog.Item, error)
	Set(ctx context.Context, terminalID string, state dialog.State, payload dialog.Payload) error
	Reset(ctx context.Context, terminalID string) error
}

// Names turns backend codes into display text.
type Names interface {
	Name(ctx context.Context, domain, code string) string
}

// History is the confirmation journal, when postgres is configured.
type History interface {
	ByOrder(ctx context.Context, orderNo string, limit int) ([]session.Attempt, error)
}

// Documents delivers exported workbooks to the supervisor.
type Documents interface {
	SendDocument(ctx context.Context, name string, data []byte, caption string) error
}

type Settings struct {
	TerminalID string
	Operator   string // goes into every confirmation request
	ExportDir  string // "" is the working directory
}

type Option func(*Terminal)

func WithLogger(l *slog.Logger) Option { return func(t *Terminal) { t.log = l } }

func WithStore(s Store) Option { return func(t *Terminal) { t.store = s } }

func WithNames(n Names) Option { return func(t *Terminal) { t.names = n } }

func WithHistory(h History) Option { return func(t *Terminal) { t.history = h } }

func WithDocuments(d Documents) Option { return func(t *Terminal) { t.docs = d } }

// WithSessionOptions are applied to every order session the terminal opens.
func WithSessionOptions(opts ...session.Option) Option {
	return func(t *Terminal) { t.sessOpts = append(t.sessOpts, opts...) }
}

// Terminal routes operator input: lines starting with ':' are commands,
// everything else is scanner output.
type Terminal struct {
	cfg      Settings
	orders   func(order.Kind) Orders
	picker   *location.Picker
	norm     *scan.Normalizer
	store    Store
	names    Names
	history  History
	docs     Documents
	sessOpts []session.Option
	log      *slog.Logger
	now      func() time.Time

	// scan reports print from goroutines, so output is serialized
	outMu sync.Mutex
	out   io.Writer

	scans sync.WaitGroup // scan reports not printed yet

	mu     sync.Mutex
	sess   *session.Session
	layers []location.Node // last :tree
	layer  *location.Node  // layer picked with :bins
	bins   []location.Bin  // bins of that layer
}

func New(cfg Settings, orders func(order.Kind) Orders, picker *location.Picker, norm *scan.Normalizer, out io.Writer, opts ...Option) *Terminal {
	t := &Terminal{
		cfg:    cfg,
		orders: orders,
		picker: picker,
		norm:   norm,
		store:  dialog.NewMemory(), // replaced by the postgres repo when configured
		log:    slog.New(slog.DiscardHandler),
		now:    time.Now,
		out:    out,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run reads lines from in until EOF, ":quit" or ctx is done.
func (t *Terminal) Run(ctx context.Context, in io.Reader) error {
	// 1) pick up the order that was open before a restart
	t.Restore(ctx)

	// 2) stdin is read in its own goroutine so a signal is not stuck behind a read

	lines := make(chan string)
	errc := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-stop:
				return
			}
		}
		errc <- sc.Err()
		close(lines)
	}()

	// 3) one line at a time; scans report asynchronously
	defer t.shutdown()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return <-errc // nil on a clean EOF
			}
			if quit := t.Handle(ctx, line); quit {
				return nil
			}
		}
	}
}

// Handle processes one input line and reports whether the operator quit.
func (t *Terminal) Handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if strings.HasPrefix(line, ":") {
		return t.handleCommand(ctx, line)
	}

	// after ":qty <barcode>" the next plain line is the quantity, not a scan
	st, err := t.store.Get(ctx, t.cfg.TerminalID)
	if err == nil && st.State == dialog.StateQtyEdit {
		t.onQuantityInput(ctx, st, line)
		return false
	}
	t.onScan(ctx, line)
	return false
}

// onScan queues one scan and reports its result when the worker is done with
// it. The operator can keep scanning meanwhile.
func (t *Terminal) onScan(ctx context.Context, raw string) {
	s := t.session()
	if s == nil {
		t.printf("No order is open. Use :open <kind> <order number>.\n")
		return
	}
	// keyboard wedge: the reader does not tell us the symbology
	ev, ok := t.norm.Normalize(raw, scan.SourceWedge, scan.SymbologyUnknown)
	if !ok {
		return // empty after trimming, or a debounced repeat
	}
	res := s.Submit(ctx, ev)
	t.scans.Add(1)
	go func() {
		defer t.scans.Done()
		r := <-res
		if r.Err != nil {
			t.printf("%s: %s\n", r.Code, order.UserMessage(r.Err))
			return
		}
		t.printf("%s: %s, qty %d\n", r.Code, r.Row.MaterialName, r.Row.Qty)
	}()
}

// Wait blocks until every submitted scan has been reported.
func (t *Terminal) Wait() { t.scans.Wait() }

// Restore reopens the order the terminal had open before a restart.
func (t *Terminal) Restore(ctx context.Context) {
	st, err := t.store.Get(ctx, t.cfg.TerminalID)
	if err != nil {
		t.log.Warn("terminal state unavailable", "err", err)
		return
	}
	if st.State == dialog.StateIdle {
		return
	}
	kind, _ := dialog.GetString(st.Payload, dialog.KeyKind)
	no, _ := dialog.GetString(st.Payload, dialog.KeyOrderNo)
	if kind == "" || no == "" {
		// a state without an order is useless, start clean
		_ = t.store.Reset(ctx, t.cfg.TerminalID)
		return
	}
	t.log.Info("restoring order", "kind", kind, "order_no", no, "state", string(st.State))
	// rows are always reloaded from the server, only the order number is kept
	if err := t.open(ctx, order.Kind(kind), no); err != nil {
		t.printf("Could not reopen %s: %s\n", no, order.UserMessage(err))
		_ = t.store.Reset(ctx, t.cfg.TerminalID)
	}
}

// Status describes the terminal for the health server and the supervisor bot.
func (t *Terminal) Status() httpx.Status {
	st := httpx.Status{TerminalID: t.cfg.TerminalID}
	s := t.session()
	if s == nil {
		return st
	}
	o := s.Order()
	snap := s.Rows().Snapshot()
	st.OrderNo = o.No
	st.Kind = string(o.Kind)
	st.Phase = string(s.Phase())
	st.Accepted = len(s.Rows().Accepted())
	// lines that still expect items
	for _, p := range snap.Pending {
		if !p.Exhausted() {
			st.Pending++
		}
	}
	return st
}

func (t *Terminal) session() *session.Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sess
}

// setSession swaps the open order; the old session is closed outside t.mu.
func (t *Terminal) setSession(s *session.Session) {
	t.mu.Lock()
	old := t.sess
	t.sess = s
	t.layers, t.layer, t.bins = nil, nil, nil // bin picks belong to the old order
	t.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

func (t *Terminal) shutdown() {
	t.Wait() // let queued scans print before the session closes
	if s := t.session(); s != nil {
		s.Close()
	}
}

func (t *Terminal) printf(format string, args ...any) {
	t.outMu.Lock()
	defer t.outMu.Unlock()
	_, _ = fmt.Fprintf(t.out, format, args...)
}

// name is the display text of a dictionary code, or the code itself.
func (t *Terminal) name(ctx context.Context, domain, code string) string {
	if t.names == nil || code == "" {
		return code
	}
	return t.names.Name(ctx, domain, code)
}
