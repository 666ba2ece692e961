package session

import (
	"context"
	"errors"
	"time"

	"github.com/Spok95/wms-pda/internal/domain/order"
)

type State string

const (
	StateOpen      State = "open"      // rows loaded, nothing scanned in this session
	StateScanning  State = "scanning"  // at least one accepted scanned row
	StateVerifying State = "verifying" // completeness check / confirm in flight
	StateConfirmed State = "confirmed"
	StateCancelled State = "cancelled"
)

var (
	ErrNotFullyScanned  = errors.New("order is not fully scanned")
	ErrNothingScanned   = errors.New("no accepted scans to confirm")
	ErrAlreadyConfirmed = errors.New("order is already confirmed")
	ErrScanRace         = errors.New("scans kept arriving during the completeness check")
	ErrScansOutstanding = errors.New("accepted scans must be cancelled before the order is cancelled")
	ErrUnconfirmedScans = errors.New("scans are waiting for backend confirmation")
)

// Backend is everything one order session needs from the server.
type Backend interface {
	order.Backend
	PendingRows(ctx context.Context, orderID string) ([]order.PendingRow, error)
	ScannedRows(ctx context.Context, orderID string) ([]order.ScannedRow, error)
	JudgeScanAll(ctx context.Context, orderID string) (bool, error)
	Confirm(ctx context.Context, req order.ConfirmRequest) error
}

type Outcome string

const (
	OutcomeConfirmed       Outcome = "confirmed"
	OutcomeNotFullyScanned Outcome = "not_fully_scanned"
	OutcomeRejected        Outcome = "rejected"
	OutcomeNetworkError    Outcome = "network_error"
	OutcomeScanRace        Outcome = "scan_race"
	OutcomeInvalid         Outcome = "invalid"
)

// Attempt is one confirmation try, kept for audit and supervisor alerts.
type Attempt struct {
	ID       int64
	OrderID  string
	OrderNo  string
	Kind     order.Kind
	Operator string
	Outcome  Outcome
	Message  string
	Rows     int
	Qty      int
	At       time.Time
}

type Recorder interface {
	Record(ctx context.Context, a Attempt) error
}

type Notifier interface {
	Notify(ctx context.Context, a Attempt) error
}

// Result is delivered for every submitted scan event.
type Result struct {
	Code string
	Row  order.ScannedRow
	Err  error
}
