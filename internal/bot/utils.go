package bot

import (
	"fmt"
	"strings"
	"time"

	httpx "github.com/Spok95/wms-pda/internal/infra/http"
	"github.com/Spok95/wms-pda/internal/session"
)

// attemptText formats one confirmation alert:
//
//	Order RK-1 (material_in) confirmed on pda-1 by op-7
//	Rows: 2, qty: 5
func attemptText(terminalID string, a session.Attempt) string {
	var sb strings.Builder
	// first line: order and what happened to it
	switch a.Outcome {
	case session.OutcomeConfirmed:
		fmt.Fprintf(&sb, "Order %s (%s) confirmed", a.OrderNo, a.Kind)
	case session.OutcomeRejected:
		fmt.Fprintf(&sb, "Order %s (%s) rejected", a.OrderNo, a.Kind)
	default:
		fmt.Fprintf(&sb, "Order %s (%s): %s", a.OrderNo, a.Kind, a.Outcome)
	}
	if terminalID != "" {
		fmt.Fprintf(&sb, " on %s", terminalID)
	}
	if a.Operator != "" {
		fmt.Fprintf(&sb, " by %s", a.Operator)
	}
	fmt.Fprintf(&sb, "\nRows: %d, qty: %d", a.Rows, a.Qty)
	// the server message, verbatim, when there was one
	if a.Message != "" {
		fmt.Fprintf(&sb, "\n%s", a.Message)
	}
	return sb.String()
}

// historyText lists attempts newest first, one per line.
func historyText(orderNo string, items []session.Attempt) string {
	if len(items) == 0 {
		return fmt.Sprintf("No confirmation attempts for %s.", orderNo)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Attempts for %s:", orderNo)
	for _, a := range items {
		// terminal local time
		fmt.Fprintf(&sb, "\n%s  %s  rows %d, qty %d", a.At.Local().Format(time.DateTime), a.Outcome, a.Rows, a.Qty)
		if a.Message != "" {
			fmt.Fprintf(&sb, "  %s", a.Message)
		}
	}
	return sb.String()
}

// statusText renders the same snapshot GET /status returns.
func statusText(st httpx.Status) string {
	if st.OrderNo == "" {
		return fmt.Sprintf("Terminal %s: no open order.", st.TerminalID)
	}
	return fmt.Sprintf("Terminal %s: order %s (%s), %s\nAccepted rows: %d, pending rows: %d",
		st.TerminalID, st.OrderNo, st.Kind, st.Phase, st.Accepted, st.Pending)
}
