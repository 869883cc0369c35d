package requisition

import (
	"time"
)

// Status enumerates the two-level approval lifecycle.
type Status string

const (
	// StatusPendingHO awaits Head-of-Operations review.
	StatusPendingHO Status = "pending_ho"
	// StatusForwardedToMD awaits Managing-Director review.
	StatusForwardedToMD Status = "forwarded_to_md"
	// StatusMDApproved is the terminal approved state.
	StatusMDApproved Status = "md_approved"
	// StatusHORejected is terminal; the requisition never reached the MD.
	StatusHORejected Status = "ho_rejected"
	// StatusMDRejected is terminal.
	StatusMDRejected Status = "md_rejected"
)

// Event enumerates approval actions.
type Event string

const (
	EventHOApprove Event = "ho_approve"
	EventHOReject  Event = "ho_reject"
	EventMDApprove Event = "md_approve"
	EventMDReject  Event = "md_reject"
)

// transitions is the state × event table. An absent entry means the event is
// not permitted from that state; no event skips an approval level.
var transitions = map[Status]map[Event]Status{
	StatusPendingHO: {
		EventHOApprove: StatusForwardedToMD,
		EventHOReject:  StatusHORejected,
	},
	StatusForwardedToMD: {
		EventMDApprove: StatusMDApproved,
		EventMDReject:  StatusMDRejected,
	},
}

// NextStatus resolves the transition table.
func NextStatus(current Status, event Event) (Status, bool) {
	next, ok := transitions[current][event]
	return next, ok
}

// Terminal reports whether no further events apply.
func Terminal(s Status) bool {
	return len(transitions[s]) == 0
}

// RequestType distinguishes raw-material from packing-material requests.
type RequestType string

const (
	TypeMaterial        RequestType = "material"
	TypePackingMaterial RequestType = "packing_material"
)

// Line is one requested material.
type Line struct {
	ID                int64
	RequisitionID     int64
	MaterialID        int64
	MaterialName      string
	RequestedQuantity float64
	Unit              string
}

// Requisition is a material request moving through two-level approval.
// Rejections are terminal states, never deletions.
type Requisition struct {
	ID           int64
	Number       string
	Type         RequestType
	Status       Status
	RequestedBy  int64
	Items        []Line
	SubmittedAt  time.Time
	HOApprover   int64
	HOComments   string
	HOApprovedAt *time.Time
	MDApprover   int64
	MDComments   string
	MDApprovedAt *time.Time
	RejectedAt   *time.Time
	RejectReason string
}
