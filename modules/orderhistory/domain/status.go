package domain

// Status represents the order status as seen by the order history.
type Status string

const (
	StatusApprovalPending Status = "APPROVAL_PENDING"
	StatusApproved        Status = "APPROVED"
	StatusRejected        Status = "REJECTED"
	StatusPickedUp        Status = "PICKED_UP"
	StatusDelivered       Status = "DELIVERED"
	StatusCancelled       Status = "CANCELLED"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusApprovalPending, StatusApproved, StatusRejected, StatusPickedUp, StatusDelivered, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further status transition is accepted.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusRejected, StatusDelivered, StatusCancelled:
		return true
	default:
		return false
	}
}

// rank orders the forward lifecycle. Cancellation is outside the ranking:
// it is reachable from every non-terminal status.
func (s Status) rank() int {
	switch s {
	case StatusApprovalPending:
		return 1
	case StatusApproved, StatusRejected:
		return 2
	case StatusPickedUp:
		return 3
	case StatusDelivered:
		return 4
	default:
		return 0
	}
}

// CanTransitionTo reports whether moving from s to next is a forward transition.
func (s Status) CanTransitionTo(next Status) bool {
	if s.IsTerminal() || !next.IsValid() {
		return false
	}
	if next == StatusCancelled {
		return true
	}
	return next.rank() > s.rank()
}

func ParseStatus(s string) (Status, error) {
	status := Status(s)
	if !status.IsValid() {
		return "", ErrInvalidStatus
	}
	return status, nil
}
