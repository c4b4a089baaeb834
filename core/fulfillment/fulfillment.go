package fulfillment

import "time"

type Status string

// Assigned -> PickedUp -> {Delivered | Canceled}; the last two are
// terminal.
const (
	Assigned  Status = "assigned"
	PickedUp  Status = "picked_up"
	Delivered Status = "delivered"
	Canceled  Status = "canceled"
)

// Assignment binds at most one courier to an order for its whole delivery
// lifecycle.
type Assignment struct {
	ID          string     `json:"id" db:"assignment_id"`
	OrderID     string     `json:"orderId" db:"order_id"`
	CourierID   string     `json:"courierId" db:"courier_id"`
	Status      Status     `json:"status" db:"status"`
	AssignedAt  time.Time  `json:"assignedAt" db:"assigned_at"`
	PickedUpAt  *time.Time `json:"pickedUpAt" db:"picked_up_at"`
	DeliveredAt *time.Time `json:"deliveredAt" db:"delivered_at"`
	UpdatedAt   time.Time  `json:"updatedAt" db:"updated_at"`
}

type StatusUpdate struct {
	Status Status `json:"status" validate:"required,oneof=picked_up delivered canceled"`
}

// CanTransition is the legality table of the state machine.
func CanTransition(from, to Status) bool {
	switch from {
	case Assigned:
		return to == PickedUp || to == Canceled
	case PickedUp:
		return to == Delivered || to == Canceled
	default:
		// Delivered and Canceled are terminal.
		return false
	}
}
