package booking

import (
	"context"
	"errors"
	"time"

	"github.com/fixpoint-app/fixpoint/internal/auth"
	"github.com/fixpoint-app/fixpoint/internal/store"
)

// Status is a booking's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAccepted   Status = "accepted"
	StatusDeclined   Status = "declined"
	StatusEnRoute    Status = "en_route"
	StatusOnSite     Status = "on_site"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusReviewed   Status = "reviewed"
)

// IsTerminal reports whether no further work-progress transitions exist.
// A completed booking may still move to reviewed.
func (s Status) IsTerminal() bool {
	return s == StatusDeclined || s == StatusCancelled || s == StatusReviewed
}

var (
	ErrBookingNotFound   = errors.New("booking not found")
	ErrInvalidTransition = errors.New("booking status transition not allowed")
	ErrUnauthorized      = errors.New("not authorized for this booking")
	ErrInvalidLineItems  = errors.New("booking requires at least one line item with positive quantity and price")
)

type transition struct {
	From Status
	To   Status
}

// transitions maps each allowed status change to the role that may request
// it. Admins may force any change and bypass this table entirely.
var transitions = map[transition]auth.Role{
	{StatusPending, StatusAccepted}:     auth.RoleProvider,
	{StatusPending, StatusDeclined}:     auth.RoleProvider,
	{StatusPending, StatusCancelled}:    auth.RoleCustomer,
	{StatusAccepted, StatusEnRoute}:     auth.RoleProvider,
	{StatusAccepted, StatusCancelled}:   auth.RoleCustomer,
	{StatusEnRoute, StatusOnSite}:       auth.RoleProvider,
	{StatusOnSite, StatusInProgress}:    auth.RoleProvider,
	{StatusInProgress, StatusCompleted}: auth.RoleProvider,
	{StatusCompleted, StatusReviewed}:   auth.RoleCustomer,
}

// CanTransition reports whether the role may move a booking from one status
// to another.
func CanTransition(from, to Status, role auth.Role) bool {
	if role == auth.RoleAdmin {
		return from != to
	}
	return transitions[transition{from, to}] == role
}

// LineItem is one priced service on a booking. LineTotal is always
// Qty * UnitPrice in minor units.
type LineItem struct {
	ServiceID string `json:"serviceId"`
	Qty       int    `json:"qty"`
	UnitPrice int64  `json:"unitPrice"`
	LineTotal int64  `json:"lineTotal"`
}

// Booking is a scheduled job between a customer and a provider. TotalAmount
// equals the sum of line totals plus any accepted requote deltas.
type Booking struct {
	ID              string     `json:"id"`
	CustomerID      string     `json:"customerId"`
	ProviderID      string     `json:"providerId"`
	LineItems       []LineItem `json:"lineItems"`
	TotalAmount     int64      `json:"totalAmount"`
	Status          Status     `json:"status"`
	CancellationFee int64      `json:"cancellationFee,omitempty"`
	ScheduledAt     *time.Time `json:"scheduledAt,omitempty"`
	ActualArrival   *time.Time `json:"actualArrival,omitempty"`
	CompletionTime  *time.Time `json:"completionTime,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// StatusUpdate is one appended audit record per transition.
type StatusUpdate struct {
	ID         string    `json:"id"`
	BookingID  string    `json:"bookingId"`
	FromStatus Status    `json:"fromStatus"`
	ToStatus   Status    `json:"toStatus"`
	ActorID    string    `json:"actorId"`
	ActorRole  auth.Role `json:"actorRole"`
	Note       string    `json:"note,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Store persists bookings and their status history. Update is
// compare-and-swap on status: it fails with store.ErrConflict when the row's
// current status no longer matches expect.
type Store interface {
	Create(ctx context.Context, q store.Querier, b *Booking) error
	Get(ctx context.Context, q store.Querier, id string) (*Booking, error)
	Update(ctx context.Context, q store.Querier, b *Booking, expect Status) error
	ListByUser(ctx context.Context, q store.Querier, userID string, limit int) ([]*Booking, error)
	AppendStatusUpdate(ctx context.Context, q store.Querier, u *StatusUpdate) error
	ListStatusUpdates(ctx context.Context, q store.Querier, bookingID string) ([]*StatusUpdate, error)
}
