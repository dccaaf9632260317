package domain

import (
	"time"
)

// RequestStatus is the lifecycle state of an account deletion request.
type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusCancelled RequestStatus = "cancelled"
	StatusCompleted RequestStatus = "completed"
)

// DeletionRequest is a user's pending (or settled) exercise of the right
// to erasure. A user has at most one pending request at a time; the grace
// window between requested_at and scheduled_date lets them change their mind.
type DeletionRequest struct {
	ID            string        `db:"id" json:"id"`
	UserID        string        `db:"user_id" json:"user_id"`
	Status        RequestStatus `db:"status" json:"status"`
	RequestedAt   time.Time     `db:"requested_at" json:"requested_at"`
	ScheduledDate time.Time     `db:"scheduled_date" json:"scheduled_date"`
	IPAddress     *string       `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent     *string       `db:"user_agent" json:"user_agent,omitempty"`
	CancelledAt   *time.Time    `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CompletedAt   *time.Time    `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updated_at"`
}

// DaysRemaining reports how many whole days remain until the scheduled
// execution date. Never negative; a due request reports zero.
func (r *DeletionRequest) DaysRemaining(now time.Time) int {
	if !now.Before(r.ScheduledDate) {
		return 0
	}
	return int(r.ScheduledDate.Sub(now).Hours() / 24)
}

// IsDue reports whether the grace window has elapsed.
func (r *DeletionRequest) IsDue(now time.Time) bool {
	return r.Status == StatusPending && !now.Before(r.ScheduledDate)
}

// Audit actions recorded for the compliance trail.
const (
	ActionDeletionRequested = "account_deletion_requested"
	ActionDeletionCancelled = "account_deletion_cancelled"
	ActionDeletionExecuted  = "account_deletion_executed"
	ActionDeletionFailed    = "account_deletion_failed"
)

// AuditLog is one immutable entry in the compliance audit trail. Entries
// survive the deletion of the user they describe.
type AuditLog struct {
	ID        string         `db:"id" json:"id"`
	UserID    string         `db:"user_id" json:"user_id"`
	Action    string         `db:"action" json:"action"`
	Details   map[string]any `db:"-" json:"details,omitempty"`
	IPAddress *string        `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent *string        `db:"user_agent" json:"user_agent,omitempty"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

// ErasureSummary accounts for what one erasure run did to each table, by
// fate. Recorded in the audit trail and published on the completion event.
type ErasureSummary struct {
	Deleted      []string `json:"deleted_collections"`
	Anonymized   []string `json:"anonymized_collections"`
	Retained     []string `json:"retained_collections"`
	BlobsDeleted int      `json:"blobs_deleted"`
}
