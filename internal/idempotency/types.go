package idempotency

import "time"

// Status values for idempotency entries
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
)

// Record is the shape persisted in the idempotency table, one per checkout key.
type Record struct {
	IdempotencyKey string    `dynamodbav:"idempotency_key"` // PK
	Status         string    `dynamodbav:"status"`
	RequestHash    string    `dynamodbav:"request_hash,omitempty"`
	OrderID        string    `dynamodbav:"order_id,omitempty"`
	GuestToken     string    `dynamodbav:"guest_token,omitempty"`
	ResponseBody   string    `dynamodbav:"response_body,omitempty"`
	ResponseStatus int       `dynamodbav:"response_status,omitempty"`
	CreatedAt      time.Time `dynamodbav:"created_at"`
	UpdatedAt      time.Time `dynamodbav:"updated_at"`
	ExpiresAt      int64     `dynamodbav:"expires_at"` // TTL epoch seconds
	Note           string    `dynamodbav:"note,omitempty"`
}

// Response is what a finished checkout stores for replay.
type Response struct {
	OrderID string
	// GuestToken is the device token the order was filed under, for guest checkouts.
	GuestToken string
	Body       string
	Status     int
}

// Done reports whether the stored response can be replayed.
func (r *Record) Done() bool { return r != nil && r.Status == StatusDone }
