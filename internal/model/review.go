package model

import "time"

// ReviewReason explains why a resolution was routed to manual review.
type ReviewReason string

const (
	ReasonLowConfidence    ReviewReason = "low_confidence"
	ReasonNotFound         ReviewReason = "not_found"
	ReasonValidationFailed ReviewReason = "validation_failed"
	ReasonMissingFields    ReviewReason = "missing_fields"
)

// ReviewItem is a resolution pending human correction.
type ReviewItem struct {
	Key        Key           `json:"key"`
	Record     AddressRecord `json:"record"`
	Reason     ReviewReason  `json:"reason"`
	CreatedAt  time.Time     `json:"created_at"`
	Resolved   bool          `json:"resolved"`
	ResolvedAt *time.Time    `json:"resolved_at,omitempty"`
}
