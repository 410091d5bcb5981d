package models

import "time"

type DeliveryStatus string

const (
	DeliveryStatusSent   DeliveryStatus = "sent"
	DeliveryStatusEdited DeliveryStatus = "edited"
	DeliveryStatusFailed DeliveryStatus = "failed"
)

// CorrelationEntry links one delivered copy of a source message to the
// message it produced in a destination conversation. Edit events use these
// rows to locate what to edit downstream.
type CorrelationEntry struct {
	ID          int64          `json:"id"`
	Account     string         `json:"account"`
	SourceConvo int64          `json:"sourceConvo"`
	SourceMsgID int64          `json:"sourceMsgId"`
	DestConvo   int64          `json:"destConvo"`
	DestMsgID   int64          `json:"destMsgId"`
	Status      DeliveryStatus `json:"status"`
	ForwardedAt time.Time      `json:"forwardedAt"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}
