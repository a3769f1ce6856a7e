package domain

import "time"

// Delivery statuses
const (
	DeliverySent   = "sent"
	DeliveryFailed = "failed"
)

// DeliveryOutcome is the per-contact result posted to the status webhook.
type DeliveryOutcome struct {
	CampaignId string    `json:"campaignId"`
	ContactId  ContactID `json:"contactId"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// InboundPayload is posted to the responses webhook for every inbound message.
type InboundPayload struct {
	UserId    string    `json:"userId"`
	Phone     string    `json:"phone"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
