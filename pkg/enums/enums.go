package enums

// IccidStatus tracks the lifecycle of a SIM inventory row.
type IccidStatus string

const (
	IccidStatusAvailable IccidStatus = "available"
	IccidStatusAssigned  IccidStatus = "assigned"
)

// ActivationStatus is the carrier-side outcome stored on an activation record.
type ActivationStatus string

const (
	ActivationStatusActive  ActivationStatus = "active"
	ActivationStatusPending ActivationStatus = "pending"
	ActivationStatusFailed  ActivationStatus = "failed"
)

// PurchaseStatus reflects how far a paid checkout session has progressed.
type PurchaseStatus string

const (
	PurchaseStatusPaid      PurchaseStatus = "paid"
	PurchaseStatusActivated PurchaseStatus = "activated"
	PurchaseStatusFailed    PurchaseStatus = "failed"
)

// WebhookResult is what the idempotency ledger records per admitted event.
type WebhookResult string

const (
	WebhookResultProcessing WebhookResult = "processing"
	WebhookResultSuccess    WebhookResult = "success"
	WebhookResultFailed     WebhookResult = "failed"
)
