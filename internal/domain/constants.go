package domain

const (
	RoleClient    = "CLIENT"
	RoleDeliverer = "DELIVERER"
	RoleMerchant  = "MERCHANT"
	RoleProvider  = "PROVIDER"
	RoleAdmin     = "ADMIN"
	// RoleSystem is used for transitions triggered by internal collaborators (settlement, dispute resolution).
	RoleSystem = "SYSTEM"
)

const (
	ApprovalPending   = "PENDING"
	ApprovalApproved  = "APPROVED"
	ApprovalRejected  = "REJECTED"
	ApprovalSuspended = "SUSPENDED"
)

// DeliveryStatus is the lifecycle state of a delivery.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "PENDING"
	DeliveryAccepted  DeliveryStatus = "ACCEPTED"
	DeliveryPickedUp  DeliveryStatus = "PICKED_UP"
	DeliveryInTransit DeliveryStatus = "IN_TRANSIT"
	DeliveryDelivered DeliveryStatus = "DELIVERED"
	DeliveryCancelled DeliveryStatus = "CANCELLED"
	DeliveryDisputed  DeliveryStatus = "DISPUTED"
)

// ActiveDeliveryStatuses are the statuses in which a deliverer is holding a delivery.
var ActiveDeliveryStatuses = []DeliveryStatus{DeliveryAccepted, DeliveryPickedUp, DeliveryInTransit}

const (
	DisputeRelease = "RELEASE"
	DisputeRefund  = "REFUND"
)

// TransactionType classifies ledger rows.
type TransactionType string

const (
	TxEarning     TransactionType = "EARNING"
	TxWithdrawal  TransactionType = "WITHDRAWAL"
	TxRefund      TransactionType = "REFUND"
	TxPlatformFee TransactionType = "PLATFORM_FEE"
	TxAdjustment  TransactionType = "ADJUSTMENT"
	TxBonus       TransactionType = "BONUS"
)

// TransactionStatus is the state of a ledger row. Only PENDING rows may change.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "PENDING"
	TxCompleted TransactionStatus = "COMPLETED"
	TxFailed    TransactionStatus = "FAILED"
	TxCancelled TransactionStatus = "CANCELLED"
)

type WithdrawalStatus string

const (
	WithdrawalPending    WithdrawalStatus = "PENDING"
	WithdrawalProcessing WithdrawalStatus = "PROCESSING"
	WithdrawalCompleted  WithdrawalStatus = "COMPLETED"
	WithdrawalFailed     WithdrawalStatus = "FAILED"
	WithdrawalCancelled  WithdrawalStatus = "CANCELLED"
)

// SettlementStatus tracks a queued delivery payout request.
type SettlementStatus string

const (
	SettlementPending    SettlementStatus = "PENDING"
	SettlementProcessing SettlementStatus = "PROCESSING"
	SettlementCompleted  SettlementStatus = "COMPLETED"
	SettlementFailed     SettlementStatus = "FAILED"
	// SettlementHeld means the delivery is under dispute; the request waits for a resolution.
	SettlementHeld SettlementStatus = "HELD"
)

const (
	EventDeliveryAccepted   = "DELIVERY_ACCEPTED"
	EventDeliveryStatus     = "DELIVERY_STATUS"
	EventDeliveryCancelled  = "DELIVERY_CANCELLED"
	EventDeliveryDisputed   = "DELIVERY_DISPUTED"
	EventCodeRegenerated    = "VALIDATION_CODE_REGENERATED"
	EventEarningCredited    = "EARNING_CREDITED"
	EventRefundCredited     = "REFUND_CREDITED"
	EventWithdrawalUpdated  = "WITHDRAWAL_UPDATED"
	EventWithdrawalReversed = "WITHDRAWAL_REVERSED"
)
