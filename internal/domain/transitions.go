package domain

// transitions is the delivery state graph. DISPUTED is reachable from every state,
// CANCELLED from every state but DELIVERED. Terminal states have no outgoing edges.
var transitions = map[DeliveryStatus][]DeliveryStatus{
	DeliveryPending:   {DeliveryAccepted, DeliveryCancelled, DeliveryDisputed},
	DeliveryAccepted:  {DeliveryPickedUp, DeliveryCancelled, DeliveryDisputed},
	DeliveryPickedUp:  {DeliveryInTransit, DeliveryCancelled, DeliveryDisputed},
	DeliveryInTransit: {DeliveryDelivered, DeliveryCancelled, DeliveryDisputed},
	DeliveryDelivered: {DeliveryDisputed},
	DeliveryCancelled: nil,
	DeliveryDisputed:  nil,
}

// CanTransition reports whether the graph has an edge from -> to.
func CanTransition(from, to DeliveryStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s ends the delivery lifecycle.
func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliveryDelivered || s == DeliveryCancelled || s == DeliveryDisputed
}

// IsActive reports whether a deliverer is currently holding the delivery.
func (s DeliveryStatus) IsActive() bool {
	for _, a := range ActiveDeliveryStatuses {
		if s == a {
			return true
		}
	}
	return false
}

// CarriesCode reports whether a validation code must be set in status s.
func (s DeliveryStatus) CarriesCode() bool {
	return s.IsActive()
}

func (s DeliveryStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// IsCredit reports whether transactions of this type add to the wallet.
// ADJUSTMENT is signed by its amount and is treated separately.
func (t TransactionType) IsCredit() bool {
	switch t {
	case TxEarning, TxRefund, TxPlatformFee, TxBonus:
		return true
	}
	return false
}

func (t TransactionType) Valid() bool {
	switch t {
	case TxEarning, TxWithdrawal, TxRefund, TxPlatformFee, TxAdjustment, TxBonus:
		return true
	}
	return false
}

// IsOpen reports whether the withdrawal still holds reserved funds that have not left the platform.
func (s WithdrawalStatus) IsOpen() bool {
	return s == WithdrawalPending || s == WithdrawalProcessing
}
