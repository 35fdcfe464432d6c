package receipt

import "errors"

var (
	ErrEmptyReceipt         = errors.New("receipt: empty receipt data")
	ErrNoActiveSubscription = errors.New("receipt: no subscription transaction in receipt")
	ErrSubscriptionExpired  = errors.New("receipt: subscription has expired")
)
