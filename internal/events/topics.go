package events

// Topic constants for checkout domain events.
const (
	TopicCheckoutOpened    = "checkout.opened"
	TopicCheckoutSettled   = "checkout.settled"
	TopicCheckoutFailed    = "checkout.failed"
	TopicCheckoutCancelled = "checkout.cancelled"
)
