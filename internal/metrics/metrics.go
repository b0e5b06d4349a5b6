// Package metrics defines the Collector interface used by the SMTP receiver,
// the message store, and the event fan-out to record operational metrics.
package metrics

// Collector defines the interface for recording service metrics.
type Collector interface {
	// SMTP connection metrics
	ConnectionOpened()
	ConnectionClosed()

	// SMTP command metrics
	CommandProcessed(command string)

	// Delivery metrics
	MessageAccepted(sizeBytes int)

	// Store metrics
	MessageAdded()
	MessageDeleted()
	MessagesPruned(count int)
	MailboxCleared(removed int)
	SetStoreSize(mailboxes, messages int)

	// Event fan-out metrics
	EventPublished()
	EventDropped()
}
