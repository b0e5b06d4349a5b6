package metrics

// NoopCollector is a no-op implementation of the Collector interface.
// All methods are empty stubs that do nothing.
type NoopCollector struct{}

// ConnectionOpened is a no-op.
func (n *NoopCollector) ConnectionOpened() {}

// ConnectionClosed is a no-op.
func (n *NoopCollector) ConnectionClosed() {}

// CommandProcessed is a no-op.
func (n *NoopCollector) CommandProcessed(command string) {}

// MessageAccepted is a no-op.
func (n *NoopCollector) MessageAccepted(sizeBytes int) {}

// MessageAdded is a no-op.
func (n *NoopCollector) MessageAdded() {}

// MessageDeleted is a no-op.
func (n *NoopCollector) MessageDeleted() {}

// MessagesPruned is a no-op.
func (n *NoopCollector) MessagesPruned(count int) {}

// MailboxCleared is a no-op.
func (n *NoopCollector) MailboxCleared(removed int) {}

// SetStoreSize is a no-op.
func (n *NoopCollector) SetStoreSize(mailboxes, messages int) {}

// EventPublished is a no-op.
func (n *NoopCollector) EventPublished() {}

// EventDropped is a no-op.
func (n *NoopCollector) EventDropped() {}
