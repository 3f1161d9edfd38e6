package protocol

// SendFunc transmits one encoded write message.
type SendFunc func(message string) error

// DeviceEncoder builds outbound messages for devices with their own frame
// format, in place of the write-value template.
type DeviceEncoder interface {
	// EncodeWrite renders a write of value to ref and passes the message
	// to send. Device state changes only when send succeeds.
	EncodeWrite(ref AttributeRef, meta LinkMeta, value any, send SendFunc) error

	// Forget drops any state kept for ref; called when ref is unlinked.
	Forget(ref AttributeRef)
}
