// Package telemetry delivers operator notifications. Sends are
// fire-and-forget: a lost message must never stall or fail trading.
package telemetry

// Notifier is the outbound notification contract.
type Notifier interface {
	// Notify sends a short event message.
	Notify(event, message string)
	// SendDocument uploads a file (report exports) with a caption.
	SendDocument(name string, payload []byte, caption string)
}

// Noop drops everything. Used when no Telegram credentials are configured.
type Noop struct{}

func (Noop) Notify(event, message string) {}

func (Noop) SendDocument(name string, payload []byte, caption string) {}
