// Package transport wraps the external CAN driver: a blocking "send one
// frame" that waits for a free mailbox, and a dispatch point for inbound
// frames. The CAN peripheral itself (only "send one frame, receive one
// frame" is assumed) is out of scope; Bus is the abstraction the rest of
// the IAP core programs against.
package transport

// Frame is one CAN 2.0A message: an 11-bit arbitration ID, a DLC from 0 to
// 8 (the engine dispatches on 0, 2, 3, 4, 5, 7 and 8; its replies use 1, 2
// and 3), and up to 8 payload bytes.
type Frame struct {
	ID   uint32
	DLC  uint8
	Data [8]byte
}

// Control and reply CAN IDs.
const (
	IDUpdateFirmware = 0x600
	IDCRCReply       = 0x601
)

// Bus is the minimal CAN peripheral contract: add one frame to a mailbox,
// report whether a mailbox is currently free, and poll for one received
// frame. A real implementation wraps the platform CAN driver; tests and the
// host-side client use LoopbackBus.
type Bus interface {
	// TrySend attempts to place f in a free mailbox. It returns false (not
	// an error) if all mailboxes are currently full — the caller busy-spins
	// on MailboxFree before calling TrySend.
	TrySend(f Frame) (ok bool, err error)
	// MailboxFree reports whether at least one transmit mailbox is free.
	MailboxFree() bool
	// Receive polls for one received frame, non-blocking.
	Receive() (f Frame, ok bool)
}

// Adapter is the blocking send wrapper: busy-spin while all mailboxes are
// full, then place the frame. A hardware error reported by TrySend is
// fatal — it invokes the platform fault handler, since the device is then
// in an untrustworthy state.
type Adapter struct {
	bus     Bus
	onFatal func(error)
}

// New wraps bus in a blocking-send Adapter. onFatal is invoked (and must
// not return, on real hardware) if the underlying driver reports a
// transmission error.
func New(bus Bus, onFatal func(error)) *Adapter {
	return &Adapter{bus: bus, onFatal: onFatal}
}

// Send blocks (busy-spinning — acceptable since this runs only during
// programming, when the main application is not running) until a mailbox
// is free, then places the frame. DLC bytes beyond dlc are not inspected by
// the caller but are always sent zero-padded to 8 bytes: replies right-pad
// with zeros to the declared DLC.
func (a *Adapter) Send(id uint32, data [8]byte, dlc uint8) {
	for !a.bus.MailboxFree() {
	}
	ok, err := a.bus.TrySend(Frame{ID: id, DLC: dlc, Data: data})
	if err != nil {
		a.onFatal(err)
		return
	}
	if !ok {
		// MailboxFree raced with another sender; spin once more. Single-
		// producer use makes this effectively unreachable in the resident
		// image, but a second attempt costs nothing.
		for !a.bus.MailboxFree() {
		}
		if ok, err = a.bus.TrySend(Frame{ID: id, DLC: dlc, Data: data}); err != nil {
			a.onFatal(err)
		}
		_ = ok
	}
}

// Handler is anything that consumes one inbound frame — satisfied by
// *iap.Engine in the resident image.
type Handler interface {
	Handle(f Frame)
}

// Dispatch is what the platform's CAN ISR/dispatcher calls on receipt of a
// frame; it forwards directly to the Protocol Engine. The engine is not
// re-entrant, so the platform must serialize these calls.
func Dispatch(f Frame, h Handler) {
	h.Handle(f)
}
