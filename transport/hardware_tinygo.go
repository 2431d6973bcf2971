//go:build tinygo

package transport

// Peripheral is the minimal CAN driver capability assumed to be provided
// externally: only the ability to send one frame and receive one frame.
// The concrete driver (bxCAN/FDCAN register programming, interrupt wiring,
// bit timing) is out of scope for this core.
type Peripheral interface {
	// TxMailboxFree reports whether at least one hardware transmit
	// mailbox is currently free.
	TxMailboxFree() bool
	// TxAdd places one frame into a free mailbox. Returns an error if the
	// hardware rejected the request (e.g. no mailbox was actually free).
	TxAdd(id uint32, dlc uint8, data [8]byte) error
	// RxPoll returns the next received frame, if the driver has one
	// buffered, without blocking.
	RxPoll() (id uint32, dlc uint8, data [8]byte, ok bool)
}

// HardwareBus adapts a Peripheral to the Bus interface the rest of the IAP
// core is written against.
type HardwareBus struct {
	p Peripheral
}

// NewHardwareBus wraps a platform CAN driver.
func NewHardwareBus(p Peripheral) *HardwareBus {
	return &HardwareBus{p: p}
}

func (h *HardwareBus) MailboxFree() bool { return h.p.TxMailboxFree() }

func (h *HardwareBus) TrySend(f Frame) (bool, error) {
	if !h.p.TxMailboxFree() {
		return false, nil
	}
	if err := h.p.TxAdd(f.ID, f.DLC, f.Data); err != nil {
		return false, err
	}
	return true, nil
}

func (h *HardwareBus) Receive() (Frame, bool) {
	id, dlc, data, ok := h.p.RxPoll()
	if !ok {
		return Frame{}, false
	}
	return Frame{ID: id, DLC: dlc, Data: data}, true
}
