//go:build linux

package transport

import (
	"bufio"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// SerialBus adapts a raw serial device (a USB-CAN adapter in SLCAN-style
// ASCII mode) to the Bus interface, for cmd/iapflash's -serial flag. Frames
// are encoded as "tIIILDD...DD\r": 3 hex ID digits, 1 hex DLC digit, then
// DLC data bytes as hex pairs, kept minimal since the on-chip CAN
// controller itself is out of scope for this core.
//
// The termios setup (raw mode, 8N1, no flow control) uses
// golang.org/x/sys/unix's portable IoctlGetTermios/IoctlSetTermios rather
// than a hand-rolled ioctl wrapper.
type SerialBus struct {
	f *os.File
	r *bufio.Reader
}

// OpenSerial opens path as a raw serial line at baud and wraps it as a Bus.
func OpenSerial(path string, baud uint32) (*SerialBus, error) {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", path, err)
	}

	t, err := unix.IoctlGetTermios(int(f.Fd()), unix.TCGETS)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("transport: get termios: %w", err)
	}
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8 | unix.CLOCAL | unix.CREAD
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
	rate, err := baudRate(baud)
	if err != nil {
		f.Close()
		return nil, err
	}
	t.Ispeed = rate
	t.Ospeed = rate
	if err := unix.IoctlSetTermios(int(f.Fd()), unix.TCSETS, t); err != nil {
		f.Close()
		return nil, fmt.Errorf("transport: set termios: %w", err)
	}

	return &SerialBus{f: f, r: bufio.NewReader(f)}, nil
}

func baudRate(baud uint32) (uint32, error) {
	switch baud {
	case 9600:
		return unix.B9600, nil
	case 115200:
		return unix.B115200, nil
	case 230400:
		return unix.B230400, nil
	case 500000:
		return unix.B500000, nil
	case 1000000:
		return unix.B1000000, nil
	default:
		return 0, fmt.Errorf("transport: unsupported baud rate %d", baud)
	}
}

// Close releases the underlying file descriptor.
func (s *SerialBus) Close() error { return s.f.Close() }

// MailboxFree is always true: writes to the serial line are buffered by the
// kernel's tty layer, which is as much backpressure as this adapter models.
func (s *SerialBus) MailboxFree() bool { return true }

// TrySend encodes f as one SLCAN-style ASCII line and writes it.
func (s *SerialBus) TrySend(f Frame) (bool, error) {
	line := fmt.Sprintf("t%03X%X", f.ID, f.DLC)
	for i := 0; i < int(f.DLC) && i < len(f.Data); i++ {
		line += fmt.Sprintf("%02X", f.Data[i])
	}
	line += "\r"
	if _, err := s.f.Write([]byte(line)); err != nil {
		return false, err
	}
	return true, nil
}

// Receive reads and decodes the next complete line. OpenSerial sets VMIN=1
// and VTIME=0, so Receive blocks until a line arrives. cmd/iapflash's
// Client calls it directly from its reply loop, so the client's reply
// timeout is checked only between received lines.
func (s *SerialBus) Receive() (Frame, bool) {
	line, err := s.r.ReadString('\r')
	if err != nil || len(line) < 5 || line[0] != 't' {
		return Frame{}, false
	}
	var id uint32
	var dlc uint8
	if _, err := fmt.Sscanf(line[1:5], "%03X%X", &id, &dlc); err != nil {
		return Frame{}, false
	}
	f := Frame{ID: id, DLC: dlc}
	body := line[5:]
	for i := 0; i < int(dlc) && i*2+1 < len(body); i++ {
		var b uint8
		fmt.Sscanf(body[i*2:i*2+2], "%02X", &b)
		f.Data[i] = b
	}
	return f, true
}
