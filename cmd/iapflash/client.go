package main

import (
	"fmt"
	"time"

	"openenterprise/iapcore/crc16"
	"openenterprise/iapcore/memmap"
	"openenterprise/iapcore/transport"
)

// Magic payload bytes and status codes, mirrored from package iap (which
// keeps its magic payload bytes unexported).
const (
	magicSTMBootloader = 0xAB
	magicResetMarkers  = 0xBB
	magicProgrammEnd   = 0xCC
	magicLastFrame     = 0x04
	magicCRCFailed     = 0x07
	magicCRCSucceeded  = 0x03

	statusReady       = 0xAA
	statusEraseFailed = 0x22
)

// Client drives the wire protocol from the host side: erase, stream
// double-words, verify each page's CRC, and finalize.
type Client struct {
	bus     transport.Bus
	mem     memmap.Layout
	timeout time.Duration
}

// NewClient wraps bus for a device with the given memory layout.
func NewClient(bus transport.Bus, mem memmap.Layout) *Client {
	return &Client{bus: bus, mem: mem, timeout: 2 * time.Second}
}

func (c *Client) send(id uint32, dlc uint8, data ...byte) {
	var f transport.Frame
	f.ID, f.DLC = id, dlc
	copy(f.Data[:], data)
	for !c.bus.MailboxFree() {
	}
	c.bus.TrySend(f)
}

func (c *Client) recv(wantID uint32) (transport.Frame, error) {
	deadline := time.Now().Add(c.timeout)
	for time.Now().Before(deadline) {
		if f, ok := c.bus.Receive(); ok {
			if f.ID == wantID {
				return f, nil
			}
			continue
		}
	}
	return transport.Frame{}, fmt.Errorf("iapflash: timed out waiting for a reply on id %#x", wantID)
}

// Start sends PROGRAM_START and waits for the READYx3/ERASE_FAILEDx3 ack.
func (c *Client) Start() error {
	c.send(transport.IDUpdateFirmware, 5, 0)
	reply, err := c.recv(transport.IDUpdateFirmware)
	if err != nil {
		return err
	}
	if reply.Data[0] != statusReady {
		return fmt.Errorf("iapflash: device reported erase failure (status %#02x)", reply.Data[0])
	}
	return nil
}

// JumpToFactoryROM sends PROGRAM_START/STM_BOOTLOADER; the device does not
// reply, since on real hardware it never returns from the jump.
func (c *Client) JumpToFactoryROM() {
	c.send(transport.IDUpdateFirmware, 5, magicSTMBootloader)
}

// ResetMarkers sends LOAD_NEW_PROGRAM/RESET_MARKERS.
func (c *Client) ResetMarkers() error {
	c.send(transport.IDUpdateFirmware, 2, magicResetMarkers)
	reply, err := c.recv(transport.IDUpdateFirmware)
	if err != nil {
		return err
	}
	if reply.Data[0] != statusReady {
		return fmt.Errorf("iapflash: reset-markers failed (status %#02x)", reply.Data[0])
	}
	return nil
}

// Flash streams image through WRITE_TO_FLASH frames, page by page,
// sending a page up to three times in all on CRC mismatches, then finalizes with
// LOAD_NEW_PROGRAM/PROGRAMM_END.
func (c *Client) Flash(image []byte) error {
	if err := c.Start(); err != nil {
		return err
	}

	framesPerPage := int(c.mem.FramesPerPage)
	totalFrames := (len(image) + 7) / 8
	for pageStart := 0; pageStart < totalFrames; pageStart += framesPerPage {
		pageEnd := pageStart + framesPerPage
		if pageEnd > totalFrames {
			pageEnd = totalFrames
		}
		if err := c.sendPageWithRetry(image, pageStart, pageEnd, totalFrames); err != nil {
			return err
		}
		if pageEnd < totalFrames {
			c.send(transport.IDUpdateFirmware, 3, magicCRCSucceeded, magicCRCSucceeded)
		}
	}

	c.send(transport.IDUpdateFirmware, 2, magicProgrammEnd)
	return nil
}

func (c *Client) sendPageWithRetry(image []byte, pageStart, pageEnd, totalFrames int) error {
	const maxPageRetries = 3
	for attempt := 0; attempt < maxPageRetries; attempt++ {
		if err := c.sendPage(image, pageStart, pageEnd, totalFrames); err != nil {
			return err
		}
		reply, err := c.recv(transport.IDCRCReply)
		if err != nil {
			return err
		}
		gotCRC := uint16(reply.Data[0])<<8 | uint16(reply.Data[1])
		wantCRC := crc16.UpdateBytes(0, pageBytes(image, pageStart, pageEnd))
		if gotCRC == wantCRC {
			return nil
		}
		c.send(transport.IDUpdateFirmware, 7, magicCRCFailed, magicCRCFailed)
		if _, err := c.recv(transport.IDUpdateFirmware); err != nil {
			return err
		}
	}
	return fmt.Errorf("iapflash: page at frame %d failed CRC after %d attempts", pageStart, maxPageRetries)
}

func (c *Client) sendPage(image []byte, pageStart, pageEnd, totalFrames int) error {
	for i := pageStart; i < pageEnd; i++ {
		var data [8]byte
		lo, hi := i*8, i*8+8
		if hi > len(image) {
			hi = len(image)
		}
		copy(data[:], image[lo:hi])

		if i == totalFrames-1 {
			c.send(transport.IDUpdateFirmware, 4, magicLastFrame, magicLastFrame)
		}
		c.send(transport.IDUpdateFirmware, 8, data[:]...)
	}
	return nil
}

// pageBytes returns the (possibly short, on the final page) byte range a
// [pageStart, pageEnd) frame range covers, zero-padded to a full double-word
// multiple the way the device's own CRC computation reads back flash.
func pageBytes(image []byte, pageStart, pageEnd int) []byte {
	lo, hi := pageStart*8, pageEnd*8
	if hi > len(image) {
		out := make([]byte, hi-lo)
		copy(out, image[lo:])
		return out
	}
	return image[lo:hi]
}
