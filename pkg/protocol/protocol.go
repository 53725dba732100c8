// Package protocol implements the binary service console spoken over USB CDC.
//
// Frame format:
//
//	[SYNC:1][CMD:1][LEN:2][PAYLOAD:LEN][CRC:2]
//	- SYNC: 0xAA (frame start marker)
//	- CMD: Command byte
//	- LEN: Payload length (uint16, little-endian)
//	- PAYLOAD: Variable length data
//	- CRC: CRC16-CCITT of [CMD][LEN][PAYLOAD]
//
// Response format is identical with a status byte in place of CMD.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/tuffrabit/tinygo-ledscroll/pkg/config"
	"github.com/tuffrabit/tinygo-ledscroll/pkg/message"
	"github.com/tuffrabit/tinygo-ledscroll/pkg/peripheral"
	"github.com/tuffrabit/tinygo-ledscroll/pkg/render"
	"github.com/tuffrabit/tinygo-ledscroll/pkg/storage"
)

const (
	SyncByte = 0xAA

	// MaxPayload bounds the LEN field of an incoming frame.
	MaxPayload = 512

	// Command codes (PC → Device)
	CmdGetDeviceConfig = 0x01
	CmdSetDeviceConfig = 0x02
	CmdGetMessage      = 0x03
	CmdSetMessage      = 0x04
	CmdSetAlert        = 0x05
	CmdGetStatus       = 0x06
	CmdGetStorageStats = 0x07
	CmdPing            = 0x08
	CmdFactoryReset    = 0x09
	CmdGetVersion      = 0x10
	CmdDiscover        = 0x11

	// Response status codes (Device → PC)
	StatusOK              = 0x00
	StatusError           = 0x01
	StatusInvalidCmd      = 0x02
	StatusInvalidData     = 0x03
	StatusNotFound        = 0x04
	StatusNoSpace         = 0x05
	StatusVersionMismatch = 0x06
	StatusCRCError        = 0x07
)

// DiscoverReply is the payload answered to CmdDiscover.
const DiscoverReply = "ledscroll"

var (
	ErrInvalidFrame = errors.New("invalid frame")
	ErrCRCMismatch  = errors.New("CRC mismatch")
)

// StatusSource reports the peripheral state for CmdGetStatus.
type StatusSource interface {
	Status() peripheral.Status
}

// Deps are the collaborators a Handler serves. Cell, Alert and Status may be
// nil, in which case the commands that need them answer StatusError.
type Deps struct {
	Storage *storage.Manager
	Cell    *message.Cell
	Alert   *atomic.Bool
	Status  StatusSource
	Major   uint8
	Minor   uint8
	Logger  *slog.Logger
}

// Handler processes protocol commands.
type Handler struct {
	deps   Deps
	logger *slog.Logger
}

// NewHandler creates a new protocol handler.
func NewHandler(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		deps:   deps,
		logger: logger,
	}
}

// Frame represents a protocol frame.
type Frame struct {
	Cmd     uint8
	Payload []byte
}

// Response represents a protocol response.
type Response struct {
	Status  uint8
	Payload []byte
}

// ReadFrame reads and validates a frame from the reader.
func ReadFrame(r io.Reader) (*Frame, error) {
	sync := make([]byte, 1)
	if _, err := io.ReadFull(r, sync); err != nil {
		return nil, err
	}
	if sync[0] != SyncByte {
		return nil, ErrInvalidFrame
	}

	header := make([]byte, 3)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	cmd := header[0]
	length := binary.LittleEndian.Uint16(header[1:])
	if length > MaxPayload {
		return nil, ErrInvalidFrame
	}

	var payload []byte
	if length > 0 {
		payload = make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
	}

	crcBytes := make([]byte, 2)
	if _, err := io.ReadFull(r, crcBytes); err != nil {
		return nil, err
	}
	receivedCRC := binary.LittleEndian.Uint16(crcBytes)

	if receivedCRC != calcCRC(append(header, payload...)) {
		return nil, ErrCRCMismatch
	}

	return &Frame{
		Cmd:     cmd,
		Payload: payload,
	}, nil
}

// WriteResponse writes a response frame to the writer.
func WriteResponse(w io.Writer, resp *Response) error {
	return writeFrame(w, resp.Status, resp.Payload)
}

// WriteFrame writes a request frame (for testing/PC side).
func WriteFrame(w io.Writer, frame *Frame) error {
	return writeFrame(w, frame.Cmd, frame.Payload)
}

func writeFrame(w io.Writer, code uint8, payload []byte) error {
	payloadLen := uint16(len(payload))
	buf := make([]byte, 4, 1+1+2+int(payloadLen)+2)

	buf[0] = SyncByte
	buf[1] = code
	binary.LittleEndian.PutUint16(buf[2:], payloadLen)
	buf = append(buf, payload...)

	// CRC covers everything after the sync byte.
	buf = binary.LittleEndian.AppendUint16(buf, calcCRC(buf[1:]))

	_, err := w.Write(buf)
	return err
}

// ReadResponse reads a response frame (for testing/PC side).
func ReadResponse(r io.Reader) (*Response, error) {
	f, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return &Response{Status: f.Cmd, Payload: f.Payload}, nil
}

// Handle processes a command frame and returns a response.
func (h *Handler) Handle(frame *Frame) *Response {
	switch frame.Cmd {
	case CmdPing:
		return h.handlePing(frame.Payload)
	case CmdDiscover:
		return &Response{Status: StatusOK, Payload: []byte(DiscoverReply)}
	case CmdGetDeviceConfig:
		return h.handleGetDeviceConfig()
	case CmdSetDeviceConfig:
		return h.handleSetDeviceConfig(frame.Payload)
	case CmdGetMessage:
		return h.handleGetMessage()
	case CmdSetMessage:
		return h.handleSetMessage(frame.Payload)
	case CmdSetAlert:
		return h.handleSetAlert(frame.Payload)
	case CmdGetStatus:
		return h.handleGetStatus()
	case CmdGetStorageStats:
		return h.handleGetStorageStats()
	case CmdFactoryReset:
		return h.handleFactoryReset()
	case CmdGetVersion:
		return h.handleGetVersion()
	default:
		return &Response{Status: StatusInvalidCmd}
	}
}

// handlePing responds with the same payload (echo).
func (h *Handler) handlePing(payload []byte) *Response {
	return &Response{
		Status:  StatusOK,
		Payload: payload,
	}
}

// handleGetDeviceConfig returns the stored device configuration.
func (h *Handler) handleGetDeviceConfig() *Response {
	var cfg config.DeviceConfig
	if err := h.deps.Storage.LoadDevice(&cfg); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &Response{Status: StatusNotFound}
		}
		return &Response{Status: StatusError}
	}

	data, err := cfg.MarshalBinary()
	if err != nil {
		return &Response{Status: StatusError}
	}

	return &Response{
		Status:  StatusOK,
		Payload: data,
	}
}

// handleSetDeviceConfig stores the device configuration. It takes effect on
// the next boot.
// Payload: [DeviceConfig:12 bytes]
func (h *Handler) handleSetDeviceConfig(payload []byte) *Response {
	if len(payload) != config.Size {
		return &Response{Status: StatusInvalidData}
	}

	var cfg config.DeviceConfig
	if err := cfg.UnmarshalBinary(payload); err != nil {
		return &Response{Status: StatusInvalidData}
	}
	if cfg.Version != config.CurrentVersion {
		return &Response{Status: StatusVersionMismatch}
	}

	if err := h.deps.Storage.SaveDevice(&cfg); err != nil {
		switch {
		case errors.Is(err, config.ErrInvalidValue):
			return &Response{Status: StatusInvalidData}
		case errors.Is(err, storage.ErrFlashFull):
			return &Response{Status: StatusNoSpace}
		}
		return &Response{Status: StatusError}
	}

	return &Response{Status: StatusOK}
}

// handleGetMessage returns the persisted message as UTF-8.
func (h *Handler) handleGetMessage() *Response {
	text, err := h.deps.Storage.Get(render.MessageKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &Response{Status: StatusNotFound}
		}
		return &Response{Status: StatusError}
	}
	return &Response{Status: StatusOK, Payload: []byte(text)}
}

// handleSetMessage queues new text exactly like a BLE ingest write.
// Payload: UTF-8 text, 1..256 bytes
func (h *Handler) handleSetMessage(payload []byte) *Response {
	if h.deps.Cell == nil {
		return &Response{Status: StatusError}
	}
	text, err := message.Decode(payload)
	if err != nil {
		h.logger.Warn("console message rejected", slog.Int("len", len(payload)), slog.Any("err", err))
		return &Response{Status: StatusInvalidData}
	}
	h.deps.Cell.Write(text)
	h.logger.Info("console message queued", slog.Int("len", len(text)))
	return &Response{Status: StatusOK}
}

// handleSetAlert switches the alert glyph on or off.
// Payload: [On:1 byte]
func (h *Handler) handleSetAlert(payload []byte) *Response {
	if len(payload) != 1 || payload[0] > 1 {
		return &Response{Status: StatusInvalidData}
	}
	if h.deps.Alert == nil {
		return &Response{Status: StatusError}
	}
	h.deps.Alert.Store(payload[0] == 1)
	return &Response{Status: StatusOK}
}

// handleGetStatus returns the peripheral snapshot.
// Response: [Phase:1][Advertising:1][Connections:1][Addr:6][Count:1][ID:2]...
func (h *Handler) handleGetStatus() *Response {
	if h.deps.Status == nil {
		return &Response{Status: StatusError}
	}
	st := h.deps.Status.Status()

	payload := make([]byte, 0, 10+2*len(st.Active))
	payload = append(payload, uint8(st.State.Phase))
	if st.State.Advertising {
		payload = append(payload, 1)
	} else {
		payload = append(payload, 0)
	}
	payload = append(payload, uint8(st.State.Connections))
	payload = append(payload, st.Address[:]...)
	payload = append(payload, uint8(len(st.Active)))
	for _, id := range st.Active {
		payload = binary.LittleEndian.AppendUint16(payload, uint16(id))
	}

	return &Response{
		Status:  StatusOK,
		Payload: payload,
	}
}

// handleGetStorageStats returns storage statistics.
// Response: [Total:4][Used:4][Free:4][KeyCount:1][HasDevice:1]
func (h *Handler) handleGetStorageStats() *Response {
	stats, err := h.deps.Storage.GetStats()
	if err != nil {
		return &Response{Status: StatusError}
	}

	payload := make([]byte, 14)
	binary.LittleEndian.PutUint32(payload[0:], uint32(stats.TotalSpace))
	binary.LittleEndian.PutUint32(payload[4:], uint32(stats.UsedSpace))
	binary.LittleEndian.PutUint32(payload[8:], uint32(stats.FreeSpace))
	payload[12] = uint8(stats.KeyCount)
	if stats.HasDevice {
		payload[13] = 1
	}

	return &Response{
		Status:  StatusOK,
		Payload: payload,
	}
}

// handleFactoryReset wipes all stored state. The message on screen keeps
// scrolling until the next write.
func (h *Handler) handleFactoryReset() *Response {
	if err := h.deps.Storage.ForceWipe(); err != nil {
		return &Response{Status: StatusError}
	}
	h.logger.Warn("factory reset")
	return &Response{Status: StatusOK}
}

// handleGetVersion returns firmware and config version info.
// Response: [FirmwareVersionMajor:1][FirmwareVersionMinor:1][ConfigVersion:2]
func (h *Handler) handleGetVersion() *Response {
	payload := make([]byte, 4)
	payload[0] = h.deps.Major
	payload[1] = h.deps.Minor
	binary.LittleEndian.PutUint16(payload[2:], config.CurrentVersion)

	return &Response{
		Status:  StatusOK,
		Payload: payload,
	}
}

// CommandName returns a short name for a command code.
func CommandName(cmd uint8) string {
	switch cmd {
	case CmdGetDeviceConfig:
		return "GetDevCfg"
	case CmdSetDeviceConfig:
		return "SetDevCfg"
	case CmdGetMessage:
		return "GetMsg"
	case CmdSetMessage:
		return "SetMsg"
	case CmdSetAlert:
		return "SetAlert"
	case CmdGetStatus:
		return "GetStatus"
	case CmdGetStorageStats:
		return "GetStor"
	case CmdPing:
		return "Ping"
	case CmdFactoryReset:
		return "FctRst"
	case CmdGetVersion:
		return "GetVer"
	case CmdDiscover:
		return "Discvr"
	default:
		return fmt.Sprintf("Cmd%02X", cmd)
	}
}

// StatusName returns a short name for a status code.
func StatusName(status uint8) string {
	switch status {
	case StatusOK:
		return "OK"
	case StatusError:
		return "Err"
	case StatusInvalidCmd:
		return "InvCmd"
	case StatusInvalidData:
		return "InvData"
	case StatusNotFound:
		return "NotFnd"
	case StatusNoSpace:
		return "NoSpace"
	case StatusVersionMismatch:
		return "VerMis"
	case StatusCRCError:
		return "CRC"
	default:
		return fmt.Sprintf("Sts%02X", status)
	}
}

// calcCRC calculates CRC16-CCITT.
// Polynomial: 0x1021, Initial: 0xFFFF
func calcCRC(data []byte) uint16 {
	var crc uint16 = 0xFFFF

	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}

	return crc
}
