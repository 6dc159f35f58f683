package tuya

import (
	"bytes"
	"crypto/aes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"strconv"
	"time"
)

// Frame markers and command codes of the Tuya local protocol.
const (
	framePrefix uint32 = 0x000055AA
	frameSuffix uint32 = 0x0000AA55

	CommandControl   uint32 = 0x07
	CommandStatus    uint32 = 0x08
	CommandHeartbeat uint32 = 0x09
	CommandDPQuery   uint32 = 0x0a
)

const (
	// headerSize is prefix + seq + command + length.
	headerSize = 16

	// trailerSize is crc + suffix. The length field counts it.
	trailerSize = 8

	retCodeSize = 4

	// maxFrameSize bounds reads from a misbehaving device.
	maxFrameSize = 4096

	// Version33 is the only protocol version this client speaks.
	Version33 = "3.3"
)

// versionHeader is "3.3" followed by 12 zero bytes, prepended to encrypted
// CONTROL payloads.
var versionHeader = append([]byte(Version33), make([]byte, 12)...)

// Frame is one decoded protocol message.
type Frame struct {
	Seq     uint32
	Command uint32

	// RetCode is only present on messages sent by the device.
	RetCode    uint32
	HasRetCode bool

	Payload []byte
}

// EncodeFrame serialises f with length, CRC32 and suffix.
func EncodeFrame(f Frame) []byte {
	bodyLen := len(f.Payload) + trailerSize
	if f.HasRetCode {
		bodyLen += retCodeSize
	}

	buf := make([]byte, 0, headerSize+bodyLen)
	buf = binary.BigEndian.AppendUint32(buf, framePrefix)
	buf = binary.BigEndian.AppendUint32(buf, f.Seq)
	buf = binary.BigEndian.AppendUint32(buf, f.Command)
	buf = binary.BigEndian.AppendUint32(buf, uint32(bodyLen))
	if f.HasRetCode {
		buf = binary.BigEndian.AppendUint32(buf, f.RetCode)
	}
	buf = append(buf, f.Payload...)
	buf = binary.BigEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))
	buf = binary.BigEndian.AppendUint32(buf, frameSuffix)
	return buf
}

// DecodeFrame parses a complete frame. withRetCode selects whether the four
// bytes after the length field are a return code, which is the case for
// every message a device sends.
func DecodeFrame(data []byte, withRetCode bool) (Frame, error) {
	minLen := headerSize + trailerSize
	if withRetCode {
		minLen += retCodeSize
	}
	if len(data) < minLen {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrInvalidFrame, len(data))
	}
	if binary.BigEndian.Uint32(data[0:4]) != framePrefix {
		return Frame{}, fmt.Errorf("%w: bad prefix", ErrInvalidFrame)
	}

	bodyLen := int(binary.BigEndian.Uint32(data[12:16]))
	if headerSize+bodyLen != len(data) {
		return Frame{}, fmt.Errorf("%w: length field %d does not match %d bytes", ErrInvalidFrame, bodyLen, len(data))
	}
	if binary.BigEndian.Uint32(data[len(data)-4:]) != frameSuffix {
		return Frame{}, fmt.Errorf("%w: bad suffix", ErrInvalidFrame)
	}

	crcAt := len(data) - trailerSize
	if crc32.ChecksumIEEE(data[:crcAt]) != binary.BigEndian.Uint32(data[crcAt:crcAt+4]) {
		return Frame{}, ErrChecksum
	}

	f := Frame{
		Seq:     binary.BigEndian.Uint32(data[4:8]),
		Command: binary.BigEndian.Uint32(data[8:12]),
	}
	start := headerSize
	if withRetCode {
		f.HasRetCode = true
		f.RetCode = binary.BigEndian.Uint32(data[16:20])
		start += retCodeSize
	}
	f.Payload = append([]byte(nil), data[start:crcAt]...)
	return f, nil
}

// ReadFrame reads exactly one frame from r and returns its raw bytes.
func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if binary.BigEndian.Uint32(header[0:4]) != framePrefix {
		return nil, fmt.Errorf("%w: bad prefix", ErrInvalidFrame)
	}

	bodyLen := int(binary.BigEndian.Uint32(header[12:16]))
	if bodyLen < trailerSize || headerSize+bodyLen > maxFrameSize {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidFrame, bodyLen)
	}

	frame := make([]byte, headerSize+bodyLen)
	copy(frame, header)
	if _, err := io.ReadFull(r, frame[headerSize:]); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return frame, nil
}

// encryptECB encrypts plaintext with AES-128 in ECB mode after PKCS#7 padding.
func encryptECB(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}

	bs := block.BlockSize()
	pad := bs - len(plaintext)%bs
	padded := make([]byte, len(plaintext)+pad)
	copy(padded, plaintext)
	for i := len(plaintext); i < len(padded); i++ {
		padded[i] = byte(pad)
	}

	out := make([]byte, len(padded))
	for i := 0; i < len(padded); i += bs {
		block.Encrypt(out[i:i+bs], padded[i:i+bs])
	}
	return out, nil
}

// decryptECB reverses encryptECB and strips the padding.
func decryptECB(key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}

	bs := block.BlockSize()
	if len(ciphertext) == 0 || len(ciphertext)%bs != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d", ErrDecrypt, len(ciphertext))
	}

	out := make([]byte, len(ciphertext))
	for i := 0; i < len(ciphertext); i += bs {
		block.Decrypt(out[i:i+bs], ciphertext[i:i+bs])
	}

	pad := int(out[len(out)-1])
	if pad == 0 || pad > bs {
		return nil, fmt.Errorf("%w: bad padding", ErrDecrypt)
	}
	for _, b := range out[len(out)-pad:] {
		if int(b) != pad {
			return nil, fmt.Errorf("%w: bad padding", ErrDecrypt)
		}
	}
	return out[:len(out)-pad], nil
}

// controlMessage is the JSON body of a CONTROL command.
type controlMessage struct {
	DevID string         `json:"devId"`
	UID   string         `json:"uid"`
	T     string         `json:"t"`
	DPS   map[string]any `json:"dps"`
}

// buildControlPayload returns the encrypted, version-prefixed payload that
// sets dps on device id.
func buildControlPayload(key []byte, id string, dps map[string]any, now time.Time) ([]byte, error) {
	body, err := json.Marshal(controlMessage{
		DevID: id,
		UID:   id,
		T:     strconv.FormatInt(now.Unix(), 10),
		DPS:   dps,
	})
	if err != nil {
		return nil, fmt.Errorf("encode control message: %w", err)
	}

	enc, err := encryptECB(key, body)
	if err != nil {
		return nil, err
	}

	payload := make([]byte, 0, len(versionHeader)+len(enc))
	payload = append(payload, versionHeader...)
	return append(payload, enc...), nil
}

// decodeResponsePayload strips an optional version header (whose 12 trailing
// bytes are not always zero on the device side) and decrypts the
// remainder when it is block aligned. Devices sometimes answer in plain text
// (for example "data format error"), which is returned unchanged.
func decodeResponsePayload(key, payload []byte) ([]byte, error) {
	if bytes.HasPrefix(payload, []byte(Version33)) && len(payload) >= len(versionHeader) {
		payload = payload[len(versionHeader):]
	}
	if len(payload) == 0 {
		return nil, nil
	}
	if len(payload)%aes.BlockSize != 0 {
		return payload, nil
	}
	return decryptECB(key, payload)
}
