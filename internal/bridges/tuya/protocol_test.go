package tuya

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestEncodeDecodeFrame(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
	}{
		{"client control", Frame{Seq: 1, Command: CommandControl, Payload: []byte("hello")}},
		{"device ack", Frame{Seq: 7, Command: CommandControl, HasRetCode: true, RetCode: 0}},
		{"device error", Frame{Seq: 2, Command: CommandStatus, HasRetCode: true, RetCode: 1, Payload: []byte("data format error")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := EncodeFrame(tt.frame)

			if !bytes.HasPrefix(raw, []byte{0x00, 0x00, 0x55, 0xAA}) {
				t.Errorf("frame prefix = %x", raw[:4])
			}
			if !bytes.HasSuffix(raw, []byte{0x00, 0x00, 0xAA, 0x55}) {
				t.Errorf("frame suffix = %x", raw[len(raw)-4:])
			}

			got, err := DecodeFrame(raw, tt.frame.HasRetCode)
			if err != nil {
				t.Fatalf("DecodeFrame() error = %v", err)
			}
			if got.Seq != tt.frame.Seq || got.Command != tt.frame.Command || got.RetCode != tt.frame.RetCode {
				t.Errorf("DecodeFrame() = %+v, want %+v", got, tt.frame)
			}
			if !bytes.Equal(got.Payload, tt.frame.Payload) {
				t.Errorf("Payload = %q, want %q", got.Payload, tt.frame.Payload)
			}
		})
	}
}

func TestEncodeFrame_LengthField(t *testing.T) {
	raw := EncodeFrame(Frame{Seq: 1, Command: CommandControl, Payload: make([]byte, 10)})

	// length counts payload + crc + suffix
	want := []byte{0x00, 0x00, 0x00, 18}
	if !bytes.Equal(raw[12:16], want) {
		t.Errorf("length field = %x, want %x", raw[12:16], want)
	}
	if len(raw) != 16+18 {
		t.Errorf("len(raw) = %d, want 34", len(raw))
	}
}

func TestDecodeFrame_Errors(t *testing.T) {
	good := EncodeFrame(Frame{Seq: 1, Command: CommandControl, Payload: []byte("abc")})

	corruptCRC := append([]byte(nil), good...)
	corruptCRC[len(corruptCRC)-6] ^= 0xFF

	badPrefix := append([]byte(nil), good...)
	badPrefix[3] = 0x00

	badSuffix := append([]byte(nil), good...)
	badSuffix[len(badSuffix)-1] = 0x00

	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"truncated", good[:10], ErrInvalidFrame},
		{"bad prefix", badPrefix, ErrInvalidFrame},
		{"bad suffix", badSuffix, ErrInvalidFrame},
		{"length mismatch", append(append([]byte(nil), good...), 0x00), ErrInvalidFrame},
		{"checksum", corruptCRC, ErrChecksum},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeFrame(tt.data, false); !errors.Is(err, tt.wantErr) {
				t.Errorf("DecodeFrame() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestReadFrame(t *testing.T) {
	first := EncodeFrame(Frame{Seq: 1, Command: CommandStatus, Payload: []byte("one")})
	second := EncodeFrame(Frame{Seq: 2, Command: CommandStatus, Payload: []byte("two")})
	r := bytes.NewReader(append(append([]byte(nil), first...), second...))

	got, err := ReadFrame(r)
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if !bytes.Equal(got, first) {
		t.Errorf("first frame = %x, want %x", got, first)
	}

	got, err = ReadFrame(r)
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if !bytes.Equal(got, second) {
		t.Errorf("second frame = %x, want %x", got, second)
	}

	if _, err := ReadFrame(r); err == nil {
		t.Error("ReadFrame() on empty reader should fail")
	}
}

func TestReadFrame_Oversized(t *testing.T) {
	header := []byte{0x00, 0x00, 0x55, 0xAA, 0, 0, 0, 1, 0, 0, 0, 7, 0x00, 0x10, 0x00, 0x00}
	if _, err := ReadFrame(bytes.NewReader(header)); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("ReadFrame() error = %v, want ErrInvalidFrame", err)
	}
}

func TestEncryptECB_KnownVector(t *testing.T) {
	// FIPS-197 / SP 800-38A F.1.1 ECB-AES128 block 1.
	key, _ := hex.DecodeString("2b7e151628aed2a6abf7158809cf4f3c")
	plain, _ := hex.DecodeString("6bc1bee22e409f96e93d7e117393172a")
	want, _ := hex.DecodeString("3ad77bb40d7a3660a89ecaf32466ef97")

	got, err := encryptECB(key, plain)
	if err != nil {
		t.Fatalf("encryptECB() error = %v", err)
	}
	if len(got) != 32 {
		t.Fatalf("len = %d, want 32 (one data block plus one padding block)", len(got))
	}
	if !bytes.Equal(got[:16], want) {
		t.Errorf("first block = %x, want %x", got[:16], want)
	}

	back, err := decryptECB(key, got)
	if err != nil {
		t.Fatalf("decryptECB() error = %v", err)
	}
	if !bytes.Equal(back, plain) {
		t.Errorf("decryptECB() = %x, want %x", back, plain)
	}
}

func TestDecryptECB_Errors(t *testing.T) {
	key := []byte("0123456789abcdef")

	if _, err := decryptECB(key, []byte("short")); !errors.Is(err, ErrDecrypt) {
		t.Errorf("unaligned: error = %v, want ErrDecrypt", err)
	}

	// A block whose last byte decrypts to an invalid pad length.
	enc, _ := encryptECB(key, bytes.Repeat([]byte{0x20}, 16))
	if _, err := decryptECB(key, enc[:16]); !errors.Is(err, ErrDecrypt) {
		t.Errorf("bad padding: error = %v, want ErrDecrypt", err)
	}

	if _, err := encryptECB([]byte("short"), []byte("x")); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("short key: error = %v, want ErrInvalidKey", err)
	}
}

func TestBuildControlPayload(t *testing.T) {
	key := []byte("0123456789abcdef")
	now := time.Unix(1700000000, 0)

	payload, err := buildControlPayload(key, "dev1", map[string]any{"20": true}, now)
	if err != nil {
		t.Fatalf("buildControlPayload() error = %v", err)
	}

	if !bytes.HasPrefix(payload, []byte("3.3")) {
		t.Fatalf("payload missing version header: %x", payload[:3])
	}
	if !bytes.Equal(payload[3:15], make([]byte, 12)) {
		t.Errorf("version header padding = %x, want zeros", payload[3:15])
	}

	plain, err := decodeResponsePayload(key, payload)
	if err != nil {
		t.Fatalf("decodeResponsePayload() error = %v", err)
	}

	var msg controlMessage
	if err := json.Unmarshal(plain, &msg); err != nil {
		t.Fatalf("payload is not JSON: %v (%q)", err, plain)
	}
	if msg.DevID != "dev1" || msg.UID != "dev1" {
		t.Errorf("devId/uid = %q/%q, want dev1", msg.DevID, msg.UID)
	}
	if msg.T != "1700000000" {
		t.Errorf("t = %q, want 1700000000", msg.T)
	}
	if msg.DPS["20"] != true {
		t.Errorf("dps = %v, want 20:true", msg.DPS)
	}
}

// Reference frames built with openssl (aes-128-ecb) and zlib.crc32, laid
// out the way tinytuya encodes protocol 3.3 messages.
const (
	goldenControlFrame = "000055aa000000010000000700000077332e33000000000000000000000000" +
		"d652f952e5585d3b065bf07e1e6e0045232f1f1d2668f6cdcb02e1136c3d1ce0" +
		"e02334451948c72d94e58f74591d65571a772d6899bab4691a7d0c60e39752b7" +
		"8004250af01ca360dc165d3c6fdd04d9e4c592aae41aea7494225c786d11b511" +
		"ee06e2c50000aa55"
	goldenAckFrame = "000055aa00000001000000070000000c00000000a505a9140000aa55"
)

func TestControlFrame_Golden(t *testing.T) {
	payload, err := buildControlPayload(
		[]byte("0123456789abcdef"),
		"bf1234567890abcdef",
		map[string]any{"20": true},
		time.Unix(1700000000, 0),
	)
	if err != nil {
		t.Fatalf("buildControlPayload() error = %v", err)
	}

	got := hex.EncodeToString(EncodeFrame(Frame{Seq: 1, Command: CommandControl, Payload: payload}))
	if got != goldenControlFrame {
		t.Errorf("control frame mismatch\n got %s\nwant %s", got, goldenControlFrame)
	}
}

func TestAckFrame_Golden(t *testing.T) {
	raw, err := hex.DecodeString(goldenAckFrame)
	if err != nil {
		t.Fatal(err)
	}

	f, err := DecodeFrame(raw, true)
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	if f.Seq != 1 || f.Command != CommandControl || f.RetCode != 0 || len(f.Payload) != 0 {
		t.Errorf("DecodeFrame() = %+v, want seq 1 CONTROL ack with retcode 0", f)
	}
}

func TestDecodeResponsePayload(t *testing.T) {
	key := []byte("0123456789abcdef")
	enc, _ := encryptECB(key, []byte(`{"dps":{"20":true}}`))

	// Device-side headers carry non-zero bytes after "3.3".
	deviceHeader := append([]byte("3.3"), bytes.Repeat([]byte{0x01}, 12)...)

	tests := []struct {
		name    string
		payload []byte
		want    string
	}{
		{"empty", nil, ""},
		{"plain text", []byte("data format error"), "data format error"},
		{"encrypted", enc, `{"dps":{"20":true}}`},
		{"encrypted with header", append(append([]byte(nil), deviceHeader...), enc...), `{"dps":{"20":true}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeResponsePayload(key, tt.payload)
			if err != nil {
				t.Fatalf("decodeResponsePayload() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
