// Package miio implements the miIO wire protocol: 32-byte header framing,
// AES-128-CBC payload encryption with a token-derived key/IV, an MD5-keyed
// checksum, PKCS#7 padding, and the fan-model-to-MIoT-property catalog.
//
// See https://github.com/OpenMiHome/mihome-binary-protocol for the
// reverse-engineered wire format this package implements.
package miio

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"encoding/binary"
)

const (
	// Port is the UDP port every miIO device listens on.
	Port = 54321

	// HeaderLen is the fixed size of every miIO datagram header.
	HeaderLen = 32

	magic = 0x2131
)

// Header is the 32-byte miIO frame header, all multi-byte fields big-endian.
type Header struct {
	Magic    uint16
	Length   uint16
	Unknown  uint32
	DeviceID [4]byte
	Stamp    uint32
	Checksum [16]byte
}

func (h Header) marshal() []byte {
	buf := make([]byte, HeaderLen)
	binary.BigEndian.PutUint16(buf[0:2], h.Magic)
	binary.BigEndian.PutUint16(buf[2:4], h.Length)
	binary.BigEndian.PutUint32(buf[4:8], h.Unknown)
	copy(buf[8:12], h.DeviceID[:])
	binary.BigEndian.PutUint32(buf[12:16], h.Stamp)
	copy(buf[16:32], h.Checksum[:])
	return buf
}

func unmarshalHeader(buf []byte) Header {
	var h Header
	h.Magic = binary.BigEndian.Uint16(buf[0:2])
	h.Length = binary.BigEndian.Uint16(buf[2:4])
	h.Unknown = binary.BigEndian.Uint32(buf[4:8])
	copy(h.DeviceID[:], buf[8:12])
	h.Stamp = binary.BigEndian.Uint32(buf[12:16])
	copy(h.Checksum[:], buf[16:32])
	return h
}

// HelloFrame returns the 32-byte discovery/handshake probe: magic 0x2131,
// length 0x0020, and the remaining 28 bytes set to 0xFF.
func HelloFrame() []byte {
	buf := make([]byte, HeaderLen)
	binary.BigEndian.PutUint16(buf[0:2], magic)
	binary.BigEndian.PutUint16(buf[2:4], HeaderLen)
	for i := 4; i < HeaderLen; i++ {
		buf[i] = 0xFF
	}
	return buf
}

// IsHelloReply reports whether buf looks like a 32-byte hello reply: the
// right length and the expected magic in the first two bytes.
func IsHelloReply(buf []byte) bool {
	return len(buf) == HeaderLen && binary.BigEndian.Uint16(buf[0:2]) == magic
}

// ParseHelloReply extracts the device-id and device timestamp carried in a
// 32-byte hello reply (bytes 8..12 and 12..16 respectively).
func ParseHelloReply(buf []byte) (deviceID [4]byte, stamp uint32, err error) {
	if len(buf) != HeaderLen {
		return deviceID, 0, &FrameError{Err: ErrInvalidResponse, Detail: "hello reply is not 32 bytes"}
	}
	h := unmarshalHeader(buf)
	if h.Magic != magic {
		return deviceID, 0, &FrameError{Err: ErrInvalidResponse, Detail: "bad magic in hello reply"}
	}
	return h.DeviceID, h.Stamp, nil
}

// DeriveKeyIV computes the AES key and initial CBC IV from a 16-byte token:
// key = MD5(token), iv0 = MD5(key ∥ token).
func DeriveKeyIV(token [16]byte) (key [16]byte, iv0 [16]byte) {
	key = md5.Sum(token[:])
	iv0 = md5.Sum(append(append([]byte{}, key[:]...), token[:]...))
	return key, iv0
}

func pkcs7Pad(plain []byte) []byte {
	// plain already carries the mandatory trailing 0x00 terminator.
	padLen := 16 - (len(plain) % 16)
	if padLen == 0 {
		padLen = 16
	}
	out := make([]byte, len(plain)+padLen)
	copy(out, plain)
	for i := len(plain); i < len(out); i++ {
		out[i] = byte(padLen)
	}
	return out
}

func pkcs7Unpad(buf []byte) ([]byte, error) {
	if len(buf) == 0 || len(buf)%16 != 0 {
		return nil, &FrameError{Err: ErrDecryptFail, Detail: "ciphertext not a multiple of 16 bytes"}
	}
	padLen := int(buf[len(buf)-1])
	if padLen < 1 || padLen > 16 || padLen > len(buf) {
		return nil, &FrameError{Err: ErrDecryptFail, Detail: "invalid PKCS#7 padding"}
	}
	plain := buf[:len(buf)-padLen]
	if len(plain) == 0 || plain[len(plain)-1] != 0x00 {
		return nil, &FrameError{Err: ErrDecryptFail, Detail: "missing JSON null terminator"}
	}
	return plain[:len(plain)-1], nil
}

// EncryptPayload builds the PKCS#7-padded, AES-128-CBC-encrypted body for
// JSON text j: plaintext = j ∥ 0x00, padded to a 16-byte multiple.
func EncryptPayload(key, iv0 [16]byte, j []byte) ([]byte, error) {
	plain := make([]byte, len(j)+1)
	copy(plain, j)
	plain[len(j)] = 0x00
	padded := pkcs7Pad(plain)

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	iv := iv0
	mode := cipher.NewCBCEncrypter(block, iv[:])
	cipherText := make([]byte, len(padded))
	mode.CryptBlocks(cipherText, padded)
	return cipherText, nil
}

// DecryptPayload inverts EncryptPayload, stripping PKCS#7 padding and the
// trailing JSON null terminator.
func DecryptPayload(key, iv0 [16]byte, cipherText []byte) ([]byte, error) {
	if len(cipherText) == 0 || len(cipherText)%16 != 0 {
		return nil, &FrameError{Err: ErrDecryptFail, Detail: "ciphertext length not a multiple of 16"}
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	iv := iv0
	mode := cipher.NewCBCDecrypter(block, iv[:])
	plain := make([]byte, len(cipherText))
	mode.CryptBlocks(plain, cipherText)
	return pkcs7Unpad(plain)
}

// checksum computes MD5(header_with_token_in_checksum_slot ∥ cipherText).
func checksum(h Header, token [16]byte, cipherText []byte) [16]byte {
	h.Checksum = token
	buf := h.marshal()
	sum := md5.New()
	sum.Write(buf)
	sum.Write(cipherText)
	var out [16]byte
	copy(out[:], sum.Sum(nil))
	return out
}

// EncodeFrame assembles a full miIO datagram: 32-byte header followed by the
// encrypted payload. The payload is never empty: even empty JSON encrypts
// to one 16-byte block, so EncodeFrame never produces a header-only frame.
func EncodeFrame(deviceID [4]byte, stamp uint32, token, key, iv0 [16]byte, plainJSON []byte) ([]byte, error) {
	cipherText, err := EncryptPayload(key, iv0, plainJSON)
	if err != nil {
		return nil, err
	}
	h := Header{
		Magic:    magic,
		Length:   uint16(HeaderLen + len(cipherText)),
		DeviceID: deviceID,
		Stamp:    stamp,
	}
	h.Checksum = checksum(h, token, cipherText)

	out := make([]byte, 0, HeaderLen+len(cipherText))
	out = append(out, h.marshal()...)
	out = append(out, cipherText...)
	return out, nil
}

// DecodeFrame splits a received datagram into its header fields and
// decrypted JSON payload. A frame shorter than the header, or one whose
// declared length disagrees with len(buf), is rejected as invalid; the
// checksum itself is not re-verified (receivers are not required to, per
// the wire spec — the device is the source of truth).
func DecodeFrame(key, iv0 [16]byte, buf []byte) (Header, []byte, error) {
	if len(buf) < HeaderLen {
		return Header{}, nil, &FrameError{Err: ErrInvalidResponse, Detail: "frame shorter than header"}
	}
	h := unmarshalHeader(buf)
	if h.Magic != magic {
		return h, nil, &FrameError{Err: ErrInvalidResponse, Detail: "bad magic"}
	}
	if int(h.Length) != len(buf) {
		return h, nil, &FrameError{Err: ErrInvalidResponse, Detail: "length field disagrees with datagram size"}
	}
	if len(buf) == HeaderLen {
		return h, nil, nil
	}
	plain, err := DecryptPayload(key, iv0, buf[HeaderLen:])
	if err != nil {
		return h, nil, err
	}
	return h, plain, nil
}

// VerifyChecksum recomputes the checksum over a received frame using token
// and reports whether it matches the frame's checksum field. Exposed for
// callers (tests, strict integrations) that want verification beyond the
// "receivers are not required to" baseline.
func VerifyChecksum(buf []byte, token [16]byte) bool {
	if len(buf) < HeaderLen {
		return false
	}
	h := unmarshalHeader(buf)
	got := checksum(h, token, buf[HeaderLen:])
	return bytes.Equal(got[:], h.Checksum[:])
}
