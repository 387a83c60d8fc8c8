package miio

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testToken() [16]byte {
	b, err := hex.DecodeString("0123456789abcdef0123456789abcdef")
	if err != nil {
		panic(err)
	}
	var tok [16]byte
	copy(tok[:], b)
	return tok
}

func TestHelloFrameShape(t *testing.T) {
	h := HelloFrame()
	require.Len(t, h, HeaderLen)
	assert.Equal(t, []byte{0x21, 0x31, 0x00, 0x20}, h[:4])
	for _, b := range h[4:] {
		assert.Equal(t, byte(0xFF), b)
	}
}

func TestParseHelloReply(t *testing.T) {
	buf := make([]byte, 32)
	binary.BigEndian.PutUint16(buf[0:2], 0x2131)
	binary.BigEndian.PutUint16(buf[2:4], 0x0020)
	copy(buf[8:12], []byte{0xDE, 0xAD, 0xBE, 0xEF})
	binary.BigEndian.PutUint32(buf[12:16], 0x00000064)
	for i := 16; i < 32; i++ {
		buf[i] = 0xFF
	}

	deviceID, stamp, err := ParseHelloReply(buf)
	require.NoError(t, err)
	assert.Equal(t, [4]byte{0xDE, 0xAD, 0xBE, 0xEF}, deviceID)
	assert.Equal(t, uint32(0x64), stamp)
}

func TestParseHelloReplyRejectsShortFrame(t *testing.T) {
	_, _, err := ParseHelloReply(make([]byte, 16))
	require.Error(t, err)
}

func TestDeriveKeyIV(t *testing.T) {
	token := testToken()
	key, iv := DeriveKeyIV(token)

	// Invariant 1: MD5(token) = key and MD5(key ∥ iv-input token) = iv0.
	wantKey := md5.Sum(token[:])
	wantIV := md5.Sum(append(append([]byte{}, key[:]...), token[:]...))
	assert.Equal(t, wantKey, key)
	assert.Equal(t, wantIV, iv)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	token := testToken()
	key, iv := DeriveKeyIV(token)

	cases := []string{
		`{"id":1,"method":"miIO.info","params":[]}`,
		`{"id":2,"method":"set_properties","params":[{"siid":2,"piid":1,"value":true}]}`,
		``,
		`{"very":"long payload that spans more than one AES block of sixteen bytes and then some more text for good measure"}`,
	}
	for _, j := range cases {
		cipherText, err := EncryptPayload(key, iv, []byte(j))
		require.NoError(t, err)
		assert.Equal(t, 0, len(cipherText)%16, "cipher length must be a multiple of 16")
		assert.GreaterOrEqual(t, len(cipherText), 16)

		plain, err := DecryptPayload(key, iv, cipherText)
		require.NoError(t, err)
		assert.Equal(t, j, string(plain))
	}
}

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	token := testToken()
	key, iv := DeriveKeyIV(token)
	deviceID := [4]byte{0xDE, 0xAD, 0xBE, 0xEF}
	stamp := uint32(0x65)
	cmd := NewSetPropertyCommand(1, PowerSIID, PowerPIID, true)
	j, err := cmd.Marshal()
	require.NoError(t, err)

	frame, err := EncodeFrame(deviceID, stamp, token, key, iv, j)
	require.NoError(t, err)

	assert.Equal(t, uint16(0x2131), binary.BigEndian.Uint16(frame[0:2]))
	assert.Equal(t, deviceID[:], frame[8:12])
	assert.Equal(t, stamp, binary.BigEndian.Uint32(frame[12:16]))
	assert.Equal(t, 0, (len(frame)-HeaderLen)%16)
	assert.True(t, VerifyChecksum(frame, token))

	h, plain, err := DecodeFrame(key, iv, frame)
	require.NoError(t, err)
	assert.Equal(t, deviceID, h.DeviceID)
	if diff := cmp.Diff(string(j), string(plain)); diff != "" {
		t.Fatalf("decoded payload mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeFrameRejectsShortFrame(t *testing.T) {
	_, _, err := DecodeFrame([16]byte{}, [16]byte{}, make([]byte, 10))
	require.Error(t, err)
}

func TestDecodeFrameRejectsLengthMismatch(t *testing.T) {
	buf := make([]byte, 48)
	binary.BigEndian.PutUint16(buf[0:2], 0x2131)
	binary.BigEndian.PutUint16(buf[2:4], 64) // lies about its own length
	_, _, err := DecodeFrame([16]byte{}, [16]byte{}, buf)
	require.Error(t, err)
}

func TestPkcs7UnpadRejectsBadPadding(t *testing.T) {
	buf := make([]byte, 16)
	buf[15] = 0 // invalid pad value
	_, err := pkcs7Unpad(buf)
	require.Error(t, err)

	buf[15] = 17 // out of [1,16]
	_, err = pkcs7Unpad(buf)
	require.Error(t, err)
}
