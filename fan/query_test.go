package fan

import (
	"context"
	"encoding/hex"
	"net"
	"testing"
	"time"

	"github.com/mLihs/SmartMiFanAsync/miio"
	"github.com/mLihs/SmartMiFanAsync/netudp"
	"github.com/stretchr/testify/require"
)

// fakeFanWithInfo behaves like fakeFan but answers the miIO.info query
// with a real model payload instead of a bare ack, so Query can populate
// a registry record end to end.
func fakeFanWithInfo(t *testing.T, key, iv0 [16]byte, deviceID [4]byte, model string) func() {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: netudp.Port})
	require.NoError(t, err)
	stop := make(chan struct{})

	go func() {
		buf := make([]byte, 512)
		for {
			conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
			n, peer, err := conn.ReadFromUDP(buf)
			select {
			case <-stop:
				return
			default:
			}
			if err != nil {
				continue
			}
			if n == miio.HeaderLen {
				reply := make([]byte, miio.HeaderLen)
				copy(reply, buf[:miio.HeaderLen])
				reply[8], reply[9], reply[10], reply[11] = deviceID[0], deviceID[1], deviceID[2], deviceID[3]
				reply[12], reply[13], reply[14], reply[15] = 0, 0, 0, 0x64
				conn.WriteToUDP(reply, peer)
				continue
			}
			j := []byte(`{"model":"` + model + `","fw_ver":"1.0","hw_ver":"1.0","did":"42"}`)
			frame, _ := miio.EncodeFrame(deviceID, 2, [16]byte{}, key, iv0, j)
			conn.WriteToUDP(frame, peer)
		}
	}()
	return func() { close(stop); conn.Close() }
}

func TestQueryStartInsertsRecordOnSuccess(t *testing.T) {
	endpoint, err := netudp.Bind()
	require.NoError(t, err)
	defer endpoint.Close()

	tokHex := "0123456789abcdef0123456789abcdef"
	b, _ := hex.DecodeString(tokHex)
	var tok [16]byte
	copy(tok[:], b)
	key, iv0 := miio.DeriveKeyIV(tok)

	stop := fakeFanWithInfo(t, key, iv0, [4]byte{0xDE, 0xAD, 0xBE, 0xEF}, "zhimi.fan.za5")
	defer stop()

	r := NewRegistry()
	fsm := NewQuery(endpoint, r)
	fsm.Start(context.Background(), net.IPv4(127, 0, 0, 1), tokHex)
	fsm.Wait()

	require.Equal(t, QueryComplete, fsm.State())
	require.GreaterOrEqual(t, fsm.ResultIndex(), 0)
	require.Equal(t, "zhimi.fan.za5", r.Get(fsm.ResultIndex()).Model)
}

func TestQueryStartRejectsMalformedToken(t *testing.T) {
	endpoint, err := netudp.Bind()
	require.NoError(t, err)
	defer endpoint.Close()

	r := NewRegistry()
	fsm := NewQuery(endpoint, r)
	fsm.Start(context.Background(), net.IPv4(127, 0, 0, 1), "nothex")
	fsm.Wait()

	require.Equal(t, QueryError, fsm.State())
}

func TestQueryStateStrings(t *testing.T) {
	require.Equal(t, "WAITING_HELLO", QueryWaitingHello.String())
	require.Equal(t, "SENDING_QUERY", QuerySendingQuery.String())
	require.Equal(t, "COMPLETE", QueryComplete.String())
}
