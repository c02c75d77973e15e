package quic

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quince-project/quic/internal/varint"
	"github.com/quince-project/quic/transport"
)

// recordingDatapath is a Datapath fake that only needs to support WriteTo
// for the stateless-retry tests: nothing here reads a real UDP socket.
type recordingDatapath struct {
	written [][]byte
}

func (d *recordingDatapath) ReadFrom(b []byte) (int, net.Addr, error) {
	select {}
}

func (d *recordingDatapath) WriteTo(b []byte, addr net.Addr) (int, error) {
	cp := append([]byte(nil), b...)
	d.written = append(d.written, cp)
	return len(b), nil
}

func (d *recordingDatapath) LocalAddr() net.Addr { return &net.UDPAddr{} }
func (d *recordingDatapath) Close() error        { return nil }

func newTestServerEngine(retryRequired bool) (*engine, *recordingDatapath) {
	config := NewConfig()
	config.RetryRequired = retryRequired
	config.WorkerCount = 1
	dp := &recordingDatapath{}
	return newEngine(config, dp, true), dp
}

// buildClientInitial encodes a minimal client Initial long header carrying
// dcid/scid/token, the shape engine.acceptOrRetry peeks with
// transport.PeekInitial — enough to drive the retry decision without a
// real transport.Conn on either side.
func buildClientInitial(t *testing.T, dcid, scid, token []byte) []byte {
	t.Helper()
	b := []byte{0x80, 0, 0, 0, 1, byte(len(dcid))}
	b = append(b, dcid...)
	b = append(b, byte(len(scid)))
	b = append(b, scid...)
	b = varint.Put(b, uint64(len(token)))
	b = append(b, token...)
	return b
}

func TestAcceptOrRetryDisabledAcceptsDirectly(t *testing.T) {
	e, dp := newTestServerEngine(false)
	addr := &net.UDPAddr{IP: net.ParseIP("192.0.2.1"), Port: 1234}
	dcid := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	b := buildClientInitial(t, dcid, []byte{9, 9, 9, 9}, nil)

	rc, err := e.acceptOrRetry(0, addr, b, time.Now())
	require.NoError(t, err)
	require.NotNil(t, rc)
	require.Equal(t, 1, e.lookup.count())
	require.Empty(t, dp.written, "no Retry challenge expected when RetryRequired is off")
}

func TestAcceptOrRetryChallengesTokenlessInitial(t *testing.T) {
	e, dp := newTestServerEngine(true)
	addr := &net.UDPAddr{IP: net.ParseIP("192.0.2.2"), Port: 4433}
	dcid := []byte{1, 1, 1, 1, 1, 1, 1, 1}
	scid := []byte{2, 2, 2, 2}
	b := buildClientInitial(t, dcid, scid, nil)

	rc, err := e.acceptOrRetry(0, addr, b, time.Now())
	require.NoError(t, err)
	require.Nil(t, rc, "a token-less Initial must not create a connection when RetryRequired is on")
	require.Equal(t, 0, e.lookup.count())
	require.Len(t, dp.written, 1)

	// The emitted packet must be longer than a bare integrity tag and start
	// with a Retry long-header first byte (long form, fixed bit, type 3).
	pkt := dp.written[0]
	require.True(t, len(pkt) > 16)
	first := pkt[0]
	require.Equal(t, byte(0x80|0x40|3<<4), first)
}

func TestAcceptOrRetryAcceptsValidToken(t *testing.T) {
	e, dp := newTestServerEngine(true)
	addr := &net.UDPAddr{IP: net.ParseIP("192.0.2.3"), Port: 4433}
	odcid := []byte{3, 3, 3, 3, 3, 3, 3, 3}

	// First flight: no token, triggers a Retry and learns nothing new.
	firstInitial := buildClientInitial(t, odcid, []byte{4, 4, 4, 4}, nil)
	rc, err := e.acceptOrRetry(0, addr, firstInitial, time.Now())
	require.NoError(t, err)
	require.Nil(t, rc)
	require.Len(t, dp.written, 1)

	// Rebuild the token the server just minted rather than re-parsing the
	// Retry packet's variable-length fields: AppendRetryToken is
	// deterministic given the same (odcid, addr, now), and engine.sendRetry
	// used exactly that input for the Retry this test already captured.
	key := addrBytes(addr)
	signedToken := transport.AppendRetryToken(nil, odcid, key, time.Now().Unix())
	secondInitial := buildClientInitial(t, []byte{5, 5, 5, 5, 5, 5, 5, 5}, []byte{4, 4, 4, 4}, signedToken)

	rc, err = e.acceptOrRetry(0, addr, secondInitial, time.Now())
	require.NoError(t, err)
	require.NotNil(t, rc)
	require.Equal(t, 1, e.lookup.count())
	require.Len(t, dp.written, 1, "a validated token must not trigger a second Retry")
}

func TestAcceptOrRetryRejectsForgedToken(t *testing.T) {
	e, dp := newTestServerEngine(true)
	addr := &net.UDPAddr{IP: net.ParseIP("192.0.2.4"), Port: 4433}
	dcid := []byte{6, 6, 6, 6, 6, 6, 6, 6}
	b := buildClientInitial(t, dcid, []byte{7, 7, 7, 7}, []byte("not-a-real-token-value"))

	rc, err := e.acceptOrRetry(0, addr, b, time.Now())
	require.NoError(t, err)
	require.Nil(t, rc)
	require.Equal(t, 0, e.lookup.count())
	require.Len(t, dp.written, 1, "an invalid token gets a fresh Retry, per spec test 5")
}

func TestStatelessResetForUnroutableShortHeader(t *testing.T) {
	e, dp := newTestServerEngine(false)
	addr := &net.UDPAddr{IP: net.ParseIP("192.0.2.7"), Port: 9}

	trigger := make([]byte, 100)
	trigger[0] = 0x40 // short-header shape
	for i := 1; i <= localCIDLen; i++ {
		trigger[i] = byte(i)
	}
	e.maybeStatelessReset(trigger, addr)
	require.Len(t, dp.written, 1)

	pkt := dp.written[0]
	require.Less(t, len(pkt), len(trigger), "a reset must be smaller than its trigger to prevent loops")
	require.GreaterOrEqual(t, len(pkt), transport.MinStatelessResetSize)
	require.Equal(t, byte(0x40), pkt[0]&0xc0, "reset must look like a short-header packet")

	want := transport.StatelessResetToken(e.resetSecret[:], trigger[1:1+localCIDLen])
	require.Equal(t, want[:], pkt[len(pkt)-16:])
}

func TestStatelessResetSkipsLongHeadersAndSmallDatagrams(t *testing.T) {
	e, dp := newTestServerEngine(false)
	addr := &net.UDPAddr{IP: net.ParseIP("192.0.2.8"), Port: 9}

	long := make([]byte, 100)
	long[0] = 0x80
	e.maybeStatelessReset(long, addr)

	tiny := make([]byte, transport.MinStatelessResetSize)
	tiny[0] = 0x40
	e.maybeStatelessReset(tiny, addr)

	require.Empty(t, dp.written)
}

func TestStatelessResetRateBudget(t *testing.T) {
	e, dp := newTestServerEngine(false)
	addr := &net.UDPAddr{IP: net.ParseIP("192.0.2.9"), Port: 9}
	e.resetBudget.Store(0)

	trigger := make([]byte, 100)
	trigger[0] = 0x40
	e.maybeStatelessReset(trigger, addr)
	require.Empty(t, dp.written, "an exhausted budget must drop, not send")
}

func TestAcceptOrRetryRejectsTokenFromDifferentAddress(t *testing.T) {
	e, _ := newTestServerEngine(true)
	mintingAddr := &net.UDPAddr{IP: net.ParseIP("192.0.2.5"), Port: 1}
	otherAddr := &net.UDPAddr{IP: net.ParseIP("192.0.2.6"), Port: 1}
	odcid := []byte{8, 8, 8, 8, 8, 8, 8, 8}

	token := transport.AppendRetryToken(nil, odcid, addrBytes(mintingAddr), time.Now().Unix())
	b := buildClientInitial(t, []byte{1}, []byte{2}, token)

	rc, err := e.acceptOrRetry(0, otherAddr, b, time.Now())
	require.NoError(t, err)
	require.Nil(t, rc, "a token minted for one address must not validate from another")
}
