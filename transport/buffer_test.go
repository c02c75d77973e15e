package transport

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSendBufferPopCarriesFin(t *testing.T) {
	s := sendBuffer{}
	s.write([]byte("hello"))

	data, offset, fin := s.pop(1200)
	require.Equal(t, []byte("hello"), data)
	require.EqualValues(t, 0, offset)
	require.False(t, fin, "close has not been called yet")

	// Closing after the data already went out must still produce a
	// FIN-only frame on the next pop.
	s.close()
	require.True(t, s.hasPending())
	data, offset, fin = s.pop(1200)
	require.Empty(t, data)
	require.EqualValues(t, 5, offset)
	require.True(t, fin)
	require.False(t, s.hasPending())
}

func TestSendBufferLostFinRearms(t *testing.T) {
	s := sendBuffer{}
	s.write([]byte("x"))
	s.close()
	data, _, fin := s.pop(1200)
	require.Equal(t, []byte("x"), data)
	require.True(t, fin)

	// The packet carrying the FIN was declared lost.
	require.NoError(t, s.push([]byte("x"), 0, true))
	require.True(t, s.hasPending())
	data, offset, fin := s.pop(1200)
	require.Equal(t, []byte("x"), data)
	require.EqualValues(t, 0, offset)
	require.True(t, fin)
}

func TestSendBufferCompleteNeedsFinAck(t *testing.T) {
	s := sendBuffer{}
	s.write([]byte("ab"))
	s.close()
	s.pop(1200)
	s.ack(0, 2)
	require.False(t, s.complete(), "data acked but FIN not yet")
	s.ackFin()
	require.True(t, s.complete())
}

func TestSendBufferEmptyStreamFinOnly(t *testing.T) {
	s := sendBuffer{}
	s.close()
	data, offset, fin := s.pop(1200)
	require.Empty(t, data)
	require.EqualValues(t, 0, offset)
	require.True(t, fin)
	s.ackFin()
	require.True(t, s.complete())
}

func TestRecvBufferReordered(t *testing.T) {
	r := recvBuffer{}
	require.NoError(t, r.push([]byte("world"), 5, true))
	buf := make([]byte, 16)
	n, err := r.read(buf)
	require.NoError(t, err)
	require.Zero(t, n, "nothing contiguous yet")

	require.NoError(t, r.push([]byte("hello"), 0, false))
	n, err = r.read(buf)
	require.NoError(t, err)
	require.Equal(t, "helloworld", string(buf[:n]))
	require.True(t, r.complete())

	_, err = r.read(buf)
	require.ErrorIs(t, err, io.EOF)
}

func TestRecvBufferFinalSizeMismatch(t *testing.T) {
	r := recvBuffer{}
	require.NoError(t, r.push([]byte("abc"), 0, true))
	require.Error(t, r.push([]byte("abcd"), 0, true))
	require.Error(t, r.push([]byte("x"), 10, false), "data beyond the final size")
}
