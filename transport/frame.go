package transport

import (
	"fmt"

	"github.com/quince-project/quic/internal/ranges"
	"github.com/quince-project/quic/internal/varint"
)

// Frame type codes, RFC 9000 Section 19.
const (
	frameTypePadding     = 0x00
	frameTypePing        = 0x01
	frameTypeAck         = 0x02
	frameTypeAckECN      = 0x03
	frameTypeResetStream = 0x04
	frameTypeStopSending = 0x05
	frameTypeCrypto      = 0x06
	frameTypeNewToken    = 0x07
	// STREAM frames occupy a contiguous range; the low 3 bits encode
	// OFF/LEN/FIN presence.
	frameTypeStream           = 0x08
	frameTypeStreamEnd        = 0x0f
	frameTypeMaxData          = 0x10
	frameTypeMaxStreamData    = 0x11
	frameTypeMaxStreamsBidi   = 0x12
	frameTypeMaxStreamsUni    = 0x13
	frameTypeDataBlocked      = 0x14
	frameTypeStreamDataBlocked = 0x15
	frameTypeStreamsBlockedBidi = 0x16
	frameTypeStreamsBlockedUni  = 0x17
	frameTypeNewConnectionID    = 0x18
	frameTypeRetireConnectionID = 0x19
	frameTypePathChallenge      = 0x1a
	frameTypePathResponse       = 0x1b
	frameTypeConnectionClose    = 0x1c
	frameTypeApplicationClose   = 0x1d
	// frameTypeHanshakeDone keeps the teacher codebase's original spelling:
	// it is an unexported identifier, never serialized, so renaming it buys
	// nothing but churn.
	frameTypeHanshakeDone = 0x1e
)

// isFrameAckEliciting reports whether receiving a frame of this type
// requires the peer to eventually acknowledge the packet, per RFC 9000
// Section 13.2.
func isFrameAckEliciting(typ uint64) bool {
	switch typ {
	case frameTypePadding, frameTypeAck, frameTypeAckECN, frameTypeConnectionClose, frameTypeApplicationClose:
		return false
	default:
		return true
	}
}

// frame is implemented by every decoded/encodable QUIC frame.
type frame interface {
	encodedLen() int
	encode(b []byte) []byte
}

// encodeFrames writes the wire encoding of every frame in fs into the
// start of b, returning the number of bytes written.
func encodeFrames(b []byte, fs []frame) (int, error) {
	out := b[:0]
	for _, f := range fs {
		if len(out)+f.encodedLen() > len(b) {
			return 0, errShortBuffer
		}
		out = f.encode(out)
	}
	return len(out), nil
}

// ---- PADDING ----

type paddingFrame struct {
	length int
}

func newPaddingFrame(n int) *paddingFrame { return &paddingFrame{length: n} }

func (f *paddingFrame) encodedLen() int { return f.length }
func (f *paddingFrame) encode(b []byte) []byte {
	for i := 0; i < f.length; i++ {
		b = append(b, frameTypePadding)
	}
	return b
}
func (f *paddingFrame) decode(b []byte) (int, error) {
	n := 0
	for n < len(b) && b[n] == frameTypePadding {
		n++
	}
	f.length = n
	if n == 0 {
		n = 1 // the single PADDING byte that triggered this decode
		f.length = 1
	}
	return n, nil
}

// ---- PING ----

type pingFrame struct{}

func (f *pingFrame) encodedLen() int          { return 1 }
func (f *pingFrame) encode(b []byte) []byte   { return append(b, frameTypePing) }

// ---- ACK ----

type ackFrame struct {
	largestAck    uint64
	ackDelay      uint64
	firstAckRange uint64
	ranges        []ackRange // additional (gap, range) pairs, in wire order (descending)
}

type ackRange struct {
	gap   uint64
	count uint64
}

func newAckFrame(ackDelay uint64, recv recvRangeSet) *ackFrame {
	n := recv.Size()
	if n == 0 {
		return nil
	}
	f := &ackFrame{ackDelay: ackDelay}
	top := recv.Get(n - 1)
	f.largestAck = top.High() - 1
	f.firstAckRange = top.Count - 1
	prevLow := top.Low
	for i := n - 2; i >= 0; i-- {
		r := recv.Get(i)
		gap := prevLow - r.High() - 1
		f.ranges = append(f.ranges, ackRange{gap: gap, count: r.Count - 1})
		prevLow = r.Low
	}
	return f
}

// toRangeSet reconstructs the set of acknowledged packet numbers described
// by this frame, or nil if the encoding is internally inconsistent (e.g. a
// gap that would underflow).
func (f *ackFrame) toRangeSet() *ranges.Set {
	s := ranges.New(0)
	high := f.largestAck + 1
	low := high - f.firstAckRange - 1
	if low > high {
		return nil
	}
	s.Add(low, high-low)
	for _, r := range f.ranges {
		if low < r.gap+2+r.count {
			return nil
		}
		high = low - r.gap - 1
		low = high - r.count - 1
		s.Add(low, high-low)
	}
	return s
}

func (f *ackFrame) encodedLen() int {
	n := 1 + varint.Len(f.largestAck) + varint.Len(f.ackDelay) +
		varint.Len(uint64(len(f.ranges))) + varint.Len(f.firstAckRange)
	for _, r := range f.ranges {
		n += varint.Len(r.gap) + varint.Len(r.count)
	}
	return n
}

func (f *ackFrame) encode(b []byte) []byte {
	b = append(b, frameTypeAck)
	b = varint.Put(b, f.largestAck)
	b = varint.Put(b, f.ackDelay)
	b = varint.Put(b, uint64(len(f.ranges)))
	b = varint.Put(b, f.firstAckRange)
	for _, r := range f.ranges {
		b = varint.Put(b, r.gap)
		b = varint.Put(b, r.count)
	}
	return b
}

func (f *ackFrame) decode(b []byte) (int, error) {
	if len(b) < 1 {
		return 0, newError(FrameEncodingError, "ack")
	}
	typ := b[0]
	off := 1
	var rangeCount uint64
	var err error
	off, f.largestAck, err = getVarintAt(b, off)
	if err != nil {
		return 0, err
	}
	off, f.ackDelay, err = getVarintAt(b, off)
	if err != nil {
		return 0, err
	}
	off, rangeCount, err = getVarintAt(b, off)
	if err != nil {
		return 0, err
	}
	off, f.firstAckRange, err = getVarintAt(b, off)
	if err != nil {
		return 0, err
	}
	f.ranges = f.ranges[:0]
	for i := uint64(0); i < rangeCount; i++ {
		var gap, count uint64
		off, gap, err = getVarintAt(b, off)
		if err != nil {
			return 0, err
		}
		off, count, err = getVarintAt(b, off)
		if err != nil {
			return 0, err
		}
		f.ranges = append(f.ranges, ackRange{gap: gap, count: count})
	}
	if typ == frameTypeAckECN {
		for i := 0; i < 3; i++ {
			off, _, err = getVarintAt(b, off)
			if err != nil {
				return 0, err
			}
		}
	}
	return off, nil
}

func (f *ackFrame) String() string {
	return fmt.Sprintf("largest=%d delay=%d first_range=%d ranges=%d", f.largestAck, f.ackDelay, f.firstAckRange, len(f.ranges))
}

func getVarintAt(b []byte, off int) (int, uint64, error) {
	var v uint64
	n, err := varint.Get(b[off:], &v)
	if err != nil {
		return 0, 0, newError(FrameEncodingError, "varint")
	}
	return off + n, v, nil
}

// ---- RESET_STREAM ----

type resetStreamFrame struct {
	streamID  uint64
	errorCode uint64
	finalSize uint64
}

func newResetStreamFrame(streamID, errorCode, finalSize uint64) *resetStreamFrame {
	return &resetStreamFrame{streamID: streamID, errorCode: errorCode, finalSize: finalSize}
}

func (f *resetStreamFrame) encodedLen() int {
	return 1 + varint.Len(f.streamID) + varint.Len(f.errorCode) + varint.Len(f.finalSize)
}
func (f *resetStreamFrame) encode(b []byte) []byte {
	b = append(b, frameTypeResetStream)
	b = varint.Put(b, f.streamID)
	b = varint.Put(b, f.errorCode)
	return varint.Put(b, f.finalSize)
}
func (f *resetStreamFrame) decode(b []byte) (int, error) {
	off, sid, err := getVarintAt(b, 1)
	if err != nil {
		return 0, err
	}
	off, ec, err := getVarintAt(b, off)
	if err != nil {
		return 0, err
	}
	off, fs, err := getVarintAt(b, off)
	if err != nil {
		return 0, err
	}
	f.streamID, f.errorCode, f.finalSize = sid, ec, fs
	return off, nil
}

// ---- STOP_SENDING ----

type stopSendingFrame struct {
	streamID  uint64
	errorCode uint64
}

func newStopSendingFrame(streamID, errorCode uint64) *stopSendingFrame {
	return &stopSendingFrame{streamID: streamID, errorCode: errorCode}
}
func (f *stopSendingFrame) encodedLen() int {
	return 1 + varint.Len(f.streamID) + varint.Len(f.errorCode)
}
func (f *stopSendingFrame) encode(b []byte) []byte {
	b = append(b, frameTypeStopSending)
	b = varint.Put(b, f.streamID)
	return varint.Put(b, f.errorCode)
}
func (f *stopSendingFrame) decode(b []byte) (int, error) {
	off, sid, err := getVarintAt(b, 1)
	if err != nil {
		return 0, err
	}
	off, ec, err := getVarintAt(b, off)
	if err != nil {
		return 0, err
	}
	f.streamID, f.errorCode = sid, ec
	return off, nil
}

// ---- CRYPTO ----

type cryptoFrame struct {
	data   []byte
	offset uint64
}

func newCryptoFrame(data []byte, offset uint64) *cryptoFrame {
	return &cryptoFrame{data: data, offset: offset}
}
func (f *cryptoFrame) encodedLen() int {
	return 1 + varint.Len(f.offset) + varint.Len(uint64(len(f.data))) + len(f.data)
}
func (f *cryptoFrame) encode(b []byte) []byte {
	b = append(b, frameTypeCrypto)
	b = varint.Put(b, f.offset)
	b = varint.Put(b, uint64(len(f.data)))
	return append(b, f.data...)
}
func (f *cryptoFrame) decode(b []byte) (int, error) {
	off, offset, err := getVarintAt(b, 1)
	if err != nil {
		return 0, err
	}
	off, length, err := getVarintAt(b, off)
	if err != nil {
		return 0, err
	}
	if uint64(len(b)-off) < length {
		return 0, newError(FrameEncodingError, "crypto")
	}
	f.offset = offset
	f.data = append(f.data[:0], b[off:off+int(length)]...)
	return off + int(length), nil
}

// ---- NEW_TOKEN ----

type newTokenFrame struct {
	token []byte
}

func newNewTokenFrame(token []byte) *newTokenFrame { return &newTokenFrame{token: token} }
func (f *newTokenFrame) encodedLen() int {
	return 1 + varint.Len(uint64(len(f.token))) + len(f.token)
}
func (f *newTokenFrame) encode(b []byte) []byte {
	b = append(b, frameTypeNewToken)
	b = varint.Put(b, uint64(len(f.token)))
	return append(b, f.token...)
}
func (f *newTokenFrame) decode(b []byte) (int, error) {
	off, length, err := getVarintAt(b, 1)
	if err != nil {
		return 0, err
	}
	if uint64(len(b)-off) < length {
		return 0, newError(FrameEncodingError, "new_token")
	}
	f.token = append(f.token[:0], b[off:off+int(length)]...)
	return off + int(length), nil
}

// ---- STREAM ----

type streamFrame struct {
	streamID uint64
	data     []byte
	offset   uint64
	fin      bool
}

func newStreamFrame(streamID uint64, data []byte, offset uint64, fin bool) *streamFrame {
	return &streamFrame{streamID: streamID, data: data, offset: offset, fin: fin}
}

func (f *streamFrame) encodedLen() int {
	n := 1 + varint.Len(f.streamID)
	if f.offset > 0 {
		n += varint.Len(f.offset)
	}
	n += varint.Len(uint64(len(f.data))) + len(f.data)
	return n
}

func (f *streamFrame) encode(b []byte) []byte {
	typ := byte(frameTypeStream) | 0x02 /*LEN*/
	if f.offset > 0 {
		typ |= 0x04 // OFF
	}
	if f.fin {
		typ |= 0x01 // FIN
	}
	b = append(b, typ)
	b = varint.Put(b, f.streamID)
	if f.offset > 0 {
		b = varint.Put(b, f.offset)
	}
	b = varint.Put(b, uint64(len(f.data)))
	return append(b, f.data...)
}

func (f *streamFrame) decode(b []byte) (int, error) {
	typ := b[0]
	off := 1
	var sid uint64
	var err error
	off, sid, err = getVarintAt(b, off)
	if err != nil {
		return 0, err
	}
	var offset uint64
	if typ&0x04 != 0 {
		off, offset, err = getVarintAt(b, off)
		if err != nil {
			return 0, err
		}
	}
	var length uint64
	if typ&0x02 != 0 {
		off, length, err = getVarintAt(b, off)
		if err != nil {
			return 0, err
		}
	} else {
		length = uint64(len(b) - off)
	}
	if uint64(len(b)-off) < length {
		return 0, newError(FrameEncodingError, "stream")
	}
	f.streamID = sid
	f.offset = offset
	f.fin = typ&0x01 != 0
	f.data = append(f.data[:0], b[off:off+int(length)]...)
	return off + int(length), nil
}

// ---- MAX_DATA ----

type maxDataFrame struct {
	maximumData uint64
}

func newMaxDataFrame(v uint64) *maxDataFrame { return &maxDataFrame{maximumData: v} }
func (f *maxDataFrame) encodedLen() int      { return 1 + varint.Len(f.maximumData) }
func (f *maxDataFrame) encode(b []byte) []byte {
	b = append(b, frameTypeMaxData)
	return varint.Put(b, f.maximumData)
}
func (f *maxDataFrame) decode(b []byte) (int, error) {
	off, v, err := getVarintAt(b, 1)
	f.maximumData = v
	return off, err
}

// ---- MAX_STREAM_DATA ----

type maxStreamDataFrame struct {
	streamID    uint64
	maximumData uint64
}

func newMaxStreamDataFrame(streamID, v uint64) *maxStreamDataFrame {
	return &maxStreamDataFrame{streamID: streamID, maximumData: v}
}
func (f *maxStreamDataFrame) encodedLen() int {
	return 1 + varint.Len(f.streamID) + varint.Len(f.maximumData)
}
func (f *maxStreamDataFrame) encode(b []byte) []byte {
	b = append(b, frameTypeMaxStreamData)
	b = varint.Put(b, f.streamID)
	return varint.Put(b, f.maximumData)
}
func (f *maxStreamDataFrame) decode(b []byte) (int, error) {
	off, sid, err := getVarintAt(b, 1)
	if err != nil {
		return 0, err
	}
	off, v, err := getVarintAt(b, off)
	if err != nil {
		return 0, err
	}
	f.streamID, f.maximumData = sid, v
	return off, nil
}

// ---- MAX_STREAMS ----

type maxStreamsFrame struct {
	maximumStreams uint64
	bidi           bool
}

func newMaxStreamsFrame(v uint64, bidi bool) *maxStreamsFrame {
	return &maxStreamsFrame{maximumStreams: v, bidi: bidi}
}
func (f *maxStreamsFrame) encodedLen() int { return 1 + varint.Len(f.maximumStreams) }
func (f *maxStreamsFrame) encode(b []byte) []byte {
	typ := byte(frameTypeMaxStreamsUni)
	if f.bidi {
		typ = frameTypeMaxStreamsBidi
	}
	b = append(b, typ)
	return varint.Put(b, f.maximumStreams)
}
func (f *maxStreamsFrame) decode(b []byte) (int, error) {
	f.bidi = b[0] == frameTypeMaxStreamsBidi
	off, v, err := getVarintAt(b, 1)
	f.maximumStreams = v
	return off, err
}

// ---- DATA_BLOCKED ----

type dataBlockedFrame struct {
	dataLimit uint64
}

func newDataBlockedFrame(v uint64) *dataBlockedFrame { return &dataBlockedFrame{dataLimit: v} }
func (f *dataBlockedFrame) encodedLen() int          { return 1 + varint.Len(f.dataLimit) }
func (f *dataBlockedFrame) encode(b []byte) []byte {
	b = append(b, frameTypeDataBlocked)
	return varint.Put(b, f.dataLimit)
}
func (f *dataBlockedFrame) decode(b []byte) (int, error) {
	off, v, err := getVarintAt(b, 1)
	f.dataLimit = v
	return off, err
}

// ---- STREAM_DATA_BLOCKED ----

type streamDataBlockedFrame struct {
	streamID  uint64
	dataLimit uint64
}

func newStreamDataBlockedFrame(streamID, v uint64) *streamDataBlockedFrame {
	return &streamDataBlockedFrame{streamID: streamID, dataLimit: v}
}
func (f *streamDataBlockedFrame) encodedLen() int {
	return 1 + varint.Len(f.streamID) + varint.Len(f.dataLimit)
}
func (f *streamDataBlockedFrame) encode(b []byte) []byte {
	b = append(b, frameTypeStreamDataBlocked)
	b = varint.Put(b, f.streamID)
	return varint.Put(b, f.dataLimit)
}
func (f *streamDataBlockedFrame) decode(b []byte) (int, error) {
	off, sid, err := getVarintAt(b, 1)
	if err != nil {
		return 0, err
	}
	off, v, err := getVarintAt(b, off)
	if err != nil {
		return 0, err
	}
	f.streamID, f.dataLimit = sid, v
	return off, nil
}

// ---- STREAMS_BLOCKED ----

type streamsBlockedFrame struct {
	streamLimit uint64
	bidi        bool
}

func newStreamsBlockedFrame(v uint64, bidi bool) *streamsBlockedFrame {
	return &streamsBlockedFrame{streamLimit: v, bidi: bidi}
}
func (f *streamsBlockedFrame) encodedLen() int { return 1 + varint.Len(f.streamLimit) }
func (f *streamsBlockedFrame) encode(b []byte) []byte {
	typ := byte(frameTypeStreamsBlockedUni)
	if f.bidi {
		typ = frameTypeStreamsBlockedBidi
	}
	b = append(b, typ)
	return varint.Put(b, f.streamLimit)
}
func (f *streamsBlockedFrame) decode(b []byte) (int, error) {
	f.bidi = b[0] == frameTypeStreamsBlockedBidi
	off, v, err := getVarintAt(b, 1)
	f.streamLimit = v
	return off, err
}

// ---- NEW_CONNECTION_ID ----

type newConnectionIDFrame struct {
	sequenceNumber uint64
	retirePriorTo  uint64
	cid            []byte
	resetToken     [16]byte
}

func (f *newConnectionIDFrame) encodedLen() int {
	return 1 + varint.Len(f.sequenceNumber) + varint.Len(f.retirePriorTo) + 1 + len(f.cid) + 16
}
func (f *newConnectionIDFrame) encode(b []byte) []byte {
	b = append(b, frameTypeNewConnectionID)
	b = varint.Put(b, f.sequenceNumber)
	b = varint.Put(b, f.retirePriorTo)
	b = append(b, byte(len(f.cid)))
	b = append(b, f.cid...)
	return append(b, f.resetToken[:]...)
}
func (f *newConnectionIDFrame) decode(b []byte) (int, error) {
	off, seq, err := getVarintAt(b, 1)
	if err != nil {
		return 0, err
	}
	off, retire, err := getVarintAt(b, off)
	if err != nil {
		return 0, err
	}
	if off >= len(b) {
		return 0, newError(FrameEncodingError, "new_connection_id")
	}
	cidLen := int(b[off])
	off++
	if cidLen > MaxCIDLength || off+cidLen+16 > len(b) {
		return 0, newError(FrameEncodingError, "new_connection_id")
	}
	f.sequenceNumber, f.retirePriorTo = seq, retire
	f.cid = append(f.cid[:0], b[off:off+cidLen]...)
	off += cidLen
	copy(f.resetToken[:], b[off:off+16])
	return off + 16, nil
}

// ---- RETIRE_CONNECTION_ID ----

type retireConnectionIDFrame struct {
	sequenceNumber uint64
}

func (f *retireConnectionIDFrame) encodedLen() int { return 1 + varint.Len(f.sequenceNumber) }
func (f *retireConnectionIDFrame) encode(b []byte) []byte {
	b = append(b, frameTypeRetireConnectionID)
	return varint.Put(b, f.sequenceNumber)
}
func (f *retireConnectionIDFrame) decode(b []byte) (int, error) {
	off, v, err := getVarintAt(b, 1)
	f.sequenceNumber = v
	return off, err
}

// ---- PATH_CHALLENGE / PATH_RESPONSE ----

type pathChallengeFrame struct {
	data [8]byte
}

func (f *pathChallengeFrame) encodedLen() int { return 1 + 8 }
func (f *pathChallengeFrame) encode(b []byte) []byte {
	b = append(b, frameTypePathChallenge)
	return append(b, f.data[:]...)
}
func (f *pathChallengeFrame) decode(b []byte) (int, error) {
	if len(b) < 9 {
		return 0, newError(FrameEncodingError, "path_challenge")
	}
	copy(f.data[:], b[1:9])
	return 9, nil
}

type pathResponseFrame struct {
	data [8]byte
}

func (f *pathResponseFrame) encodedLen() int { return 1 + 8 }
func (f *pathResponseFrame) encode(b []byte) []byte {
	b = append(b, frameTypePathResponse)
	return append(b, f.data[:]...)
}
func (f *pathResponseFrame) decode(b []byte) (int, error) {
	if len(b) < 9 {
		return 0, newError(FrameEncodingError, "path_response")
	}
	copy(f.data[:], b[1:9])
	return 9, nil
}

// ---- CONNECTION_CLOSE ----

type connectionCloseFrame struct {
	application  bool
	errorCode    uint64
	frameType    uint64
	reasonPhrase []byte
}

func newConnectionCloseFrame(errorCode, frameType uint64, reasonPhrase []byte, application bool) *connectionCloseFrame {
	return &connectionCloseFrame{application: application, errorCode: errorCode, frameType: frameType, reasonPhrase: reasonPhrase}
}

func (f *connectionCloseFrame) encodedLen() int {
	n := 1 + varint.Len(f.errorCode)
	if !f.application {
		n += varint.Len(f.frameType)
	}
	n += varint.Len(uint64(len(f.reasonPhrase))) + len(f.reasonPhrase)
	return n
}
func (f *connectionCloseFrame) encode(b []byte) []byte {
	typ := byte(frameTypeConnectionClose)
	if f.application {
		typ = frameTypeApplicationClose
	}
	b = append(b, typ)
	b = varint.Put(b, f.errorCode)
	if !f.application {
		b = varint.Put(b, f.frameType)
	}
	b = varint.Put(b, uint64(len(f.reasonPhrase)))
	return append(b, f.reasonPhrase...)
}
func (f *connectionCloseFrame) decode(b []byte) (int, error) {
	f.application = b[0] == frameTypeApplicationClose
	off, ec, err := getVarintAt(b, 1)
	if err != nil {
		return 0, err
	}
	var ft uint64
	if !f.application {
		off, ft, err = getVarintAt(b, off)
		if err != nil {
			return 0, err
		}
	}
	off, length, err := getVarintAt(b, off)
	if err != nil {
		return 0, err
	}
	if uint64(len(b)-off) < length {
		return 0, newError(FrameEncodingError, "connection_close")
	}
	f.errorCode = ec
	f.frameType = ft
	f.reasonPhrase = append(f.reasonPhrase[:0], b[off:off+int(length)]...)
	return off + int(length), nil
}

func (f *connectionCloseFrame) String() string {
	return fmt.Sprintf("error=%d reason=%q", f.errorCode, f.reasonPhrase)
}

// ---- HANDSHAKE_DONE ----

type handshakeDoneFrame struct{}

func (f *handshakeDoneFrame) encodedLen() int        { return 1 }
func (f *handshakeDoneFrame) encode(b []byte) []byte { return append(b, frameTypeHanshakeDone) }
func (f *handshakeDoneFrame) decode(b []byte) (int, error) {
	return 1, nil
}
