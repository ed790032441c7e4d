package media

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voiceagent-server/pkg/errors"
)

// scriptedConn feeds canned provider messages to the transport and records
// everything written back
type scriptedConn struct {
	msgs    [][]byte
	idx     int
	mu      sync.Mutex
	written [][]byte
	closed  bool
}

func (c *scriptedConn) ReadMessage() (int, []byte, error) {
	if c.idx >= len(c.msgs) {
		return 0, nil, io.EOF
	}
	m := c.msgs[c.idx]
	c.idx++
	return websocket.TextMessage, m, nil
}

func (c *scriptedConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *scriptedConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *scriptedConn) writtenEvents(t *testing.T) []wireMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]wireMessage, 0, len(c.written))
	for _, data := range c.written {
		var msg wireMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		out = append(out, msg)
	}
	return out
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func startMsg() []byte {
	return []byte(`{"event":"start","start":{"streamSid":"MZ123","callSid":"CA456","accountSid":"AC789","customParameters":{"from_number":"+15550100","to_number":"+15550199","lead_id":"lead-1","business_name":"Acme Dental"}}}`)
}

func mediaMsg(seq int, wire []byte) []byte {
	payload := base64.StdEncoding.EncodeToString(wire)
	return []byte(fmt.Sprintf(`{"event":"media","sequenceNumber":"%d","media":{"payload":"%s"}}`, seq, payload))
}

func silenceWire() []byte {
	wire := make([]byte, WireFrameBytes)
	for i := range wire {
		wire[i] = 0xFF // mu-law silence
	}
	return wire
}

func TestReceiveDecodesMediaAndMetadata(t *testing.T) {
	conn := &scriptedConn{msgs: [][]byte{
		[]byte(`{"event":"connected"}`),
		startMsg(),
		mediaMsg(1, silenceWire()),
		[]byte(`{"event":"stop"}`),
	}}
	tr := NewStreamTransport(conn, DefaultTransportConfig(), testLogger())

	frame, err := tr.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DirectionInbound, frame.Direction)
	// 20ms at 16kHz is 320 samples of 16-bit PCM
	assert.Len(t, frame.Payload, 640)
	assert.False(t, frame.Silence)

	info := tr.Info()
	assert.Equal(t, "MZ123", info.StreamSID)
	assert.Equal(t, "CA456", info.CallSID)
	assert.Equal(t, "+15550100", info.FromNumber)
	assert.Equal(t, "Acme Dental", info.Business)

	_, err = tr.Receive(context.Background())
	assert.ErrorIs(t, err, errors.ErrTransportClosed)
}

func TestReceiveFillsSequenceGapsWithSilence(t *testing.T) {
	conn := &scriptedConn{msgs: [][]byte{
		startMsg(),
		mediaMsg(1, silenceWire()),
		mediaMsg(4, silenceWire()), // chunks 2 and 3 lost
		[]byte(`{"event":"stop"}`),
	}}
	tr := NewStreamTransport(conn, DefaultTransportConfig(), testLogger())
	ctx := context.Background()

	first, err := tr.Receive(ctx)
	require.NoError(t, err)
	assert.False(t, first.Silence)

	for i := 0; i < 2; i++ {
		gap, err := tr.Receive(ctx)
		require.NoError(t, err)
		assert.True(t, gap.Silence, "frame %d should be gap-fill silence", i)
		assert.Len(t, gap.Payload, 640)
	}

	real, err := tr.Receive(ctx)
	require.NoError(t, err)
	assert.False(t, real.Silence)

	_, err = tr.Receive(ctx)
	assert.ErrorIs(t, err, errors.ErrTransportClosed)
}

func TestReceiveDropsOutOfOrderChunks(t *testing.T) {
	conn := &scriptedConn{msgs: [][]byte{
		startMsg(),
		mediaMsg(5, silenceWire()),
		mediaMsg(3, silenceWire()), // late duplicate, must be discarded
		mediaMsg(6, silenceWire()),
		[]byte(`{"event":"stop"}`),
	}}
	tr := NewStreamTransport(conn, DefaultTransportConfig(), testLogger())
	ctx := context.Background()

	var frames []Frame
	for {
		frame, err := tr.Receive(ctx)
		if err != nil {
			assert.ErrorIs(t, err, errors.ErrTransportClosed)
			break
		}
		frames = append(frames, frame)
	}

	assert.Len(t, frames, 2, "late chunk should not surface")
}

func TestSendDropsOldestUnderOverflow(t *testing.T) {
	conn := &scriptedConn{}
	config := DefaultTransportConfig()
	config.SendQueueSize = 2
	tr := NewStreamTransport(conn, config, testLogger())

	// Four wire chunks worth of outbound PCM at 24kHz; with no start event
	// the writer stays parked, so the queue must overflow
	pcm := SilencePCM(4 * WireFrameBytes * config.OutboundSampleRate / WireSampleRate)
	require.NoError(t, tr.Send(Frame{Direction: DirectionOutbound, Payload: pcm}))

	assert.Equal(t, uint64(2), tr.Dropped())
}

func TestOverflowAccountsForEveryLostChunk(t *testing.T) {
	conn := &scriptedConn{}
	config := DefaultTransportConfig()
	config.SendQueueSize = 4
	tr := NewStreamTransport(conn, config, testLogger())

	// One wire chunk per frame; with no start event the writer stays
	// parked, so concurrent senders fight over a full queue
	pcm := SilencePCM(WireFrameBytes * config.OutboundSampleRate / WireSampleRate)

	const senders = 8
	const framesPerSender = 50

	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < framesPerSender; j++ {
				tr.Send(Frame{Direction: DirectionOutbound, Payload: pcm})
			}
		}()
	}
	wg.Wait()

	total := uint64(senders * framesPerSender)
	assert.Equal(t, total, tr.Dropped()+uint64(len(tr.sendCh)),
		"every chunk ends up queued or counted as dropped")
}

func TestClearFlushesQueueAndNotifiesProvider(t *testing.T) {
	conn := &scriptedConn{}
	tr := NewStreamTransport(conn, DefaultTransportConfig(), testLogger())
	tr.handleStart(&wireStart{StreamSid: "MZ123", CallSid: "CA456"})

	require.NoError(t, tr.Clear())

	events := conn.writtenEvents(t)
	require.Len(t, events, 1)
	assert.Equal(t, "clear", events[0].Event)
	assert.Equal(t, "MZ123", events[0].StreamSid)
}

func TestSendAfterCloseFails(t *testing.T) {
	conn := &scriptedConn{}
	tr := NewStreamTransport(conn, DefaultTransportConfig(), testLogger())
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close(), "close must be idempotent")

	err := tr.Send(Frame{Payload: SilencePCM(480)})
	assert.ErrorIs(t, err, errors.ErrTransportClosed)
	assert.True(t, conn.closed)

	// Receive honors context cancellation promptly after close
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = tr.Receive(ctx)
	assert.Error(t, err)
}
