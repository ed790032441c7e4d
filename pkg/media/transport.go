package media

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"voiceagent-server/pkg/errors"
	"voiceagent-server/pkg/metrics"
)

// WSConn is the subset of *websocket.Conn the transport needs. Narrowed so
// tests can drive the transport with a scripted connection.
type WSConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// TransportConfig holds media transport tuning knobs
type TransportConfig struct {
	// SendQueueSize bounds the outbound frame queue; the oldest frame is
	// dropped under sustained overflow
	SendQueueSize int

	// OutboundSampleRate is the PCM rate of frames handed to Send,
	// typically the synthesizer's native rate
	OutboundSampleRate int

	// FrameDuration paces outbound wire chunks
	FrameDuration time.Duration

	// MaxGapFrames caps how many silence frames are inserted for a single
	// sequence gap before the remainder is treated as a reset
	MaxGapFrames int
}

// DefaultTransportConfig returns the default transport configuration
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		SendQueueSize:      64,
		OutboundSampleRate: 24000,
		FrameDuration:      FrameDuration,
		MaxGapFrames:       50,
	}
}

// wireMessage is the provider's media stream JSON envelope
type wireMessage struct {
	Event          string            `json:"event"`
	SequenceNumber string            `json:"sequenceNumber,omitempty"`
	StreamSid      string            `json:"streamSid,omitempty"`
	Start          *wireStart        `json:"start,omitempty"`
	Media          *wireMedia        `json:"media,omitempty"`
	Mark           *wireMark         `json:"mark,omitempty"`
	Custom         map[string]string `json:"customParameters,omitempty"`
}

type wireStart struct {
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	AccountSid       string            `json:"accountSid"`
	CustomParameters map[string]string `json:"customParameters"`
}

type wireMedia struct {
	Payload string `json:"payload"`
}

type wireMark struct {
	Name string `json:"name"`
}

// StreamTransport terminates one provider media stream connection. Inbound
// mu-law chunks are decoded and upsampled to the pipeline PCM rate; outbound
// PCM is downsampled, encoded and paced back onto the wire.
type StreamTransport struct {
	logger *logrus.Logger
	config TransportConfig
	conn   WSConn

	info    StreamInfo
	infoMu  sync.RWMutex
	started chan struct{}

	sendCh  chan []byte
	writeMu sync.Mutex

	recvSeq uint64
	sendSeq uint64
	// expectWireSeq tracks the provider's sequence numbers for gap filling
	expectWireSeq uint64
	pendingGap    int
	pendingPCM    []byte

	dropped   atomic.Uint64
	writeOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// NewStreamTransport wraps an accepted media stream websocket connection
func NewStreamTransport(conn WSConn, config TransportConfig, logger *logrus.Logger) *StreamTransport {
	if config.SendQueueSize <= 0 {
		config.SendQueueSize = DefaultTransportConfig().SendQueueSize
	}
	if config.FrameDuration <= 0 {
		config.FrameDuration = FrameDuration
	}
	if config.OutboundSampleRate <= 0 {
		config.OutboundSampleRate = DefaultTransportConfig().OutboundSampleRate
	}
	if config.MaxGapFrames <= 0 {
		config.MaxGapFrames = DefaultTransportConfig().MaxGapFrames
	}

	return &StreamTransport{
		logger:  logger,
		config:  config,
		conn:    conn,
		started: make(chan struct{}),
		sendCh:  make(chan []byte, config.SendQueueSize),
		done:    make(chan struct{}),
	}
}

// Info returns the stream metadata from the provider's start event
func (t *StreamTransport) Info() StreamInfo {
	t.infoMu.RLock()
	defer t.infoMu.RUnlock()
	return t.info
}

// Started is closed once the provider's start event has been processed
func (t *StreamTransport) Started() <-chan struct{} {
	return t.started
}

// Dropped returns the number of outbound frames dropped under overflow
func (t *StreamTransport) Dropped() uint64 {
	return t.dropped.Load()
}

// Receive blocks until the next inbound frame or stream close. Missing wire
// chunks are replaced with silence frames so downstream stages never stall
// on provider packet loss.
func (t *StreamTransport) Receive(ctx context.Context) (Frame, error) {
	for {
		if frame, ok := t.nextBuffered(); ok {
			return frame, nil
		}

		select {
		case <-ctx.Done():
			return Frame{}, errors.Wrap(ctx.Err(), "receive canceled")
		case <-t.done:
			return Frame{}, errors.ErrTransportClosed
		default:
		}

		_, data, err := t.conn.ReadMessage()
		if err != nil {
			return Frame{}, errors.Wrap(errors.ErrTransportClosed, err.Error())
		}

		var msg wireMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.logger.WithError(err).Debug("Discarding unparseable media stream message")
			continue
		}

		switch msg.Event {
		case "connected":
			t.logger.Debug("Media stream connected")

		case "start":
			t.handleStart(msg.Start)

		case "media":
			if frame, ok := t.handleMedia(&msg); ok {
				return frame, nil
			}

		case "mark":
			if msg.Mark != nil {
				t.logger.WithField("mark", msg.Mark.Name).Debug("Playback mark received")
			}

		case "stop":
			t.logger.WithField("stream_sid", t.Info().StreamSID).Info("Media stream stopped by provider")
			return Frame{}, errors.ErrTransportClosed

		default:
			t.logger.WithField("event", msg.Event).Debug("Ignoring unknown media stream event")
		}
	}
}

// nextBuffered drains gap-fill silence and the held real frame, in order
func (t *StreamTransport) nextBuffered() (Frame, bool) {
	if t.pendingGap > 0 {
		t.pendingGap--
		t.recvSeq++
		samples := int(PipelineSampleRate * t.config.FrameDuration / time.Second)
		return Frame{
			Seq:       t.recvSeq,
			Direction: DirectionInbound,
			Payload:   SilencePCM(samples),
			Silence:   true,
			Timestamp: time.Now(),
		}, true
	}
	if t.pendingPCM != nil {
		pcm := t.pendingPCM
		t.pendingPCM = nil
		t.recvSeq++
		return Frame{
			Seq:       t.recvSeq,
			Direction: DirectionInbound,
			Payload:   pcm,
			Timestamp: time.Now(),
		}, true
	}
	return Frame{}, false
}

func (t *StreamTransport) handleStart(start *wireStart) {
	if start == nil {
		return
	}

	custom := start.CustomParameters
	info := StreamInfo{
		StreamSID:  start.StreamSid,
		CallSID:    start.CallSid,
		AccountSID: start.AccountSid,
		Custom:     custom,
	}
	if custom != nil {
		info.FromNumber = custom["from_number"]
		info.ToNumber = custom["to_number"]
		info.LeadID = custom["lead_id"]
		info.CampaignID = custom["campaign_id"]
		info.Business = custom["business_name"]
		info.ContactName = custom["owner_name"]
	}

	t.infoMu.Lock()
	t.info = info
	t.infoMu.Unlock()

	t.logger.WithFields(logrus.Fields{
		"stream_sid": info.StreamSID,
		"call_sid":   info.CallSID,
	}).Info("Media stream started")

	close(t.started)
}

func (t *StreamTransport) handleMedia(msg *wireMessage) (Frame, bool) {
	if msg.Media == nil || msg.Media.Payload == "" {
		return Frame{}, false
	}

	wire, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
	if err != nil {
		t.logger.WithError(err).Debug("Discarding undecodable media payload")
		return Frame{}, false
	}

	if seq, err := strconv.ParseUint(msg.SequenceNumber, 10, 64); err == nil && seq > 0 {
		switch {
		case t.expectWireSeq == 0 || seq == t.expectWireSeq:
			t.expectWireSeq = seq + 1
		case seq > t.expectWireSeq:
			gap := int(seq - t.expectWireSeq)
			if gap > t.config.MaxGapFrames {
				// Treat a huge jump as a provider reset, not packet loss
				t.logger.WithFields(logrus.Fields{
					"expected": t.expectWireSeq,
					"got":      seq,
				}).Warn("Media stream sequence reset")
				gap = 0
			}
			t.pendingGap = gap
			t.expectWireSeq = seq + 1
			if gap > 0 {
				metrics.RecordGapFill(t.Info().CallSID, float64(gap))
			}
		default:
			// Late or duplicate chunk; audio order matters more than
			// completeness here
			metrics.RecordFramesDropped(t.Info().CallSID, "out_of_order", 1)
			return Frame{}, false
		}
	}

	pcm := Resample(DecodeULaw(wire), WireSampleRate, PipelineSampleRate)
	metrics.RecordFrameReceived(t.Info().CallSID)

	if t.pendingGap > 0 {
		t.pendingPCM = pcm
		gapFrame, _ := t.nextBuffered()
		return gapFrame, true
	}

	t.recvSeq++
	return Frame{
		Seq:       t.recvSeq,
		Direction: DirectionInbound,
		Payload:   pcm,
		Timestamp: time.Now(),
	}, true
}

// Send enqueues an outbound PCM frame without blocking. Under sustained
// overflow the oldest queued chunk is dropped and a degraded-audio
// condition is signaled.
func (t *StreamTransport) Send(frame Frame) error {
	select {
	case <-t.done:
		return errors.ErrTransportClosed
	default:
	}

	pcm := Resample(frame.Payload, t.config.OutboundSampleRate, WireSampleRate)
	wire := EncodeULaw(pcm)

	t.writeOnce.Do(func() {
		go t.writeLoop()
	})

	for off := 0; off < len(wire); off += WireFrameBytes {
		end := off + WireFrameBytes
		if end > len(wire) {
			end = len(wire)
		}
		chunk := wire[off:end]

		select {
		case t.sendCh <- chunk:
		default:
			select {
			case <-t.sendCh:
				t.dropped.Add(1)
				metrics.RecordFramesDropped(t.Info().CallSID, "overflow", 1)
				t.logger.WithField("dropped_total", t.dropped.Load()).
					Warn("Outbound audio queue overflow, dropping oldest frame")
			default:
			}
			select {
			case t.sendCh <- chunk:
			default:
				// The queue refilled between the drop and the re-enqueue;
				// this chunk is lost too
				t.dropped.Add(1)
				metrics.RecordFramesDropped(t.Info().CallSID, "overflow", 1)
			}
		}
	}
	return nil
}

// writeLoop paces queued wire chunks onto the websocket at frame cadence
func (t *StreamTransport) writeLoop() {
	select {
	case <-t.started:
	case <-t.done:
		return
	}

	streamSID := t.Info().StreamSID

	for {
		select {
		case <-t.done:
			return
		case chunk := <-t.sendCh:
			msg := wireMessage{
				Event:     "media",
				StreamSid: streamSID,
				Media:     &wireMedia{Payload: base64.StdEncoding.EncodeToString(chunk)},
			}
			if err := t.writeJSON(&msg); err != nil {
				t.logger.WithError(err).Debug("Outbound media write failed")
				return
			}
			t.sendSeq++
			metrics.RecordFrameSent(t.Info().CallSID)
			time.Sleep(t.config.FrameDuration)
		}
	}
}

// Clear discards queued outbound audio and instructs the provider to flush
// its playback buffer. Used on barge-in.
func (t *StreamTransport) Clear() error {
	for {
		select {
		case <-t.sendCh:
		default:
			return t.writeJSON(&wireMessage{Event: "clear", StreamSid: t.Info().StreamSID})
		}
	}
}

// SendMark asks the provider to report when playback reaches this point
func (t *StreamTransport) SendMark(name string) error {
	return t.writeJSON(&wireMessage{
		Event:     "mark",
		StreamSid: t.Info().StreamSID,
		Mark:      &wireMark{Name: name},
	})
}

func (t *StreamTransport) writeJSON(msg *wireMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Close tears the transport down; safe to call more than once
func (t *StreamTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.conn.Close()
	})
	return err
}
