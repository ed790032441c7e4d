package media

import "time"

// Direction indicates which way a frame is flowing through the pipeline
type Direction int

const (
	// DirectionInbound is caller audio arriving from the telephony provider
	DirectionInbound Direction = iota
	// DirectionOutbound is synthesized audio headed back to the caller
	DirectionOutbound
)

// Audio format constants for the provider media stream and the pipeline.
// The wire carries G.711 mu-law at 8kHz in 20ms chunks; recognition runs
// on 16-bit linear PCM at 16kHz.
const (
	WireSampleRate     = 8000
	PipelineSampleRate = 16000
	FrameDuration      = 20 * time.Millisecond

	// WireFrameBytes is one 20ms mu-law chunk at 8kHz
	WireFrameBytes = 160
)

// Frame is a fixed-duration chunk of audio moving through the pipeline.
// Inbound frames carry 16-bit PCM at PipelineSampleRate; outbound frames
// carry 16-bit PCM at the synthesizer's rate and are encoded on send.
type Frame struct {
	Seq       uint64
	Direction Direction
	Payload   []byte
	// Silence marks a gap-fill frame inserted for a missing wire chunk
	Silence   bool
	Timestamp time.Time
}

// StreamInfo holds the metadata delivered in the provider's start event
type StreamInfo struct {
	StreamSID   string
	CallSID     string
	AccountSID  string
	FromNumber  string
	ToNumber    string
	LeadID      string
	CampaignID  string
	Business    string
	ContactName string
	Custom      map[string]string
}
