package media

var muLawDecodeTable [256]int16

func init() {
	for i := 0; i < 256; i++ {
		muLawDecodeTable[i] = decodeMuLawSample(byte(i))
	}
}

// DecodeULaw converts G.711 mu-law payload bytes into 16-bit PCM.
// The returned slice uses little-endian byte ordering.
func DecodeULaw(payload []byte) []byte {
	if len(payload) == 0 {
		return nil
	}

	out := make([]byte, len(payload)*2)
	for i, b := range payload {
		sample := muLawDecodeTable[b]
		out[2*i] = byte(sample)
		out[2*i+1] = byte(sample >> 8)
	}
	return out
}

// EncodeULaw converts 16-bit little-endian PCM into G.711 mu-law bytes
func EncodeULaw(pcm []byte) []byte {
	if len(pcm) < 2 {
		return nil
	}

	samples := len(pcm) / 2
	out := make([]byte, samples)
	for i := 0; i < samples; i++ {
		sample := int16(pcm[2*i]) | (int16(pcm[2*i+1]) << 8)
		out[i] = encodeMuLawSample(sample)
	}
	return out
}

func decodeMuLawSample(uval byte) int16 {
	uval = ^uval
	sign := int16(uval & 0x80)
	exponent := (uval >> 4) & 0x07
	mantissa := uval & 0x0F
	magnitude := ((int16(mantissa) << 3) + 0x84) << exponent
	magnitude -= 0x84
	if sign != 0 {
		return -magnitude
	}
	return magnitude
}

func encodeMuLawSample(sample int16) byte {
	const bias = 0x84
	const clip = 32635

	sign := byte(0)
	if sample < 0 {
		sign = 0x80
		sample = -sample
	}
	if sample > clip {
		sample = clip
	}
	sample += bias

	exponent := byte(7)
	for mask := int16(0x4000); exponent > 0 && sample&mask == 0; mask >>= 1 {
		exponent--
	}

	mantissa := byte((sample >> (exponent + 3)) & 0x0F)
	return ^(sign | (exponent << 4) | mantissa)
}

// Resample converts 16-bit little-endian PCM between sample rates using
// linear interpolation. Good enough for narrow-band telephony audio; a
// polyphase filter would be overkill at these rates.
func Resample(pcm []byte, fromRate, toRate int) []byte {
	if fromRate == toRate || len(pcm) < 2 || fromRate <= 0 || toRate <= 0 {
		return pcm
	}

	inSamples := len(pcm) / 2
	outSamples := inSamples * toRate / fromRate
	if outSamples == 0 {
		return nil
	}

	out := make([]byte, outSamples*2)
	for i := 0; i < outSamples; i++ {
		// Source position in fixed-point to avoid float drift
		srcPos := i * fromRate
		srcIdx := srcPos / toRate
		frac := srcPos % toRate

		s0 := sampleAt(pcm, srcIdx, inSamples)
		s1 := sampleAt(pcm, srcIdx+1, inSamples)
		interp := int32(s0) + (int32(s1)-int32(s0))*int32(frac)/int32(toRate)

		out[2*i] = byte(interp)
		out[2*i+1] = byte(interp >> 8)
	}
	return out
}

func sampleAt(pcm []byte, idx, total int) int16 {
	if idx >= total {
		idx = total - 1
	}
	return int16(pcm[2*idx]) | (int16(pcm[2*idx+1]) << 8)
}

// SilencePCM returns a zeroed 16-bit PCM buffer holding the given number
// of samples
func SilencePCM(samples int) []byte {
	return make([]byte, samples*2)
}
