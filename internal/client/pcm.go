package client

// PCM is decoded interleaved 16-bit audio.
type PCM struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// Seconds returns the playback length.
func (p PCM) Seconds() float64 {
	if p.SampleRate <= 0 || p.Channels <= 0 {
		return 0
	}
	return float64(len(p.Samples)/p.Channels) / float64(p.SampleRate)
}

// Convert remixes p to the given channel count and linearly resamples it to
// rate. Only mono and stereo layouts are supported; extra channels are
// dropped.
func Convert(p PCM, rate, channels int) []int16 {
	if p.Channels <= 0 || p.SampleRate <= 0 || rate <= 0 || channels <= 0 {
		return nil
	}
	frames := len(p.Samples) / p.Channels
	mono := make([]int32, frames)
	left := make([]int32, frames)
	right := make([]int32, frames)
	for i := 0; i < frames; i++ {
		l := int32(p.Samples[i*p.Channels])
		r := l
		if p.Channels > 1 {
			r = int32(p.Samples[i*p.Channels+1])
		}
		left[i], right[i] = l, r
		mono[i] = (l + r) / 2
	}

	outFrames := frames
	if rate != p.SampleRate {
		outFrames = int(int64(frames) * int64(rate) / int64(p.SampleRate))
	}
	out := make([]int16, outFrames*channels)
	for i := 0; i < outFrames; i++ {
		pos := float64(i) * float64(p.SampleRate) / float64(rate)
		for ch := 0; ch < channels; ch++ {
			src := mono
			if channels > 1 {
				src = left
				if ch == 1 {
					src = right
				}
			}
			if ch > 1 {
				src = mono
			}
			out[i*channels+ch] = lerp(src, pos)
		}
	}
	return out
}

func lerp(s []int32, pos float64) int16 {
	i := int(pos)
	if i >= len(s)-1 {
		return int16(s[len(s)-1])
	}
	frac := pos - float64(i)
	return int16(float64(s[i]) + (float64(s[i+1])-float64(s[i]))*frac)
}
