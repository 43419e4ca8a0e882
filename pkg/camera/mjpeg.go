package camera

import (
	"bytes"
	"time"
)

const (
	// MinFrameSize is the smallest JPEG accepted; anything shorter is a
	// truncated or corrupt unit.
	MinFrameSize = 1024
	// MaxBufferSize bounds the demux buffer when no frame boundary shows up.
	MaxBufferSize = 4 * 1024 * 1024
)

// JPEG markers
var (
	soiMarker = []byte{0xFF, 0xD8}
	eoiMarker = []byte{0xFF, 0xD9}
)

// Frame is one complete JPEG image taken from the capture stream.
//
// Frames are immutable once published and are always passed around as
// *Frame, so "is this the frame I saw last time" is a pointer comparison.
type Frame struct {
	Data       []byte
	Seq        uint64
	CapturedAt time.Time
}

// Len returns the encoded size in bytes.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Data)
}

// FeedResult is what a single Demuxer.Feed call produced.
type FeedResult struct {
	Frames    [][]byte
	Discarded int  // complete units dropped for being under the minimum size
	Overflow  bool // the buffer was reset because it grew past the limit
}

// Demuxer splits an MJPEG byte stream into individual JPEG images.
//
// Chunks may be any size and may split a marker in half; bytes are
// accumulated until a full SOI..EOI unit can be extracted. Not safe for
// concurrent use.
type Demuxer struct {
	buf      []byte
	inFrame  bool // buf starts with an SOI marker
	scanFrom int  // where the next EOI search starts, relative to buf
	maxBuf   int
	minFrame int
}

// NewDemuxer returns a Demuxer that resets its buffer past maxBuffer bytes and
// discards frames shorter than minFrame.
func NewDemuxer(maxBuffer, minFrame int) *Demuxer {
	if maxBuffer <= 0 {
		maxBuffer = MaxBufferSize
	}
	if minFrame < 0 {
		minFrame = MinFrameSize
	}
	return &Demuxer{maxBuf: maxBuffer, minFrame: minFrame}
}

// Buffered returns the number of bytes waiting for a frame boundary.
func (d *Demuxer) Buffered() int {
	return len(d.buf)
}

// Reset drops any partially accumulated frame.
func (d *Demuxer) Reset() {
	d.buf = nil
	d.inFrame = false
	d.scanFrom = 0
}

// Feed appends chunk to the buffer and extracts every complete frame.
// Returned frames own their memory.
func (d *Demuxer) Feed(chunk []byte) FeedResult {
	var res FeedResult
	d.buf = append(d.buf, chunk...)

	for {
		if !d.inFrame {
			soi := bytes.Index(d.buf, soiMarker)
			if soi < 0 {
				// Keep a trailing 0xFF, it may be the first half of an SOI.
				if n := len(d.buf); n > 0 && d.buf[n-1] == soiMarker[0] {
					d.buf = append(d.buf[:0], soiMarker[0])
				} else {
					d.buf = d.buf[:0]
				}
				break
			}
			d.buf = d.buf[soi:]
			d.inFrame = true
			d.scanFrom = len(soiMarker)
		}

		eoi := bytes.Index(d.buf[d.scanFrom:], eoiMarker)
		if eoi < 0 {
			// Back up one byte so a marker split across chunks is still found.
			d.scanFrom = max(len(soiMarker), len(d.buf)-1)
			break
		}

		end := d.scanFrom + eoi + len(eoiMarker)
		frame := make([]byte, end)
		copy(frame, d.buf[:end])
		d.buf = d.buf[end:]
		d.inFrame = false
		d.scanFrom = 0

		if len(frame) < d.minFrame {
			res.Discarded++
			continue
		}
		res.Frames = append(res.Frames, frame)
	}

	if len(d.buf) > d.maxBuf {
		d.Reset()
		res.Overflow = true
	}
	return res
}
