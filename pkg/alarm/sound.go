package alarm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/hajimehoshi/go-mp3"
	"github.com/youpy/go-wav"
)

const (
	sampleRate   = 44100
	channelCount = 2
)

// LoadSound reads a .wav or .mp3 file and returns PCM ready for a Player.
func LoadSound(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeSound(filepath.Base(path), data)
}

// DecodeSound decodes wav or mp3 data, chosen by the name's extension, and
// converts it to 44.1 kHz stereo.
func DecodeSound(name string, data []byte) ([]byte, error) {
	var pcm []byte
	var rate, channels int

	switch strings.ToLower(filepath.Ext(name)) {
	case ".wav":
		format, err := wav.NewReader(bytes.NewReader(data)).Format()
		if err != nil {
			return nil, fmt.Errorf("failed to get wav format: %w", err)
		}
		pcm, err = io.ReadAll(wav.NewReader(bytes.NewReader(data)))
		if err != nil {
			return nil, fmt.Errorf("failed to decode wav data: %w", err)
		}
		rate = int(format.SampleRate)
		channels = int(format.NumChannels)

	case ".mp3":
		decoder, err := mp3.NewDecoder(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to create mp3 decoder: %w", err)
		}
		pcm, err = io.ReadAll(decoder)
		if err != nil {
			return nil, fmt.Errorf("failed to decode mp3 data: %w", err)
		}
		rate = decoder.SampleRate()
		channels = 2

	default:
		return nil, fmt.Errorf("unsupported sound format %q", filepath.Ext(name))
	}

	if rate != sampleRate || channels != channelCount {
		pcm = convertAudio(pcm, rate, channels, sampleRate, channelCount)
	}
	return pcm, nil
}

// convertAudio converts interleaved 16-bit PCM between sample rates and from
// mono to stereo. Each channel is interpolated on its own and the output always
// holds whole frames.
func convertAudio(pcmData []byte, fromRate, fromChannels, toRate, toChannels int) []byte {
	frames := len(pcmData) / 2 / fromChannels
	src := make([][]int16, frames)
	for f := range frames {
		frame := make([]int16, toChannels)
		for c := range toChannels {
			sc := min(c, fromChannels-1)
			off := (f*fromChannels + sc) * 2
			frame[c] = int16(binary.LittleEndian.Uint16(pcmData[off : off+2]))
		}
		src[f] = frame
	}

	dst := src
	if fromRate != toRate && frames > 0 {
		ratio := float64(toRate) / float64(fromRate)
		n := int(float64(frames) * ratio)
		dst = make([][]int16, n)
		for i := range n {
			srcPos := float64(i) / ratio
			srcIdx := int(srcPos)
			if srcIdx >= frames-1 {
				dst[i] = src[frames-1]
				continue
			}
			frac := srcPos - float64(srcIdx)
			frame := make([]int16, toChannels)
			for c := range toChannels {
				s1, s2 := float64(src[srcIdx][c]), float64(src[srcIdx+1][c])
				frame[c] = int16(s1 + (s2-s1)*frac)
			}
			dst[i] = frame
		}
	}

	out := make([]byte, len(dst)*toChannels*2)
	for f, frame := range dst {
		for c, v := range frame {
			off := (f*toChannels + c) * 2
			binary.LittleEndian.PutUint16(out[off:off+2], uint16(v))
		}
	}
	return out
}

// OtoPlayer plays through the system audio device.
type OtoPlayer struct {
	ctx *oto.Context
}

// NewOtoPlayer opens the audio device. It fails on headless machines.
func NewOtoPlayer() (*OtoPlayer, error) {
	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channelCount,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}
	<-ready
	return &OtoPlayer{ctx: otoCtx}, nil
}

func (p *OtoPlayer) Play(pcm []byte) error {
	player := p.ctx.NewPlayer(bytes.NewReader(pcm))
	defer player.Close()
	player.Play()
	for player.IsPlaying() {
		time.Sleep(100 * time.Millisecond)
	}
	return player.Err()
}
