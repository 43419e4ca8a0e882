package alarm

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/RafhaelMaglunob/pistream-cloud/pkg/vision"
)

// 16-bit mono 44.1kHz WAV with two silent samples.
var wavHeader = []byte{
	0x52, 0x49, 0x46, 0x46, // RIFF
	0x28, 0x00, 0x00, 0x00, // ChunkSize (36 + 4 = 40)
	0x57, 0x41, 0x56, 0x45, // WAVE
	0x66, 0x6D, 0x74, 0x20, // fmt
	0x10, 0x00, 0x00, 0x00, // Subchunk1Size (16)
	0x01, 0x00, // AudioFormat (1 = PCM)
	0x01, 0x00, // NumChannels (1)
	0x44, 0xAC, 0x00, 0x00, // SampleRate (44100)
	0x88, 0x58, 0x01, 0x00, // ByteRate (88200)
	0x02, 0x00, // BlockAlign (2)
	0x10, 0x00, // BitsPerSample (16)
	0x64, 0x61, 0x74, 0x61, // data
	0x04, 0x00, 0x00, 0x00, // Subchunk2Size (4)
	0x00, 0x00, 0x00, 0x00, // Silence
}

type fakeIndicator struct {
	mu     sync.Mutex
	states []bool
}

func (f *fakeIndicator) Set(on bool) error {
	f.mu.Lock()
	f.states = append(f.states, on)
	f.mu.Unlock()
	return nil
}

func (f *fakeIndicator) Close() error { return nil }

type fakePlayer struct {
	plays int
}

func (p *fakePlayer) Play(pcm []byte) error {
	p.plays++
	return nil
}

func TestAlarmTriggerAndCooldown(t *testing.T) {
	ind := &fakeIndicator{}
	pl := &fakePlayer{}
	a := New(ind, pl, []byte{0, 0, 0, 0})
	a.Hold = 0

	clock := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return clock }

	dets := []vision.Detection{{Label: "motor_crash", Confidence: 0.95, Zone: vision.ZoneCenter}}
	ctx := context.Background()

	a.Trigger(ctx, dets)
	if pl.plays != 1 {
		t.Fatalf("Expected 1 play, got %d", pl.plays)
	}
	if len(ind.states) != 2 || !ind.states[0] || ind.states[1] {
		t.Errorf("Expected line high then low, got %v", ind.states)
	}

	clock = clock.Add(10 * time.Second)
	a.Trigger(ctx, dets)
	if pl.plays != 1 {
		t.Errorf("Expected cooldown to suppress second alarm, got %d plays", pl.plays)
	}

	clock = clock.Add(30 * time.Second)
	a.Trigger(ctx, dets)
	if pl.plays != 2 {
		t.Errorf("Expected alarm after cooldown, got %d plays", pl.plays)
	}
}

func TestAlarmHoldRespectsContext(t *testing.T) {
	a := New(nil, nil, nil)
	a.Hold = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		a.Trigger(ctx, nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Trigger ignored cancelled context")
	}
}

func TestDecodeSoundWav(t *testing.T) {
	pcm, err := DecodeSound("alarm.wav", wavHeader)
	if err != nil {
		t.Fatalf("DecodeSound failed: %v", err)
	}
	// Two mono samples become two stereo frames.
	if len(pcm) != 8 {
		t.Errorf("Expected 8 bytes of stereo PCM, got %d", len(pcm))
	}

	if _, err := DecodeSound("alarm.ogg", wavHeader); err == nil {
		t.Error("Expected error for unsupported format")
	}
}

func TestConvertAudio(t *testing.T) {
	mono := make([]byte, 4)
	binary.LittleEndian.PutUint16(mono[0:], uint16(100))
	binary.LittleEndian.PutUint16(mono[2:], uint16(200))

	out := convertAudio(mono, 22050, 1, 44100, 2)
	// 2 mono samples -> 4 stereo samples -> 8 after doubling the rate.
	if len(out) != 16 {
		t.Fatalf("Expected 16 bytes, got %d", len(out))
	}
	first := int16(binary.LittleEndian.Uint16(out[0:2]))
	if first != 100 {
		t.Errorf("Expected first sample 100, got %d", first)
	}
}

func TestConvertAudioStereoKeepsChannels(t *testing.T) {
	const frames = 100
	stereo := make([]byte, frames*4)
	for i := range frames {
		binary.LittleEndian.PutUint16(stereo[i*4:], uint16(int16(1000)))
		binary.LittleEndian.PutUint16(stereo[i*4+2:], uint16(0xFFFF-999)) // -1000
	}

	out := convertAudio(stereo, 22050, 2, 44100, 2)
	if len(out) != frames*2*4 {
		t.Fatalf("Expected %d bytes, got %d", frames*2*4, len(out))
	}
	for i := 0; i < len(out)/4; i++ {
		l := int16(binary.LittleEndian.Uint16(out[i*4:]))
		r := int16(binary.LittleEndian.Uint16(out[i*4+2:]))
		if l != 1000 || r != -1000 {
			t.Fatalf("Frame %d: expected L=1000 R=-1000, got L=%d R=%d", i, l, r)
		}
	}

	// 48 kHz to 44.1 kHz still yields whole frames.
	out = convertAudio(stereo[:12], 48000, 2, 44100, 2)
	if len(out)%4 != 0 {
		t.Errorf("Expected whole stereo frames, got %d bytes", len(out))
	}
}
