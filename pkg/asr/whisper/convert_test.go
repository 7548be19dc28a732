package whisper

import (
	"encoding/binary"
	"math"
	"testing"
)

func pcmConstant(amplitude int16, samples int) []byte {
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(amplitude))
	}
	return buf
}

func TestComputeRMS(t *testing.T) {
	t.Parallel()

	if got := computeRMS(nil); got != 0 {
		t.Errorf("computeRMS(nil) = %v, want 0", got)
	}
	if got := computeRMS(pcmConstant(0, 160)); got != 0 {
		t.Errorf("computeRMS(silence) = %v, want 0", got)
	}
	if got := computeRMS(pcmConstant(1000, 160)); math.Abs(got-1000) > 0.01 {
		t.Errorf("computeRMS(constant 1000) = %v, want 1000", got)
	}
}

func TestChunkDurationMs(t *testing.T) {
	t.Parallel()

	// 16 kHz mono: 32 bytes per millisecond.
	if got := chunkDurationMs(32_000, 16_000, 1); got != 1000 {
		t.Errorf("chunkDurationMs(1s mono) = %d, want 1000", got)
	}
	if got := chunkDurationMs(32_000, 16_000, 2); got != 500 {
		t.Errorf("chunkDurationMs(stereo) = %d, want 500", got)
	}
	if got := chunkDurationMs(100, 0, 1); got != 0 {
		t.Errorf("chunkDurationMs(zero rate) = %d, want 0", got)
	}
}

func TestPCMToFloat32MonoDownmix(t *testing.T) {
	t.Parallel()

	// One stereo frame: left 16384, right -16384. Averaged it cancels out.
	pcm := make([]byte, 4)
	binary.LittleEndian.PutUint16(pcm[0:], uint16(int16(16384)))
	binary.LittleEndian.PutUint16(pcm[2:], uint16(int16(-16384)))

	out := pcmToFloat32Mono(pcm, 2)
	if len(out) != 1 {
		t.Fatalf("len = %d, want 1", len(out))
	}
	if math.Abs(float64(out[0])) > 1e-6 {
		t.Errorf("downmix = %v, want 0", out[0])
	}

	mono := pcmToFloat32Mono(pcmConstant(16384, 4), 1)
	for i, s := range mono {
		if math.Abs(float64(s)-0.5) > 1e-4 {
			t.Errorf("mono[%d] = %v, want 0.5", i, s)
		}
	}
}

func TestEncodeWAVHeader(t *testing.T) {
	t.Parallel()

	pcm := pcmConstant(7, 160)
	wav := encodeWAV(pcm, 16_000, 1)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Error("missing RIFF/WAVE markers")
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16_000 {
		t.Errorf("sample rate = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint16(wav[22:24]); got != 1 {
		t.Errorf("channels = %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Errorf("data length = %d, want %d", got, len(pcm))
	}
}

func TestLanguageFromLocale(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":      "ko",
		"ko-KR": "ko",
		"en-US": "en",
		"EN":    "en",
	}
	for locale, want := range cases {
		if got := languageFromLocale(locale); got != want {
			t.Errorf("languageFromLocale(%q) = %q, want %q", locale, got, want)
		}
	}
}
