package audio

import (
	"bytes"
	"fmt"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/nxkoi/vox-navigator/internal/wav"
)

// Player plays 16-bit little-endian PCM through the system audio device.
// A Player is bound to one sample rate and channel count; oto allows only
// one context per process, so create a single Player and reuse it.
type Player struct {
	context    *oto.Context
	sampleRate int
	channels   int
}

// NewPlayer opens the audio device for the given format and blocks until
// it is ready.
func NewPlayer(sampleRate, channels int) (*Player, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %d", sampleRate)
	}
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("unsupported channel count: %d", channels)
	}

	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio context: %w", err)
	}
	<-ready

	return &Player{context: ctx, sampleRate: sampleRate, channels: channels}, nil
}

// PlayFile plays the WAV file at path to completion. The file's declared
// format must match the Player's.
func (p *Player) PlayFile(path string) error {
	info, data, err := wav.Read(path)
	if err != nil {
		return fmt.Errorf("unable to read audio file: %w", err)
	}
	if info.BitsPerSample != 16 {
		return fmt.Errorf("unsupported bit depth: %d", info.BitsPerSample)
	}
	if info.SampleRate != p.sampleRate || info.Channels != p.channels {
		return fmt.Errorf("file format %dHz/%dch does not match player %dHz/%dch",
			info.SampleRate, info.Channels, p.sampleRate, p.channels)
	}
	return p.play(data)
}

// play streams data and blocks until playback finishes. The byte slice
// must stay alive for the whole playback; holding it in this frame is what
// keeps the GC away from it.
func (p *Player) play(data []byte) error {
	player := p.context.NewPlayer(bytes.NewReader(data))
	player.Play()

	for player.IsPlaying() {
		time.Sleep(10 * time.Millisecond)
	}

	if err := player.Close(); err != nil {
		return fmt.Errorf("failed to close audio stream: %w", err)
	}
	return nil
}
