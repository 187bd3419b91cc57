// Package capture acquires the local camera and microphone through
// pion/mediadevices and hands them to the engine as one stream.
package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"     // registers the camera driver
	_ "github.com/pion/mediadevices/pkg/driver/microphone" // registers the microphone driver
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/crms-dev/oathcall/internal/core"
	"github.com/crms-dev/oathcall/internal/domain"
)

const videoBitRate = 1_000_000

type Device struct {
	selector *mediadevices.CodecSelector
}

func NewDevice() (*Device, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("capture: vp8 params: %w", err)
	}
	vpxParams.BitRate = videoBitRate

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("capture: opus params: %w", err)
	}

	return &Device{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

func (d *Device) ConfigureCodecs(me *webrtc.MediaEngine) error {
	d.selector.Populate(me)
	return nil
}

// Open acquires camera and microphone together; a partially acquired
// unit is released before the error returns.
func (d *Device) Open(ctx context.Context, id domain.StreamID) (core.LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ms, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			// Raw formats only; MJPEG nodes on some cameras emit
			// malformed frames that poison the VP8 encoder.
			c.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			c.Width = prop.IntRanged{Max: 640}
			c.Height = prop.IntRanged{Max: 480}
		},
		Audio: func(_ *mediadevices.MediaTrackConstraints) {},
		Codec: d.selector,
	})
	if err != nil {
		return nil, fmt.Errorf("capture: get user media: %w", err)
	}

	log.Info().Str("module", "capture").Str("stream", string(id)).Int("tracks", len(ms.GetTracks())).Msg("capture acquired")
	return &localStream{
		id:      id,
		stream:  ms,
		audioOn: true,
		videoOn: true,
	}, nil
}

// localStream wraps one mediadevices stream. Enable flags mirror UI
// state and are independent of publish state.
type localStream struct {
	id     domain.StreamID
	stream mediadevices.MediaStream

	mu      sync.Mutex
	audioOn bool
	videoOn bool
	closed  bool
}

func (s *localStream) ID() domain.StreamID { return s.id }

func (s *localStream) Tracks() []webrtc.TrackLocal {
	tracks := s.stream.GetTracks()
	out := make([]webrtc.TrackLocal, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, t)
	}
	return out
}

func (s *localStream) SetAudioEnabled(on bool) {
	s.mu.Lock()
	s.audioOn = on
	s.mu.Unlock()
}

func (s *localStream) SetVideoEnabled(on bool) {
	s.mu.Lock()
	s.videoOn = on
	s.mu.Unlock()
}

func (s *localStream) AudioEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioOn
}

func (s *localStream) VideoEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videoOn
}

// Close stops every capture track. A track that is already gone is
// logged, not fatal; the loop keeps releasing the rest.
func (s *localStream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	for _, t := range s.stream.GetTracks() {
		if err := t.Close(); err != nil {
			log.Error().Err(err).Str("module", "capture").Str("stream", string(s.id)).Msg("track close error")
		}
	}
	log.Info().Str("module", "capture").Str("stream", string(s.id)).Msg("capture released")
}
