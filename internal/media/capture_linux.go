//go:build linux

package media

import (
	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// newPeerConnection creates the PeerConnection with VP8+Opus codecs and
// captures local camera/mic via pion/mediadevices (V4L2 + malgo).
// The returned localMedia holds the captured tracks with their senders;
// it is nil when the connection ended up receive-only.
func newPeerConnection(withVideo bool, servers []pion.ICEServer, logger zerolog.Logger) (*pion.PeerConnection, *localMedia, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, nil, err
	}
	vpxParams.BitRate = 1_500_000 // 1.5 Mbps

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, nil, err
	}

	codecSelector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	mediaEngine := &pion.MediaEngine{}
	codecSelector.Populate(mediaEngine)

	registry := &interceptor.Registry{}
	if err := pion.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, nil, err
	}

	api := pion.NewAPI(
		pion.WithMediaEngine(mediaEngine),
		pion.WithInterceptorRegistry(registry),
	)

	pc, err := api.NewPeerConnection(pion.Configuration{ICEServers: servers})
	if err != nil {
		return nil, nil, err
	}

	// GetUserMedia fails as a unit if either requested track cannot be
	// opened, so walk a fallback chain: a busy microphone must not prevent
	// the camera from working and vice versa.
	type attempt struct {
		video bool
		audio bool
		label string
	}
	attempts := []attempt{{false, true, "audio-only"}}
	if withVideo {
		attempts = []attempt{
			{true, true, "video+audio"},
			{true, false, "video-only"},
			{false, true, "audio-only"},
		}
	}

	for _, a := range attempts {
		constraints := mediadevices.MediaStreamConstraints{Codec: codecSelector}
		if a.video {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				// Raw formats only — some cameras expose an MJPEG node with
				// malformed frames that poison the VP8 encoder.
				c.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				c.Width = prop.IntRanged{Max: 640}
				c.Height = prop.IntRanged{Max: 480}
			}
		}
		if a.audio {
			constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			logger.Warn().Err(err).Str("attempt", a.label).Msg("GetUserMedia failed")
			continue
		}

		tracks := stream.GetTracks()
		var senders []trackSender
		for _, track := range tracks {
			track.OnEnded(func(err error) {
				if err != nil {
					logger.Debug().Err(err).Msg("local track ended")
				}
			})
			sender, err := pc.AddTrack(track)
			if err != nil {
				logger.Error().Err(err).Msg("add local track")
				continue
			}
			senders = append(senders, trackSender{kind: track.Kind(), track: track, sender: sender})
		}

		logger.Info().Str("capture", a.label).Int("tracks", len(tracks)).Msg("local media captured")
		media := &localMedia{
			senders: senders,
			stop: func() {
				for _, t := range tracks {
					t.Close()
				}
			},
		}
		return pc, media, nil
	}

	// All capture attempts failed — receive-only keeps the call usable.
	logger.Warn().Msg("all media capture attempts failed, proceeding receive-only")
	addRecvOnlyTransceivers(pc, logger)
	return pc, nil, nil
}
