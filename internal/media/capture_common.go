package media

import (
	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// addRecvOnlyTransceivers ensures CreateOffer/CreateAnswer always produce
// valid audio and video m-lines even without local tracks.
func addRecvOnlyTransceivers(pc *pion.PeerConnection, logger zerolog.Logger) {
	if _, err := pc.AddTransceiverFromKind(pion.RTPCodecTypeVideo, pion.RTPTransceiverInit{
		Direction: pion.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		logger.Error().Err(err).Msg("add video transceiver")
	}
	if _, err := pc.AddTransceiverFromKind(pion.RTPCodecTypeAudio, pion.RTPTransceiverInit{
		Direction: pion.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		logger.Error().Err(err).Msg("add audio transceiver")
	}
}
