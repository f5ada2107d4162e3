//go:build !linux

package media

import (
	"github.com/pion/interceptor"
	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// newPeerConnection creates a receive-only PeerConnection on non-Linux
// platforms. Camera/mic capture via pion/mediadevices needs platform
// drivers (V4L2/malgo) that are only wired up on Linux.
func newPeerConnection(withVideo bool, servers []pion.ICEServer, logger zerolog.Logger) (*pion.PeerConnection, *localMedia, error) {
	mediaEngine := &pion.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, nil, err
	}

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

	addRecvOnlyTransceivers(pc, logger)
	logger.Info().Bool("video", withVideo).Msg("peer connection ready (receive-only, no local capture on this platform)")
	return pc, nil, nil
}
