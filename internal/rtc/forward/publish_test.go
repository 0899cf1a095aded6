package forward

import (
	"testing"

	"github.com/pion/sdp/v3"
	"github.com/stretchr/testify/assert"
)

func mediaSection(kind, direction string) *sdp.MediaDescription {
	md := &sdp.MediaDescription{MediaName: sdp.MediaName{Media: kind}}
	if direction != "" {
		md.Attributes = append(md.Attributes, sdp.Attribute{Key: direction})
	}
	return md
}

func TestMediaCountsSingleSendonlyPerKindIsFine(t *testing.T) {
	desc := mediaCountsFromDescriptions([]*sdp.MediaDescription{
		mediaSection("audio", "sendonly"),
		mediaSection("video", "sendonly"),
	})
	assert.Equal(t, 1, desc.AudioSend)
	assert.Equal(t, 1, desc.VideoSend)
	assert.Equal(t, 0, desc.AudioRecv)
	assert.Equal(t, 0, desc.VideoRecv)
}

func TestMediaCountsTwoSendonlyVideoSectionsCountsBoth(t *testing.T) {
	desc := mediaCountsFromDescriptions([]*sdp.MediaDescription{
		mediaSection("video", "sendonly"),
		mediaSection("video", "sendonly"),
	})
	assert.Equal(t, 2, desc.VideoSend)
}

func TestMediaCountsSendrecvCountsBothSides(t *testing.T) {
	desc := mediaCountsFromDescriptions([]*sdp.MediaDescription{
		mediaSection("audio", "sendrecv"),
	})
	assert.Equal(t, 1, desc.AudioSend)
	assert.Equal(t, 1, desc.AudioRecv)
}

func TestMediaCountsDefaultsToSendrecvWithNoDirectionAttribute(t *testing.T) {
	desc := mediaCountsFromDescriptions([]*sdp.MediaDescription{
		mediaSection("audio", ""),
	})
	assert.Equal(t, 1, desc.AudioSend)
	assert.Equal(t, 1, desc.AudioRecv)
}

func TestMediaCountsInactiveCountsNeitherSide(t *testing.T) {
	desc := mediaCountsFromDescriptions([]*sdp.MediaDescription{
		mediaSection("video", "inactive"),
	})
	assert.Equal(t, 0, desc.VideoSend)
	assert.Equal(t, 0, desc.VideoRecv)
}

func TestMediaCountsIgnoresNonAudioVideoSections(t *testing.T) {
	desc := mediaCountsFromDescriptions([]*sdp.MediaDescription{
		mediaSection("application", "sendrecv"),
	})
	assert.Equal(t, 0, desc.AudioSend)
	assert.Equal(t, 0, desc.VideoSend)
}
