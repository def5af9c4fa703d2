package audio

import (
	"context"

	"github.com/soundux/soundux-routing/routershim"
)

var _ routershim.Shim = (*Controller)(nil)

// Setup creates the virtual devices
func (c *Controller) Setup() error {
	return c.SetupContext(context.Background())
}

// Destroy removes the virtual devices
func (c *Controller) Destroy() {
	c.DestroyContext(context.Background())
}

// PlaybackStreams returns the current playback streams, or none if the
// server cannot be queried
func (c *Controller) PlaybackStreams() []routershim.StreamRecord {
	streams, err := c.Streams.Playback(context.Background())
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to list playback streams")
		return []routershim.StreamRecord{}
	}
	return streams
}

// RecordingStreams returns the current recording streams, or none if the
// server cannot be queried
func (c *Controller) RecordingStreams() []routershim.StreamRecord {
	streams, err := c.Streams.Recording(context.Background())
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to list recording streams")
		return []routershim.StreamRecord{}
	}
	return streams
}

func (c *Controller) PassthroughFrom(app routershim.StreamRecord) bool {
	err := c.Router.PassthroughFrom(context.Background(), &app)
	if err != nil {
		c.logger.Warn().Err(err).Str("app", app.Name).Msg("passthrough failed")
	}
	return err == nil
}

func (c *Controller) StopPassthrough() bool {
	err := c.Router.StopPassthrough(context.Background())
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to stop passthrough")
	}
	return err == nil
}

func (c *Controller) IsPassthroughActive() bool {
	return c.Router.IsPassthroughActive()
}

func (c *Controller) InputSoundTo(app routershim.StreamRecord) bool {
	err := c.Router.InputSoundTo(context.Background(), &app)
	if err != nil {
		c.logger.Warn().Err(err).Str("app", app.Name).Msg("sound input failed")
	}
	return err == nil
}

func (c *Controller) StopSoundInput() bool {
	err := c.Router.StopSoundInput(context.Background())
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to stop sound input")
	}
	return err == nil
}

func (c *Controller) IsSoundInputActive() bool {
	return c.Router.IsSoundInputActive()
}
