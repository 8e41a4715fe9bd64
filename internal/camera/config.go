package camera

// DefaultMailboxSize is the coordinator mailbox capacity when none is set.
const DefaultMailboxSize = 256

// Config holds coordinator settings.
type Config struct {
	// MailboxSize bounds the completion bridge.
	MailboxSize int
	Paths       CapturePaths
	Streaming   StreamingPolicy
	// DefaultSettings fill in zero fields of the settings passed to Create.
	DefaultSettings MediaSettings
}

// DefaultConfig returns a Config with the default streaming policy and a high
// resolution preset.
func DefaultConfig() Config {
	return Config{
		MailboxSize: DefaultMailboxSize,
		Streaming:   DefaultStreamingPolicy(),
		DefaultSettings: MediaSettings{
			ResolutionPreset: ResolutionHigh,
			FramesPerSecond:  30,
			VideoBitrate:     2_000_000,
			AudioBitrate:     128_000,
		},
	}
}

// withDefaults fills zero fields of s from d and validates the result.
func (s MediaSettings) withDefaults(d MediaSettings) (MediaSettings, error) {
	if s.ResolutionPreset == "" {
		s.ResolutionPreset = d.ResolutionPreset
	}
	if s.ResolutionPreset == "" {
		s.ResolutionPreset = ResolutionMax
	}
	if s.FramesPerSecond == 0 {
		s.FramesPerSecond = d.FramesPerSecond
	}
	if s.VideoBitrate == 0 {
		s.VideoBitrate = d.VideoBitrate
	}
	if s.AudioBitrate == 0 {
		s.AudioBitrate = d.AudioBitrate
	}

	switch {
	case !s.ResolutionPreset.Valid():
		return s, invalidSettingsError("resolution preset", s.ResolutionPreset)
	case s.FramesPerSecond < 0:
		return s, invalidSettingsError("fps", s.FramesPerSecond)
	case s.VideoBitrate < 0:
		return s, invalidSettingsError("video bitrate", s.VideoBitrate)
	case s.AudioBitrate < 0:
		return s, invalidSettingsError("audio bitrate", s.AudioBitrate)
	}
	return s, nil
}
