package audio

import "time"

// Config holds the sound server connection settings
type Config struct {
	Server           string        `dialsdesc:"PulseAudio server string (empty for the session default)"`
	ApplicationName  string        `dialsdesc:"Client name announced to the sound server"`
	ConnectTimeout   time.Duration `dialsdesc:"Time allowed to establish the server connection"`
	OperationTimeout time.Duration `dialsdesc:"Time allowed for a single server operation"`
}

// DefaultConfig returns the settings used when nothing is configured
func DefaultConfig() *Config {
	return &Config{
		Server:           "",
		ApplicationName:  "soundux",
		ConnectTimeout:   5 * time.Second,
		OperationTimeout: 5 * time.Second,
	}
}
