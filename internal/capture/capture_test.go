package capture

import "testing"

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"valid 48k", Config{SampleRate: 48000, Channels: 1, FramesPerBuffer: 1024}, false},
		{"valid 44.1k", Config{SampleRate: 44100, Channels: 1, FramesPerBuffer: 512}, false},
		{"zero rate", Config{SampleRate: 0, Channels: 1, FramesPerBuffer: 1024}, true},
		{"stereo", Config{SampleRate: 48000, Channels: 2, FramesPerBuffer: 1024}, true},
		{"zero buffer", Config{SampleRate: 48000, Channels: 1, FramesPerBuffer: 0}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr && err == nil {
				t.Error("Expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Unexpected validation error: %v", err)
			}
		})
	}
}
