package volume

import (
	"context"
	"errors"
	"testing"

	"github.com/genricoloni/podlink/internal/domain"
	"go.uber.org/zap"
)

func TestParseWpctl(t *testing.T) {
	tests := []struct {
		name     string
		output   string
		expected int
		wantErr  bool
	}{
		{name: "Plain volume", output: "Volume: 0.45\n", expected: 45},
		{name: "Rounded", output: "Volume: 0.333\n", expected: 33},
		{name: "Muted", output: "Volume: 0.45 [MUTED]\n", expected: 0},
		{name: "Boosted above unity", output: "Volume: 1.20\n", expected: 120},
		{name: "Garbage", output: "Could not connect to PipeWire\n", wantErr: true},
		{name: "Not a number", output: "Volume: loud\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseWpctl(tt.output)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseWpctl() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestParsePactl(t *testing.T) {
	tests := []struct {
		name     string
		output   string
		expected int
		wantErr  bool
	}{
		{
			name:     "Stereo",
			output:   "Volume: front-left: 26214 /  40% / -23.88 dB,   front-right: 26214 /  40% / -23.88 dB\n",
			expected: 40,
		},
		{
			name:     "Unbalanced channels average",
			output:   "Volume: front-left: 32768 /  50% / -18.06 dB,   front-right: 19661 /  30% / -31.37 dB\n",
			expected: 40,
		},
		{name: "Mono", output: "Volume: mono: 65536 / 100% / 0.00 dB\n", expected: 100},
		{name: "No percentage", output: "Connection failure: Connection refused\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePactl(tt.output)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parsePactl() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestParseAmixer(t *testing.T) {
	const stereo = `Simple mixer control 'Master',0
  Capabilities: pvolume pswitch pswitch-joined
  Playback channels: Front Left - Front Right
  Limits: Playback 0 - 65536
  Mono:
  Front Left: Playback 39321 [60%] [on]
  Front Right: Playback 39321 [60%] [on]
`
	const muted = `Simple mixer control 'Master',0
  Limits: Playback 0 - 87
  Mono: Playback 64 [74%] [-17.25dB] [off]
`
	tests := []struct {
		name     string
		output   string
		expected int
		wantErr  bool
	}{
		{name: "Stereo", output: stereo, expected: 60},
		{name: "Muted", output: muted, expected: 0},
		{name: "No switch column", output: "  Mono: Playback 31 [48%]\n", expected: 48},
		{name: "Unknown control", output: "amixer: Unable to find simple control 'Master',0\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAmixer(tt.output)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseAmixer() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestReader_Volume(t *testing.T) {
	tests := []struct {
		name      string
		installed map[string]bool
		output    string
		runErr    error
		expected  int
		wantBin   string
	}{
		{
			name:      "Prefers wpctl",
			installed: map[string]bool{"wpctl": true, "pactl": true, "amixer": true},
			output:    "Volume: 0.40\n",
			expected:  40,
			wantBin:   "wpctl",
		},
		{
			name:      "Falls back to amixer",
			installed: map[string]bool{"amixer": true},
			output:    "  Mono: Playback 31 [48%] [on]\n",
			expected:  48,
			wantBin:   "amixer",
		},
		{
			name:      "Clamps boosted volume",
			installed: map[string]bool{"wpctl": true},
			output:    "Volume: 1.50\n",
			expected:  100,
			wantBin:   "wpctl",
		},
		{
			name:      "No backend",
			installed: map[string]bool{},
			expected:  domain.VolumeUnavailable,
		},
		{
			name:      "Command failure",
			installed: map[string]bool{"pactl": true},
			runErr:    errors.New("exit status 1"),
			expected:  domain.VolumeUnavailable,
			wantBin:   "pactl",
		},
		{
			name:      "Unparseable output",
			installed: map[string]bool{"wpctl": true},
			output:    "nonsense",
			expected:  domain.VolumeUnavailable,
			wantBin:   "wpctl",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ran []string
			r := NewReader(zap.NewNop())
			r.look = func(binary string) bool { return tt.installed[binary] }
			r.run = func(_ context.Context, binary string, _ ...string) (string, error) {
				ran = append(ran, binary)
				return tt.output, tt.runErr
			}

			if got := r.Volume(context.Background()); got != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, got)
			}
			if tt.wantBin == "" {
				if len(ran) != 0 {
					t.Errorf("expected no command, ran %v", ran)
				}
				return
			}
			if len(ran) != 1 || ran[0] != tt.wantBin {
				t.Errorf("expected %s to run, ran %v", tt.wantBin, ran)
			}
		})
	}
}

func TestReader_DetectsOnce(t *testing.T) {
	lookups := 0
	r := NewReader(zap.NewNop())
	r.look = func(binary string) bool {
		lookups++
		return binary == "wpctl"
	}
	r.run = func(context.Context, string, ...string) (string, error) { return "Volume: 0.10\n", nil }

	for range 3 {
		r.Volume(context.Background())
	}
	if lookups != 1 {
		t.Errorf("expected detection to run once, got %d lookups", lookups)
	}
}
