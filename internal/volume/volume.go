// Package volume reads the system master volume through the audio server's command line tools.
package volume

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/genricoloni/podlink/internal/domain"
	"go.uber.org/zap"
)

// Backend is a volume query command and the parser for its output
type Backend struct {
	Name   string
	Binary string
	Args   []string
	Parse  func(output string) (int, error)
}

var (
	// Ordered list of backends to try (highest priority first)
	backends = []Backend{
		// PipeWire
		{Name: "wpctl", Binary: "wpctl", Args: []string{"get-volume", "@DEFAULT_AUDIO_SINK@"}, Parse: parseWpctl},
		// PulseAudio (also served by pipewire-pulse)
		{Name: "pactl", Binary: "pactl", Args: []string{"get-sink-volume", "@DEFAULT_SINK@"}, Parse: parsePactl},
		// ALSA
		{Name: "amixer", Binary: "amixer", Args: []string{"get", "Master"}, Parse: parseAmixer},
	}

	errNoBackend = errors.New("no supported volume command found on this system")

	percentPattern = regexp.MustCompile(`(\d+)%`)
	amixerPattern  = regexp.MustCompile(`\[(\d+)%\](?:.*\[(on|off)\])?`)
)

const commandTimeout = 2 * time.Second

// Reader queries the first available backend. It satisfies domain.VolumeReader.
type Reader struct {
	logger *zap.Logger
	run    func(ctx context.Context, binary string, args ...string) (string, error)
	look   func(binary string) bool

	once    sync.Once
	backend Backend
}

// NewReader creates a volume reader. Backend detection is deferred to the first read.
func NewReader(logger *zap.Logger) *Reader {
	return &Reader{
		logger: logger,
		run:    runCommand,
		look:   commandExists,
	}
}

// Volume returns the master volume as 0-100, 0 when muted, or VolumeUnavailable
func (r *Reader) Volume(ctx context.Context) int {
	v, err := r.read(ctx)
	if err != nil {
		r.logger.Debug("Volume unavailable", zap.Error(err))
		return domain.VolumeUnavailable
	}
	return v
}

func (r *Reader) read(ctx context.Context) (int, error) {
	r.once.Do(r.detect)
	if r.backend.Binary == "" {
		return 0, errNoBackend
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	out, err := r.run(ctx, r.backend.Binary, r.backend.Args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", r.backend.Name, err)
	}
	v, err := r.backend.Parse(out)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", r.backend.Name, err)
	}
	return clamp(v), nil
}

// detect picks the first backend whose binary is installed
func (r *Reader) detect() {
	for _, b := range backends {
		if r.look(b.Binary) {
			r.logger.Info("Volume backend detected", zap.String("name", b.Name))
			r.backend = b
			return
		}
	}
	r.logger.Warn("No volume backend found, volume will be reported as unavailable")
}

// parseWpctl handles "Volume: 0.45" and "Volume: 0.45 [MUTED]"
func parseWpctl(out string) (int, error) {
	fields := strings.Fields(out)
	if len(fields) < 2 || fields[0] != "Volume:" {
		return 0, fmt.Errorf("unexpected output %q", strings.TrimSpace(out))
	}
	if strings.Contains(out, "[MUTED]") {
		return 0, nil
	}
	f, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", fields[1], err)
	}
	return int(math.Round(f * 100)), nil
}

// parsePactl averages the per-channel percentages of
// "Volume: front-left: 26214 /  40% / -23.88 dB,   front-right: 26214 /  40% / -23.88 dB"
func parsePactl(out string) (int, error) {
	matches := percentPattern.FindAllStringSubmatch(out, -1)
	if len(matches) == 0 {
		return 0, fmt.Errorf("no percentage in %q", strings.TrimSpace(out))
	}
	sum := 0
	for _, m := range matches {
		v, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, err
		}
		sum += v
	}
	return sum / len(matches), nil
}

// parseAmixer reads the first "[60%] ... [on]" channel line
func parseAmixer(out string) (int, error) {
	for _, line := range strings.Split(out, "\n") {
		m := amixerPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if m[2] == "off" {
			return 0, nil
		}
		return strconv.Atoi(m[1])
	}
	return 0, fmt.Errorf("no channel volume in amixer output")
}

func clamp(v int) int {
	return max(0, min(100, v))
}

func runCommand(ctx context.Context, binary string, args ...string) (string, error) {
	output, err := exec.CommandContext(ctx, binary, args...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%w (output: %s)", err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

// commandExists checks if a binary exists in PATH
func commandExists(binary string) bool {
	_, err := exec.LookPath(binary)
	return err == nil
}
