package camera

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("sense-pulse/camera")

var (
	resolutionPattern = regexp.MustCompile(`(\d{3,4})x(\d{3,4})`)
	fpsPattern        = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*fps`)
)

// transcoder owns exactly one ffmpeg child process (spec §4.4.2). Exit
// status is tracked by a reaper goroutine writing to an atomic pointer —
// os/exec's Wait must run in its own goroutine, so the rest of the state
// machine polls this field instead of blocking on Wait itself.
type transcoder struct {
	cmd      *exec.Cmd
	exitCode atomic.Pointer[int]

	resolution atomic.Pointer[string]
	fps        atomic.Int64
}

// buildFFmpegCommand builds the fixed argument template of spec §4.4.2:
// TCP RTSP transport by default, video copy (no re-encode), AAC audio,
// HLS output with segment-delete and program-date-time flags.
func buildFFmpegCommand(cfg Config, opts StreamOptions) []string {
	transport := cfg.Transport
	if transport == "" {
		transport = "tcp"
	}
	playlistPath := filepath.Join(opts.OutputDir, "stream.m3u8")
	segmentPath := filepath.Join(opts.OutputDir, "segment_%03d.ts")
	return []string{
		"ffmpeg",
		"-hide_banner",
		"-loglevel", "warning",
		"-use_wallclock_as_timestamps", "1",
		"-fflags", "+genpts+nobuffer+discardcorrupt",
		"-flags", "low_delay",
		"-rtsp_transport", transport,
		"-i", cfg.RTSPURL(),
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", "128k",
		"-f", "hls",
		"-hls_time", fmt.Sprint(opts.SegmentDuration),
		"-hls_list_size", fmt.Sprint(opts.PlaylistSize),
		"-hls_flags", "delete_segments+program_date_time",
		"-start_number", "0",
		"-hls_segment_filename", segmentPath,
		playlistPath,
	}
}

// prepareOutputDir creates the HLS output directory and deletes any stale
// segments/playlist left over from a previous run (spec §4.4.2).
func prepareOutputDir(outputDir string) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("camera: create output dir: %w", err)
	}
	return cleanupSegments(outputDir)
}

func cleanupSegments(outputDir string) error {
	matches, err := filepath.Glob(filepath.Join(outputDir, "*.ts"))
	if err != nil {
		return err
	}
	for _, m := range matches {
		_ = os.Remove(m)
	}
	_ = os.Remove(filepath.Join(outputDir, "stream.m3u8"))
	return nil
}

// spawnTranscoder starts ffmpeg, captures stderr in a background reader,
// and discards stdout, matching spec §4.4.2. The spawn itself is wrapped in
// a span so transcoder lifecycle shows up in traces the way the teacher
// wraps hook subprocess execution (internal/hooks/hooks_otel.go).
func spawnTranscoder(ctx context.Context, cfg Config, opts StreamOptions, logPrefix string) (t *transcoder, err error) {
	_, span := tracer.Start(ctx, "camera.spawn_transcoder", traceAttrs(logPrefix)...)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	args := buildFFmpegCommand(cfg, opts)
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdout = nil

	stderr, serr := cmd.StderrPipe()
	if serr != nil {
		err = fmt.Errorf("camera: stderr pipe: %w", serr)
		return nil, err
	}

	log.Printf("%s: starting ffmpeg: %s", logPrefix, MaskCredentials(cfg.RTSPURL()))
	if serr := cmd.Start(); serr != nil {
		err = fmt.Errorf("camera: spawn ffmpeg: %w", serr)
		return nil, err
	}

	t = &transcoder{cmd: cmd}
	go t.reap(logPrefix)
	go t.readStderr(stderr, logPrefix)

	return t, nil
}

func traceAttrs(logPrefix string) []trace.SpanStartOption {
	return []trace.SpanStartOption{
		trace.WithAttributes(attribute.String("camera.source_id", logPrefix)),
	}
}

// reap waits for the child and records its exit code.
func (t *transcoder) reap(logPrefix string) {
	err := t.cmd.Wait()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if ok := exitErrorAs(err, &exitErr); ok {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}
	t.exitCode.Store(&code)
	log.Printf("%s: ffmpeg exited: code=%d", logPrefix, code)
}

func exitErrorAs(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

// exited reports whether the child has exited, per §4.4.1/§4.4.3's
// "if the child has exited (exit code is known)" check.
func (t *transcoder) exited() bool {
	return t.exitCode.Load() != nil
}

func (t *transcoder) readStderr(stderr io.ReadCloser, logPrefix string) {
	defer stderr.Close()
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		log.Printf("%s: ffmpeg: %s", logPrefix, MaskCredentials(line))
		if !strings.Contains(line, "Video:") {
			continue
		}
		if m := resolutionPattern.FindStringSubmatch(line); m != nil {
			res := m[1] + "x" + m[2]
			t.resolution.Store(&res)
		}
		if m := fpsPattern.FindStringSubmatch(line); m != nil {
			if f, ferr := strconv.ParseFloat(m[1], 64); ferr == nil {
				t.fps.Store(int64(f))
			}
		}
	}
}

// terminate sends SIGTERM; the caller follows up with kill() if the
// process does not exit within the grace period (spec §5).
func (t *transcoder) terminate() {
	if t == nil || t.cmd.Process == nil {
		return
	}
	_ = t.cmd.Process.Signal(syscall.SIGTERM)
}

func (t *transcoder) kill() {
	if t == nil || t.cmd.Process == nil {
		return
	}
	_ = t.cmd.Process.Kill()
}
