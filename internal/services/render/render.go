package render

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"reelpipe/internal/config"
	"reelpipe/internal/logging"
	"reelpipe/internal/pipeline"
	"reelpipe/internal/services"
)

// commandContext is swapped out in tests to stub the ffmpeg binary.
var commandContext = exec.CommandContext

const defaultTimeout = 3 * time.Minute

// Runner renders overlay, music-mix, and concatenation operations by
// invoking ffmpeg on local files.
type Runner struct {
	binary  string
	timeout time.Duration
	logger  *slog.Logger
}

// NewRunner constructs an ffmpeg runner from configuration.
func NewRunner(cfg config.Render, logger *slog.Logger) *Runner {
	binary := strings.TrimSpace(cfg.FFmpegBinary)
	if binary == "" {
		binary = "ffmpeg"
	}
	timeout := defaultTimeout
	if cfg.RenderTimeout > 0 {
		timeout = time.Duration(cfg.RenderTimeout) * time.Second
	}
	return &Runner{
		binary:  binary,
		timeout: timeout,
		logger:  logging.NewComponentLogger(logger, "render"),
	}
}

// Overlay renders styled text onto the video at inputPath.
func (r *Runner) Overlay(ctx context.Context, inputPath, outputPath string, cfg pipeline.TextOverlayConfig) error {
	filter := drawtextFilter(cfg)
	args := []string{
		"-y", "-i", inputPath,
		"-vf", filter,
		"-c:a", "copy",
		outputPath,
	}
	return r.run(ctx, "overlay", args)
}

// MixAudio mixes the track at audioPath into the video at videoPath.
func (r *Runner) MixAudio(ctx context.Context, videoPath, audioPath, outputPath string, cfg pipeline.BgMusicConfig) error {
	volume := cfg.Volume
	if volume == 0 {
		volume = 0.3
	}
	trackFilter := fmt.Sprintf("[1:a]volume=%.2f", volume)
	if cfg.FadeInSeconds > 0 {
		trackFilter += fmt.Sprintf(",afade=t=in:st=0:d=%.1f", cfg.FadeInSeconds)
	}
	if cfg.FadeOutSeconds > 0 {
		trackFilter += fmt.Sprintf(",afade=t=out:d=%.1f", cfg.FadeOutSeconds)
	}
	filter := trackFilter + "[bg];[0:a][bg]amix=inputs=2:duration=first[aout]"

	args := []string{
		"-y", "-i", videoPath, "-stream_loop", "-1", "-i", audioPath,
		"-filter_complex", filter,
		"-map", "0:v", "-map", "[aout]",
		"-c:v", "copy", "-shortest",
		outputPath,
	}
	return r.run(ctx, "mix audio", args)
}

// Concat joins two clips in the given order.
func (r *Runner) Concat(ctx context.Context, firstPath, secondPath, outputPath string) error {
	args := []string{
		"-y", "-i", firstPath, "-i", secondPath,
		"-filter_complex", "[0:v][0:a][1:v][1:a]concat=n=2:v=1:a=1[v][a]",
		"-map", "[v]", "-map", "[a]",
		outputPath,
	}
	return r.run(ctx, "concat", args)
}

func (r *Runner) run(ctx context.Context, operation string, args []string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := commandContext(ctx, r.binary, args...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return services.Wrap(services.ErrTimeout, "render", operation, "ffmpeg exceeded render budget", ctx.Err())
		}
		detail := lastStderrLine(stderr.String())
		return services.Wrap(services.ErrExternal, "render", operation, detail, err)
	}

	r.logger.Debug("render finished",
		logging.String("operation", operation),
		logging.Duration("elapsed", time.Since(start)))
	return nil
}

func drawtextFilter(cfg pipeline.TextOverlayConfig) string {
	fontSize := cfg.FontSize
	if fontSize <= 0 {
		fontSize = 48
	}
	fontColor := cfg.FontColor
	if fontColor == "" {
		fontColor = "white"
	}

	var y string
	switch cfg.Position {
	case "top":
		y = "h*0.1"
	case "bottom":
		y = "h*0.85"
	default:
		y = "(h-text_h)/2"
	}

	parts := []string{
		fmt.Sprintf("text='%s'", escapeDrawtext(cfg.Text)),
		fmt.Sprintf("fontsize=%d", fontSize),
		fmt.Sprintf("fontcolor=%s", fontColor),
		"x=(w-text_w)/2",
		"y=" + y,
	}
	if cfg.BoxColor != "" {
		opacity := cfg.BoxOpacity
		if opacity == 0 {
			opacity = 0.5
		}
		parts = append(parts,
			"box=1",
			fmt.Sprintf("boxcolor=%s@%.2f", cfg.BoxColor, opacity),
			"boxborderw=12",
		)
	}
	if cfg.EndSeconds > 0 {
		parts = append(parts, fmt.Sprintf("enable='between(t,%.1f,%.1f)'", cfg.StartSeconds, cfg.EndSeconds))
	}
	return "drawtext=" + strings.Join(parts, ":")
}

func escapeDrawtext(text string) string {
	replacer := strings.NewReplacer(
		`\`, `\\`,
		`'`, `\'`,
		`:`, `\:`,
		`%`, `\%`,
	)
	return replacer.Replace(text)
}

func lastStderrLine(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return "ffmpeg failed"
}
