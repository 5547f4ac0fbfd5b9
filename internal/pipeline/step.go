package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// StepType identifies one of the supported pipeline stage variants.
type StepType string

const (
	StepVideoGeneration      StepType = "video-generation"
	StepBatchVideoGeneration StepType = "batch-video-generation"
	StepTextOverlay          StepType = "text-overlay"
	StepBgMusic              StepType = "bg-music"
	StepAttachVideo          StepType = "attach-video"
)

var allStepTypes = []StepType{
	StepVideoGeneration,
	StepBatchVideoGeneration,
	StepTextOverlay,
	StepBgMusic,
	StepAttachVideo,
}

// Known reports whether the tag names a supported step variant.
func (t StepType) Known() bool {
	for _, known := range allStepTypes {
		if t == known {
			return true
		}
	}
	return false
}

var titleCaser = cases.Title(language.English)

// Label renders the step type as a human-readable progress label.
func (t StepType) Label() string {
	return titleCaser.String(strings.ReplaceAll(string(t), "-", " "))
}

// Step is one stage of a pipeline. The Config payload shape is selected by
// Type; disabled steps are skipped entirely and never counted or recorded.
type Step struct {
	ID      string          `json:"id"`
	Type    StepType        `json:"type"`
	Enabled bool            `json:"enabled"`
	Config  json.RawMessage `json:"config"`
}

// StepResult records the outcome of one executed step.
type StepResult struct {
	StepID      string           `json:"stepId"`
	Type        StepType         `json:"type"`
	Label       string           `json:"label"`
	OutputURL   string           `json:"outputUrl"`
	Items       []StepItemResult `json:"items,omitempty"`
	CompletedAt time.Time        `json:"completedAt"`
}

// StepItemResult records one fan-out item's outcome inside a batch step.
// A step with some failed items can still succeed overall.
type StepItemResult struct {
	InputURL  string `json:"inputUrl"`
	OutputURL string `json:"outputUrl,omitempty"`
	Error     string `json:"error,omitempty"`
}

// GenerationMode selects how a video-generation step drives the model image.
type GenerationMode string

const (
	// ModeMotionControl drives a source video's motion with the persona image.
	ModeMotionControl GenerationMode = "motion-control"
	// ModeSubtleAnimation animates a still persona image with no source video.
	ModeSubtleAnimation GenerationMode = "subtle-animation"
)

// AttachPosition selects where the secondary clip is inserted.
type AttachPosition string

const (
	AttachBefore AttachPosition = "before"
	AttachAfter  AttachPosition = "after"
)

// VideoGenerationConfig configures a single generation call.
type VideoGenerationConfig struct {
	Mode            GenerationMode `json:"mode"`
	ModelImageURL   string         `json:"modelImageUrl"`
	SourceVideoURL  string         `json:"sourceVideoUrl,omitempty"`
	Prompt          string         `json:"prompt,omitempty"`
	DurationSeconds int            `json:"durationSeconds,omitempty"`
	Resolution      string         `json:"resolution,omitempty"`
}

// RequiresSourceVideo reports whether the configured mode consumes a source
// video in addition to the persona image.
func (c VideoGenerationConfig) RequiresSourceVideo() bool {
	return c.Mode == ModeMotionControl
}

func (c VideoGenerationConfig) validate() error {
	switch c.Mode {
	case ModeMotionControl, ModeSubtleAnimation:
	default:
		return fmt.Errorf("video-generation: unknown mode %q", c.Mode)
	}
	if strings.TrimSpace(c.ModelImageURL) == "" {
		return fmt.Errorf("video-generation: model image url required")
	}
	return nil
}

// BatchVideoGenerationConfig fans one generation request out over N images.
type BatchVideoGenerationConfig struct {
	ImageURLs       []string       `json:"imageUrls"`
	Mode            GenerationMode `json:"mode"`
	Prompt          string         `json:"prompt,omitempty"`
	DurationSeconds int            `json:"durationSeconds,omitempty"`
	Resolution      string         `json:"resolution,omitempty"`
}

func (c BatchVideoGenerationConfig) validate() error {
	if len(c.ImageURLs) == 0 {
		return fmt.Errorf("batch-video-generation: at least one image url required")
	}
	for i, url := range c.ImageURLs {
		if strings.TrimSpace(url) == "" {
			return fmt.Errorf("batch-video-generation: image url %d is empty", i)
		}
	}
	switch c.Mode {
	case ModeMotionControl, ModeSubtleAnimation:
	default:
		return fmt.Errorf("batch-video-generation: unknown mode %q", c.Mode)
	}
	return nil
}

// TextOverlayConfig renders styled text onto the video.
type TextOverlayConfig struct {
	Text         string  `json:"text"`
	Position     string  `json:"position,omitempty"`
	FontSize     int     `json:"fontSize,omitempty"`
	FontColor    string  `json:"fontColor,omitempty"`
	BoxColor     string  `json:"boxColor,omitempty"`
	BoxOpacity   float64 `json:"boxOpacity,omitempty"`
	StartSeconds float64 `json:"startSeconds,omitempty"`
	EndSeconds   float64 `json:"endSeconds,omitempty"`
}

func (c TextOverlayConfig) validate() error {
	if strings.TrimSpace(c.Text) == "" {
		return fmt.Errorf("text-overlay: text required")
	}
	if c.EndSeconds != 0 && c.EndSeconds < c.StartSeconds {
		return fmt.Errorf("text-overlay: end %.1fs before start %.1fs", c.EndSeconds, c.StartSeconds)
	}
	return nil
}

// BgMusicConfig mixes an audio track into the video.
type BgMusicConfig struct {
	TrackURL       string  `json:"trackUrl"`
	Volume         float64 `json:"volume,omitempty"`
	FadeInSeconds  float64 `json:"fadeInSeconds,omitempty"`
	FadeOutSeconds float64 `json:"fadeOutSeconds,omitempty"`
}

func (c BgMusicConfig) validate() error {
	if strings.TrimSpace(c.TrackURL) == "" {
		return fmt.Errorf("bg-music: track url required")
	}
	if c.Volume < 0 || c.Volume > 1 {
		return fmt.Errorf("bg-music: volume %.2f outside [0,1]", c.Volume)
	}
	return nil
}

// AttachVideoConfig concatenates a secondary clip before or after the chain output.
type AttachVideoConfig struct {
	VideoURL string         `json:"videoUrl"`
	Position AttachPosition `json:"position"`
}

func (c AttachVideoConfig) validate() error {
	if strings.TrimSpace(c.VideoURL) == "" {
		return fmt.Errorf("attach-video: video url required")
	}
	switch c.Position {
	case AttachBefore, AttachAfter:
	default:
		return fmt.Errorf("attach-video: unknown position %q", c.Position)
	}
	return nil
}

// VideoGeneration decodes the step config as a VideoGenerationConfig.
func (s Step) VideoGeneration() (VideoGenerationConfig, error) {
	var cfg VideoGenerationConfig
	if err := decodeConfig(s, StepVideoGeneration, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// BatchVideoGeneration decodes the step config as a BatchVideoGenerationConfig.
func (s Step) BatchVideoGeneration() (BatchVideoGenerationConfig, error) {
	var cfg BatchVideoGenerationConfig
	if err := decodeConfig(s, StepBatchVideoGeneration, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TextOverlay decodes the step config as a TextOverlayConfig.
func (s Step) TextOverlay() (TextOverlayConfig, error) {
	var cfg TextOverlayConfig
	if err := decodeConfig(s, StepTextOverlay, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// BgMusic decodes the step config as a BgMusicConfig.
func (s Step) BgMusic() (BgMusicConfig, error) {
	var cfg BgMusicConfig
	if err := decodeConfig(s, StepBgMusic, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// AttachVideo decodes the step config as an AttachVideoConfig.
func (s Step) AttachVideo() (AttachVideoConfig, error) {
	var cfg AttachVideoConfig
	if err := decodeConfig(s, StepAttachVideo, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decodeConfig(s Step, expected StepType, out any) error {
	if s.Type != expected {
		return fmt.Errorf("step %s: config requested as %s but step is %s", s.ID, expected, s.Type)
	}
	if len(s.Config) == 0 {
		return fmt.Errorf("step %s: missing %s config", s.ID, expected)
	}
	if err := json.Unmarshal(s.Config, out); err != nil {
		return fmt.Errorf("step %s: decode %s config: %w", s.ID, expected, err)
	}
	return nil
}

// ValidateStep checks the step's tag and decodes its config, exhaustively
// over the closed set of variants.
func ValidateStep(s Step) error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("step id required")
	}
	switch s.Type {
	case StepVideoGeneration:
		cfg, err := s.VideoGeneration()
		if err != nil {
			return err
		}
		return cfg.validate()
	case StepBatchVideoGeneration:
		cfg, err := s.BatchVideoGeneration()
		if err != nil {
			return err
		}
		return cfg.validate()
	case StepTextOverlay:
		cfg, err := s.TextOverlay()
		if err != nil {
			return err
		}
		return cfg.validate()
	case StepBgMusic:
		cfg, err := s.BgMusic()
		if err != nil {
			return err
		}
		return cfg.validate()
	case StepAttachVideo:
		cfg, err := s.AttachVideo()
		if err != nil {
			return err
		}
		return cfg.validate()
	default:
		return fmt.Errorf("step %s: unknown type %q", s.ID, s.Type)
	}
}
