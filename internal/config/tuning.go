package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TuningConfig is the host-facing configuration surface for the pipeline.
// All fields are pointers so a partial JSON file only overrides what it
// names; the Get* accessors supply defaults for everything else. The same
// schema is accepted at startup and on reload.
type TuningConfig struct {
	// Motion detector params
	MotionPixelDelta         *float64 `json:"motion_pixel_delta,omitempty"`   // 0-255 per-pixel change threshold
	MotionAreaFraction       *float64 `json:"motion_area_fraction,omitempty"` // fraction of frame area
	BackgroundLearningFrames *int     `json:"background_learning_frames,omitempty"`
	BackgroundUpdateFraction *float64 `json:"background_update_fraction,omitempty"`
	PostSettleUpdateFraction *float64 `json:"post_settle_update_fraction,omitempty"`
	MotionUpdateWeight       *float64 `json:"motion_update_weight,omitempty"`
	AbsorbAfterFrames        *int     `json:"absorb_after_frames,omitempty"`

	// Pipeline params
	FrameSamplingRate *int    `json:"frame_sampling_rate,omitempty"`
	SuppressionWindow *string `json:"suppression_window,omitempty"` // duration string like "30s"
	QueueCapacity     *int    `json:"queue_capacity,omitempty"`

	// Collaborator and shutdown params
	CollaboratorTimeout *string `json:"collaborator_timeout,omitempty"` // duration string like "10s"
	ShutdownDeadline    *string `json:"shutdown_deadline,omitempty"`

	// Capture params
	MaxConnectAttempts *int    `json:"max_connect_attempts,omitempty"` // 0 = retry forever
	ReconnectBaseDelay *string `json:"reconnect_base_delay,omitempty"`
	ReconnectMaxDelay  *string `json:"reconnect_max_delay,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields unset; the Get*
// accessors then return defaults for every parameter.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. Fields omitted
// from the file retain their defaults, so partial configs are safe. The
// config is validated before it is returned: the pipeline never starts on
// an invalid configuration.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that every set field carries a usable value.
func (c *TuningConfig) Validate() error {
	if c.MotionPixelDelta != nil {
		if *c.MotionPixelDelta <= 0 || *c.MotionPixelDelta > 255 {
			return fmt.Errorf("motion_pixel_delta must be in (0,255], got %f", *c.MotionPixelDelta)
		}
	}
	if c.MotionAreaFraction != nil {
		if *c.MotionAreaFraction <= 0 || *c.MotionAreaFraction >= 1 {
			return fmt.Errorf("motion_area_fraction must be in (0,1), got %f", *c.MotionAreaFraction)
		}
	}
	if c.BackgroundLearningFrames != nil && *c.BackgroundLearningFrames < 1 {
		return fmt.Errorf("background_learning_frames must be >= 1, got %d", *c.BackgroundLearningFrames)
	}
	if c.BackgroundUpdateFraction != nil {
		if *c.BackgroundUpdateFraction <= 0 || *c.BackgroundUpdateFraction > 1 {
			return fmt.Errorf("background_update_fraction must be in (0,1], got %f", *c.BackgroundUpdateFraction)
		}
	}
	if c.PostSettleUpdateFraction != nil {
		if *c.PostSettleUpdateFraction <= 0 || *c.PostSettleUpdateFraction > 1 {
			return fmt.Errorf("post_settle_update_fraction must be in (0,1], got %f", *c.PostSettleUpdateFraction)
		}
	}
	if c.MotionUpdateWeight != nil {
		if *c.MotionUpdateWeight <= 0 || *c.MotionUpdateWeight > 1 {
			return fmt.Errorf("motion_update_weight must be in (0,1], got %f", *c.MotionUpdateWeight)
		}
	}
	if c.AbsorbAfterFrames != nil && *c.AbsorbAfterFrames > 65535 {
		return fmt.Errorf("absorb_after_frames must be <= 65535, got %d", *c.AbsorbAfterFrames)
	}
	if c.FrameSamplingRate != nil && *c.FrameSamplingRate < 1 {
		return fmt.Errorf("frame_sampling_rate must be >= 1, got %d", *c.FrameSamplingRate)
	}
	if c.QueueCapacity != nil && *c.QueueCapacity < 1 {
		return fmt.Errorf("queue_capacity must be >= 1, got %d", *c.QueueCapacity)
	}
	if c.MaxConnectAttempts != nil && *c.MaxConnectAttempts < 0 {
		return fmt.Errorf("max_connect_attempts must be >= 0, got %d", *c.MaxConnectAttempts)
	}
	for name, v := range map[string]*string{
		"suppression_window":   c.SuppressionWindow,
		"collaborator_timeout": c.CollaboratorTimeout,
		"shutdown_deadline":    c.ShutdownDeadline,
		"reconnect_base_delay": c.ReconnectBaseDelay,
		"reconnect_max_delay":  c.ReconnectMaxDelay,
	} {
		if v != nil && *v != "" {
			d, err := time.ParseDuration(*v)
			if err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
			}
			if d <= 0 {
				return fmt.Errorf("%s must be positive, got %s", name, *v)
			}
		}
	}
	return nil
}

func (c *TuningConfig) duration(v *string, fallback time.Duration) time.Duration {
	if v == nil || *v == "" {
		return fallback
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fallback
	}
	return d
}

// GetMotionPixelDelta returns the motion_pixel_delta value or the default.
func (c *TuningConfig) GetMotionPixelDelta() float64 {
	if c.MotionPixelDelta == nil {
		return 25.0
	}
	return *c.MotionPixelDelta
}

// GetMotionAreaFraction returns the motion_area_fraction value or the default.
func (c *TuningConfig) GetMotionAreaFraction() float64 {
	if c.MotionAreaFraction == nil {
		return 0.02
	}
	return *c.MotionAreaFraction
}

// GetBackgroundLearningFrames returns the background_learning_frames value or the default.
func (c *TuningConfig) GetBackgroundLearningFrames() int {
	if c.BackgroundLearningFrames == nil {
		return 100
	}
	return *c.BackgroundLearningFrames
}

// GetBackgroundUpdateFraction returns the background_update_fraction value or the default.
func (c *TuningConfig) GetBackgroundUpdateFraction() float64 {
	if c.BackgroundUpdateFraction == nil {
		return 0.1
	}
	return *c.BackgroundUpdateFraction
}

// GetPostSettleUpdateFraction returns the post_settle_update_fraction value or the default.
func (c *TuningConfig) GetPostSettleUpdateFraction() float64 {
	if c.PostSettleUpdateFraction == nil {
		return 0.02
	}
	return *c.PostSettleUpdateFraction
}

// GetMotionUpdateWeight returns the motion_update_weight value or the default.
func (c *TuningConfig) GetMotionUpdateWeight() float64 {
	if c.MotionUpdateWeight == nil {
		return 0.1
	}
	return *c.MotionUpdateWeight
}

// GetAbsorbAfterFrames returns the absorb_after_frames value or the default.
func (c *TuningConfig) GetAbsorbAfterFrames() int {
	if c.AbsorbAfterFrames == nil {
		return 60
	}
	return *c.AbsorbAfterFrames
}

// GetFrameSamplingRate returns the frame_sampling_rate value or the default.
func (c *TuningConfig) GetFrameSamplingRate() int {
	if c.FrameSamplingRate == nil {
		return 10
	}
	return *c.FrameSamplingRate
}

// GetSuppressionWindow parses and returns the suppression window duration.
func (c *TuningConfig) GetSuppressionWindow() time.Duration {
	return c.duration(c.SuppressionWindow, 30*time.Second)
}

// GetQueueCapacity returns the queue_capacity value or the default.
func (c *TuningConfig) GetQueueCapacity() int {
	if c.QueueCapacity == nil {
		return 100
	}
	return *c.QueueCapacity
}

// GetCollaboratorTimeout parses and returns the collaborator call timeout.
func (c *TuningConfig) GetCollaboratorTimeout() time.Duration {
	return c.duration(c.CollaboratorTimeout, 10*time.Second)
}

// GetShutdownDeadline parses and returns the shutdown deadline.
func (c *TuningConfig) GetShutdownDeadline() time.Duration {
	return c.duration(c.ShutdownDeadline, 10*time.Second)
}

// GetMaxConnectAttempts returns the max_connect_attempts value or the
// default of 0 (retry forever).
func (c *TuningConfig) GetMaxConnectAttempts() int {
	if c.MaxConnectAttempts == nil {
		return 0
	}
	return *c.MaxConnectAttempts
}

// GetReconnectBaseDelay parses and returns the first reconnect delay.
func (c *TuningConfig) GetReconnectBaseDelay() time.Duration {
	return c.duration(c.ReconnectBaseDelay, 1*time.Second)
}

// GetReconnectMaxDelay parses and returns the reconnect delay cap.
func (c *TuningConfig) GetReconnectMaxDelay() time.Duration {
	return c.duration(c.ReconnectMaxDelay, 60*time.Second)
}
