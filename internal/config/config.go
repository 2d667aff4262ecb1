package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/menta2k/image-redactor/pkg/types"
)

// Config holds the application configuration
type Config struct {
	Detection DetectionConfig `json:"detection"`
	Vision    VisionConfig    `json:"vision"`
	Editor    EditorConfig    `json:"editor"`
	Output    OutputConfig    `json:"output"`
}

// DetectionConfig selects and tunes the region detector
type DetectionConfig struct {
	// Backend is ollama, llamacpp or saliency
	Backend       string   `json:"backend"`
	// URL of the model server; empty uses the backend's default
	URL           string   `json:"url"`
	Model         string   `json:"model"`
	Confidence    float64  `json:"confidence"`
	TargetClasses []string `json:"target_classes"`
	SendFormat    string   `json:"send_format"`
	SendSize      int      `json:"send_size"`
	SendQuality   int      `json:"send_quality"`
}

// VisionConfig holds configuration for the offline saliency backend
type VisionConfig struct {
	EdgeThreshold   float64 `json:"edge_threshold"`
	ContrastWeight  float64 `json:"contrast_weight"`
	ColorWeight     float64 `json:"color_weight"`
	MinSubjectRatio float64 `json:"min_subject_ratio"`
	MaxRegions      int     `json:"max_regions"`
}

// EditorConfig holds the initial tool settings
type EditorConfig struct {
	Style           string  `json:"style"`
	BlockSize       int     `json:"block_size"`
	BrushRadius     int     `json:"brush_radius"`
	PenColor        string  `json:"pen_color"`
	PenOpacity      float64 `json:"pen_opacity"`
	HistoryCapacity int     `json:"history_capacity"`
	LosslessHistory bool    `json:"lossless_history"`
}

// OutputConfig holds configuration for output generation
type OutputConfig struct {
	Dir      string `json:"dir"`
	Format   string `json:"format"`
	Quality  int    `json:"quality"`
	Metadata string `json:"metadata"`
	Suffix   string `json:"suffix"`
}

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Detection: DetectionConfig{
			Backend:       "ollama",
			Confidence:    0.5,
			TargetClasses: append([]string(nil), types.DefaultClasses...),
			SendFormat:    "jpg",
			SendSize:      1024,
			SendQuality:   90,
		},
		Vision: VisionConfig{
			EdgeThreshold:   0.01,
			ContrastWeight:  0.3,
			ColorWeight:     0.2,
			MinSubjectRatio: 0.05,
			MaxRegions:      10,
		},
		Editor: EditorConfig{
			Style:           string(types.StyleMosaic),
			BlockSize:       16,
			BrushRadius:     20,
			PenColor:        "#ff0000",
			PenOpacity:      1,
			HistoryCapacity: 20,
		},
		Output: OutputConfig{
			Dir:      "./output",
			Format:   "png",
			Quality:  95,
			Metadata: string(types.MetadataKeep),
			Suffix:   "_censored",
		},
	}
}

// LoadFromFile loads configuration from a JSON file. Fields missing from the
// file keep their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Detection.Backend {
	case "ollama", "llamacpp":
		if strings.TrimSpace(c.Detection.Model) == "" {
			return fmt.Errorf("detection.model is required for the %s backend", c.Detection.Backend)
		}
	case "saliency":
	default:
		return fmt.Errorf("detection.backend must be ollama, llamacpp or saliency")
	}

	if c.Detection.Confidence < 0 || c.Detection.Confidence > 1 {
		return fmt.Errorf("detection.confidence must be between 0 and 1")
	}

	if f := strings.ToLower(c.Detection.SendFormat); f != "jpg" && f != "png" {
		return fmt.Errorf("detection.send_format must be jpg or png")
	}

	if c.Detection.SendQuality < 1 || c.Detection.SendQuality > 100 {
		return fmt.Errorf("detection.send_quality must be between 1 and 100")
	}

	if c.Vision.EdgeThreshold < 0 || c.Vision.EdgeThreshold > 1 {
		return fmt.Errorf("vision.edge_threshold must be between 0 and 1")
	}

	if c.Vision.MinSubjectRatio < 0 || c.Vision.MinSubjectRatio > 1 {
		return fmt.Errorf("vision.min_subject_ratio must be between 0 and 1")
	}

	if _, ok := types.ParseStyle(c.Editor.Style); !ok {
		return fmt.Errorf("editor.style %q is not a known style", c.Editor.Style)
	}

	if c.Editor.BlockSize < 1 {
		return fmt.Errorf("editor.block_size must be positive")
	}

	if c.Editor.BrushRadius < 1 {
		return fmt.Errorf("editor.brush_radius must be positive")
	}

	if !hexColor.MatchString(c.Editor.PenColor) {
		return fmt.Errorf("editor.pen_color must look like #rrggbb")
	}

	if c.Editor.PenOpacity < 0 || c.Editor.PenOpacity > 1 {
		return fmt.Errorf("editor.pen_opacity must be between 0 and 1")
	}

	if c.Editor.HistoryCapacity < 1 {
		return fmt.Errorf("editor.history_capacity must be positive")
	}

	switch strings.ToLower(c.Output.Format) {
	case "png", "webp", "jpg", "jpeg":
	default:
		return fmt.Errorf("output.format must be png, webp or jpg")
	}

	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return fmt.Errorf("output.quality must be between 1 and 100")
	}

	if _, ok := types.ParseMetadataDirective(c.Output.Metadata); !ok {
		return fmt.Errorf("output.metadata must be keep or wash")
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "image-redactor", "config.json")
}
