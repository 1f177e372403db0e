// Package config loads server configuration from an optional YAML file
// layered over built-in defaults. CLI flags override both in the
// composition root.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr      string `yaml:"addr"`
	Token     string `yaml:"token"`
	Display   string `yaml:"display"`
	UploadDir string `yaml:"uploadDir"`
	Audio     bool   `yaml:"audio"`

	Quality QualityConfig `yaml:"quality"`
	Chat    ChatConfig    `yaml:"chat"`
}

type QualityConfig struct {
	Width       int `yaml:"width"`
	JPEGQuality int `yaml:"jpegQuality"`
	FPS         int `yaml:"fps"`

	MinWidth       int `yaml:"minWidth"`
	MaxWidth       int `yaml:"maxWidth"`
	MinJPEGQuality int `yaml:"minJpegQuality"`
	MaxJPEGQuality int `yaml:"maxJpegQuality"`
	MinFPS         int `yaml:"minFps"`
	MaxFPS         int `yaml:"maxFps"`
}

type ChatConfig struct {
	BaseURL string `yaml:"baseUrl"`
	APIKey  string `yaml:"apiKey"`
	Model   string `yaml:"model"`
}

func Default() Config {
	return Config{
		Addr:      "127.0.0.1:8080",
		UploadDir: "uploads",
		Quality: QualityConfig{
			Width:       1280,
			JPEGQuality: 70,
			FPS:         15,

			MinWidth:       480,
			MaxWidth:       1920,
			MinJPEGQuality: 20,
			MaxJPEGQuality: 90,
			MinFPS:         1,
			MaxFPS:         30,
		},
		Chat: ChatConfig{
			BaseURL: "https://api.openai.com",
			Model:   "gpt-4o-mini",
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	q := c.Quality
	for _, b := range []struct {
		name   string
		lo, hi int
	}{
		{"width", q.MinWidth, q.MaxWidth},
		{"jpegQuality", q.MinJPEGQuality, q.MaxJPEGQuality},
		{"fps", q.MinFPS, q.MaxFPS},
	} {
		if b.lo <= 0 || b.hi < b.lo {
			return fmt.Errorf("config: invalid %s bounds [%d, %d]", b.name, b.lo, b.hi)
		}
	}
	if q.MinJPEGQuality < 1 || q.MaxJPEGQuality > 100 {
		return fmt.Errorf("config: jpegQuality bounds must stay within [1, 100]")
	}
	return nil
}
