package config

import (
	"testing"

	"github.com/five82/parapng/internal/imgmodel"
)

func TestDefaultIsValidOnceSized(t *testing.T) {
	cfg := Default()
	if cfg.ColorType != imgmodel.RGBA || cfg.BitDepth != 8 {
		t.Fatalf("Default() color/depth = %v/%d, want RGBA/8", cfg.ColorType, cfg.BitDepth)
	}
	cfg.Width, cfg.Height = 10, 10
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() with only size set should validate, got: %v", err)
	}
}

func TestValidate(t *testing.T) {
	base := Default()
	base.Width, base.Height = 10, 10

	if err := base.Validate(); err != nil {
		t.Fatalf("default-plus-size config should validate, got: %v", err)
	}

	tests := []struct {
		name   string
		modify func(*EncodeConfig)
	}{
		{"zero width", func(c *EncodeConfig) { c.Width = 0 }},
		{"zero height", func(c *EncodeConfig) { c.Height = 0 }},
		{"illegal color/depth", func(c *EncodeConfig) { c.BitDepth = 3 }},
		{"chunk size below one window", func(c *EncodeConfig) { c.ChunkSize = 100 }},
		{"compression level too high", func(c *EncodeConfig) { c.CompressionLevel = 10 }},
		{"compression level negative but not -1", func(c *EncodeConfig) { c.CompressionLevel = -2 }},
		{"zero workers", func(c *EncodeConfig) { c.Workers = 0 }},
		{"negative chunk buffer", func(c *EncodeConfig) { c.ChunkBuffer = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.modify(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for %s", tt.name)
			}
		})
	}
}

func TestPermits(t *testing.T) {
	cfg := Default()
	cfg.Workers = 4
	cfg.ChunkBuffer = 2
	if got := cfg.Permits(); got != 6 {
		t.Errorf("Permits() = %d, want 6", got)
	}
}

func TestDefaultCompressionLevelAcceptsMinusOne(t *testing.T) {
	cfg := Default()
	cfg.Width, cfg.Height = 1, 1
	cfg.ColorType, cfg.BitDepth = imgmodel.Grey, 8
	cfg.CompressionLevel = -1
	if err := cfg.Validate(); err != nil {
		t.Errorf("CompressionLevel=-1 should validate: %v", err)
	}
}
