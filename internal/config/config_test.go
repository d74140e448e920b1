package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ConsumrBuzzy/stark-account-recovery/internal/derive"
	"github.com/ConsumrBuzzy/stark-account-recovery/pkg/types"
)

func baseConfig() *Config {
	cfg := NewConfig()
	cfg.Target = "0x123"
	cfg.ClassHashes = "0xabc"
	cfg.SaltRange = 10
	cfg.Patterns = []string{"pubkey"}
	cfg.PublicKey = "0x456"
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"valid", func(c *Config) {}, nil},
		{"no target", func(c *Config) { c.Target = "" }, ErrNoTarget},
		{"no class hashes", func(c *Config) { c.ClassHashes = "" }, ErrNoClassHashes},
		{"no salt spec", func(c *Config) { c.SaltRange = 0 }, ErrNoSaltSpec},
		{"both salt specs", func(c *Config) { c.Salts = "0x1" }, ErrNoSaltSpec},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	cfg := baseConfig()
	cfg.Salts = "0x5, pubkey"
	cfg.SaltRange = 0
	cfg.Patterns = []string{"pubkey,0x0", "salt", "none"}
	cfg.RPCURLs = "https://a.example, https://b.example"

	r, err := cfg.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if r.Target.String() != "0x123" {
		t.Errorf("target = %s", r.Target)
	}

	// pubkey sentinel in the salt list is substituted eagerly
	if len(r.Spec.SaltValues) != 2 || !r.Spec.SaltValues[1].Equal(r.PublicKey) {
		t.Errorf("salt sentinel not substituted: %v", r.Spec.SaltValues)
	}

	if len(r.Spec.Patterns) != 3 {
		t.Fatalf("patterns = %d, want 3", len(r.Spec.Patterns))
	}
	p0 := r.Spec.Patterns[0]
	if len(p0) != 2 || p0[0].Placeholder != types.PublicKeyPlaceholder || p0[1].Literal == nil {
		t.Errorf("pattern 0 parsed wrong: %+v", p0)
	}
	p1 := r.Spec.Patterns[1]
	if len(p1) != 1 || p1[0].Placeholder != types.SaltPlaceholder {
		t.Errorf("pattern 1 parsed wrong: %+v", p1)
	}
	if len(r.Spec.Patterns[2]) != 0 {
		t.Errorf("pattern 2 should be empty calldata: %+v", r.Spec.Patterns[2])
	}

	if len(r.RPCURLs) != 2 || r.RPCURLs[0] != "https://a.example" {
		t.Errorf("rpc urls = %v", r.RPCURLs)
	}
}

func TestResolveRequiresPublicKeyForPlaceholders(t *testing.T) {
	cfg := baseConfig()
	cfg.PublicKey = ""
	if _, err := cfg.Resolve(); !errors.Is(err, ErrNoPublicKey) {
		t.Errorf("Resolve() = %v, want ErrNoPublicKey", err)
	}

	// Literal-only patterns do not need a key.
	cfg.Patterns = []string{"0x1,0x2"}
	if _, err := cfg.Resolve(); err != nil {
		t.Errorf("Resolve() with literal pattern: %v", err)
	}
}

func TestResolveRejectsBadFieldElements(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad target", func(c *Config) { c.Target = "zzz" }},
		{"bad class hash", func(c *Config) { c.ClassHashes = "0xnope" }},
		{"bad pattern literal", func(c *Config) { c.Patterns = []string{"0x1,bogus"} }},
		{"bad salt", func(c *Config) { c.SaltRange = 0; c.Salts = "bogus" }},
		{"oversized target", func(c *Config) {
			c.Target = "0x800000000000011000000000000000000000000000000000000000000000001"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(cfg)
			if _, err := cfg.Resolve(); !errors.Is(err, derive.ErrInvalidFieldElement) {
				t.Errorf("Resolve() = %v, want ErrInvalidFieldElement", err)
			}
		})
	}
}

func TestClassHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hashes.txt")
	content := "# known account implementations\n0x111\n\n0x222 # braavos\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := baseConfig()
	cfg.ClassHashes = ""
	cfg.ClassHashFile = path
	r, err := cfg.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(r.Spec.ClassHashes) != 2 {
		t.Fatalf("class hashes = %d, want 2", len(r.Spec.ClassHashes))
	}
	if r.Spec.ClassHashes[0].String() != "0x111" || r.Spec.ClassHashes[1].String() != "0x222" {
		t.Errorf("class hashes = %v", r.Spec.ClassHashes)
	}
}
