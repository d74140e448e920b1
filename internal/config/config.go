package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/NethermindEth/juno/core/felt"

	"github.com/ConsumrBuzzy/stark-account-recovery/internal/derive"
	"github.com/ConsumrBuzzy/stark-account-recovery/pkg/candidate"
	"github.com/ConsumrBuzzy/stark-account-recovery/pkg/types"
)

// Errors
var (
	ErrNoTarget      = errors.New("must specify --target")
	ErrNoClassHashes = errors.New("must specify either --class-hashes or --class-hash-file")
	ErrNoSaltSpec    = errors.New("must specify exactly one of --salts or --salt-range")
	ErrNoPublicKey   = errors.New("--public-key is required when a salt or pattern uses the pubkey placeholder")
)

// pattern/salt tokens with placeholder meaning
const (
	tokenPublicKey = "pubkey"
	tokenSalt      = "salt"
)

// Config holds the application configuration as supplied at the boundary.
// The search core only ever sees the Resolved form; nothing below this
// package reads ambient environment state.
type Config struct {
	Workers       int
	Target        string
	PublicKey     string
	ClassHashes   string // comma-separated class hash list
	ClassHashFile string // file with one class hash per line, '#' comments
	Salts         string // comma-separated salt values, or the pubkey token
	SaltRange     uint64 // enumerate salts [0, SaltRange)
	Patterns      []string
	RPCURLs       string // comma-separated node URLs, optional
	OutFile       string
	Verbose       bool
	LogFile       string
	LogInterval   int // seconds
	SkipVerify    bool
}

// NewConfig creates a new configuration with default values.
func NewConfig() *Config {
	return &Config{
		Workers:     runtime.NumCPU(),
		LogInterval: 5,
		OutFile:     "recovery_recipe.txt",
	}
}

// Validate checks the raw configuration before any parsing work.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Target) == "" {
		return ErrNoTarget
	}
	if c.ClassHashes == "" && c.ClassHashFile == "" {
		return ErrNoClassHashes
	}
	if (c.Salts == "") == (c.SaltRange == 0) {
		return ErrNoSaltSpec
	}
	if len(c.Patterns) == 0 {
		return errors.New("must specify at least one --calldata pattern")
	}
	return nil
}

// Resolved is the fully parsed, immutable view of a Config that the search
// core consumes.
type Resolved struct {
	Target    *felt.Felt
	PublicKey *felt.Felt
	Spec      candidate.Spec
	RPCURLs   []string
	OutFile   string
}

// Resolve parses every field-element input. The pubkey sentinel in the salt
// list is substituted eagerly here; calldata placeholders stay symbolic and
// are filled per candidate. Malformed values surface as
// derive.ErrInvalidFieldElement; a malformed target is fatal for the whole
// search, which is why Resolve runs before any enumeration.
func (c *Config) Resolve() (*Resolved, error) {
	target, err := derive.ParseFelt(c.Target)
	if err != nil {
		return nil, fmt.Errorf("target address: %w", err)
	}

	var publicKey *felt.Felt
	if strings.TrimSpace(c.PublicKey) != "" {
		if publicKey, err = derive.ParseFelt(c.PublicKey); err != nil {
			return nil, fmt.Errorf("public key: %w", err)
		}
	}

	hashes, err := c.classHashes()
	if err != nil {
		return nil, err
	}

	patterns := make([]types.Pattern, 0, len(c.Patterns))
	needsKey := false
	for _, raw := range c.Patterns {
		p, usesKey, err := parsePattern(raw)
		if err != nil {
			return nil, err
		}
		needsKey = needsKey || usesKey
		patterns = append(patterns, p)
	}

	var saltValues []*felt.Felt
	if c.Salts != "" {
		for _, tok := range splitCSV(c.Salts) {
			if tok == tokenPublicKey {
				needsKey = true
				saltValues = append(saltValues, publicKey)
				continue
			}
			s, err := derive.ParseFelt(tok)
			if err != nil {
				return nil, fmt.Errorf("salt: %w", err)
			}
			saltValues = append(saltValues, s)
		}
	}

	if needsKey && publicKey == nil {
		return nil, ErrNoPublicKey
	}

	return &Resolved{
		Target:    target,
		PublicKey: publicKey,
		Spec: candidate.Spec{
			ClassHashes: hashes,
			SaltValues:  saltValues,
			SaltRange:   c.SaltRange,
			Patterns:    patterns,
			PublicKey:   publicKey,
		},
		RPCURLs: splitCSV(c.RPCURLs),
		OutFile: c.OutFile,
	}, nil
}

// classHashes returns the curated class hash list, from the file when one is
// given, otherwise inline.
func (c *Config) classHashes() ([]*felt.Felt, error) {
	if c.ClassHashFile != "" {
		return readClassHashFile(c.ClassHashFile)
	}
	var out []*felt.Felt
	for _, tok := range splitCSV(c.ClassHashes) {
		h, err := derive.ParseFelt(tok)
		if err != nil {
			return nil, fmt.Errorf("class hash: %w", err)
		}
		out = append(out, h)
	}
	if len(out) == 0 {
		return nil, ErrNoClassHashes
	}
	return out, nil
}

// readClassHashFile reads one class hash per line; blank lines and '#'
// comments are skipped so curated lists can be annotated.
func readClassHashFile(filename string) ([]*felt.Felt, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	var out []*felt.Felt
	for _, line := range strings.Split(string(content), "\n") {
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		h, err := derive.ParseFelt(line)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
		out = append(out, h)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: no class hashes", filename)
	}
	return out, nil
}

// parsePattern parses one calldata template: comma-separated field elements
// with the tokens "pubkey" and "salt" as distinct placeholders. "none" (or
// an empty string) is the empty calldata template.
func parsePattern(raw string) (types.Pattern, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "none" {
		return types.Pattern{}, false, nil
	}
	var p types.Pattern
	usesKey := false
	for _, tok := range splitCSV(raw) {
		switch tok {
		case tokenPublicKey:
			usesKey = true
			p = append(p, types.Hole(types.PublicKeyPlaceholder))
		case tokenSalt:
			p = append(p, types.Hole(types.SaltPlaceholder))
		default:
			f, err := derive.ParseFelt(tok)
			if err != nil {
				return nil, false, fmt.Errorf("pattern %q: %w", raw, err)
			}
			p = append(p, types.Lit(f))
		}
	}
	return p, usesKey, nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
