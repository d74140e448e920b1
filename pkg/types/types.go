package types

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/NethermindEth/juno/core/felt"
)

// Placeholder marks a pattern slot that is filled in at enumeration time.
// PublicKeyPlaceholder and SaltPlaceholder are deliberately distinct kinds so
// a template states exactly which value it wants substituted.
type Placeholder int

const (
	NoPlaceholder Placeholder = iota
	PublicKeyPlaceholder
	SaltPlaceholder
)

// PatternElement is one slot of a constructor-calldata template: either a
// literal field element or a placeholder.
type PatternElement struct {
	Literal     *felt.Felt
	Placeholder Placeholder
}

// Lit wraps a literal field element as a pattern slot.
func Lit(f *felt.Felt) PatternElement {
	return PatternElement{Literal: f}
}

// Hole creates a placeholder pattern slot.
func Hole(p Placeholder) PatternElement {
	return PatternElement{Placeholder: p}
}

// Pattern is an ordered constructor-calldata template. Empty is legal
// (accounts with no constructor arguments).
type Pattern []PatternElement

// Candidate is a fully resolved parameter set together with its global
// enumeration index. Ephemeral: created, hashed, discarded.
type Candidate struct {
	Index     uint64
	ClassHash *felt.Felt
	Salt      *felt.Felt
	Calldata  []*felt.Felt
}

// Recipe is the discovered parameter set for a counterfactual account,
// persisted for deployment tooling. Write-once.
type Recipe struct {
	ClassHash     *felt.Felt
	Salt          *felt.Felt
	Calldata      []*felt.Felt
	TargetAddress *felt.Felt
}

// Outcome is the result of a completed search.
type Outcome struct {
	Found    bool
	Recipe   *Recipe
	Tried    uint64
	Duration time.Duration
}

// recipe file keys
const (
	keyClassHash = "class_hash"
	keySalt      = "salt"
	keyCalldata  = "constructor_calldata"
	keyTarget    = "target_address"
)

// String renders the recipe in its on-disk key=value form.
func (r *Recipe) String() string {
	calldata := make([]string, len(r.Calldata))
	for i, c := range r.Calldata {
		calldata[i] = c.String()
	}
	return fmt.Sprintf("%s=%s\n%s=%s\n%s=%s\n%s=%s\n",
		keyClassHash, r.ClassHash.String(),
		keySalt, r.Salt.String(),
		keyCalldata, strings.Join(calldata, ","),
		keyTarget, r.TargetAddress.String())
}

// WriteFile persists the recipe as key=value lines. Refuses to overwrite an
// existing file: a recipe is write-once.
func (r *Recipe) WriteFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("persist recipe: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(r.String()); err != nil {
		return fmt.Errorf("persist recipe: %w", err)
	}
	return f.Sync()
}

// LoadRecipe reads a recipe previously written by WriteFile, so deployment
// tooling can consume the artifact without re-running the search.
func LoadRecipe(path string) (*Recipe, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	r := &Recipe{}
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("recipe line %q: missing '='", line)
		}
		switch key {
		case keyClassHash:
			if r.ClassHash, err = new(felt.Felt).SetString(val); err != nil {
				return nil, fmt.Errorf("recipe %s: %w", key, err)
			}
		case keySalt:
			if r.Salt, err = new(felt.Felt).SetString(val); err != nil {
				return nil, fmt.Errorf("recipe %s: %w", key, err)
			}
		case keyTarget:
			if r.TargetAddress, err = new(felt.Felt).SetString(val); err != nil {
				return nil, fmt.Errorf("recipe %s: %w", key, err)
			}
		case keyCalldata:
			r.Calldata = nil
			if val == "" {
				continue
			}
			for _, part := range strings.Split(val, ",") {
				elem, err := new(felt.Felt).SetString(strings.TrimSpace(part))
				if err != nil {
					return nil, fmt.Errorf("recipe %s element %q: %w", key, part, err)
				}
				r.Calldata = append(r.Calldata, elem)
			}
		default:
			return nil, fmt.Errorf("recipe: unknown key %q", key)
		}
	}
	if r.ClassHash == nil || r.Salt == nil || r.TargetAddress == nil {
		return nil, fmt.Errorf("recipe %s: incomplete record", path)
	}
	return r, nil
}
