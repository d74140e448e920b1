package search

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/NethermindEth/juno/core/felt"

	"github.com/ConsumrBuzzy/stark-account-recovery/internal/derive"
	"github.com/ConsumrBuzzy/stark-account-recovery/pkg/candidate"
	"github.com/ConsumrBuzzy/stark-account-recovery/pkg/types"
)

func f(v uint64) *felt.Felt {
	return new(felt.Felt).SetUint64(v)
}

func mustSpace(t *testing.T, spec candidate.Spec) *candidate.Space {
	t.Helper()
	space, err := candidate.NewSpace(spec)
	if err != nil {
		t.Fatalf("NewSpace: %v", err)
	}
	return space
}

func TestSearchFindsFirstCandidate(t *testing.T) {
	pk := f(0x1234)
	classHash := f(0xABC)
	target := derive.AccountAddress(classHash, f(0), []*felt.Felt{pk})

	space := mustSpace(t, candidate.Spec{
		ClassHashes: []*felt.Felt{classHash},
		SaltValues:  []*felt.Felt{f(0), f(1), f(2)},
		Patterns:    []types.Pattern{{types.Hole(types.PublicKeyPlaceholder)}},
		PublicKey:   pk,
	})

	engine := NewEngine(space, target, Options{Workers: 1})
	outcome, err := engine.Search(context.Background())
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !outcome.Found {
		t.Fatal("expected Found")
	}
	if outcome.Tried != 1 {
		t.Errorf("Tried = %d, want exactly 1", outcome.Tried)
	}
	r := outcome.Recipe
	if !r.ClassHash.Equal(classHash) || !r.Salt.Equal(f(0)) {
		t.Errorf("recipe = (%s, %s), want (0xabc, 0)", r.ClassHash, r.Salt)
	}
	if len(r.Calldata) != 1 || !r.Calldata[0].Equal(pk) {
		t.Errorf("recipe calldata = %v, want [pk]", r.Calldata)
	}
	if !r.TargetAddress.Equal(target) {
		t.Errorf("recipe target = %s, want %s", r.TargetAddress, target)
	}
}

func TestSearchFindsMidSpaceMatch(t *testing.T) {
	pk := f(0xFEED)
	wrongHash := f(0x111)
	rightHash := f(0x222)
	target := derive.AccountAddress(rightHash, f(5), []*felt.Felt{pk, f(0)})

	space := mustSpace(t, candidate.Spec{
		ClassHashes: []*felt.Felt{wrongHash, rightHash},
		SaltRange:   8,
		Patterns: []types.Pattern{
			{types.Hole(types.PublicKeyPlaceholder)},
			{types.Hole(types.PublicKeyPlaceholder), types.Lit(f(0))},
		},
		PublicKey: pk,
	})

	for _, workers := range []int{1, 4} {
		engine := NewEngine(space, target, Options{Workers: workers})
		outcome, err := engine.Search(context.Background())
		if err != nil {
			t.Fatalf("Search(workers=%d): %v", workers, err)
		}
		if !outcome.Found {
			t.Fatalf("Search(workers=%d): expected Found", workers)
		}
		r := outcome.Recipe
		if !r.ClassHash.Equal(rightHash) || !r.Salt.Equal(f(5)) || len(r.Calldata) != 2 {
			t.Errorf("workers=%d: recipe = (%s, %s, %d args)", workers, r.ClassHash, r.Salt, len(r.Calldata))
		}
	}
}

func TestSearchExhaustion(t *testing.T) {
	// A target no candidate can derive: the space never includes it.
	target := f(0xDEAD)
	space := mustSpace(t, candidate.Spec{
		ClassHashes: []*felt.Felt{f(1), f(2), f(3)},
		SaltRange:   4,
		Patterns:    []types.Pattern{{}, {types.Lit(f(9))}},
	})

	engine := NewEngine(space, target, Options{Workers: 2})
	outcome, err := engine.Search(context.Background())
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if outcome.Found {
		t.Fatal("unexpected match")
	}
	if want := space.Size(); outcome.Tried != want {
		t.Errorf("Tried = %d, want full space %d", outcome.Tried, want)
	}
}

func TestParallelFirstMatchIsSmallestIndex(t *testing.T) {
	// The same class hash listed twice makes the match occur at two global
	// indices; the engine must report the smaller regardless of which worker
	// gets there first.
	pk := f(0x42)
	classHash := f(0xCAFE)
	target := derive.AccountAddress(classHash, f(3), []*felt.Felt{pk})

	space := mustSpace(t, candidate.Spec{
		ClassHashes: []*felt.Felt{classHash, classHash},
		SaltRange:   5,
		Patterns:    []types.Pattern{{types.Hole(types.PublicKeyPlaceholder)}},
		PublicKey:   pk,
	})

	for run := 0; run < 5; run++ {
		engine := NewEngine(space, target, Options{Workers: 4})
		outcome, err := engine.Search(context.Background())
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if !outcome.Found {
			t.Fatal("expected Found")
		}
		if got := engine.bestIdx.Load(); got != 3 {
			t.Fatalf("run %d: matched at index %d, want smallest index 3", run, got)
		}
	}
}

func TestSearchPersistsRecipe(t *testing.T) {
	pk := f(0x99)
	classHash := f(0x777)
	target := derive.AccountAddress(classHash, f(1), []*felt.Felt{pk})

	space := mustSpace(t, candidate.Spec{
		ClassHashes: []*felt.Felt{classHash},
		SaltRange:   3,
		Patterns:    []types.Pattern{{types.Hole(types.PublicKeyPlaceholder)}},
		PublicKey:   pk,
	})

	out := filepath.Join(t.TempDir(), "recipe.txt")
	engine := NewEngine(space, target, Options{Workers: 1, OutFile: out})
	outcome, err := engine.Search(context.Background())
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !outcome.Found {
		t.Fatal("expected Found")
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("recipe not persisted: %v", err)
	}
	loaded, err := types.LoadRecipe(out)
	if err != nil {
		t.Fatalf("LoadRecipe: %v", err)
	}
	if !loaded.ClassHash.Equal(classHash) || !loaded.Salt.Equal(f(1)) ||
		!loaded.TargetAddress.Equal(target) {
		t.Errorf("persisted recipe does not round-trip: %+v", loaded)
	}
}

func TestSearchCancellation(t *testing.T) {
	// Space big enough that cancellation lands mid-enumeration.
	space := mustSpace(t, candidate.Spec{
		ClassHashes: []*felt.Felt{f(1)},
		SaltRange:   5_000_000,
		Patterns:    []types.Pattern{{types.Hole(types.SaltPlaceholder)}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	engine := NewEngine(space, f(0xDEAD), Options{Workers: 2})
	outcome, err := engine.Search(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Search error = %v, want context.Canceled", err)
	}
	if outcome.Found {
		t.Error("cancelled search reported a match")
	}
	if outcome.Tried >= space.Size() {
		t.Error("cancelled search enumerated the full space")
	}
}
