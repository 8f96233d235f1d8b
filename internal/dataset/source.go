package dataset

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrDataUnavailable is returned when a dataset or split cannot be resolved.
var ErrDataUnavailable = errors.New("data unavailable")

// Source provides the base splits of one dataset.
type Source interface {
	// Splits lists the base split names, e.g. "train" and "test".
	Splits() []string

	// Load reads a whole base split in its canonical order.
	Load(ctx context.Context, split string) ([]RawExample, error)
}

// Options configures how a source is opened.
type Options struct {
	// DataDir holds dataset files on disk (mnist).
	DataDir string `yaml:"data_dir"`

	// Examples sets the size of generated splits (synthetic).
	Examples int `yaml:"examples"`

	// Seed drives generated data (synthetic).
	Seed int64 `yaml:"seed"`
}

// Factory opens a Source.
type Factory func(opts Options) (Source, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a dataset available by name. It panics on duplicates, like
// database/sql.Register.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic("dataset: Register called twice for " + name)
	}
	registry[name] = f
}

// Names returns the registered dataset names in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Open resolves a registered dataset.
func Open(name string, opts Options) (Source, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown dataset %q (known: %v)", ErrDataUnavailable, name, Names())
	}
	src, err := f(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrDataUnavailable, name, err)
	}
	return src, nil
}

// Load resolves dataset name and split string (e.g., "train[:90%]") to a
// pipeline over the selected raw examples. Every failure wraps
// ErrDataUnavailable; there is no retry.
func Load(ctx context.Context, name, split string, opts Options) (Pipeline[RawExample], error) {
	sp, err := ParseSplit(split)
	if err != nil {
		return Pipeline[RawExample]{}, err
	}
	src, err := Open(name, opts)
	if err != nil {
		return Pipeline[RawExample]{}, err
	}
	examples, err := LoadSplit(ctx, src, sp)
	if err != nil {
		return Pipeline[RawExample]{}, fmt.Errorf("%s: %w", name, err)
	}
	return FromSlice(examples), nil
}

// LoadSplit reads the base split from src and slices it.
func LoadSplit(ctx context.Context, src Source, sp Split) ([]RawExample, error) {
	known := false
	for _, s := range src.Splits() {
		if s == sp.Name {
			known = true
			break
		}
	}
	if !known {
		return nil, fmt.Errorf("%w: unknown split %q (known: %v)", ErrDataUnavailable, sp.Name, src.Splits())
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	all, err := src.Load(ctx, sp.Name)
	if err != nil {
		if errors.Is(err, ErrDataUnavailable) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrDataUnavailable, sp.Name, err)
	}
	lo, hi := sp.Range(len(all))
	if lo == hi {
		return nil, fmt.Errorf("%w: split %s selects no examples out of %d", ErrDataUnavailable, sp, len(all))
	}
	return all[lo:hi], nil
}
