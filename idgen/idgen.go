// Package idgen provides the identifiers attached to weak handles and proxies.
package idgen

import (
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/rs/xid"
)

// ID is a unique identifier of a handle or a proxy.
type ID string

// Generator produces unique identifiers.
type Generator interface {
	// Generate returns an ID that has never been returned by this generator.
	Generate() ID
}

// Generator modes accepted by New.
const (
	ModeSequential = "sequential"
	ModeParallel   = "parallel"
)

// New returns the generator registered under mode.
func New(mode string) (Generator, error) {
	switch mode {
	case "", ModeSequential:
		return NewSequential(), nil
	case ModeParallel:
		return NewParallel(), nil
	default:
		return nil, fmt.Errorf("idgen: unknown mode %q", mode)
	}
}

// NewSequential returns a generator whose first emitted ID is "1". IDs are
// deterministic, which keeps logs and recordings comparable across runs.
func NewSequential() Generator {
	return &sequentialGenerator{}
}

// NewParallel returns a generator backed by xid. The IDs are globally unique
// but not deterministic anymore.
func NewParallel() Generator {
	return parallelGenerator{}
}

type sequentialGenerator struct {
	next uint64
}

func (g *sequentialGenerator) Generate() ID {
	n := atomic.AddUint64(&g.next, 1)
	return ID(strconv.FormatUint(n, 10))
}

type parallelGenerator struct{}

func (parallelGenerator) Generate() ID {
	return ID(xid.New().String())
}
