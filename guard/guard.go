// Package guard checks that bindings match the native library they load.
//
// Bindings embed a contract version and, for selected entities, a checksum
// of the entity's signature. Before the first native call both are compared
// with values the library reports. The version is checked first; checksums
// are only queried when the version matches.
package guard

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/wippyai/ffi-bridge/errors"
	"github.com/wippyai/ffi-bridge/names"
)

// Querier calls native query functions, which take no call status
type Querier interface {
	CallRaw(ctx context.Context, symbol string, args ...uint64) ([]uint64, error)
}

// Contract is what bindings expect of a native library
type Contract struct {
	// Checksums maps entities such as "func_echo" to their signature checksum
	Checksums map[string]uint16
	Namespace string
	Version   uint32
	// Parallelism bounds concurrent checksum queries; 0 or 1 queries serially
	Parallelism int
}

// Verify compares c with what q reports
func Verify(ctx context.Context, q Querier, c Contract) error {
	version := names.ContractVersion(c.Namespace)
	got, err := query(ctx, q, version)
	if err != nil {
		return err
	}
	if got>>32 != 0 {
		return errors.New(errors.PhaseGuard, errors.KindInvalidData).
			Symbol(version).
			Value(got).
			Detail("contract version %#x does not fit in 32 bits", got).
			Build()
	}
	if uint32(got) != c.Version {
		return errors.New(errors.PhaseGuard, errors.KindVersionMismatch).
			Symbol(version).
			Value(got).
			Detail("bindings expect contract version %d but the library reports %d; bindings and library were built from different releases", c.Version, uint32(got)).
			Build()
	}

	entities := make([]string, 0, len(c.Checksums))
	for e := range c.Checksums {
		entities = append(entities, e)
	}
	slices.Sort(entities)

	check := func(ctx context.Context, entity string) error {
		symbol := names.Checksum(c.Namespace, entity)
		got, err := query(ctx, q, symbol)
		if err != nil {
			return err
		}
		if got>>16 != 0 {
			return errors.New(errors.PhaseGuard, errors.KindInvalidData).
				Symbol(symbol).
				Value(got).
				Detail("checksum %#x for %s does not fit in 16 bits", got, entity).
				Build()
		}
		if want := c.Checksums[entity]; uint16(got) != want {
			return errors.New(errors.PhaseGuard, errors.KindChecksumMismatch).
				Symbol(symbol).
				Value(got).
				Detail("bindings expect checksum %d for %s but the library reports %d", want, entity, uint16(got)).
				Build()
		}
		return nil
	}

	if c.Parallelism <= 1 {
		for _, e := range entities {
			if err := check(ctx, e); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.Parallelism)
	for _, e := range entities {
		g.Go(func() error { return check(gctx, e) })
	}
	return g.Wait()
}

func query(ctx context.Context, q Querier, symbol string) (uint64, error) {
	res, err := q.CallRaw(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if len(res) != 1 {
		return 0, errors.New(errors.PhaseGuard, errors.KindInvalidData).
			Symbol(symbol).
			Detail("query returned %d values", len(res)).
			Build()
	}
	return res[0], nil
}

// Gate runs a check once. Its outcome, success or failure, is permanent.
type Gate struct {
	err  error
	once sync.Once
	done atomic.Bool
}

// Pass runs check on first use and returns its result on every use
func (g *Gate) Pass(ctx context.Context, check func(context.Context) error) error {
	g.once.Do(func() {
		g.err = check(ctx)
		g.done.Store(true)
	})
	return g.err
}

// Checked reports whether the check has run
func (g *Gate) Checked() bool { return g.done.Load() }
