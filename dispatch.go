package tiercache

import "context"

type promotion[V any] struct {
	tier string
	fn   Promoter[V]
}

// lookupSequence consults tiers in order. The first settled answer stops the
// sequence; tiers without an answer before it may contribute a promoter.
func lookupSequence[V any](ctx context.Context, tiers []Tier[V], id string, etag Etag) (Lookup[V], []promotion[V], error) {
	var promos []promotion[V]
	for _, t := range tiers {
		res, p, err := t.Get(ctx, id, etag)
		if err != nil {
			return UnknownOf[V](), nil, hookErr(PhaseGet, t.Name(), err)
		}
		if res.Settled() {
			return res, promos, nil
		}
		if p != nil {
			promos = append(promos, promotion[V]{tier: t.Name(), fn: p})
		}
	}
	return UnknownOf[V](), promos, nil
}

// settle hands the final result to every promoter and waits for all of them.
// It returns at the first failure; the remaining promoters keep running.
func settle[V any](ctx context.Context, final Lookup[V], promos []promotion[V]) error {
	return fanOut(len(promos), func(i int) error {
		p := promos[i]
		return hookErr(PhasePromote, p.tier, p.fn(ctx, final))
	})
}

// fanOut runs fn(0..n-1) concurrently and reports the first error, or nil once
// every call returned. Calls still in flight after an error are not cancelled.
func fanOut(n int, fn func(i int) error) error {
	switch n {
	case 0:
		return nil
	case 1:
		return fn(0)
	}
	errs := make(chan error, n) // buffered: late results never block
	for i := 0; i < n; i++ {
		go func(i int) { errs <- fn(i) }(i)
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			return err
		}
	}
	return nil
}
