// Package bijection provides an immutable two-sided unique mapping between a
// domain set and a codomain set.
//
// Every mutator returns a new Bijection and leaves the receiver untouched, so
// values can be shared freely between goroutines once published.
package bijection

// Pair is a single domain/codomain association.
type Pair[D, C comparable] struct {
	Domain   D
	Codomain C
}

// Bijection maps each domain element to exactly one codomain element and vice
// versa. The zero value is an empty, usable bijection.
type Bijection[D, C comparable] struct {
	pairs   []Pair[D, C]
	direct  map[D]C
	inverse map[C]D
}

// New builds a bijection from pairs. When pairs collide on either side the
// pair appearing later wins.
func New[D, C comparable](pairs ...Pair[D, C]) Bijection[D, C] {
	return fromPairs(distinct(pairs))
}

// FromMap builds a bijection from a map. Entries sharing a value collapse to
// one of them.
func FromMap[D, C comparable](m map[D]C) Bijection[D, C] {
	pairs := make([]Pair[D, C], 0, len(m))
	for d, c := range m {
		pairs = append(pairs, Pair[D, C]{Domain: d, Codomain: c})
	}
	return New(pairs...)
}

func fromPairs[D, C comparable](pairs []Pair[D, C]) Bijection[D, C] {
	b := Bijection[D, C]{
		pairs:   pairs,
		direct:  make(map[D]C, len(pairs)),
		inverse: make(map[C]D, len(pairs)),
	}
	for _, p := range pairs {
		b.direct[p.Domain] = p.Codomain
		b.inverse[p.Codomain] = p.Domain
	}
	return b
}

// distinct applies pairs in order, each one evicting earlier pairs that share
// its domain or codomain element.
func distinct[D, C comparable](pairs []Pair[D, C]) []Pair[D, C] {
	out := make([]Pair[D, C], 0, len(pairs))
	for _, p := range pairs {
		out = without(out, p)
		out = append(out, p)
	}
	return out
}

func without[D, C comparable](pairs []Pair[D, C], p Pair[D, C]) []Pair[D, C] {
	kept := pairs[:0:0]
	for _, q := range pairs {
		if q.Domain == p.Domain || q.Codomain == p.Codomain {
			continue
		}
		kept = append(kept, q)
	}
	return kept
}

// Direct returns the codomain element bound to d.
func (b Bijection[D, C]) Direct(d D) (C, bool) {
	c, ok := b.direct[d]
	return c, ok
}

// Inverse returns the domain element bound to c.
func (b Bijection[D, C]) Inverse(c C) (D, bool) {
	d, ok := b.inverse[c]
	return d, ok
}

func (b Bijection[D, C]) DomainContains(d D) bool {
	_, ok := b.direct[d]
	return ok
}

func (b Bijection[D, C]) CodomainContains(c C) bool {
	_, ok := b.inverse[c]
	return ok
}

// Len returns the number of pairs.
func (b Bijection[D, C]) Len() int {
	return len(b.pairs)
}

// Pairs returns a copy of the pairs in insertion order.
func (b Bijection[D, C]) Pairs() []Pair[D, C] {
	return append([]Pair[D, C](nil), b.pairs...)
}

func (b Bijection[D, C]) Domain() []D {
	out := make([]D, 0, len(b.pairs))
	for _, p := range b.pairs {
		out = append(out, p.Domain)
	}
	return out
}

func (b Bijection[D, C]) Codomain() []C {
	out := make([]C, 0, len(b.pairs))
	for _, p := range b.pairs {
		out = append(out, p.Codomain)
	}
	return out
}

// Find returns the first pair, in insertion order, satisfying cond.
func (b Bijection[D, C]) Find(cond func(D, C) bool) (Pair[D, C], bool) {
	for _, p := range b.pairs {
		if cond(p.Domain, p.Codomain) {
			return p, true
		}
	}
	return Pair[D, C]{}, false
}

// Filter keeps the pairs satisfying cond.
func (b Bijection[D, C]) Filter(cond func(D, C) bool) Bijection[D, C] {
	kept := make([]Pair[D, C], 0, len(b.pairs))
	for _, p := range b.pairs {
		if cond(p.Domain, p.Codomain) {
			kept = append(kept, p)
		}
	}
	return fromPairs(kept)
}

// Plus binds d to c, first removing any pair that shares d or c.
func (b Bijection[D, C]) Plus(d D, c C) Bijection[D, C] {
	p := Pair[D, C]{Domain: d, Codomain: c}
	return fromPairs(append(without(b.pairs, p), p))
}

// Minus removes the pair (d, c) if it is present exactly.
func (b Bijection[D, C]) Minus(d D, c C) Bijection[D, C] {
	if cur, ok := b.direct[d]; !ok || cur != c {
		return b
	}
	return b.Filter(func(pd D, _ C) bool { return pd != d })
}

func (b Bijection[D, C]) RemoveByDomain(d D) Bijection[D, C] {
	if !b.DomainContains(d) {
		return b
	}
	return b.Filter(func(pd D, _ C) bool { return pd != d })
}

func (b Bijection[D, C]) RemoveByCodomain(c C) Bijection[D, C] {
	if !b.CodomainContains(c) {
		return b
	}
	return b.Filter(func(_ D, pc C) bool { return pc != c })
}

// Map transforms every pair. The transform may introduce collisions anywhere,
// so the result is rebuilt from scratch: transformed pairs are applied in
// order and later pairs evict earlier ones sharing either element.
func Map[D, C, D2, C2 comparable](b Bijection[D, C], f func(D, C) (D2, C2)) Bijection[D2, C2] {
	mapped := make([]Pair[D2, C2], 0, len(b.pairs))
	for _, p := range b.pairs {
		d, c := f(p.Domain, p.Codomain)
		mapped = append(mapped, Pair[D2, C2]{Domain: d, Codomain: c})
	}
	return New(mapped...)
}
