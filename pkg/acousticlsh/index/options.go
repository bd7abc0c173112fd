package index

import "math"

const (
	DefaultTables = 10
	DefaultProbes = 2
	DefaultSeed   = 0x5eed5eed

	minBits = 2
	maxBits = 20
)

// Options tunes the hash tables. Zero values are replaced by defaults sized
// from the corpus at build time.
type Options struct {
	Tables int    // independent hash tables
	Bits   int    // hyperplanes per table; 0 sizes from corpus cardinality
	Probes int    // extra single-bit-flip buckets probed per table
	Seed   uint64 // hyperplane RNG seed
}

type Option func(*Options)

func WithTables(n int) Option {
	return func(o *Options) {
		o.Tables = n
	}
}

func WithBits(n int) Option {
	return func(o *Options) {
		o.Bits = n
	}
}

func WithProbes(n int) Option {
	return func(o *Options) {
		o.Probes = n
	}
}

func WithSeed(seed uint64) Option {
	return func(o *Options) {
		o.Seed = seed
	}
}

func defaultOptions() Options {
	return Options{
		Tables: DefaultTables,
		Probes: DefaultProbes,
		Seed:   DefaultSeed,
	}
}

// resolve fills in corpus-dependent defaults for n entries.
func (o Options) resolve(n int) Options {
	if o.Tables <= 0 {
		o.Tables = DefaultTables
	}
	if o.Probes < 0 {
		o.Probes = 0
	}
	if o.Bits <= 0 {
		o.Bits = int(math.Round(math.Log2(float64(n))))
	}
	o.Bits = min(max(o.Bits, minBits), maxBits)
	if o.Probes > o.Bits {
		o.Probes = o.Bits
	}
	return o
}
