package storage

import (
	"time"

	EventBus "github.com/asaskevich/EventBus"
)

const (
	defaultPreparedBlockName = "prepared_block"
	defaultTxCacheTTL        = 5 * time.Minute
)

type (
	Options struct {
		preparedBlockName string
		txCacheTTL        time.Duration
		bus               EventBus.Bus
		allowWsvBehind    bool
	}

	Option func(*Options)
)

func defaultOptions() *Options {
	return &Options{
		preparedBlockName: defaultPreparedBlockName,
		txCacheTTL:        defaultTxCacheTTL,
	}
}

// WithPreparedBlockName sets the name of the prepared transaction used by
// PrepareBlock. Nodes sharing a database must use different names.
func WithPreparedBlockName(name string) Option {
	return func(o *Options) {
		o.preparedBlockName = name
	}
}

// WithTxPresenceCacheTTL sets how long transaction presence answers are cached.
func WithTxPresenceCacheTTL(ttl time.Duration) Option {
	return func(o *Options) {
		o.txCacheTTL = ttl
	}
}

// WithEventBus sets the bus commit notifications are published on.
func WithEventBus(bus EventBus.Bus) Option {
	return func(o *Options) {
		o.bus = bus
	}
}

/*
AllowWsvBehind opens the storage even when the block store has blocks which
are not applied to the world state view. Ledger state is then the top of the
world state view, use it to restore the view or to resume after a crash.
*/
func AllowWsvBehind() Option {
	return func(o *Options) {
		o.allowWsvBehind = true
	}
}

type (
	mutableStorageOptions struct {
		validate bool
	}

	MutableStorageOption func(*mutableStorageOptions)
)

// WithCommandValidation makes MutableStorage check permissions and command
// invariants while applying blocks. By default blocks are expected to be
// validated already.
func WithCommandValidation() MutableStorageOption {
	return func(o *mutableStorageOptions) {
		o.validate = true
	}
}
