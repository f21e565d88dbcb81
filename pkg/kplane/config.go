package kplane

import (
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/kplane/kplane/pkg/kplace"
)

// Opt is an option to configure a client.
type Opt interface {
	apply(*cfg)
}

type clientOpt struct{ fn func(*cfg) }

func (opt clientOpt) apply(cfg *cfg) { opt.fn(cfg) }

type cfg struct {
	meta        ClusterMetadata
	store       CoordStore
	registry    GroupRegistry
	coordinator GroupCoordinator
	topicAdmin  TopicAdmin
	reassigner  Reassigner
	placer      ReplicaPlacer

	logger kgo.Logger

	legacyWorkers int
	fetchTimeout  time.Duration

	verifyInterval time.Duration
	verifyTries    uint64
}

func defaultCfg() cfg {
	return cfg{
		legacyWorkers: 16,
		fetchTimeout:  10 * time.Second,

		verifyInterval: 100 * time.Millisecond,
		verifyTries:    10,
	}
}

func (cfg *cfg) validate() error {
	if cfg.meta == nil {
		return errors.New("kplane: cluster metadata is required")
	}
	if cfg.store == nil {
		return errors.New("kplane: coordination store is required")
	}
	if cfg.legacyWorkers < 1 {
		return fmt.Errorf("kplane: legacy workers %d is less than the minimum 1", cfg.legacyWorkers)
	}
	if cfg.fetchTimeout <= 0 {
		return fmt.Errorf("kplane: fetch timeout %v must be positive", cfg.fetchTimeout)
	}
	if cfg.verifyInterval <= 0 {
		return fmt.Errorf("kplane: delete verify interval %v must be positive", cfg.verifyInterval)
	}
	return nil
}

// fill defaults the optional capabilities after validation.
func (cfg *cfg) fill() {
	if cfg.registry == nil {
		cfg.registry = emptyRegistry{}
	}
	if cfg.coordinator == nil {
		cfg.coordinator = noCoordinator{}
	}
	if cfg.reassigner == nil {
		cfg.reassigner = &StoreReassigner{Store: cfg.store}
	}
	if cfg.placer == nil {
		cfg.placer = rackAwarePlacer{kplace.New()}
	}
}

// WithMetadata sets the cluster metadata accessor. This option is required.
func WithMetadata(m ClusterMetadata) Opt {
	return clientOpt{func(cfg *cfg) { cfg.meta = m }}
}

// WithStore sets the coordination store client. This option is required.
func WithStore(s CoordStore) Opt {
	return clientOpt{func(cfg *cfg) { cfg.store = s }}
}

// WithRegistry sets the group registry cache that coordinator group commits
// are read from. Without it, no coordinator group has committed offsets.
func WithRegistry(r GroupRegistry) Opt {
	return clientOpt{func(cfg *cfg) { cfg.registry = r }}
}

// WithCoordinator sets the coordinator group listing. Without it, no
// coordinator group has live members and coordinator offsets cannot be reset.
func WithCoordinator(c GroupCoordinator) Opt {
	return clientOpt{func(cfg *cfg) { cfg.coordinator = c }}
}

// WithTopicAdmin sets the capability used to create and delete topics and
// add partitions. Without it, those operations fail.
func WithTopicAdmin(t TopicAdmin) Opt {
	return clientOpt{func(cfg *cfg) { cfg.topicAdmin = t }}
}

// WithReassigner overrides how reassignments are submitted and how the in
// progress registry is read, overriding the default of the coordination
// store's /admin/reassign_partitions node.
func WithReassigner(r Reassigner) Opt {
	return clientOpt{func(cfg *cfg) { cfg.reassigner = r }}
}

// WithPlacer overrides the replica placer used for automatically generated
// reassignment plans, overriding the default rack aware placer.
func WithPlacer(p ReplicaPlacer) Opt {
	return clientOpt{func(cfg *cfg) { cfg.placer = p }}
}

// WithLogger sets the client to use the given logger, overriding the default
// to not use a logger. Any kgo.Logger works, including the kzap and kslog
// plugins.
func WithLogger(l kgo.Logger) Opt {
	return clientOpt{func(cfg *cfg) { cfg.logger = l }}
}

// LegacyWorkers sets the size of the worker pool used to fetch legacy group
// offsets, overriding the default 16. The pool is sized independently of how
// many callers use the client at once.
func LegacyWorkers(n int) Opt {
	return clientOpt{func(cfg *cfg) { cfg.legacyWorkers = n }}
}

// FetchTimeout bounds the lifetime of the per partition legacy offset
// fetches, overriding the default 10s.
//
// Fetches are not canceled when the caller's context is canceled. When this
// timeout elapses the fetch returns: partitions whose reads have not finished
// are reported absent with context.DeadlineExceeded. CoordStore reads take no
// context, so a read already in flight keeps its goroutine until the store
// returns, which for ZooKeeper is bounded by the session timeout.
func FetchTimeout(d time.Duration) Opt {
	return clientOpt{func(cfg *cfg) { cfg.fetchTimeout = d }}
}

// DeleteVerify sets how a topic deletion is verified: the topic's existence
// is rechecked every interval, at most tries times, before the deletion is
// reported as failed. The default is every 100ms, 10 times.
func DeleteVerify(interval time.Duration, tries int) Opt {
	return clientOpt{func(cfg *cfg) {
		cfg.verifyInterval = interval
		if tries < 0 {
			tries = 0
		}
		cfg.verifyTries = uint64(tries)
	}}
}
