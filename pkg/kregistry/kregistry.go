// Package kregistry is a kplane.GroupRegistry that tails the broker managed
// offsets topic and keeps the latest commit of every group in memory.
//
// The registry is eventually consistent: it lags the offsets topic by however
// long the last fetch took, and a group's commits appear only once the
// registry has read up to them. Callers treat missing groups as having no
// commits yet.
package kregistry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kbin"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
	"go.uber.org/zap"

	"github.com/kplane/kplane/pkg/kplane"
)

// OffsetsTopic is the broker managed topic that group commits are written to.
const OffsetsTopic = "__consumer_offsets"

// Opt is an option to configure a Registry.
type Opt interface {
	apply(*cfg)
}

type opt struct{ fn func(*cfg) }

func (o opt) apply(c *cfg) { o.fn(c) }

type cfg struct {
	topic   string
	logger  *zap.Logger
	kgoOpts []kgo.Opt
}

// Topic overrides the topic read from, which defaults to __consumer_offsets.
func Topic(topic string) Opt {
	return opt{func(c *cfg) { c.topic = topic }}
}

// Logger sets the logger, overriding the default no-op logger.
func Logger(l *zap.Logger) Opt {
	return opt{func(c *cfg) { c.logger = l }}
}

// ClientOpts are passed to the underlying consuming client, after the
// registry's own consume options.
func ClientOpts(opts ...kgo.Opt) Opt {
	return opt{func(c *cfg) { c.kgoOpts = append(c.kgoOpts, opts...) }}
}

// Registry is the in-memory latest commit of every group.
type Registry struct {
	cl    *kgo.Client
	topic string
	log   *zap.Logger

	mu     sync.RWMutex
	groups map[string]map[kplane.TopicPartition]kplane.CommittedOffset
	next   map[int32]int64 // next offset to read, per offsets topic partition

	ingested atomic.Int64
	skipped  atomic.Int64
}

var _ kplane.GroupRegistry = (*Registry)(nil)

// New returns a registry that will consume from the start of the offsets
// topic once Run is called. The client options must at least include the
// seed brokers.
func New(opts ...Opt) (*Registry, error) {
	c := cfg{
		topic:  OffsetsTopic,
		logger: zap.NewNop(),
	}
	for _, o := range opts {
		o.apply(&c)
	}
	kopts := append([]kgo.Opt{
		kgo.ConsumeTopics(c.topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.FetchIsolationLevel(kgo.ReadCommitted()),
	}, c.kgoOpts...)
	cl, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("kregistry: unable to create client: %w", err)
	}
	return &Registry{
		cl:     cl,
		topic:  c.topic,
		log:    c.logger.Named("registry"),
		groups: make(map[string]map[kplane.TopicPartition]kplane.CommittedOffset),
		next:   make(map[int32]int64),
	}, nil
}

// Run consumes until ctx is canceled or the registry is closed.
func (r *Registry) Run(ctx context.Context) {
	r.log.Info("tailing group commits")
	for {
		fs := r.cl.PollFetches(ctx)
		if fs.IsClientClosed() || ctx.Err() != nil {
			r.log.Info("stopped tailing group commits", zap.Int64("ingested", r.ingested.Load()))
			return
		}
		fs.EachError(func(t string, p int32, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			r.log.Warn("fetch error", zap.String("topic", t), zap.Int32("partition", p), zap.Error(err))
		})
		fs.EachRecord(func(rec *kgo.Record) {
			r.advance(rec)
			r.apply(rec)
		})
	}
}

func (r *Registry) advance(rec *kgo.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next[rec.Partition] = rec.Offset + 1
}

// WaitCaughtUp blocks until Run has read every partition of the offsets
// topic up to the end offsets listed when this is called, or until ctx is
// done. Run must be running.
//
// Partitions ending in a transaction marker can be reported as behind until
// another commit lands, so callers should bound ctx.
func (r *Registry) WaitCaughtUp(ctx context.Context) error {
	ends, err := kadm.NewClient(r.cl).ListEndOffsets(ctx, r.topic)
	if err != nil {
		return fmt.Errorf("kregistry: unable to list end offsets: %w", err)
	}
	if err := ends.Error(); err != nil {
		return fmt.Errorf("kregistry: unable to list end offsets: %w", err)
	}

	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		behind := 0
		r.mu.RLock()
		ends.Each(func(o kadm.ListedOffset) {
			if r.next[o.Partition] < o.Offset {
				behind++
			}
		})
		r.mu.RUnlock()
		if behind == 0 {
			r.log.Debug("caught up on group commits", zap.Int("groups", r.Groups()))
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("kregistry: %d partitions behind: %w", behind, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Close stops Run and closes the underlying client.
func (r *Registry) Close() { r.cl.Close() }

// apply ingests one record of the offsets topic. Records that are not offset
// commits are skipped.
func (r *Registry) apply(rec *kgo.Record) {
	if len(rec.Key) < 2 {
		r.skip(rec, errors.New("short key"))
		return
	}
	version := (&kbin.Reader{Src: rec.Key}).Int16()
	if version != 0 && version != 1 {
		// 2 is group metadata, which carries no offsets.
		return
	}

	var k kmsg.OffsetCommitKey
	if err := k.ReadFrom(rec.Key); err != nil {
		r.skip(rec, err)
		return
	}
	tp := kplane.TopicPartition{Topic: k.Topic, Partition: k.Partition}

	r.mu.Lock()
	defer r.mu.Unlock()

	if rec.Value == nil {
		if commits := r.groups[k.Group]; commits != nil {
			delete(commits, tp)
			if len(commits) == 0 {
				delete(r.groups, k.Group)
			}
		}
		r.ingested.Add(1)
		return
	}

	var v kmsg.OffsetCommitValue
	if err := v.ReadFrom(rec.Value); err != nil {
		r.skip(rec, err)
		return
	}
	commits := r.groups[k.Group]
	if commits == nil {
		commits = make(map[kplane.TopicPartition]kplane.CommittedOffset)
		r.groups[k.Group] = commits
	}
	commits[tp] = kplane.CommittedOffset{
		Offset:     v.Offset,
		Metadata:   v.Metadata,
		CommitTime: time.UnixMilli(v.CommitTimestamp),
	}
	r.ingested.Add(1)
}

func (r *Registry) skip(rec *kgo.Record, err error) {
	r.skipped.Add(1)
	r.log.Debug("skipping undecodable offsets record", zap.Int32("partition", rec.Partition), zap.Int64("offset", rec.Offset), zap.Error(err))
}

// Get returns a copy of the latest commits of a group.
func (r *Registry) Get(group string) map[kplane.TopicPartition]kplane.CommittedOffset {
	r.mu.RLock()
	defer r.mu.RUnlock()
	commits, ok := r.groups[group]
	if !ok {
		return nil
	}
	out := make(map[kplane.TopicPartition]kplane.CommittedOffset, len(commits))
	for tp, c := range commits {
		out[tp] = c
	}
	return out
}

// GetAll returns a copy of the latest commits of every group.
func (r *Registry) GetAll() map[string]map[kplane.TopicPartition]kplane.CommittedOffset {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]map[kplane.TopicPartition]kplane.CommittedOffset, len(r.groups))
	for g, commits := range r.groups {
		cp := make(map[kplane.TopicPartition]kplane.CommittedOffset, len(commits))
		for tp, c := range commits {
			cp[tp] = c
		}
		out[g] = cp
	}
	return out
}

// Groups returns how many groups have commits.
func (r *Registry) Groups() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups)
}

// Ingested returns how many commits and tombstones have been applied.
func (r *Registry) Ingested() int64 { return r.ingested.Load() }

// Skipped returns how many records could not be decoded.
func (r *Registry) Skipped() int64 { return r.skipped.Load() }
