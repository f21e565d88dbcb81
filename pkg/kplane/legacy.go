package kplane

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"
)

// LegacyOffset is the committed offset and owner of one partition of a
// legacy group, as read from the coordination store.
type LegacyOffset struct {
	Topic     string
	Partition int32

	// Offset is the committed offset, or -1 if none could be read.
	Offset int64
	// Owner is the owning consumer id, or empty if the partition is
	// unowned or the owner could not be read.
	Owner string

	// Err is why the offset or owner could not be read. A partition with
	// no commit at all has Offset -1 and a nil Err.
	Err error
}

// LegacyOffsets is the result of FetchLegacyOffsets.
type LegacyOffsets map[TopicPartition]LegacyOffset

// Sorted returns the offsets ordered by topic, then partition.
func (os LegacyOffsets) Sorted() []LegacyOffset {
	l := make([]LegacyOffset, 0, len(os))
	for _, tp := range sortedKeys(os) {
		l = append(l, os[tp])
	}
	return l
}

// Error returns the first error in topic, partition order, if any.
func (os LegacyOffsets) Error() error {
	for _, o := range os.Sorted() {
		if o.Err != nil {
			return o.Err
		}
	}
	return nil
}

// FetchLegacyOffsets reads the committed offset and owner of every partition
// of the given topics for a legacy group. Topics that do not exist are
// skipped.
//
// Each partition is read in its own task on a pool of LegacyWorkers workers,
// and this waits until every task finishes. A task that fails only degrades
// its own partition: the partition is returned with Offset -1 and Err set,
// and is logged at warn. The only returned error is a failure to list the
// topics' partitions.
//
// The fetches are bounded by FetchTimeout and intentionally not by ctx, so
// that a caller abandoning a request does not tear down half finished reads.
func (cl *Client) FetchLegacyOffsets(ctx context.Context, group string, topics ...string) (LegacyOffsets, error) {
	var tps TopicPartitions
	for _, topic := range topics {
		parts, err := cl.cfg.meta.PartitionsFor(ctx, topic)
		if err != nil {
			return nil, depErr("list partitions", err)
		}
		for _, p := range parts {
			tps = append(tps, TopicPartition{topic, p.Partition})
		}
	}
	return cl.fetchLegacyOffsets(ctx, group, tps), nil
}

func (cl *Client) fetchLegacyOffsets(ctx context.Context, group string, tps TopicPartitions) LegacyOffsets {
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cl.cfg.fetchTimeout)
	defer cancel()

	var (
		mu   sync.Mutex
		out  = make(LegacyOffsets, len(tps))
		done = make(chan struct{})
	)
	go func() {
		defer close(done)
		var g errgroup.Group
		g.SetLimit(cl.cfg.legacyWorkers)
		for _, tp := range tps {
			g.Go(func() error {
				o := cl.fetchLegacyOffset(fetchCtx, group, tp)
				mu.Lock()
				if out != nil {
					out[tp] = o
				}
				mu.Unlock()
				return nil
			})
		}
		g.Wait()
	}()

	select {
	case <-done:
	case <-fetchCtx.Done():
	}

	// Reads still in flight at the deadline are abandoned; their results
	// are dropped when they eventually return.
	mu.Lock()
	defer mu.Unlock()
	finished := out
	out = nil
	for _, tp := range tps {
		if _, ok := finished[tp]; ok {
			continue
		}
		finished[tp] = LegacyOffset{
			Topic:     tp.Topic,
			Partition: tp.Partition,
			Offset:    -1,
			Err:       fetchCtx.Err(),
		}
		cl.log.Log(kgo.LogLevelWarn, "legacy offset fetch did not finish before timeout", "group", group, "topic", tp.Topic, "partition", tp.Partition)
	}
	return finished
}

func (cl *Client) fetchLegacyOffset(ctx context.Context, group string, tp TopicPartition) LegacyOffset {
	o := LegacyOffset{
		Topic:     tp.Topic,
		Partition: tp.Partition,
		Offset:    -1,
	}
	if err := ctx.Err(); err != nil {
		o.Err = err
		cl.log.Log(kgo.LogLevelWarn, "legacy offset fetch did not start before timeout", "group", group, "topic", tp.Topic, "partition", tp.Partition, "err", err)
		return o
	}

	raw, _, err := cl.cfg.store.Get(groupOffsetPath(group, tp))
	switch {
	case errors.Is(err, ErrNoNode):
	case err != nil:
		o.Err = depErr("read legacy offset", err)
	default:
		at, perr := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
		if perr != nil {
			o.Err = fmt.Errorf("unable to parse legacy offset %q: %w", raw, perr)
		} else {
			o.Offset = at
		}
	}
	if o.Err != nil {
		cl.log.Log(kgo.LogLevelWarn, "unable to read legacy offset, reporting it absent", "group", group, "topic", tp.Topic, "partition", tp.Partition, "err", o.Err)
	}

	owner, _, err := cl.cfg.store.Get(groupOwnerPath(group, tp))
	switch {
	case errors.Is(err, ErrNoNode):
	case err != nil:
		cl.log.Log(kgo.LogLevelWarn, "unable to read legacy owner, reporting it absent", "group", group, "topic", tp.Topic, "partition", tp.Partition, "err", err)
		if o.Err == nil {
			o.Err = depErr("read legacy owner", err)
		}
	default:
		o.Owner = string(owner)
	}
	return o
}

// legacyGroupTopics returns the topics a legacy group has offsets for, or
// nil if the group has none.
func (cl *Client) legacyGroupTopics(group string) ([]string, error) {
	topics, err := cl.cfg.store.Children(groupOffsetsPath(group))
	if errors.Is(err, ErrNoNode) {
		return nil, nil
	}
	if err != nil {
		return nil, depErr("list legacy group topics", err)
	}
	return topics, nil
}

// legacyGroupActive returns whether any consumer is registered in the legacy
// group.
func (cl *Client) legacyGroupActive(group string) (bool, error) {
	ids, err := cl.cfg.store.Children(groupIDsPath(group))
	if errors.Is(err, ErrNoNode) {
		return false, nil
	}
	if err != nil {
		return false, depErr("list legacy group consumers", err)
	}
	return len(ids) > 0, nil
}
