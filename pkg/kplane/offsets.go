package kplane

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// FetchOffset returns the watermark at pos of one partition.
func (cl *Client) FetchOffset(ctx context.Context, topic string, partition int32, pos OffsetPosition) (int64, error) {
	offsets, err := cl.cfg.meta.FetchOffsets(ctx, topic, pos)
	if err != nil {
		return 0, depErr("list offsets", err)
	}
	at, ok := offsets[partition]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTopic, TopicPartition{topic, partition})
	}
	return at, nil
}

// Watermarks returns the live offset window of every partition of a topic,
// or ErrUnknownTopic.
func (cl *Client) Watermarks(ctx context.Context, topic string) (map[int32]OffsetWindow, error) {
	starts, err := cl.cfg.meta.FetchOffsets(ctx, topic, OffsetEarliest)
	if err != nil {
		return nil, depErr("list start offsets", err)
	}
	ends, err := cl.cfg.meta.FetchOffsets(ctx, topic, OffsetLatest)
	if err != nil {
		return nil, depErr("list end offsets", err)
	}
	if len(ends) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	ws := make(map[int32]OffsetWindow, len(ends))
	for p, end := range ends {
		ws[p] = OffsetWindow{Start: starts[p], End: end}
	}
	return ws, nil
}

// ResetRequest is a request to move a group's committed offset on one
// partition.
type ResetRequest struct {
	Group      string
	Topic      string
	Partition  int32
	Generation Generation

	// Target is "earliest", "latest", or an explicit offset. An explicit
	// offset must be within the partition's live window, at least the
	// start offset and less than the end offset.
	Target string
}

// ResetOffset moves a group's committed offset and returns the offset
// written.
//
// The request is rejected before anything is written if the group is active
// under the requested generation (ErrGroupActive), if the group has no data
// under it (ErrUnknownGroup), or if the target is outside the partition's
// window (ErrOffsetOutOfRange). Legacy groups are reset by writing the offset
// to the coordination store; coordinator groups by committing through the
// group coordinator.
func (cl *Client) ResetOffset(ctx context.Context, req ResetRequest) (int64, error) {
	if req.Group == "" {
		return 0, fmt.Errorf("%w: missing group", ErrInvalidRequest)
	}
	if req.Topic == "" {
		return 0, fmt.Errorf("%w: missing topic", ErrInvalidRequest)
	}
	if req.Generation != GenerationLegacy && req.Generation != GenerationCoordinator {
		return 0, fmt.Errorf("%w: unknown group generation", ErrInvalidRequest)
	}

	active, err := cl.groupActive(ctx, req.Generation, req.Group)
	if err != nil {
		return 0, err
	}
	if active {
		return 0, fmt.Errorf("%w: %s group %q has live consumers", ErrGroupActive, req.Generation, req.Group)
	}
	known, err := cl.groupKnown(ctx, req.Generation, req.Group)
	if err != nil {
		return 0, err
	}
	if !known {
		return 0, fmt.Errorf("%w: no %s group %q", ErrUnknownGroup, req.Generation, req.Group)
	}

	tp := TopicPartition{req.Topic, req.Partition}
	ws, err := cl.Watermarks(ctx, req.Topic)
	if err != nil {
		return 0, err
	}
	w, ok := ws[req.Partition]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTopic, tp)
	}
	offset, err := resolveTarget(req.Target, w)
	if err != nil {
		return 0, err
	}

	switch req.Generation {
	case GenerationLegacy:
		err = depErr("write legacy offset", cl.cfg.store.Set(groupOffsetPath(req.Group, tp), []byte(strconv.FormatInt(offset, 10))))
	case GenerationCoordinator:
		err = depErr("commit offset", cl.cfg.coordinator.CommitOffset(ctx, req.Group, tp, offset))
	}
	if err != nil {
		return 0, err
	}
	cl.log.Log(kgo.LogLevelInfo, "reset group offset", "group", req.Group, "generation", req.Generation, "topic", tp.Topic, "partition", tp.Partition, "offset", offset)
	return offset, nil
}

func resolveTarget(target string, w OffsetWindow) (int64, error) {
	switch strings.ToLower(strings.TrimSpace(target)) {
	case "earliest":
		return w.Start, nil
	case "latest":
		return w.End, nil
	}
	at, err := strconv.ParseInt(strings.TrimSpace(target), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: offset %q is not earliest, latest, or a number", ErrInvalidRequest, target)
	}
	if at < w.Start || at >= w.End {
		return 0, fmt.Errorf("%w: offset %d is outside [%d, %d)", ErrOffsetOutOfRange, at, w.Start, w.End)
	}
	return at, nil
}

// groupActive returns whether a group has live consumers under gen.
func (cl *Client) groupActive(ctx context.Context, gen Generation, group string) (bool, error) {
	if gen == GenerationLegacy {
		return cl.legacyGroupActive(group)
	}
	members, err := cl.cfg.coordinator.DescribeGroup(ctx, group)
	if err != nil {
		return false, depErr("describe coordinator group", err)
	}
	return len(members) > 0, nil
}

// groupKnown returns whether a group has any data under gen.
func (cl *Client) groupKnown(ctx context.Context, gen Generation, group string) (bool, error) {
	if gen == GenerationLegacy {
		_, ok, err := cl.cfg.store.Exists(groupPath(group))
		return ok, depErr("check legacy group", err)
	}
	if len(cl.cfg.registry.Get(group)) > 0 {
		return true, nil
	}
	active, err := cl.cfg.coordinator.ListActiveGroups(ctx)
	if err != nil {
		return false, depErr("list coordinator groups", err)
	}
	for _, g := range active {
		if g == group {
			return true, nil
		}
	}
	return false, nil
}

// CommitTimes is the last commit time of each partition of a topic, per
// generation the group has commits under.
type CommitTimes map[Generation]map[int32]time.Time

// LastCommitTimes returns when a group last committed each partition of a
// topic. Legacy commit times are the modification time of the offset node;
// coordinator commit times are the commit timestamps in the offsets log.
func (cl *Client) LastCommitTimes(ctx context.Context, group, topic string) (CommitTimes, error) {
	times := make(CommitTimes)

	partitions, err := cl.cfg.store.Children(groupTopicOffsetsPath(group, topic))
	if err != nil && !errors.Is(err, ErrNoNode) {
		return nil, depErr("list legacy offsets", err)
	}
	for _, raw := range partitions {
		p, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			cl.log.Log(kgo.LogLevelWarn, "skipping non-numeric legacy offset node", "group", group, "topic", topic, "node", raw)
			continue
		}
		stat, ok, err := cl.cfg.store.Exists(groupOffsetPath(group, TopicPartition{topic, int32(p)}))
		if err != nil {
			return nil, depErr("stat legacy offset", err)
		}
		if !ok {
			continue
		}
		if times[GenerationLegacy] == nil {
			times[GenerationLegacy] = make(map[int32]time.Time)
		}
		times[GenerationLegacy][int32(p)] = stat.Mtime
	}

	for tp, c := range cl.cfg.registry.Get(group) {
		if tp.Topic != topic {
			continue
		}
		if times[GenerationCoordinator] == nil {
			times[GenerationCoordinator] = make(map[int32]time.Time)
		}
		times[GenerationCoordinator][tp.Partition] = c.CommitTime
	}
	return times, nil
}

// DeleteLegacyGroup deletes everything a legacy group stored in the
// coordination store. Groups with registered consumers cannot be deleted.
func (cl *Client) DeleteLegacyGroup(ctx context.Context, group string) error {
	if group == "" {
		return fmt.Errorf("%w: missing group", ErrInvalidRequest)
	}
	known, err := cl.groupKnown(ctx, GenerationLegacy, group)
	if err != nil {
		return err
	}
	if !known {
		return fmt.Errorf("%w: no old group %q", ErrUnknownGroup, group)
	}
	active, err := cl.legacyGroupActive(group)
	if err != nil {
		return err
	}
	if active {
		return fmt.Errorf("%w: old group %q has live consumers", ErrGroupActive, group)
	}
	if err := cl.cfg.store.Delete(groupPath(group)); err != nil {
		return depErr("delete legacy group", err)
	}
	cl.log.Log(kgo.LogLevelInfo, "deleted legacy group", "group", group)
	return nil
}
