package kplane

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sort"
	"strings"

	"github.com/twmb/franz-go/pkg/kgo"
)

// noOwner is the owner and host of a partition that no consumer owns.
const noOwner = "-"

// DescribeGroup returns the reconciled progress of a group, optionally only
// for the given topics.
//
// The group's generation is resolved now, in order of precedence: a group
// with live coordinator members or with commits in the group registry is a
// coordinator group; otherwise a group with offsets in the coordination store
// is a legacy group. A group known under neither protocol, or a topic filter
// matching nothing, returns an empty descriptor and no error.
func (cl *Client) DescribeGroup(ctx context.Context, group string, topics ...string) (GroupDescriptor, error) {
	members, err := cl.cfg.coordinator.DescribeGroup(ctx, group)
	if err != nil {
		return GroupDescriptor{}, depErr("describe coordinator group", err)
	}

	gen := GenerationUnknown
	if len(members) > 0 || len(cl.cfg.registry.Get(group)) > 0 {
		gen = GenerationCoordinator
	} else {
		legacyTopics, err := cl.legacyGroupTopics(group)
		if err != nil {
			return GroupDescriptor{}, err
		}
		if len(legacyTopics) > 0 {
			gen = GenerationLegacy
		}
	}
	return cl.reconcile(ctx, gen, group, members, topics)
}

// DescribeLegacyGroup is DescribeGroup with the generation forced to legacy.
func (cl *Client) DescribeLegacyGroup(ctx context.Context, group string, topics ...string) (GroupDescriptor, error) {
	return cl.reconcile(ctx, GenerationLegacy, group, nil, topics)
}

// DescribeCoordinatorGroup is DescribeGroup with the generation forced to
// coordinator.
func (cl *Client) DescribeCoordinatorGroup(ctx context.Context, group string, topics ...string) (GroupDescriptor, error) {
	members, err := cl.cfg.coordinator.DescribeGroup(ctx, group)
	if err != nil {
		return GroupDescriptor{}, depErr("describe coordinator group", err)
	}
	return cl.reconcile(ctx, GenerationCoordinator, group, members, topics)
}

// reconcile builds the descriptor of a group under one generation. This is
// the only place the two protocols' data are turned into PartitionStates.
func (cl *Client) reconcile(ctx context.Context, gen Generation, group string, members []Member, topics []string) (GroupDescriptor, error) {
	d := GroupDescriptor{
		Group:      group,
		Generation: gen,
		Partitions: make(map[TopicPartition]PartitionState),
	}
	var err error
	switch gen {
	case GenerationLegacy:
		err = cl.mergeLegacy(ctx, &d, newTopicFilter(topics))
	case GenerationCoordinator:
		err = cl.mergeCoordinator(ctx, &d, members, newTopicFilter(topics))
	}
	if err != nil {
		return GroupDescriptor{}, err
	}
	if len(d.Partitions) == 0 {
		d.Generation = GenerationUnknown
	}
	return d, nil
}

func (cl *Client) mergeLegacy(ctx context.Context, d *GroupDescriptor, filter topicFilter) error {
	groupTopics, err := cl.legacyGroupTopics(d.Group)
	if err != nil {
		return err
	}
	if len(groupTopics) == 0 {
		return nil
	}
	// A filter names the topics to describe even if the group never
	// committed to them; their partitions are reported with absent offsets.
	topics := groupTopics
	if len(filter) > 0 {
		topics = slices.Collect(maps.Keys(filter))
	}
	sort.Strings(topics)

	var tps TopicPartitions
	ends := make(map[string]map[int32]int64)
	for _, topic := range topics {
		topicEnds, err := cl.cfg.meta.FetchOffsets(ctx, topic, OffsetLatest)
		if err != nil {
			return depErr("list end offsets", err)
		}
		ends[topic] = topicEnds
		for p := range topicEnds {
			tps = append(tps, TopicPartition{topic, p})
		}
	}
	if len(tps) == 0 {
		return nil
	}

	prefix := d.Group + "_"
	for tp, o := range cl.fetchLegacyOffsets(ctx, d.Group, tps) {
		end := ends[tp.Topic][tp.Partition]
		s := PartitionState{
			Topic:         tp.Topic,
			Partition:     tp.Partition,
			CurrentOffset: o.Offset,
			LogEndOffset:  end,
			Lag:           computeLag(o.Offset, end),
			OwnerID:       noOwner,
			Host:          noOwner,
			State:         StatePending,
			Err:           o.Err,
		}
		if o.Owner != "" {
			s.OwnerID = o.Owner
			s.Host = strings.TrimPrefix(o.Owner, prefix)
			s.State = StateRunning
		}
		d.Partitions[tp] = s
	}
	return nil
}

func (cl *Client) mergeCoordinator(ctx context.Context, d *GroupDescriptor, members []Member, filter topicFilter) error {
	commits := cl.cfg.registry.Get(d.Group)

	owners := make(map[TopicPartition]Member)
	for _, m := range members {
		for _, tp := range m.Assigned {
			owners[tp] = m
		}
	}

	byTopic := make(map[string]map[int32]struct{})
	add := func(tp TopicPartition) {
		if !filter.allows(tp.Topic) {
			return
		}
		ps := byTopic[tp.Topic]
		if ps == nil {
			ps = make(map[int32]struct{})
			byTopic[tp.Topic] = ps
		}
		ps[tp.Partition] = struct{}{}
	}
	for tp := range commits {
		add(tp)
	}
	for tp := range owners {
		add(tp)
	}

	for topic, partitions := range byTopic {
		ends, err := cl.cfg.meta.FetchOffsets(ctx, topic, OffsetLatest)
		if err != nil {
			return depErr("list end offsets", err)
		}
		for p := range partitions {
			end, ok := ends[p]
			if !ok {
				cl.log.Log(kgo.LogLevelDebug, "skipping group partition missing from metadata", "group", d.Group, "topic", topic, "partition", p)
				continue
			}
			tp := TopicPartition{topic, p}
			current := int64(-1)
			if c, ok := commits[tp]; ok {
				current = c.Offset
			}
			s := PartitionState{
				Topic:         topic,
				Partition:     p,
				CurrentOffset: current,
				LogEndOffset:  end,
				Lag:           computeLag(current, end),
				OwnerID:       noOwner,
				Host:          noOwner,
			}
			if m, ok := owners[tp]; ok {
				s.OwnerID = m.ClientID
				s.Host = m.ClientHost
				s.State = StateRunning
			}
			d.Partitions[tp] = s
		}
	}
	return nil
}

// GroupListing is every consumer group known under each protocol.
type GroupListing struct {
	Legacy      []string
	Coordinator []string
}

// ListGroups lists every legacy group in the coordination store and every
// coordinator group that is either known to a coordinator or has commits in
// the group registry. Both lists are sorted.
func (cl *Client) ListGroups(ctx context.Context) (GroupListing, error) {
	legacy, err := cl.legacyGroups()
	if err != nil {
		return GroupListing{}, err
	}
	coordinator, err := cl.coordinatorGroups(ctx)
	if err != nil {
		return GroupListing{}, err
	}
	return GroupListing{Legacy: legacy, Coordinator: coordinator}, nil
}

// ListGroupsByTopic lists the groups that consume a topic: legacy groups with
// offsets for it, and coordinator groups with a member assigned to it or
// commits on it.
func (cl *Client) ListGroupsByTopic(ctx context.Context, topic string) (GroupListing, error) {
	var l GroupListing

	legacy, err := cl.legacyGroups()
	if err != nil {
		return GroupListing{}, err
	}
	for _, group := range legacy {
		_, ok, err := cl.cfg.store.Exists(groupTopicOffsetsPath(group, topic))
		if err != nil {
			return GroupListing{}, depErr("check legacy group topic", err)
		}
		if ok {
			l.Legacy = append(l.Legacy, group)
		}
	}

	all := cl.cfg.registry.GetAll()
	coordinator, err := cl.coordinatorGroups(ctx)
	if err != nil {
		return GroupListing{}, err
	}
outer:
	for _, group := range coordinator {
		for tp := range all[group] {
			if tp.Topic == topic {
				l.Coordinator = append(l.Coordinator, group)
				continue outer
			}
		}
		members, err := cl.cfg.coordinator.DescribeGroup(ctx, group)
		if err != nil {
			return GroupListing{}, depErr("describe coordinator group", err)
		}
		for _, m := range members {
			for _, tp := range m.Assigned {
				if tp.Topic == topic {
					l.Coordinator = append(l.Coordinator, group)
					continue outer
				}
			}
		}
	}
	return l, nil
}

func (cl *Client) legacyGroups() ([]string, error) {
	groups, err := cl.cfg.store.Children(consumersPath)
	if errors.Is(err, ErrNoNode) {
		return nil, nil
	}
	if err != nil {
		return nil, depErr("list legacy groups", err)
	}
	sort.Strings(groups)
	return groups, nil
}

func (cl *Client) coordinatorGroups(ctx context.Context) ([]string, error) {
	active, err := cl.cfg.coordinator.ListActiveGroups(ctx)
	if err != nil {
		return nil, depErr("list coordinator groups", err)
	}
	all := cl.cfg.registry.GetAll()
	historical := make([]string, 0, len(all))
	for group := range all {
		historical = append(historical, group)
	}
	sort.Strings(historical)

	groups := orderedUnion(active, historical)
	sort.Strings(groups)
	return groups, nil
}
