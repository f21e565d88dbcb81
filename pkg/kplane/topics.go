package kplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/twmb/franz-go/pkg/kgo"
)

const maxTopicNameLen = 249

// TopicSpec is a topic to create.
type TopicSpec struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
	Configs           map[string]string
}

// TopicDetail is the live description of a topic.
type TopicDetail struct {
	Topic             string
	PartitionCount    int
	ReplicationFactor int
	Configs           map[string]string
	Partitions        []PartitionDetail // sorted by partition
}

// PartitionDetail is the live description of one partition.
type PartitionDetail struct {
	Partition int32
	Leader    int32
	Replicas  []int32
	ISR       []int32

	// InSync is whether every replica is in the ISR.
	InSync bool

	Window OffsetWindow
	// MessagesAvailable is Window.End - Window.Start.
	MessagesAvailable int64
}

// TopicBrief is a one line summary of a topic.
type TopicBrief struct {
	Topic      string
	Partitions int
	// InSyncRatio is the fraction of all replicas of the topic that are
	// in sync, 1 for a fully replicated topic.
	InSyncRatio float64
}

// BrokerDetail is a broker's registration in the coordination store.
type BrokerDetail struct {
	ID         int32
	Host       string
	Port       int32
	Rack       string
	Endpoints  []string
	JMXPort    int32
	Registered time.Time
}

// ValidateTopicName returns ErrInvalidTopic if name cannot be a topic name:
// names must be non-empty, at most 249 characters, only contain ASCII
// alphanumerics, '.', '_', and '-', and cannot be "." or "..".
func ValidateTopicName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty topic name", ErrInvalidTopic)
	case name == "." || name == "..":
		return fmt.Errorf("%w: topic name cannot be %q", ErrInvalidTopic, name)
	case len(name) > maxTopicNameLen:
		return fmt.Errorf("%w: topic name is longer than %d characters", ErrInvalidTopic, maxTopicNameLen)
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z',
			c >= 'A' && c <= 'Z',
			c >= '0' && c <= '9',
			c == '.', c == '_', c == '-':
		default:
			return fmt.Errorf("%w: topic name %q contains illegal character %q", ErrInvalidTopic, name, c)
		}
	}
	return nil
}

// hasCollisionChars returns whether a name uses '.' or '_', which collide in
// metric names.
func hasCollisionChars(name string) bool {
	return strings.ContainsAny(name, "._")
}

// ParseReplicaAssignment parses a manual replica assignment: partitions are
// separated by commas, and each partition's brokers by colons, so "1:2,2:3"
// places partition 0 on brokers 1 and 2 and partition 1 on 2 and 3. A broker
// repeated within one partition is an error.
func ParseReplicaAssignment(s string) ([][]int32, error) {
	var out [][]int32
	for i, partition := range strings.Split(s, ",") {
		var replicas []int32
		seen := make(map[int32]struct{})
		for _, raw := range strings.Split(partition, ":") {
			id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 32)
			if err != nil {
				return nil, fmt.Errorf("%w: entry %d: %q is not a broker id", ErrInvalidAssignment, i, raw)
			}
			if _, ok := seen[int32(id)]; ok {
				return nil, fmt.Errorf("%w: entry %d repeats id %d", ErrInvalidAssignment, i, id)
			}
			seen[int32(id)] = struct{}{}
			replicas = append(replicas, int32(id))
		}
		out = append(out, replicas)
	}
	return out, nil
}

// ListTopics returns every topic, sorted.
func (cl *Client) ListTopics(ctx context.Context) ([]string, error) {
	topics, err := cl.cfg.meta.ListTopics(ctx)
	if err != nil {
		return nil, depErr("list topics", err)
	}
	sort.Strings(topics)
	return topics, nil
}

// ListTopicBriefs summarizes every topic, sorted by topic.
func (cl *Client) ListTopicBriefs(ctx context.Context) ([]TopicBrief, error) {
	topics, err := cl.ListTopics(ctx)
	if err != nil {
		return nil, err
	}
	briefs := make([]TopicBrief, 0, len(topics))
	for _, topic := range topics {
		parts, err := cl.cfg.meta.PartitionsFor(ctx, topic)
		if err != nil {
			return nil, depErr("list partitions", err)
		}
		if len(parts) == 0 {
			continue
		}
		var replicas, isr int
		for _, p := range parts {
			replicas += len(p.Replicas)
			isr += len(p.ISR)
		}
		b := TopicBrief{Topic: topic, Partitions: len(parts)}
		if replicas > 0 {
			b.InSyncRatio = float64(isr) / float64(replicas)
		}
		briefs = append(briefs, b)
	}
	return briefs, nil
}

// TopicExists returns whether a topic exists.
func (cl *Client) TopicExists(ctx context.Context, topic string) (bool, error) {
	parts, err := cl.cfg.meta.PartitionsFor(ctx, topic)
	if err != nil {
		return false, depErr("list partitions", err)
	}
	return len(parts) > 0, nil
}

// DescribeTopic returns a topic's partitions, their live offset windows, and
// the topic's configs, or ErrUnknownTopic.
func (cl *Client) DescribeTopic(ctx context.Context, topic string) (TopicDetail, error) {
	parts, err := cl.cfg.meta.PartitionsFor(ctx, topic)
	if err != nil {
		return TopicDetail{}, depErr("list partitions", err)
	}
	if len(parts) == 0 {
		return TopicDetail{}, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	ws, err := cl.Watermarks(ctx, topic)
	if err != nil {
		return TopicDetail{}, err
	}
	configs, err := cl.TopicConfig(ctx, topic)
	if err != nil {
		return TopicDetail{}, err
	}

	d := TopicDetail{
		Topic:             topic,
		PartitionCount:    len(parts),
		ReplicationFactor: len(parts[0].Replicas),
		Configs:           configs,
	}
	for _, p := range parts {
		w := ws[p.Partition]
		d.Partitions = append(d.Partitions, PartitionDetail{
			Partition:         p.Partition,
			Leader:            p.Leader,
			Replicas:          p.Replicas,
			ISR:               p.ISR,
			InSync:            len(p.ISR) == len(p.Replicas),
			Window:            w,
			MessagesAvailable: w.End - w.Start,
		})
	}
	sort.Slice(d.Partitions, func(i, j int) bool { return d.Partitions[i].Partition < d.Partitions[j].Partition })
	return d, nil
}

// CreateTopic creates a topic and returns its description once it is
// visible in metadata.
//
// If assignment is non-empty, it is parsed with ParseReplicaAssignment and
// replaces the TopicSpec's partition count and replication factor; otherwise the
// TopicSpec must have a positive partition count.
func (cl *Client) CreateTopic(ctx context.Context, spec TopicSpec, assignment string) (TopicDetail, error) {
	if cl.cfg.topicAdmin == nil {
		return TopicDetail{}, errNoTopicAdmin
	}
	if err := ValidateTopicName(spec.Name); err != nil {
		return TopicDetail{}, err
	}
	if hasCollisionChars(spec.Name) {
		cl.log.Log(kgo.LogLevelWarn, "topic names with a period or underscore can collide in metric names", "topic", spec.Name)
	}

	var replicas [][]int32
	if assignment != "" {
		var err error
		if replicas, err = ParseReplicaAssignment(assignment); err != nil {
			return TopicDetail{}, err
		}
	} else {
		if spec.Partitions <= 0 {
			return TopicDetail{}, fmt.Errorf("%w: number of partitions must be larger than 0", ErrInvalidRequest)
		}
		if spec.ReplicationFactor <= 0 {
			return TopicDetail{}, fmt.Errorf("%w: replication factor must be larger than 0", ErrInvalidRequest)
		}
	}

	exists, err := cl.TopicExists(ctx, spec.Name)
	if err != nil {
		return TopicDetail{}, err
	}
	if exists {
		return TopicDetail{}, fmt.Errorf("%w: topic %q already exists", ErrInvalidTopic, spec.Name)
	}

	if err := cl.cfg.topicAdmin.CreateTopic(ctx, spec.Name, spec.Partitions, spec.ReplicationFactor, spec.Configs, replicas); err != nil {
		return TopicDetail{}, depErr("create topic", err)
	}
	cl.log.Log(kgo.LogLevelInfo, "created topic", "topic", spec.Name, "partitions", spec.Partitions, "replication_factor", spec.ReplicationFactor, "manual_assignment", assignment != "")

	if ok, err := cl.awaitTopic(ctx, spec.Name, true); err != nil {
		return TopicDetail{}, err
	} else if !ok {
		return TopicDetail{}, &DependencyError{Op: "create topic", Err: fmt.Errorf("topic %q not visible in metadata after creation", spec.Name)}
	}
	return cl.DescribeTopic(ctx, spec.Name)
}

// DeleteTopic deletes a topic and verifies that it is gone, returning
// ErrTopicNotDeleted if it still exists after every DeleteVerify attempt.
func (cl *Client) DeleteTopic(ctx context.Context, topic string) error {
	if cl.cfg.topicAdmin == nil {
		return errNoTopicAdmin
	}
	exists, err := cl.TopicExists(ctx, topic)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}

	cl.log.Log(kgo.LogLevelWarn, "deleting topic", "topic", topic)
	if err := cl.cfg.topicAdmin.DeleteTopic(ctx, topic); err != nil {
		return depErr("delete topic", err)
	}
	gone, err := cl.awaitTopic(ctx, topic, false)
	if err != nil {
		return err
	}
	if !gone {
		return fmt.Errorf("%w: %s still exists", ErrTopicNotDeleted, topic)
	}
	return nil
}

// AddPartitions adds partitions to a topic and returns its new description.
//
// A non-empty assignment has one entry per added partition, each the same
// length as the topic's replication factor, and may only use ids that are
// existing partition ids of the topic.
func (cl *Client) AddPartitions(ctx context.Context, topic string, add int, assignment string) (TopicDetail, error) {
	if cl.cfg.topicAdmin == nil {
		return TopicDetail{}, errNoTopicAdmin
	}
	if add <= 0 {
		return TopicDetail{}, fmt.Errorf("%w: number of partitions to add must be larger than 0", ErrInvalidRequest)
	}
	parts, err := cl.cfg.meta.PartitionsFor(ctx, topic)
	if err != nil {
		return TopicDetail{}, depErr("list partitions", err)
	}
	if len(parts) == 0 {
		return TopicDetail{}, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}

	var replicas [][]int32
	if assignment != "" {
		if replicas, err = ParseReplicaAssignment(assignment); err != nil {
			return TopicDetail{}, err
		}
		existing := make(map[int32]struct{}, len(parts))
		for _, p := range parts {
			existing[p.Partition] = struct{}{}
		}
		rf := len(parts[0].Replicas)
		for i, ids := range replicas {
			for _, id := range ids {
				if _, ok := existing[id]; !ok {
					return TopicDetail{}, fmt.Errorf("%w: entry %d of topic %s has wrong id %d", ErrInvalidAssignment, i, topic, id)
				}
			}
			if len(ids) != rf {
				return TopicDetail{}, fmt.Errorf("%w: entry %d has %d replicas, the topic's replication factor is %d", ErrInvalidAssignment, i, len(ids), rf)
			}
		}
		if len(replicas) != add {
			return TopicDetail{}, fmt.Errorf("%w: %d entries for %d added partitions", ErrInvalidAssignment, len(replicas), add)
		}
	}

	total := int32(len(parts) + add)
	if err := cl.cfg.topicAdmin.CreatePartitions(ctx, topic, total, replicas); err != nil {
		return TopicDetail{}, depErr("create partitions", err)
	}
	cl.log.Log(kgo.LogLevelInfo, "added partitions", "topic", topic, "added", add, "total", total)
	return cl.DescribeTopic(ctx, topic)
}

// awaitTopic rechecks a topic's existence until it is want, returning false
// if every DeleteVerify attempt elapsed first.
func (cl *Client) awaitTopic(ctx context.Context, topic string, want bool) (bool, error) {
	errMismatch := errors.New("topic existence mismatch")
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(cl.cfg.verifyInterval), cl.cfg.verifyTries),
		ctx,
	)
	err := backoff.Retry(func() error {
		exists, err := cl.TopicExists(ctx, topic)
		if err != nil {
			return backoff.Permanent(err)
		}
		if exists != want {
			return errMismatch
		}
		return nil
	}, b)
	switch {
	case errors.Is(err, errMismatch):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

type brokerJSON struct {
	Host      string   `json:"host"`
	Port      int32    `json:"port"`
	Rack      string   `json:"rack"`
	Endpoints []string `json:"endpoints"`
	JMXPort   int32    `json:"jmx_port"`
	Timestamp string   `json:"timestamp"`
}

// ListBrokers returns every broker registered in the coordination store,
// sorted by id.
func (cl *Client) ListBrokers(context.Context) ([]BrokerDetail, error) {
	ids, err := cl.cfg.store.Children(brokerIDsPath)
	if errors.Is(err, ErrNoNode) {
		return nil, nil
	}
	if err != nil {
		return nil, depErr("list brokers", err)
	}

	var brokers []BrokerDetail
	for _, rawID := range ids {
		id, err := strconv.ParseInt(rawID, 10, 32)
		if err != nil {
			cl.log.Log(kgo.LogLevelWarn, "skipping non-numeric broker registration", "node", rawID)
			continue
		}
		raw, _, err := cl.cfg.store.Get(brokerPath(rawID))
		if errors.Is(err, ErrNoNode) {
			continue // deregistered since listing
		}
		if err != nil {
			return nil, depErr("read broker registration", err)
		}
		var b brokerJSON
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, depErr("decode broker registration", err)
		}
		d := BrokerDetail{
			ID:        int32(id),
			Host:      b.Host,
			Port:      b.Port,
			Rack:      b.Rack,
			Endpoints: b.Endpoints,
			JMXPort:   b.JMXPort,
		}
		if ms, err := strconv.ParseInt(b.Timestamp, 10, 64); err == nil {
			d.Registered = time.UnixMilli(ms)
		}
		brokers = append(brokers, d)
	}
	sort.Slice(brokers, func(i, j int) bool { return brokers[i].ID < brokers[j].ID })
	return brokers, nil
}
