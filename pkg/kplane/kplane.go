// Package kplane is the administrative control plane for a Kafka-style log
// cluster: topic lifecycle, partition placement, and consumer progress
// introspection.
//
// This package does not talk to brokers or to ZooKeeper itself. Every external
// system is a capability handed to NewClient as an option:
//
//	ClusterMetadata  - topics, partitions, replicas, watermarks, brokers
//	CoordStore       - the hierarchical coordination store (ZooKeeper)
//	GroupRegistry    - latest commits ingested from the offsets log
//	GroupCoordinator - live coordinator membership and offset commits
//	TopicAdmin       - topic creation, deletion, partition growth
//	Reassigner       - reassignment submission and the in-progress registry
//	ReplicaPlacer    - the rack aware replica assignment algorithm
//
// The kmeta, kzk, kregistry and kplace packages provide the production
// implementations of these.
//
// The two hard parts of the client are consumer group reconciliation and
// partition reassignment. Consumer groups exist under two protocols: legacy
// groups store offsets and ownership directly in the coordination store, and
// coordinator groups commit into the broker managed offsets log. DescribeGroup
// resolves which protocol a group uses at query time, with live coordinator
// membership taking precedence, and returns one GroupDescriptor. Reassignment
// is a plan, submit, and poll workflow: PlanReassignment validates or
// generates a target assignment, SubmitReassignment hands it to the brokers,
// and CheckReassignment can be called any number of times to classify each
// partition as in progress, completed, or failed.
//
// Nothing is persisted by this package; all results are built fresh per call.
package kplane

import (
	"sort"
	"strconv"
)

// Client is an admin client for the control plane operations.
//
// A Client is safe for concurrent use. It holds no locks during calls and
// does not serialize overlapping administrative requests: two concurrent
// reassignment submissions for the same partitions race, and the last write
// wins.
type Client struct {
	cfg cfg
	log wrappedLogger
}

// NewClient returns a new control plane client, or an error if the options
// are invalid.
func NewClient(opts ...Opt) (*Client, error) {
	cfg := defaultCfg()
	for _, opt := range opts {
		opt.apply(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.fill()
	return &Client{
		cfg: cfg,
		log: wrappedLogger{cfg.logger},
	}, nil
}

// TopicPartition is a topic and partition, the key used for every per
// partition result in this package.
type TopicPartition struct {
	Topic     string // Topic is the topic name.
	Partition int32  // Partition is the partition number.
}

func (tp TopicPartition) String() string {
	return tp.Topic + "-" + strconv.Itoa(int(tp.Partition))
}

func (tp TopicPartition) less(other TopicPartition) bool {
	if tp.Topic != other.Topic {
		return tp.Topic < other.Topic
	}
	return tp.Partition < other.Partition
}

// TopicPartitions is a list of topic partitions.
type TopicPartitions []TopicPartition

// Sort sorts the list by topic, then partition.
func (l TopicPartitions) Sort() {
	sort.Slice(l, func(i, j int) bool { return l[i].less(l[j]) })
}

// Topics returns the distinct topics in the list, sorted.
func (l TopicPartitions) Topics() []string {
	seen := make(map[string]struct{}, len(l))
	var ts []string
	for _, tp := range l {
		if _, ok := seen[tp.Topic]; ok {
			continue
		}
		seen[tp.Topic] = struct{}{}
		ts = append(ts, tp.Topic)
	}
	sort.Strings(ts)
	return ts
}

// sortedKeys returns the keys of a topic partition keyed map in topic, then
// partition order.
func sortedKeys[V any](m map[TopicPartition]V) TopicPartitions {
	l := make(TopicPartitions, 0, len(m))
	for tp := range m {
		l = append(l, tp)
	}
	l.Sort()
	return l
}

// orderedUnion returns every distinct element of the given lists, in first
// seen order. Earlier lists take precedence over later ones.
func orderedUnion[T comparable](lists ...[]T) []T {
	seen := make(map[T]struct{})
	var out []T
	for _, l := range lists {
		for _, v := range l {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

// topicFilter is a set of requested topics; an empty filter allows every
// topic.
type topicFilter map[string]struct{}

func newTopicFilter(topics []string) topicFilter {
	if len(topics) == 0 {
		return nil
	}
	f := make(topicFilter, len(topics))
	for _, t := range topics {
		f[t] = struct{}{}
	}
	return f
}

func (f topicFilter) allows(topic string) bool {
	if len(f) == 0 {
		return true
	}
	_, ok := f[topic]
	return ok
}
