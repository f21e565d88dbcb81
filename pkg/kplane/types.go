package kplane

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// OffsetWindow is the live low and high watermark of a partition. End is
// the offset the next produced record will receive.
type OffsetWindow struct {
	Start int64
	End   int64
}

// OffsetPosition selects which watermark FetchOffsets returns.
type OffsetPosition int8

const (
	// OffsetEarliest is the log start offset.
	OffsetEarliest OffsetPosition = iota
	// OffsetLatest is the log end offset.
	OffsetLatest
)

func (p OffsetPosition) String() string {
	switch p {
	case OffsetEarliest:
		return "earliest"
	case OffsetLatest:
		return "latest"
	default:
		return "unknown"
	}
}

// Generation is which progress tracking protocol a consumer group uses.
type Generation int8

const (
	// GenerationUnknown means no data exists for the group under any
	// protocol.
	GenerationUnknown Generation = iota
	// GenerationLegacy groups keep offsets and ownership in the
	// coordination store.
	GenerationLegacy
	// GenerationCoordinator groups commit to the broker managed offsets
	// log and are tracked by a group coordinator.
	GenerationCoordinator
)

// ParseGeneration parses the admin surface's "old" (legacy) and "new"
// (coordinator) generation names.
func ParseGeneration(s string) (Generation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "old", "legacy":
		return GenerationLegacy, nil
	case "new", "coordinator":
		return GenerationCoordinator, nil
	}
	return GenerationUnknown, fmt.Errorf("%w: unknown group type %q, expected old or new", ErrInvalidRequest, s)
}

func (g Generation) String() string {
	switch g {
	case GenerationLegacy:
		return "old"
	case GenerationCoordinator:
		return "new"
	default:
		return "unknown"
	}
}

// LifecycleState is whether a partition of a group currently has a consumer.
type LifecycleState int8

const (
	// StatePending is a partition with no owner or assigned member.
	StatePending LifecycleState = iota
	// StateRunning is a partition owned by a live consumer.
	StateRunning
)

func (s LifecycleState) String() string {
	if s == StateRunning {
		return "RUNNING"
	}
	return "PENDING"
}

// PartitionState is the progress of one group on one partition.
type PartitionState struct {
	Topic     string
	Partition int32

	// CurrentOffset is the committed offset, or -1 if no commit is known.
	CurrentOffset int64
	// LogEndOffset is the partition's live end offset.
	LogEndOffset int64
	// Lag is LogEndOffset - CurrentOffset, never negative, and 0 when no
	// commit is known.
	Lag int64

	OwnerID string
	Host    string
	State   LifecycleState

	// Err is non-nil if the committed offset or owner could not be read;
	// the partition is still reported with what was available.
	Err error
}

// computeLag returns the lag for a committed offset against an end offset.
func computeLag(current, end int64) int64 {
	if current < 0 || end <= current {
		return 0
	}
	return end - current
}

// GroupDescriptor is the reconciled progress of one consumer group.
type GroupDescriptor struct {
	Group      string
	Generation Generation
	Partitions map[TopicPartition]PartitionState
}

// Sorted returns the descriptor's partitions ordered by topic, then
// partition.
func (d GroupDescriptor) Sorted() []PartitionState {
	l := make([]PartitionState, 0, len(d.Partitions))
	for _, tp := range sortedKeys(d.Partitions) {
		l = append(l, d.Partitions[tp])
	}
	return l
}

// TotalLag returns the sum of every partition's lag.
func (d GroupDescriptor) TotalLag() int64 {
	var lag int64
	for _, p := range d.Partitions {
		lag += p.Lag
	}
	return lag
}

// IsEmpty returns whether the descriptor has no partitions.
func (d GroupDescriptor) IsEmpty() bool { return len(d.Partitions) == 0 }

// PartitionInfo is the live metadata of one partition.
type PartitionInfo struct {
	Topic     string
	Partition int32
	Leader    int32 // -1 if the partition has no leader
	Replicas  []int32
	ISR       []int32
}

// BrokerMeta is a live broker as seen in cluster metadata.
type BrokerMeta struct {
	NodeID int32
	Host   string
	Port   int32
	Rack   string // empty if the broker has no rack
}

// Member is one live member of a coordinator group.
type Member struct {
	MemberID   string
	ClientID   string
	ClientHost string
	Assigned   []TopicPartition
}

// CommittedOffset is the latest commit of a group on a partition.
type CommittedOffset struct {
	Offset     int64
	Metadata   string
	CommitTime time.Time
}

// Stat is the node metadata of a coordination store path.
type Stat struct {
	Mtime   time.Time
	Version int32
}

// ClusterMetadata is live topic, partition, and broker metadata. Nothing
// returned is cached by this package.
type ClusterMetadata interface {
	// ListTopics returns every topic in the cluster.
	ListTopics(context.Context) ([]string, error)
	// PartitionsFor returns the partitions of a topic sorted by partition,
	// or nil with no error if the topic does not exist.
	PartitionsFor(ctx context.Context, topic string) ([]PartitionInfo, error)
	// FetchOffsets returns the watermark at pos for every partition of the
	// topic, or an empty map if the topic does not exist.
	FetchOffsets(ctx context.Context, topic string, pos OffsetPosition) (map[int32]int64, error)
	// Brokers returns the live brokers.
	Brokers(context.Context) ([]BrokerMeta, error)
}

// CoordStore is a hierarchical key/value coordination store client.
type CoordStore interface {
	// Get returns the data at path, or ErrNoNode if it does not exist.
	Get(path string) ([]byte, Stat, error)
	// Set creates or overwrites path, creating missing parents.
	Set(path string, data []byte) error
	// CreateSequential creates a persistent sequential node under the
	// prefix and returns the created path.
	CreateSequential(prefix string, data []byte) (string, error)
	// Children returns the child names of path, or ErrNoNode.
	Children(path string) ([]string, error)
	// Exists returns whether path exists and its stat if so.
	Exists(path string) (Stat, bool, error)
	// Delete recursively deletes path. Deleting a missing path is not an
	// error.
	Delete(path string) error
}

// GroupRegistry is an eventually consistent cache of the latest commit of
// every coordinator group, ingested from the offsets log.
type GroupRegistry interface {
	// Get returns the latest commits of one group, or nil.
	Get(group string) map[TopicPartition]CommittedOffset
	// GetAll returns the latest commits of every group.
	GetAll() map[string]map[TopicPartition]CommittedOffset
}

// GroupCoordinator lists live coordinator groups and their members.
type GroupCoordinator interface {
	// ListActiveGroups returns the groups known to the coordinators.
	ListActiveGroups(context.Context) ([]string, error)
	// DescribeGroup returns the live members of a group. A group with no
	// members returns nil and no error.
	DescribeGroup(ctx context.Context, group string) ([]Member, error)
	// CommitOffset commits an offset on behalf of an inactive group.
	CommitOffset(ctx context.Context, group string, tp TopicPartition, offset int64) error
}

// TopicAdmin creates and deletes topics and grows their partitions.
type TopicAdmin interface {
	// CreateTopic creates a topic. If assignment is non-empty, partition i
	// is placed on assignment[i] and partitions and rf are ignored.
	CreateTopic(ctx context.Context, name string, partitions int32, rf int16, configs map[string]string, assignment [][]int32) error
	// DeleteTopic deletes a topic.
	DeleteTopic(ctx context.Context, name string) error
	// CreatePartitions grows a topic to total partitions. If assignment is
	// non-empty, each new partition is placed on the corresponding entry.
	CreatePartitions(ctx context.Context, topic string, total int32, assignment [][]int32) error
}

// Reassigner submits reassignments and reads the in-progress registry.
type Reassigner interface {
	// Submit hands the target assignment to the brokers. It returns once
	// the submission is accepted, not once data has moved.
	Submit(ctx context.Context, target map[TopicPartition][]int32) error
	// InProgress returns the partitions whose reassignment has not yet
	// completed, and their target replicas.
	InProgress(context.Context) (map[TopicPartition][]int32, error)
}

// ReplicaPlacer generates replica assignments for a topic.
type ReplicaPlacer interface {
	// Place assigns replicationFactor distinct brokers to each of
	// partitions partitions, keyed by partition number.
	Place(brokers []BrokerMeta, partitions, replicationFactor int) (map[int32][]int32, error)
}

type emptyRegistry struct{}

func (emptyRegistry) Get(string) map[TopicPartition]CommittedOffset { return nil }

func (emptyRegistry) GetAll() map[string]map[TopicPartition]CommittedOffset { return nil }

type noCoordinator struct{}

func (noCoordinator) ListActiveGroups(context.Context) ([]string, error) { return nil, nil }

func (noCoordinator) DescribeGroup(context.Context, string) ([]Member, error) { return nil, nil }

func (noCoordinator) CommitOffset(context.Context, string, TopicPartition, int64) error {
	return fmt.Errorf("%w: no group coordinator configured", ErrInvalidRequest)
}
