// Package kmeta implements the kplane capabilities that talk to brokers:
// cluster metadata, coordinator group listing and commits, topic
// administration, and broker native partition reassignment.
//
// Everything goes through a kadm.Client wrapping the given kgo.Client, except
// for manual replica assignments on topic and partition creation, which kadm
// does not expose and which are issued as raw kmsg requests.
package kmeta

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/kplane/kplane/pkg/kplane"
)

// Opt is an option to configure an Admin.
type Opt interface {
	apply(*Admin)
}

type opt struct{ fn func(*Admin) }

func (o opt) apply(a *Admin) { o.fn(a) }

// RequestTimeout sets the broker side timeout for topic creation, deletion,
// and partition growth, overriding the default 15s.
func RequestTimeout(d time.Duration) Opt {
	return opt{func(a *Admin) { a.timeout = d }}
}

// Admin is the broker facing side of kplane. It implements
// kplane.ClusterMetadata, kplane.GroupCoordinator, and kplane.TopicAdmin.
type Admin struct {
	cl      *kgo.Client
	adm     *kadm.Client
	timeout time.Duration
}

var (
	_ kplane.ClusterMetadata  = (*Admin)(nil)
	_ kplane.GroupCoordinator = (*Admin)(nil)
	_ kplane.TopicAdmin       = (*Admin)(nil)
)

// New returns an Admin using the given client. The client is not closed by
// the Admin.
func New(cl *kgo.Client, opts ...Opt) *Admin {
	a := &Admin{
		cl:      cl,
		adm:     kadm.NewClient(cl),
		timeout: 15 * time.Second,
	}
	for _, o := range opts {
		o.apply(a)
	}
	a.adm.SetTimeoutMillis(int32(a.timeout.Milliseconds()))
	return a
}

// Kadm returns the underlying admin client.
func (a *Admin) Kadm() *kadm.Client { return a.adm }

// isUnknown returns whether err means a topic or partition does not exist.
func isUnknown(err error) bool {
	return errors.Is(err, kerr.UnknownTopicOrPartition)
}

// ListTopics returns every non-internal topic.
func (a *Admin) ListTopics(ctx context.Context) ([]string, error) {
	tds, err := a.adm.ListTopics(ctx)
	if err != nil {
		return nil, err
	}
	if err := tds.Error(); err != nil {
		return nil, err
	}
	return tds.Names(), nil
}

// PartitionsFor returns a topic's partitions sorted by partition, or nil if
// the topic does not exist.
func (a *Admin) PartitionsFor(ctx context.Context, topic string) ([]kplane.PartitionInfo, error) {
	md, err := a.adm.Metadata(ctx, topic)
	if err != nil {
		return nil, err
	}
	td, ok := md.Topics[topic]
	if !ok || isUnknown(td.Err) {
		return nil, nil
	}
	if td.Err != nil {
		return nil, td.Err
	}
	parts := make([]kplane.PartitionInfo, 0, len(td.Partitions))
	for _, pd := range td.Partitions.Sorted() {
		if pd.Err != nil && !errors.Is(pd.Err, kerr.LeaderNotAvailable) && !errors.Is(pd.Err, kerr.ReplicaNotAvailable) {
			return nil, fmt.Errorf("%s[%d]: %w", topic, pd.Partition, pd.Err)
		}
		parts = append(parts, kplane.PartitionInfo{
			Topic:     topic,
			Partition: pd.Partition,
			Leader:    pd.Leader,
			Replicas:  pd.Replicas,
			ISR:       pd.ISR,
		})
	}
	return parts, nil
}

// FetchOffsets returns the start or end offset of every partition of a
// topic, or an empty map if the topic does not exist.
func (a *Admin) FetchOffsets(ctx context.Context, topic string, pos kplane.OffsetPosition) (map[int32]int64, error) {
	list := a.adm.ListEndOffsets
	if pos == kplane.OffsetEarliest {
		list = a.adm.ListStartOffsets
	}
	listed, err := list(ctx, topic)
	if err != nil {
		return nil, err
	}
	out := make(map[int32]int64, len(listed[topic]))
	for p, o := range listed[topic] {
		if isUnknown(o.Err) {
			continue
		}
		if o.Err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", topic, p, o.Err)
		}
		out[p] = o.Offset
	}
	return out, nil
}

// Brokers returns the live brokers sorted by node id.
func (a *Admin) Brokers(ctx context.Context) ([]kplane.BrokerMeta, error) {
	md, err := a.adm.BrokerMetadata(ctx)
	if err != nil {
		return nil, err
	}
	brokers := make([]kplane.BrokerMeta, 0, len(md.Brokers))
	for _, b := range md.Brokers {
		bm := kplane.BrokerMeta{
			NodeID: b.NodeID,
			Host:   b.Host,
			Port:   b.Port,
		}
		if b.Rack != nil {
			bm.Rack = *b.Rack
		}
		brokers = append(brokers, bm)
	}
	sort.Slice(brokers, func(i, j int) bool { return brokers[i].NodeID < brokers[j].NodeID })
	return brokers, nil
}

// ListActiveGroups returns every group known to a coordinator, sorted.
func (a *Admin) ListActiveGroups(ctx context.Context) ([]string, error) {
	listed, err := a.adm.ListGroups(ctx)
	if err != nil {
		return nil, err
	}
	return listed.Groups(), nil
}

// DescribeGroup returns the live members of a consumer group and their
// assigned partitions. Groups that do not exist, or that are not consumer
// groups, have no members.
func (a *Admin) DescribeGroup(ctx context.Context, group string) ([]kplane.Member, error) {
	described, err := a.adm.DescribeGroups(ctx, group)
	if err != nil {
		return nil, err
	}
	dg, ok := described[group]
	if !ok {
		return nil, nil
	}
	if dg.Err != nil {
		if errors.Is(dg.Err, kerr.GroupIDNotFound) {
			return nil, nil
		}
		return nil, dg.Err
	}

	members := make([]kplane.Member, 0, len(dg.Members))
	for _, m := range dg.Members {
		member := kplane.Member{
			MemberID:   m.MemberID,
			ClientID:   m.ClientID,
			ClientHost: m.ClientHost,
		}
		if assigned, ok := m.Assigned.AsConsumer(); ok {
			for _, t := range assigned.Topics {
				for _, p := range t.Partitions {
					member.Assigned = append(member.Assigned, kplane.TopicPartition{Topic: t.Topic, Partition: p})
				}
			}
		}
		members = append(members, member)
	}
	return members, nil
}

// CommitOffset commits an offset for a group. The group must have no live
// members, which the coordinator enforces.
func (a *Admin) CommitOffset(ctx context.Context, group string, tp kplane.TopicPartition, offset int64) error {
	var os kadm.Offsets
	os.Add(kadm.Offset{
		Topic:       tp.Topic,
		Partition:   tp.Partition,
		At:          offset,
		LeaderEpoch: -1,
	})
	return a.adm.CommitAllOffsets(ctx, group, os)
}

// CreateTopic creates a topic, with a manual replica assignment if one is
// given.
func (a *Admin) CreateTopic(ctx context.Context, name string, partitions int32, rf int16, configs map[string]string, assignment [][]int32) error {
	if len(assignment) == 0 {
		resp, err := a.adm.CreateTopic(ctx, partitions, rf, stringPtrs(configs), name)
		if err != nil {
			return err
		}
		return resp.Err
	}

	req := kmsg.NewPtrCreateTopicsRequest()
	req.TimeoutMillis = int32(a.timeout.Milliseconds())
	rt := kmsg.NewCreateTopicsRequestTopic()
	rt.Topic = name
	rt.NumPartitions = -1
	rt.ReplicationFactor = -1
	for p, replicas := range assignment {
		ra := kmsg.NewCreateTopicsRequestTopicReplicaAssignment()
		ra.Partition = int32(p)
		ra.Replicas = replicas
		rt.ReplicaAssignment = append(rt.ReplicaAssignment, ra)
	}
	for k, v := range stringPtrs(configs) {
		rc := kmsg.NewCreateTopicsRequestTopicConfig()
		rc.Name = k
		rc.Value = v
		rt.Configs = append(rt.Configs, rc)
	}
	req.Topics = append(req.Topics, rt)

	resp, err := req.RequestWith(ctx, a.cl)
	if err != nil {
		return err
	}
	for _, t := range resp.Topics {
		if err := errWithMessage(t.ErrorCode, t.ErrorMessage); err != nil {
			return err
		}
	}
	return nil
}

// DeleteTopic deletes a topic.
func (a *Admin) DeleteTopic(ctx context.Context, name string) error {
	resp, err := a.adm.DeleteTopic(ctx, name)
	if err != nil {
		return err
	}
	return resp.Err
}

// CreatePartitions grows a topic to total partitions, with a manual replica
// assignment for the new partitions if one is given.
func (a *Admin) CreatePartitions(ctx context.Context, topic string, total int32, assignment [][]int32) error {
	req := kmsg.NewPtrCreatePartitionsRequest()
	req.TimeoutMillis = int32(a.timeout.Milliseconds())
	rt := kmsg.NewCreatePartitionsRequestTopic()
	rt.Topic = topic
	rt.Count = total
	for _, replicas := range assignment {
		ra := kmsg.NewCreatePartitionsRequestTopicAssignment()
		ra.Replicas = replicas
		rt.Assignment = append(rt.Assignment, ra)
	}
	req.Topics = append(req.Topics, rt)

	resp, err := req.RequestWith(ctx, a.cl)
	if err != nil {
		return err
	}
	for _, t := range resp.Topics {
		if err := errWithMessage(t.ErrorCode, t.ErrorMessage); err != nil {
			return err
		}
	}
	return nil
}

// RetriableError reports whether err is a broker error that is safe to
// retry.
func RetriableError(err error) bool {
	return kerr.IsRetriable(err)
}

func errWithMessage(code int16, msg *string) error {
	err := kerr.ErrorForCode(code)
	if err == nil {
		return nil
	}
	if msg != nil && *msg != "" {
		return fmt.Errorf("%w: %s", err, *msg)
	}
	return err
}

func stringPtrs(m map[string]string) map[string]*string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]*string, len(m))
	for k, v := range m {
		out[k] = kadm.StringPtr(v)
	}
	return out
}
