package httpapi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kplane/kplane/pkg/kplane"
)

type memStore struct {
	mu    sync.Mutex
	nodes map[string][]byte
	seq   int
}

func newMemStore() *memStore {
	return &memStore{nodes: map[string][]byte{"/": nil}}
}

func (s *memStore) Get(path string) ([]byte, kplane.Stat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.nodes[path]
	if !ok {
		return nil, kplane.Stat{}, kplane.ErrNoNode
	}
	return data, kplane.Stat{Mtime: time.Unix(1_700_000_000, 0)}, nil
}

func (s *memStore) Set(path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(path, data)
	return nil
}

func (s *memStore) set(path string, data []byte) {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i := 1; i < len(parts); i++ {
		parent := "/" + strings.Join(parts[:i], "/")
		if _, ok := s.nodes[parent]; !ok {
			s.nodes[parent] = nil
		}
	}
	s.nodes[path] = append([]byte(nil), data...)
}

func (s *memStore) CreateSequential(prefix string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := fmt.Sprintf("%s%010d", prefix, s.seq)
	s.seq++
	s.set(path, data)
	return path, nil
}

func (s *memStore) Children(path string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[path]; !ok {
		return nil, kplane.ErrNoNode
	}
	var children []string
	for p := range s.nodes {
		if rest, ok := strings.CutPrefix(p, path+"/"); ok && rest != "" && !strings.Contains(rest, "/") {
			children = append(children, rest)
		}
	}
	sort.Strings(children)
	return children, nil
}

func (s *memStore) Exists(path string) (kplane.Stat, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.nodes[path]
	return kplane.Stat{}, ok, nil
}

func (s *memStore) Delete(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p := range s.nodes {
		if p == path || strings.HasPrefix(p, path+"/") {
			delete(s.nodes, p)
		}
	}
	return nil
}

// memCluster is cluster metadata, a topic admin, and a group coordinator.
// Every partition has every broker as a replica.
type memCluster struct {
	mu      sync.Mutex
	brokers []int32
	topics  map[string][]kplane.PartitionInfo
	ends    map[string]map[int32]int64
	members map[string][]kplane.Member
	commits map[string]map[kplane.TopicPartition]int64
	down    error
}

func newMemCluster(brokers ...int32) *memCluster {
	return &memCluster{
		brokers: brokers,
		topics:  make(map[string][]kplane.PartitionInfo),
		ends:    make(map[string]map[int32]int64),
		members: make(map[string][]kplane.Member),
		commits: make(map[string]map[kplane.TopicPartition]int64),
	}
}

func (c *memCluster) addTopic(topic string, ends ...int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addTopicLocked(topic, len(ends), nil)
	for p, end := range ends {
		c.ends[topic][int32(p)] = end
	}
}

func (c *memCluster) addTopicLocked(topic string, partitions int, assignment [][]int32) {
	c.ends[topic] = make(map[int32]int64)
	for p := len(c.topics[topic]); p < partitions; p++ {
		replicas := c.brokers
		if p < len(assignment) {
			replicas = assignment[p]
		}
		c.topics[topic] = append(c.topics[topic], kplane.PartitionInfo{
			Topic:     topic,
			Partition: int32(p),
			Leader:    replicas[0],
			Replicas:  replicas,
			ISR:       replicas,
		})
		c.ends[topic][int32(p)] = 0
	}
}

func (c *memCluster) ListTopics(context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down != nil {
		return nil, c.down
	}
	var topics []string
	for t := range c.topics {
		topics = append(topics, t)
	}
	return topics, nil
}

func (c *memCluster) PartitionsFor(_ context.Context, topic string) ([]kplane.PartitionInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down != nil {
		return nil, c.down
	}
	return append([]kplane.PartitionInfo(nil), c.topics[topic]...), nil
}

func (c *memCluster) FetchOffsets(_ context.Context, topic string, pos kplane.OffsetPosition) (map[int32]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down != nil {
		return nil, c.down
	}
	out := make(map[int32]int64)
	for p, end := range c.ends[topic] {
		if pos == kplane.OffsetLatest {
			out[p] = end
		} else {
			out[p] = 0
		}
	}
	return out, nil
}

func (c *memCluster) Brokers(context.Context) ([]kplane.BrokerMeta, error) {
	var bs []kplane.BrokerMeta
	for _, b := range c.brokers {
		bs = append(bs, kplane.BrokerMeta{NodeID: b})
	}
	return bs, nil
}

func (c *memCluster) ListActiveGroups(context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var groups []string
	for g := range c.members {
		groups = append(groups, g)
	}
	return groups, nil
}

func (c *memCluster) DescribeGroup(_ context.Context, group string) ([]kplane.Member, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.members[group], nil
}

func (c *memCluster) CommitOffset(_ context.Context, group string, tp kplane.TopicPartition, offset int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.commits[group] == nil {
		c.commits[group] = make(map[kplane.TopicPartition]int64)
	}
	c.commits[group][tp] = offset
	return nil
}

func (c *memCluster) CreateTopic(_ context.Context, name string, partitions int32, _ int16, _ map[string]string, assignment [][]int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(assignment) > 0 {
		partitions = int32(len(assignment))
	}
	c.addTopicLocked(name, int(partitions), assignment)
	return nil
}

func (c *memCluster) DeleteTopic(_ context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.topics[name]; !ok {
		return errors.New("UNKNOWN_TOPIC_OR_PARTITION")
	}
	delete(c.topics, name)
	delete(c.ends, name)
	return nil
}

func (c *memCluster) CreatePartitions(_ context.Context, topic string, total int32, _ [][]int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ends := c.ends[topic]
	c.addTopicLocked(topic, int(total), nil)
	for p, end := range ends {
		c.ends[topic][p] = end
	}
	return nil
}
