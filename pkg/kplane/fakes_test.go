package kplane

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeStore is an in-memory CoordStore.
type fakeStore struct {
	mu     sync.Mutex
	nodes  map[string]fakeNode
	seq    int
	writes int
	fail   map[string]error         // path => error returned from Get
	block  map[string]chan struct{} // path => Get waits until closed
}

type fakeNode struct {
	data    []byte
	mtime   time.Time
	version int32
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		nodes: map[string]fakeNode{"/": {}},
		fail:  make(map[string]error),
		block: make(map[string]chan struct{}),
	}
}

func (s *fakeStore) Get(path string) ([]byte, Stat, error) {
	s.mu.Lock()
	block := s.block[path]
	s.mu.Unlock()
	if block != nil {
		<-block
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[path]; err != nil {
		return nil, Stat{}, err
	}
	n, ok := s.nodes[path]
	if !ok {
		return nil, Stat{}, ErrNoNode
	}
	return append([]byte(nil), n.data...), Stat{Mtime: n.mtime, Version: n.version}, nil
}

func (s *fakeStore) Set(path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	s.setLocked(path, data)
	return nil
}

func (s *fakeStore) setLocked(path string, data []byte) {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i := 1; i < len(parts); i++ {
		parent := "/" + strings.Join(parts[:i], "/")
		if _, ok := s.nodes[parent]; !ok {
			s.nodes[parent] = fakeNode{mtime: time.Now()}
		}
	}
	n := s.nodes[path]
	s.nodes[path] = fakeNode{
		data:    append([]byte(nil), data...),
		mtime:   time.Now(),
		version: n.version + 1,
	}
}

func (s *fakeStore) CreateSequential(prefix string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	path := fmt.Sprintf("%s%010d", prefix, s.seq)
	s.seq++
	s.setLocked(path, data)
	return path, nil
}

func (s *fakeStore) Children(path string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[path]; err != nil {
		return nil, err
	}
	if _, ok := s.nodes[path]; !ok {
		return nil, ErrNoNode
	}
	prefix := strings.TrimSuffix(path, "/") + "/"
	var children []string
	for p := range s.nodes {
		if rest, ok := strings.CutPrefix(p, prefix); ok && rest != "" && !strings.Contains(rest, "/") {
			children = append(children, rest)
		}
	}
	sort.Strings(children)
	return children, nil
}

func (s *fakeStore) Exists(path string) (Stat, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[path]
	return Stat{Mtime: n.mtime, Version: n.version}, ok, nil
}

func (s *fakeStore) Delete(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	for p := range s.nodes {
		if p == path || strings.HasPrefix(p, path+"/") {
			delete(s.nodes, p)
		}
	}
	return nil
}

func (s *fakeStore) setString(path, data string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(path, []byte(data))
}

func (s *fakeStore) getString(path string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.nodes[path].data)
}

func (s *fakeStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// fakeMeta is an in-memory ClusterMetadata.
type fakeMeta struct {
	mu         sync.Mutex
	partitions map[string][]PartitionInfo
	starts     map[string]map[int32]int64
	ends       map[string]map[int32]int64
	brokers    []BrokerMeta
}

func newFakeMeta(brokers ...int32) *fakeMeta {
	m := &fakeMeta{
		partitions: make(map[string][]PartitionInfo),
		starts:     make(map[string]map[int32]int64),
		ends:       make(map[string]map[int32]int64),
	}
	for _, b := range brokers {
		m.brokers = append(m.brokers, BrokerMeta{NodeID: b, Host: fmt.Sprintf("broker-%d", b), Port: 9092})
	}
	return m
}

// addTopic adds a topic with one partition per replica list, every replica
// in sync and offsets [0, 0).
func (m *fakeMeta) addTopic(topic string, replicas ...[]int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.partitions[topic] = nil
	m.starts[topic] = make(map[int32]int64)
	m.ends[topic] = make(map[int32]int64)
	for p, rs := range replicas {
		m.partitions[topic] = append(m.partitions[topic], PartitionInfo{
			Topic:     topic,
			Partition: int32(p),
			Leader:    rs[0],
			Replicas:  rs,
			ISR:       rs,
		})
		m.starts[topic][int32(p)] = 0
		m.ends[topic][int32(p)] = 0
	}
}

func (m *fakeMeta) setOffsets(topic string, starts, ends []int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for p := range ends {
		m.starts[topic][int32(p)] = starts[p]
		m.ends[topic][int32(p)] = ends[p]
	}
}

func (m *fakeMeta) setReplicas(tp TopicPartition, replicas []int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.partitions[tp.Topic][tp.Partition].Replicas = replicas
}

func (m *fakeMeta) removeTopic(topic string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.partitions, topic)
	delete(m.starts, topic)
	delete(m.ends, topic)
}

func (m *fakeMeta) ListTopics(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var topics []string
	for t := range m.partitions {
		topics = append(topics, t)
	}
	return topics, nil
}

func (m *fakeMeta) PartitionsFor(_ context.Context, topic string) ([]PartitionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PartitionInfo(nil), m.partitions[topic]...), nil
}

func (m *fakeMeta) FetchOffsets(_ context.Context, topic string, pos OffsetPosition) (map[int32]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.ends[topic]
	if pos == OffsetEarliest {
		src = m.starts[topic]
	}
	out := make(map[int32]int64, len(src))
	for p, o := range src {
		out[p] = o
	}
	return out, nil
}

func (m *fakeMeta) Brokers(context.Context) ([]BrokerMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]BrokerMeta(nil), m.brokers...), nil
}

// fakeRegistry is a static GroupRegistry.
type fakeRegistry map[string]map[TopicPartition]CommittedOffset

func (r fakeRegistry) Get(group string) map[TopicPartition]CommittedOffset { return r[group] }

func (r fakeRegistry) GetAll() map[string]map[TopicPartition]CommittedOffset { return r }

// fakeCoordinator is an in-memory GroupCoordinator.
type fakeCoordinator struct {
	mu      sync.Mutex
	members map[string][]Member
	active  []string
	commits map[string]map[TopicPartition]int64
}

func newFakeCoordinator() *fakeCoordinator {
	return &fakeCoordinator{
		members: make(map[string][]Member),
		commits: make(map[string]map[TopicPartition]int64),
	}
}

func (c *fakeCoordinator) ListActiveGroups(context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.active...), nil
}

func (c *fakeCoordinator) DescribeGroup(_ context.Context, group string) ([]Member, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.members[group], nil
}

func (c *fakeCoordinator) CommitOffset(_ context.Context, group string, tp TopicPartition, offset int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.commits[group] == nil {
		c.commits[group] = make(map[TopicPartition]int64)
	}
	c.commits[group][tp] = offset
	return nil
}

// fakeTopicAdmin applies topic changes directly to a fakeMeta.
type fakeTopicAdmin struct {
	meta *fakeMeta

	stuck   bool // deletes are accepted but never take effect
	created map[string][][]int32
	grown   map[string][][]int32
}

func newFakeTopicAdmin(meta *fakeMeta) *fakeTopicAdmin {
	return &fakeTopicAdmin{
		meta:    meta,
		created: make(map[string][][]int32),
		grown:   make(map[string][][]int32),
	}
}

func (a *fakeTopicAdmin) CreateTopic(_ context.Context, name string, partitions int32, rf int16, _ map[string]string, assignment [][]int32) error {
	a.created[name] = assignment
	if len(assignment) == 0 {
		for p := int32(0); p < partitions; p++ {
			var rs []int32
			for r := int16(0); r < rf; r++ {
				rs = append(rs, int32(r)+1)
			}
			assignment = append(assignment, rs)
		}
	}
	a.meta.addTopic(name, assignment...)
	return nil
}

func (a *fakeTopicAdmin) DeleteTopic(_ context.Context, name string) error {
	if !a.stuck {
		a.meta.removeTopic(name)
	}
	return nil
}

func (a *fakeTopicAdmin) CreatePartitions(_ context.Context, topic string, total int32, assignment [][]int32) error {
	a.grown[topic] = assignment
	parts, _ := a.meta.PartitionsFor(context.Background(), topic)
	replicas := make([][]int32, 0, total)
	for _, p := range parts {
		replicas = append(replicas, p.Replicas)
	}
	for p := int32(len(parts)); p < total; p++ {
		replicas = append(replicas, parts[0].Replicas)
	}
	a.meta.addTopic(topic, replicas...)
	return nil
}

type testEnv struct {
	cl    *Client
	meta  *fakeMeta
	store *fakeStore
	coord *fakeCoordinator
	reg   fakeRegistry
	admin *fakeTopicAdmin
}

func newTestEnv(t *testing.T, opts ...Opt) *testEnv {
	t.Helper()
	env := &testEnv{
		meta:  newFakeMeta(1, 2, 3),
		store: newFakeStore(),
		coord: newFakeCoordinator(),
		reg:   make(fakeRegistry),
	}
	env.admin = newFakeTopicAdmin(env.meta)
	cl, err := NewClient(append([]Opt{
		WithMetadata(env.meta),
		WithStore(env.store),
		WithCoordinator(env.coord),
		WithRegistry(env.reg),
		WithTopicAdmin(env.admin),
		DeleteVerify(time.Millisecond, 3),
	}, opts...)...)
	if err != nil {
		t.Fatalf("unable to create client: %v", err)
	}
	env.cl = cl
	return env
}
