package kregistry

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/twmb/franz-go/pkg/kfake"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
	"go.uber.org/zap"

	"github.com/kplane/kplane/pkg/kplane"
)

func commitKey(group, topic string, partition int32) []byte {
	k := kmsg.NewOffsetCommitKey()
	k.Version = 1
	k.Group = group
	k.Topic = topic
	k.Partition = partition
	return k.AppendTo(nil)
}

func commitValue(offset int64, at time.Time) []byte {
	v := kmsg.NewOffsetCommitValue()
	v.Version = 3
	v.Offset = offset
	v.LeaderEpoch = -1
	v.CommitTimestamp = at.UnixMilli()
	return v.AppendTo(nil)
}

func metadataKey(group string) []byte {
	k := kmsg.NewGroupMetadataKey()
	k.Version = 2
	k.Group = group
	return k.AppendTo(nil)
}

func newTestRegistry() *Registry {
	return &Registry{
		log:    zap.NewNop(),
		groups: make(map[string]map[kplane.TopicPartition]kplane.CommittedOffset),
	}
}

func TestApply(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_000)
	r := newTestRegistry()

	for _, rec := range []*kgo.Record{
		{Key: commitKey("g1", "orders", 0), Value: commitValue(10, at)},
		{Key: commitKey("g1", "orders", 1), Value: commitValue(20, at)},
		{Key: commitKey("g1", "orders", 0), Value: commitValue(11, at)},
		{Key: commitKey("g2", "audit", 0), Value: commitValue(5, at)},
		{Key: commitKey("g2", "audit", 0)}, // tombstone
		{Key: metadataKey("g1"), Value: []byte("ignored")},
		{Key: []byte{0}},
		{Key: commitKey("g3", "orders", 0), Value: []byte{0, 3}},
	} {
		r.apply(rec)
	}

	exp := map[string]map[kplane.TopicPartition]kplane.CommittedOffset{
		"g1": {
			{Topic: "orders", Partition: 0}: {Offset: 11, CommitTime: at},
			{Topic: "orders", Partition: 1}: {Offset: 20, CommitTime: at},
		},
	}
	if got := r.GetAll(); !reflect.DeepEqual(got, exp) {
		t.Errorf("got %v != exp %v", got, exp)
	}
	if got := r.Get("g2"); got != nil {
		t.Errorf("got %v for tombstoned group, exp nil", got)
	}
	if got, exp := r.Ingested(), int64(5); got != exp {
		t.Errorf("got ingested %d != exp %d", got, exp)
	}
	if got, exp := r.Skipped(), int64(2); got != exp {
		t.Errorf("got skipped %d != exp %d", got, exp)
	}

	// Returned maps are copies.
	r.Get("g1")[kplane.TopicPartition{Topic: "x"}] = kplane.CommittedOffset{}
	if len(r.Get("g1")) != 2 {
		t.Errorf("mutating a returned map changed the registry")
	}
}

func TestRunTailsTopic(t *testing.T) {
	const topic = "offsets-test"
	c, err := kfake.NewCluster(kfake.NumBrokers(1), kfake.SeedTopics(1, topic))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)

	producer, err := kgo.NewClient(kgo.SeedBrokers(c.ListenAddrs()...))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(producer.Close)

	at := time.UnixMilli(1_700_000_000_000)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := producer.ProduceSync(ctx,
		&kgo.Record{Topic: topic, Key: commitKey("g1", "orders", 0), Value: commitValue(10, at)},
		&kgo.Record{Topic: topic, Key: commitKey("g1", "orders", 0), Value: commitValue(15, at)},
	).FirstErr(); err != nil {
		t.Fatalf("unable to produce: %v", err)
	}

	r, err := New(Topic(topic), ClientOpts(kgo.SeedBrokers(c.ListenAddrs()...)))
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()
	t.Cleanup(func() {
		r.Close()
		<-done
	})

	if err := r.WaitCaughtUp(ctx); err != nil {
		t.Fatalf("registry never caught up: %v", err)
	}
	tp := kplane.TopicPartition{Topic: "orders", Partition: 0}
	if c, ok := r.Get("g1")[tp]; !ok || c.Offset != 15 {
		t.Errorf("got commit %+v (found? %v), exp offset 15", c, ok)
	}
	if r.Groups() != 1 {
		t.Errorf("got %d groups != exp 1", r.Groups())
	}
}
