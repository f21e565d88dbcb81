package kplane

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestValidateTopicName(t *testing.T) {
	for _, test := range []struct {
		name  string
		valid bool
	}{
		{"orders", true},
		{"orders.v2_eu-west", true},
		{strings.Repeat("a", 249), true},
		{strings.Repeat("a", 250), false},
		{"", false},
		{".", false},
		{"..", false},
		{"orders/v2", false},
		{"orders v2", false},
		{"ördérs", false},
	} {
		err := ValidateTopicName(test.name)
		if gotValid := err == nil; gotValid != test.valid {
			t.Errorf("%q: got err %v, exp valid? %v", test.name, err, test.valid)
		}
		if err != nil && !errors.Is(err, ErrInvalidTopic) {
			t.Errorf("%q: got err %v != exp %v", test.name, err, ErrInvalidTopic)
		}
	}
}

func TestParseReplicaAssignment(t *testing.T) {
	for _, test := range []struct {
		in     string
		exp    [][]int32
		expErr bool
	}{
		{in: "1:2,2:3", exp: [][]int32{{1, 2}, {2, 3}}},
		{in: "1", exp: [][]int32{{1}}},
		{in: " 1 : 2 ", exp: [][]int32{{1, 2}}},
		{in: "1:1,2:3", expErr: true},
		{in: "1:x", expErr: true},
		{in: "1:2,", expErr: true},
	} {
		got, err := ParseReplicaAssignment(test.in)
		if gotErr := err != nil; gotErr != test.expErr {
			t.Errorf("%q: got err %v, exp err? %v", test.in, err, test.expErr)
			continue
		}
		if test.expErr {
			if !errors.Is(err, ErrInvalidAssignment) {
				t.Errorf("%q: got err %v != exp %v", test.in, err, ErrInvalidAssignment)
			}
			continue
		}
		if !reflect.DeepEqual(got, test.exp) {
			t.Errorf("%q: got %v != exp %v", test.in, got, test.exp)
		}
	}
}

func TestCreateTopic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	d, err := env.cl.CreateTopic(ctx, TopicSpec{Name: "orders", Partitions: 3, ReplicationFactor: 2}, "")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if d.PartitionCount != 3 || d.ReplicationFactor != 2 || len(d.Partitions) != 3 {
		t.Errorf("got %+v", d)
	}

	d, err = env.cl.CreateTopic(ctx, TopicSpec{Name: "manual"}, "1:2,2:3")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if exp := [][]int32{{1, 2}, {2, 3}}; !reflect.DeepEqual(env.admin.created["manual"], exp) {
		t.Errorf("got assignment %v != exp %v", env.admin.created["manual"], exp)
	}
	if d.PartitionCount != 2 {
		t.Errorf("got %d partitions != exp 2", d.PartitionCount)
	}

	for _, test := range []struct {
		name       string
		spec       TopicSpec
		assignment string
		expErr     error
	}{
		{"exists", TopicSpec{Name: "orders", Partitions: 1, ReplicationFactor: 1}, "", ErrInvalidTopic},
		{"bad name", TopicSpec{Name: "a/b", Partitions: 1, ReplicationFactor: 1}, "", ErrInvalidTopic},
		{"no partitions", TopicSpec{Name: "x", ReplicationFactor: 1}, "", ErrInvalidRequest},
		{"duplicate broker", TopicSpec{Name: "x"}, "1:1", ErrInvalidAssignment},
	} {
		t.Run(test.name, func(t *testing.T) {
			if _, err := env.cl.CreateTopic(ctx, test.spec, test.assignment); !errors.Is(err, test.expErr) {
				t.Errorf("got err %v != exp %v", err, test.expErr)
			}
		})
	}
}

func TestDeleteTopic(t *testing.T) {
	env := newTestEnv(t)
	env.meta.addTopic("orders", []int32{1})
	env.meta.addTopic("sticky", []int32{1})
	ctx := context.Background()

	if err := env.cl.DeleteTopic(ctx, "orders"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := env.cl.DeleteTopic(ctx, "orders"); !errors.Is(err, ErrUnknownTopic) {
		t.Errorf("got err %v != exp %v", err, ErrUnknownTopic)
	}

	env.admin.stuck = true
	start := time.Now()
	if err := env.cl.DeleteTopic(ctx, "sticky"); !errors.Is(err, ErrTopicNotDeleted) {
		t.Errorf("got err %v != exp %v", err, ErrTopicNotDeleted)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("delete verification was not bounded")
	}
}

func TestAddPartitions(t *testing.T) {
	env := newTestEnv(t)
	env.meta.addTopic("orders", []int32{1, 2}, []int32{2, 1})
	ctx := context.Background()

	for _, test := range []struct {
		name       string
		add        int
		assignment string
		expErr     error
	}{
		{"nothing to add", 0, "", ErrInvalidRequest},
		{"wrong id", 1, "0:5", ErrInvalidAssignment},
		{"duplicate id", 1, "1:1", ErrInvalidAssignment},
		{"wrong length", 1, "0", ErrInvalidAssignment},
		{"wrong count", 2, "0:1", ErrInvalidAssignment},
	} {
		t.Run(test.name, func(t *testing.T) {
			if _, err := env.cl.AddPartitions(ctx, "orders", test.add, test.assignment); !errors.Is(err, test.expErr) {
				t.Errorf("got err %v != exp %v", err, test.expErr)
			}
		})
	}
	if _, err := env.cl.AddPartitions(ctx, "missing", 1, ""); !errors.Is(err, ErrUnknownTopic) {
		t.Errorf("got err %v != exp %v", err, ErrUnknownTopic)
	}

	d, err := env.cl.AddPartitions(ctx, "orders", 1, "1:0")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if d.PartitionCount != 3 {
		t.Errorf("got %d partitions != exp 3", d.PartitionCount)
	}
	if exp := [][]int32{{1, 0}}; !reflect.DeepEqual(env.admin.grown["orders"], exp) {
		t.Errorf("got assignment %v != exp %v", env.admin.grown["orders"], exp)
	}
}

func TestDescribeTopic(t *testing.T) {
	env := newTestEnv(t)
	env.meta.addTopic("orders", []int32{1, 2}, []int32{2, 3})
	env.meta.setOffsets("orders", []int64{5, 0}, []int64{15, 0})
	env.meta.partitions["orders"][1].ISR = []int32{2}
	env.store.setString("/config/topics/orders", `{"version":1,"config":{"retention.ms":"1000"}}`)

	d, err := env.cl.DescribeTopic(context.Background(), "orders")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	exp := TopicDetail{
		Topic:             "orders",
		PartitionCount:    2,
		ReplicationFactor: 2,
		Configs:           map[string]string{"retention.ms": "1000"},
		Partitions: []PartitionDetail{
			{Partition: 0, Leader: 1, Replicas: []int32{1, 2}, ISR: []int32{1, 2}, InSync: true, Window: OffsetWindow{5, 15}, MessagesAvailable: 10},
			{Partition: 1, Leader: 2, Replicas: []int32{2, 3}, ISR: []int32{2}, Window: OffsetWindow{0, 0}},
		},
	}
	if !reflect.DeepEqual(d, exp) {
		t.Errorf("got %+v\nexp %+v", d, exp)
	}

	briefs, err := env.cl.ListTopicBriefs(context.Background())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if exp := []TopicBrief{{Topic: "orders", Partitions: 2, InSyncRatio: 0.75}}; !reflect.DeepEqual(briefs, exp) {
		t.Errorf("got %+v != exp %+v", briefs, exp)
	}
}

func TestListBrokers(t *testing.T) {
	env := newTestEnv(t)
	env.store.setString("/brokers/ids/2", `{"host":"b2","port":9092,"endpoints":["PLAINTEXT://b2:9092"],"jmx_port":-1,"timestamp":"1700000000000","version":4}`)
	env.store.setString("/brokers/ids/1", `{"host":"b1","port":9093,"rack":"r1","endpoints":["PLAINTEXT://b1:9093"],"jmx_port":9999,"timestamp":"1700000000000","version":4}`)

	brokers, err := env.cl.ListBrokers(context.Background())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	registered := time.UnixMilli(1_700_000_000_000)
	exp := []BrokerDetail{
		{ID: 1, Host: "b1", Port: 9093, Rack: "r1", Endpoints: []string{"PLAINTEXT://b1:9093"}, JMXPort: 9999, Registered: registered},
		{ID: 2, Host: "b2", Port: 9092, Endpoints: []string{"PLAINTEXT://b2:9092"}, JMXPort: -1, Registered: registered},
	}
	if !reflect.DeepEqual(brokers, exp) {
		t.Errorf("got %+v\nexp %+v", brokers, exp)
	}
}
