package kplane

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestPlanReassignmentExplicit(t *testing.T) {
	env := newTestEnv(t)
	env.meta.addTopic("orders", []int32{1, 2}, []int32{2, 3})

	plan, err := env.cl.PlanReassignment(context.Background(), PlanRequest{
		Brokers: []int32{2, 3, 4},
		Assignment: map[TopicPartition][]int32{
			{"orders", 0}: {3, 4},
			{"orders", 1}: {4, 2},
		},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	expCurrent := map[TopicPartition][]int32{
		{"orders", 0}: {1, 2},
		{"orders", 1}: {2, 3},
	}
	if !reflect.DeepEqual(plan.Current, expCurrent) {
		t.Errorf("got current %v != exp %v", plan.Current, expCurrent)
	}

	for _, test := range []struct {
		name       string
		brokers    []int32
		assignment map[TopicPartition][]int32
		expErr     error
	}{
		{"no brokers", nil, map[TopicPartition][]int32{{"orders", 0}: {1}}, ErrInvalidAssignment},
		{"outside target", []int32{1, 2}, map[TopicPartition][]int32{{"orders", 0}: {1, 3}}, ErrInvalidAssignment},
		{"duplicate broker", []int32{1, 2}, map[TopicPartition][]int32{{"orders", 0}: {1, 1}}, ErrInvalidAssignment},
		{"no replicas", []int32{1, 2}, map[TopicPartition][]int32{{"orders", 0}: {}}, ErrInvalidAssignment},
		{"empty", []int32{1, 2}, map[TopicPartition][]int32{}, ErrInvalidAssignment},
		{"unknown partition", []int32{1, 2}, map[TopicPartition][]int32{{"orders", 9}: {1}}, ErrUnknownTopic},
		{"unknown topic", []int32{1, 2}, map[TopicPartition][]int32{{"nope", 0}: {1}}, ErrUnknownTopic},
	} {
		t.Run(test.name, func(t *testing.T) {
			_, err := env.cl.PlanReassignment(context.Background(), PlanRequest{
				Brokers:    test.brokers,
				Assignment: test.assignment,
			})
			if !errors.Is(err, test.expErr) {
				t.Errorf("got err %v != exp %v", err, test.expErr)
			}
		})
	}
}

func TestPlanReassignmentAuto(t *testing.T) {
	for _, test := range []struct {
		partitions int
		rf         int
	}{
		{1, 1},
		{3, 2},
		{8, 3},
		{20, 3},
	} {
		env := newTestEnv(t)
		var replicas [][]int32
		for p := 0; p < test.partitions; p++ {
			rs := []int32{1, 2, 3}[:test.rf]
			replicas = append(replicas, rs)
		}
		env.meta.addTopic("orders", replicas...)

		plan, err := env.cl.PlanReassignment(context.Background(), PlanRequest{
			Brokers: []int32{1, 2, 3},
			Topics:  []string{"orders"},
		})
		if err != nil {
			t.Fatalf("partitions %d rf %d: unexpected err: %v", test.partitions, test.rf, err)
		}
		if len(plan.Target) != test.partitions {
			t.Errorf("got %d planned partitions != exp %d", len(plan.Target), test.partitions)
		}
		for tp, rs := range plan.Target {
			if len(rs) != test.rf {
				t.Errorf("%s: got %v, exp %d replicas", tp, rs, test.rf)
			}
			seen := make(map[int32]bool)
			for _, r := range rs {
				if r < 1 || r > 3 || seen[r] {
					t.Errorf("%s: invalid replicas %v", tp, rs)
				}
				seen[r] = true
			}
		}
	}

	env := newTestEnv(t)
	env.meta.addTopic("orders", []int32{1})
	if _, err := env.cl.PlanReassignment(context.Background(), PlanRequest{
		Brokers: []int32{1, 9},
		Topics:  []string{"orders"},
	}); !errors.Is(err, ErrInvalidAssignment) {
		t.Errorf("dead broker: got err %v != exp %v", err, ErrInvalidAssignment)
	}
	if _, err := env.cl.PlanReassignment(context.Background(), PlanRequest{
		Brokers: []int32{1},
		Topics:  []string{"missing"},
	}); !errors.Is(err, ErrUnknownTopic) {
		t.Errorf("missing topic: got err %v != exp %v", err, ErrUnknownTopic)
	}
}

func TestReassignmentLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.meta.addTopic("orders", []int32{1, 2}, []int32{2, 3}, []int32{3, 1})
	ctx := context.Background()

	plan := ReassignmentPlan{Target: map[TopicPartition][]int32{
		{"orders", 0}: {2, 3},
		{"orders", 1}: {3, 1},
		{"orders", 2}: {1, 2},
		{"gone", 0}:   {1, 2},
	}}
	statuses, err := env.cl.ExecuteReassignment(ctx, plan)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	exp := map[TopicPartition]ReassignmentStatus{
		{"orders", 0}: ReassignInProgress,
		{"orders", 1}: ReassignInProgress,
		{"orders", 2}: ReassignInProgress,
		{"gone", 0}:   ReassignInProgress,
	}
	if !reflect.DeepEqual(statuses, exp) {
		t.Errorf("got %v != exp %v", statuses, exp)
	}

	// The controller finishes: partition 0 moves, partition 1 does not,
	// partition 2 is still moving, and the "gone" topic was deleted.
	env.meta.setReplicas(TopicPartition{"orders", 0}, []int32{3, 2})
	data, err := EncodeAssignment(map[TopicPartition][]int32{{"orders", 2}: {1, 2}})
	if err != nil {
		t.Fatal(err)
	}
	env.store.setString("/admin/reassign_partitions", string(data))

	exp = map[TopicPartition]ReassignmentStatus{
		{"orders", 0}: ReassignCompleted,
		{"orders", 1}: ReassignFailed,
		{"orders", 2}: ReassignInProgress,
	}
	for i := 0; i < 3; i++ {
		statuses, err := env.cl.CheckReassignment(ctx, plan)
		if err != nil {
			t.Fatalf("check %d: unexpected err: %v", i, err)
		}
		if !reflect.DeepEqual(statuses, exp) {
			t.Errorf("check %d: got %v != exp %v", i, statuses, exp)
		}
	}
}

func TestSubmitReassignmentWritesPlan(t *testing.T) {
	env := newTestEnv(t)
	target := map[TopicPartition][]int32{
		{"b", 0}: {1},
		{"a", 1}: {2, 1},
	}
	if err := env.cl.SubmitReassignment(context.Background(), ReassignmentPlan{Target: target}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	exp := `{"version":1,"partitions":[{"topic":"a","partition":1,"replicas":[2,1]},{"topic":"b","partition":0,"replicas":[1]}]}`
	if got := env.store.getString("/admin/reassign_partitions"); got != exp {
		t.Errorf("got %s != exp %s", got, exp)
	}

	err := env.cl.SubmitReassignment(context.Background(), ReassignmentPlan{Target: map[TopicPartition][]int32{{"a", 0}: {1, 1}}})
	if !errors.Is(err, ErrInvalidAssignment) {
		t.Errorf("got err %v != exp %v", err, ErrInvalidAssignment)
	}
}

func TestDecodeAssignment(t *testing.T) {
	for _, test := range []struct {
		name   string
		in     string
		exp    map[TopicPartition][]int32
		expErr bool
	}{
		{
			name: "ok",
			in:   `{"version":1,"partitions":[{"topic":"a","partition":0,"replicas":[1,2]}]}`,
			exp:  map[TopicPartition][]int32{{"a", 0}: {1, 2}},
		},
		{
			name:   "duplicate",
			in:     `{"partitions":[{"topic":"a","partition":0,"replicas":[1]},{"topic":"a","partition":0,"replicas":[2]}]}`,
			expErr: true,
		},
		{name: "no topic", in: `{"partitions":[{"partition":0,"replicas":[1]}]}`, expErr: true},
		{name: "garbage", in: `{`, expErr: true},
	} {
		t.Run(test.name, func(t *testing.T) {
			got, err := DecodeAssignment([]byte(test.in))
			if gotErr := err != nil; gotErr != test.expErr {
				t.Fatalf("got err %v, exp err? %v", err, test.expErr)
			}
			if !test.expErr && !reflect.DeepEqual(got, test.exp) {
				t.Errorf("got %v != exp %v", got, test.exp)
			}
		})
	}

	topics, err := DecodeTopicsToMove([]byte(`{"version":1,"topics":[{"topic":"b"},{"topic":"a"},{"topic":"b"}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if exp := []string{"b", "a"}; !reflect.DeepEqual(topics, exp) {
		t.Errorf("got %v != exp %v", topics, exp)
	}
}
