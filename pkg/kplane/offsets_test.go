package kplane

import (
	"context"
	"errors"
	"testing"
)

func TestResetOffsetLegacyLatest(t *testing.T) {
	env := newTestEnv(t)
	env.meta.addTopic("orders", []int32{1})
	env.meta.setOffsets("orders", []int64{3}, []int64{42})
	path := "/consumers/g2/offsets/orders/0"
	env.store.setString(path, "7")

	req := ResetRequest{
		Group:      "g2",
		Topic:      "orders",
		Partition:  0,
		Generation: GenerationLegacy,
		Target:     "latest",
	}
	at, err := env.cl.ResetOffset(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if at != 42 {
		t.Errorf("got offset %d != exp 42", at)
	}
	if got := env.store.getString(path); got != "42" {
		t.Errorf("got stored %q != exp \"42\"", got)
	}

	// Once a consumer registers, the same reset is rejected before writing.
	env.store.setString("/consumers/g2/ids/g2_host-1", "{}")
	writes := env.store.writeCount()
	req.Target = "earliest"
	if _, err := env.cl.ResetOffset(context.Background(), req); !errors.Is(err, ErrGroupActive) {
		t.Fatalf("got err %v != exp %v", err, ErrGroupActive)
	}
	if got := env.store.writeCount(); got != writes {
		t.Errorf("rejected reset wrote to the store")
	}
	if got := env.store.getString(path); got != "42" {
		t.Errorf("got stored %q after rejected reset != exp \"42\"", got)
	}
}

func TestResetOffsetCoordinator(t *testing.T) {
	env := newTestEnv(t)
	env.meta.addTopic("orders", []int32{1}, []int32{2})
	env.meta.setOffsets("orders", []int64{5, 5}, []int64{50, 50})
	env.reg["g1"] = map[TopicPartition]CommittedOffset{{"orders", 1}: {Offset: 9}}

	at, err := env.cl.ResetOffset(context.Background(), ResetRequest{
		Group:      "g1",
		Topic:      "orders",
		Partition:  1,
		Generation: GenerationCoordinator,
		Target:     "20",
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got := env.coord.commits["g1"][TopicPartition{"orders", 1}]; at != 20 || got != 20 {
		t.Errorf("got reset %d committed %d != exp 20", at, got)
	}
}

func TestResetOffsetErrors(t *testing.T) {
	env := newTestEnv(t)
	env.meta.addTopic("orders", []int32{1})
	env.meta.setOffsets("orders", []int64{10}, []int64{20})
	env.store.setString("/consumers/legacy/offsets/orders/0", "12")
	env.reg["idle"] = map[TopicPartition]CommittedOffset{{"orders", 0}: {Offset: 11}}
	env.coord.active = []string{"busy"}
	env.coord.members["busy"] = []Member{{ClientID: "c"}}

	for _, test := range []struct {
		name   string
		req    ResetRequest
		expErr error
	}{
		{"below start", ResetRequest{"legacy", "orders", 0, GenerationLegacy, "9"}, ErrOffsetOutOfRange},
		{"at end", ResetRequest{"legacy", "orders", 0, GenerationLegacy, "20"}, ErrOffsetOutOfRange},
		{"not a number", ResetRequest{"legacy", "orders", 0, GenerationLegacy, "newest"}, ErrInvalidRequest},
		{"unknown partition", ResetRequest{"legacy", "orders", 4, GenerationLegacy, "earliest"}, ErrUnknownTopic},
		{"unknown legacy group", ResetRequest{"idle", "orders", 0, GenerationLegacy, "earliest"}, ErrUnknownGroup},
		{"unknown coordinator group", ResetRequest{"legacy", "orders", 0, GenerationCoordinator, "earliest"}, ErrUnknownGroup},
		{"active coordinator group", ResetRequest{"busy", "orders", 0, GenerationCoordinator, "earliest"}, ErrGroupActive},
		{"no generation", ResetRequest{"legacy", "orders", 0, GenerationUnknown, "earliest"}, ErrInvalidRequest},
		{"no group", ResetRequest{"", "orders", 0, GenerationLegacy, "earliest"}, ErrInvalidRequest},
	} {
		t.Run(test.name, func(t *testing.T) {
			writes := env.store.writeCount()
			_, err := env.cl.ResetOffset(context.Background(), test.req)
			if !errors.Is(err, test.expErr) {
				t.Errorf("got err %v != exp %v", err, test.expErr)
			}
			if !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("got err %v, exp a client error", err)
			}
			if env.store.writeCount() != writes || len(env.coord.commits) != 0 {
				t.Errorf("rejected reset wrote")
			}
		})
	}
}

func TestDeleteLegacyGroup(t *testing.T) {
	env := newTestEnv(t)
	env.store.setString("/consumers/g/offsets/orders/0", "1")
	env.store.setString("/consumers/g/owners/orders/0", "g_c")
	env.store.setString("/consumers/busy/ids/c", "{}")

	ctx := context.Background()
	if err := env.cl.DeleteLegacyGroup(ctx, "busy"); !errors.Is(err, ErrGroupActive) {
		t.Errorf("got err %v != exp %v", err, ErrGroupActive)
	}
	if err := env.cl.DeleteLegacyGroup(ctx, "nope"); !errors.Is(err, ErrUnknownGroup) {
		t.Errorf("got err %v != exp %v", err, ErrUnknownGroup)
	}
	if err := env.cl.DeleteLegacyGroup(ctx, "g"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if _, ok, _ := env.store.Exists("/consumers/g/offsets/orders/0"); ok {
		t.Errorf("group offsets still exist after delete")
	}
}

func TestErrorClasses(t *testing.T) {
	for _, err := range []error{
		ErrInvalidTopic,
		ErrInvalidAssignment,
		ErrOffsetOutOfRange,
		ErrGroupActive,
		ErrUnknownGroup,
		ErrUnknownTopic,
	} {
		if !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("%v is not an invalid request", err)
		}
		if IsDependencyError(depErr("op", err)) {
			t.Errorf("%v was wrapped as a dependency error", err)
		}
	}

	if errors.Is(ErrTopicNotDeleted, ErrInvalidRequest) {
		t.Errorf("%v is an invalid request, exp a failed operation", ErrTopicNotDeleted)
	}

	inner := errors.New("zk: connection closed")
	err := depErr("read", inner)
	if !IsDependencyError(err) || !errors.Is(err, inner) || errors.Is(err, ErrInvalidRequest) {
		t.Errorf("got %v, exp a dependency error wrapping %v", err, inner)
	}
	if depErr("read", nil) != nil {
		t.Errorf("nil error was wrapped")
	}
}
