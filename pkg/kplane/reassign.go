package kplane

import (
	"context"
	"fmt"
	"slices"

	"github.com/twmb/franz-go/pkg/kgo"
)

// ReassignmentStatus is the classification of one partition of a submitted
// reassignment.
type ReassignmentStatus int8

const (
	// ReassignInProgress partitions are still in the in-progress registry.
	ReassignInProgress ReassignmentStatus = iota
	// ReassignCompleted partitions have left the registry and their live
	// replica set equals the target.
	ReassignCompleted
	// ReassignFailed partitions have left the registry but their live
	// replica set differs from the target.
	ReassignFailed
)

func (s ReassignmentStatus) String() string {
	switch s {
	case ReassignInProgress:
		return "IN_PROGRESS"
	case ReassignCompleted:
		return "COMPLETED"
	case ReassignFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// ReassignmentPlan is a target replica assignment, and the live assignment
// of the same partitions when the plan was made.
type ReassignmentPlan struct {
	Target  map[TopicPartition][]int32
	Current map[TopicPartition][]int32
}

// PlanRequest is a request to plan a reassignment onto a set of brokers.
type PlanRequest struct {
	// Brokers is the target broker set. Every replica in the plan must be
	// one of these.
	Brokers []int32

	// Assignment is an explicit target assignment. If nil, an assignment
	// is generated for every partition of Topics.
	Assignment map[TopicPartition][]int32

	// Topics are the topics to generate an assignment for when Assignment
	// is nil. Generated assignments keep each topic's partition count and
	// replication factor.
	Topics []string
}

// PlanReassignment validates an explicit assignment, or generates one, and
// returns it with a snapshot of the partitions' current assignment. Nothing
// is submitted.
//
// Every replica must be in the target broker set, no replica list may be
// empty or repeat a broker, and every partition must exist.
func (cl *Client) PlanReassignment(ctx context.Context, req PlanRequest) (ReassignmentPlan, error) {
	if len(req.Brokers) == 0 {
		return ReassignmentPlan{}, fmt.Errorf("%w: no target brokers", ErrInvalidAssignment)
	}
	brokers := make(map[int32]struct{}, len(req.Brokers))
	for _, b := range req.Brokers {
		brokers[b] = struct{}{}
	}

	live := make(liveAssignments)
	plan := ReassignmentPlan{
		Target:  req.Assignment,
		Current: make(map[TopicPartition][]int32),
	}
	if plan.Target == nil {
		var err error
		if plan.Target, err = cl.generatePlan(ctx, brokers, req.Topics, live); err != nil {
			return ReassignmentPlan{}, err
		}
	}
	if len(plan.Target) == 0 {
		return ReassignmentPlan{}, fmt.Errorf("%w: empty reassignment", ErrInvalidAssignment)
	}

	for _, tp := range sortedKeys(plan.Target) {
		if err := validateReplicas(tp, plan.Target[tp], brokers); err != nil {
			return ReassignmentPlan{}, err
		}
		current, ok, err := live.lookup(ctx, cl.cfg.meta, tp)
		if err != nil {
			return ReassignmentPlan{}, err
		}
		if !ok {
			return ReassignmentPlan{}, fmt.Errorf("%w: %s", ErrUnknownTopic, tp)
		}
		plan.Current[tp] = current
	}
	return plan, nil
}

func (cl *Client) generatePlan(ctx context.Context, targets map[int32]struct{}, topics []string, live liveAssignments) (map[TopicPartition][]int32, error) {
	if len(topics) == 0 {
		return nil, fmt.Errorf("%w: no topics to generate an assignment for", ErrInvalidRequest)
	}
	all, err := cl.cfg.meta.Brokers(ctx)
	if err != nil {
		return nil, depErr("list brokers", err)
	}
	var brokers []BrokerMeta
	for _, b := range all {
		if _, ok := targets[b.NodeID]; ok {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) != len(targets) {
		return nil, fmt.Errorf("%w: %d of %d target brokers are not live", ErrInvalidAssignment, len(targets)-len(brokers), len(targets))
	}

	target := make(map[TopicPartition][]int32)
	for _, topic := range topics {
		parts, err := live.topic(ctx, cl.cfg.meta, topic)
		if err != nil {
			return nil, err
		}
		if len(parts) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
		}
		rf := len(parts[0].Replicas)
		placed, err := cl.cfg.placer.Place(brokers, len(parts), rf)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAssignment, err)
		}
		for p, replicas := range placed {
			target[TopicPartition{topic, p}] = replicas
		}
	}
	return target, nil
}

// SubmitReassignment submits the plan's target assignment verbatim. This
// returns validation errors and errors reaching the reassigner; whether the
// reassignment succeeds is only visible through CheckReassignment.
func (cl *Client) SubmitReassignment(ctx context.Context, plan ReassignmentPlan) error {
	if len(plan.Target) == 0 {
		return fmt.Errorf("%w: empty reassignment", ErrInvalidAssignment)
	}
	for _, tp := range sortedKeys(plan.Target) {
		if err := validateReplicas(tp, plan.Target[tp], nil); err != nil {
			return err
		}
	}
	if err := cl.cfg.reassigner.Submit(ctx, plan.Target); err != nil {
		return depErr("submit reassignment", err)
	}
	cl.log.Log(kgo.LogLevelInfo, "submitted partition reassignment", "partitions", len(plan.Target), "topics", sortedKeys(plan.Target).Topics())
	return nil
}

// ExecuteReassignment submits the plan and returns its immediate status.
func (cl *Client) ExecuteReassignment(ctx context.Context, plan ReassignmentPlan) (map[TopicPartition]ReassignmentStatus, error) {
	if err := cl.SubmitReassignment(ctx, plan); err != nil {
		return nil, err
	}
	return cl.CheckReassignment(ctx, plan)
}

// CheckReassignment classifies every partition of a submitted plan.
//
// A partition still in the in-progress registry is ReassignInProgress.
// Otherwise its live replica set is compared against the target as a set:
// equal is ReassignCompleted, different is ReassignFailed. A partition in
// neither the registry nor live metadata cannot be classified and is
// omitted.
//
// This only reads, holds no locks, and can be called any number of times;
// calls without an intervening state change return the same result.
func (cl *Client) CheckReassignment(ctx context.Context, plan ReassignmentPlan) (map[TopicPartition]ReassignmentStatus, error) {
	inProgress, err := cl.cfg.reassigner.InProgress(ctx)
	if err != nil {
		return nil, depErr("read in progress reassignments", err)
	}

	live := make(liveAssignments)
	statuses := make(map[TopicPartition]ReassignmentStatus, len(plan.Target))
	for _, tp := range sortedKeys(plan.Target) {
		if _, ok := inProgress[tp]; ok {
			statuses[tp] = ReassignInProgress
			continue
		}
		current, ok, err := live.lookup(ctx, cl.cfg.meta, tp)
		if err != nil {
			return nil, err
		}
		if !ok {
			cl.log.Log(kgo.LogLevelDebug, "omitting reassignment status of partition missing from metadata", "topic", tp.Topic, "partition", tp.Partition)
			continue
		}
		if sameReplicaSet(current, plan.Target[tp]) {
			statuses[tp] = ReassignCompleted
		} else {
			statuses[tp] = ReassignFailed
		}
	}
	return statuses, nil
}

// validateReplicas checks that a replica list is non-empty, has no
// duplicates, and, if brokers is non-nil, only uses the given brokers.
func validateReplicas(tp TopicPartition, replicas []int32, brokers map[int32]struct{}) error {
	if len(replicas) == 0 {
		return fmt.Errorf("%w: %s has no replicas", ErrInvalidAssignment, tp)
	}
	seen := make(map[int32]struct{}, len(replicas))
	for _, r := range replicas {
		if _, ok := seen[r]; ok {
			return fmt.Errorf("%w: %s repeats broker %d", ErrInvalidAssignment, tp, r)
		}
		seen[r] = struct{}{}
		if brokers == nil {
			continue
		}
		if _, ok := brokers[r]; !ok {
			return fmt.Errorf("%w: %s uses broker %d outside the target set", ErrInvalidAssignment, tp, r)
		}
	}
	return nil
}

func sameReplicaSet(l, r []int32) bool {
	if len(l) != len(r) {
		return false
	}
	l, r = slices.Clone(l), slices.Clone(r)
	slices.Sort(l)
	slices.Sort(r)
	return slices.Equal(l, r)
}

// liveAssignments caches topic metadata for the duration of one call.
type liveAssignments map[string][]PartitionInfo

func (l liveAssignments) topic(ctx context.Context, meta ClusterMetadata, topic string) ([]PartitionInfo, error) {
	if parts, ok := l[topic]; ok {
		return parts, nil
	}
	parts, err := meta.PartitionsFor(ctx, topic)
	if err != nil {
		return nil, depErr("list partitions", err)
	}
	l[topic] = parts
	return parts, nil
}

func (l liveAssignments) lookup(ctx context.Context, meta ClusterMetadata, tp TopicPartition) ([]int32, bool, error) {
	parts, err := l.topic(ctx, meta, tp.Topic)
	if err != nil {
		return nil, false, err
	}
	for _, p := range parts {
		if p.Partition == tp.Partition {
			return p.Replicas, true, nil
		}
	}
	return nil, false, nil
}
