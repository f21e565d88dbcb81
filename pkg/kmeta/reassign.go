package kmeta

import (
	"context"
	"fmt"
	"slices"

	"github.com/twmb/franz-go/pkg/kadm"

	"github.com/kplane/kplane/pkg/kplane"
)

// Reassigner submits reassignments with AlterPartitionAssignments and reads
// the in-progress registry with ListPartitionReassignments, for clusters
// where the controller does not watch the coordination store.
type Reassigner struct {
	adm *kadm.Client
}

var _ kplane.Reassigner = (*Reassigner)(nil)

// Reassigner returns a broker native reassigner.
func (a *Admin) Reassigner() *Reassigner {
	return &Reassigner{adm: a.adm}
}

// Submit alters the assignment of every partition in target. The first
// partition level error is returned.
func (r *Reassigner) Submit(ctx context.Context, target map[kplane.TopicPartition][]int32) error {
	req := make(kadm.AlterPartitionAssignmentsReq)
	for tp, replicas := range target {
		req.Assign(tp.Topic, tp.Partition, replicas)
	}
	resps, err := r.adm.AlterPartitionAssignments(ctx, req)
	if err != nil {
		return err
	}
	for t, ps := range resps {
		for p, resp := range ps {
			if resp.Err != nil {
				if resp.ErrMessage != "" {
					return fmt.Errorf("%s[%d]: %w: %s", t, p, resp.Err, resp.ErrMessage)
				}
				return fmt.Errorf("%s[%d]: %w", t, p, resp.Err)
			}
		}
	}
	return nil
}

// InProgress lists every ongoing reassignment and its target replicas.
// While a partition moves, the broker reports the union of its old and new
// replicas, so the replicas being removed are subtracted.
func (r *Reassigner) InProgress(ctx context.Context) (map[kplane.TopicPartition][]int32, error) {
	resps, err := r.adm.ListPartitionReassignments(ctx, nil)
	if err != nil {
		return nil, err
	}
	out := make(map[kplane.TopicPartition][]int32)
	for t, ps := range resps {
		for p, resp := range ps {
			out[kplane.TopicPartition{Topic: t, Partition: p}] = targetReplicas(resp.Replicas, resp.RemovingReplicas)
		}
	}
	return out, nil
}

// targetReplicas returns replicas without removing, keeping replica order.
func targetReplicas(replicas, removing []int32) []int32 {
	target := make([]int32, 0, len(replicas))
	for _, r := range replicas {
		if !slices.Contains(removing, r) {
			target = append(target, r)
		}
	}
	return target
}
