package kplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

type reassignmentJSON struct {
	Version    int                         `json:"version"`
	Partitions []reassignmentPartitionJSON `json:"partitions"`
}

type reassignmentPartitionJSON struct {
	Topic     string  `json:"topic"`
	Partition int32   `json:"partition"`
	Replicas  []int32 `json:"replicas"`
}

// EncodeAssignment encodes an assignment in the broker's reassignment JSON
// format, partitions sorted by topic, then partition:
//
//	{"version":1,"partitions":[{"topic":"foo","partition":0,"replicas":[1,2]}]}
func EncodeAssignment(assignment map[TopicPartition][]int32) ([]byte, error) {
	out := reassignmentJSON{
		Version:    1,
		Partitions: make([]reassignmentPartitionJSON, 0, len(assignment)),
	}
	for _, tp := range sortedKeys(assignment) {
		out.Partitions = append(out.Partitions, reassignmentPartitionJSON{
			Topic:     tp.Topic,
			Partition: tp.Partition,
			Replicas:  assignment[tp],
		})
	}
	return json.Marshal(out)
}

// DecodeAssignment decodes the reassignment JSON format. A partition listed
// twice is an error.
func DecodeAssignment(data []byte) (map[TopicPartition][]int32, error) {
	var in reassignmentJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAssignment, err)
	}
	out := make(map[TopicPartition][]int32, len(in.Partitions))
	for _, p := range in.Partitions {
		tp := TopicPartition{p.Topic, p.Partition}
		if p.Topic == "" {
			return nil, fmt.Errorf("%w: partition %d has no topic", ErrInvalidAssignment, p.Partition)
		}
		if _, ok := out[tp]; ok {
			return nil, fmt.Errorf("%w: %s is listed twice", ErrInvalidAssignment, tp)
		}
		out[tp] = p.Replicas
	}
	return out, nil
}

type topicsToMoveJSON struct {
	Version int `json:"version"`
	Topics  []struct {
		Topic string `json:"topic"`
	} `json:"topics"`
}

// DecodeTopicsToMove decodes the list of topics to generate a reassignment
// for:
//
//	{"version":1,"topics":[{"topic":"foo"},{"topic":"bar"}]}
func DecodeTopicsToMove(data []byte) ([]string, error) {
	var in topicsToMoveJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	topics := make([]string, 0, len(in.Topics))
	for _, t := range in.Topics {
		topics = append(topics, t.Topic)
	}
	return orderedUnion(topics), nil
}

// StoreReassigner submits reassignments by writing them to the coordination
// store's /admin/reassign_partitions node, which the controller broker
// watches and removes partitions from as they complete.
type StoreReassigner struct {
	Store CoordStore
}

// Submit creates or overwrites the reassignment node. Overlapping
// submissions are last write wins.
func (r *StoreReassigner) Submit(_ context.Context, target map[TopicPartition][]int32) error {
	data, err := EncodeAssignment(target)
	if err != nil {
		return err
	}
	return r.Store.Set(reassignPath, data)
}

// InProgress returns the partitions remaining in the reassignment node.
func (r *StoreReassigner) InProgress(context.Context) (map[TopicPartition][]int32, error) {
	data, _, err := r.Store.Get(reassignPath)
	if errors.Is(err, ErrNoNode) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return DecodeAssignment(data)
}
