package kplane

import "github.com/kplane/kplane/pkg/kplace"

// rackAwarePlacer is the default ReplicaPlacer, placing replicas as the
// brokers do when creating a topic.
type rackAwarePlacer struct {
	p *kplace.Placer
}

func (r rackAwarePlacer) Place(brokers []BrokerMeta, partitions, replicationFactor int) (map[int32][]int32, error) {
	bs := make([]kplace.Broker, 0, len(brokers))
	for _, b := range brokers {
		bs = append(bs, kplace.Broker{ID: b.NodeID, Rack: b.Rack})
	}
	return r.p.Assign(bs, partitions, replicationFactor)
}
