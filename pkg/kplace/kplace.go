// Package kplace implements the broker's replica placement algorithm, used
// to generate replica assignments for new topics and for reassignment plans.
//
// Without racks, replicas are spread round robin: the first replica of each
// partition walks the broker list from a random start, and the following
// replicas are offset from it by a shift that grows every full lap so that
// replica sets do not repeat. With racks, the broker list is first reordered
// to alternate racks, and each follower replica is placed on a rack and a
// broker that do not yet hold a replica of the partition, until every rack
// or every broker holds one.
//
// Either every broker has a rack or none do; a partially racked cluster is
// rejected.
package kplace

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"
)

// Broker is a broker that replicas can be placed on.
type Broker struct {
	ID   int32
	Rack string // empty if the broker has no rack
}

// Placer assigns replicas to brokers. A Placer is safe for concurrent use.
type Placer struct {
	mu  sync.Mutex
	rng *rand.Rand

	fixed        bool
	fixedStart   int
	fixedShifted int
}

// Opt is an option to configure a Placer.
type Opt interface {
	apply(*Placer)
}

type placerOpt struct{ fn func(*Placer) }

func (o placerOpt) apply(p *Placer) { o.fn(p) }

// Seed seeds the random start index and shift, overriding the default of
// seeding from the current time.
func Seed(seed int64) Opt {
	return placerOpt{func(p *Placer) { p.rng = rand.New(rand.NewSource(seed)) }}
}

// FixedStart uses the given start index and initial shift instead of random
// ones, making every placement deterministic.
func FixedStart(start, shift int) Opt {
	return placerOpt{func(p *Placer) {
		p.fixed = true
		p.fixedStart = start
		p.fixedShifted = shift
	}}
}

// New returns a new Placer.
func New(opts ...Opt) *Placer {
	p := &Placer{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
	for _, opt := range opts {
		opt.apply(p)
	}
	return p
}

var (
	// ErrNoBrokers is returned when placing onto an empty broker list.
	ErrNoBrokers = errors.New("no brokers to place replicas on")
	// ErrPartialRacks is returned when some but not all brokers have a
	// rack.
	ErrPartialRacks = errors.New("not all brokers have rack information")
)

// Assign places replicationFactor replicas of each of partitions partitions
// onto brokers. The result is keyed by partition number, 0 through
// partitions-1, and the first replica of each list is the preferred leader.
func (p *Placer) Assign(brokers []Broker, partitions, replicationFactor int) (map[int32][]int32, error) {
	if len(brokers) == 0 {
		return nil, ErrNoBrokers
	}
	if partitions <= 0 {
		return nil, fmt.Errorf("number of partitions %d must be larger than 0", partitions)
	}
	if replicationFactor <= 0 {
		return nil, fmt.Errorf("replication factor %d must be larger than 0", replicationFactor)
	}
	if replicationFactor > len(brokers) {
		return nil, fmt.Errorf("replication factor %d larger than available brokers %d", replicationFactor, len(brokers))
	}

	racks := make(map[int32]string, len(brokers))
	var racked int
	seen := make(map[int32]struct{}, len(brokers))
	for _, b := range brokers {
		if _, ok := seen[b.ID]; ok {
			return nil, fmt.Errorf("broker %d listed twice", b.ID)
		}
		seen[b.ID] = struct{}{}
		if b.Rack != "" {
			racks[b.ID] = b.Rack
			racked++
		}
	}

	start, shift := p.startAndShift(len(brokers))
	switch racked {
	case 0:
		ids := make([]int32, 0, len(brokers))
		for _, b := range brokers {
			ids = append(ids, b.ID)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		return assignRackUnaware(ids, partitions, replicationFactor, start, shift), nil
	case len(brokers):
		return assignRackAware(racks, partitions, replicationFactor, start, shift), nil
	default:
		return nil, ErrPartialRacks
	}
}

func (p *Placer) startAndShift(n int) (int, int) {
	if p.fixed {
		return p.fixedStart, p.fixedShifted
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Intn(n), p.rng.Intn(n)
}

func assignRackUnaware(brokers []int32, partitions, rf, start, shift int) map[int32][]int32 {
	n := len(brokers)
	out := make(map[int32][]int32, partitions)
	for p := 0; p < partitions; p++ {
		if p > 0 && p%n == 0 {
			shift++
		}
		first := (p + start) % n
		replicas := []int32{brokers[first]}
		for j := 0; j < rf-1; j++ {
			replicas = append(replicas, brokers[replicaIndex(first, shift, j, n)])
		}
		out[int32(p)] = replicas
	}
	return out
}

func assignRackAware(racks map[int32]string, partitions, rf, start, shift int) map[int32][]int32 {
	arranged := rackAlternated(racks)
	numBrokers := len(arranged)
	numRacks := len(rackSet(racks))

	out := make(map[int32][]int32, partitions)
	for p := 0; p < partitions; p++ {
		if p > 0 && p%numBrokers == 0 {
			shift++
		}
		first := (p + start) % numBrokers
		leader := arranged[first]
		replicas := []int32{leader}
		usedRacks := map[string]struct{}{racks[leader]: {}}
		usedBrokers := map[int32]struct{}{leader: {}}

		k := 0
		for range rf - 1 {
			for {
				broker := arranged[replicaIndex(first, shift*numRacks, k, numBrokers)]
				rack := racks[broker]
				k++

				_, rackUsed := usedRacks[rack]
				_, brokerUsed := usedBrokers[broker]
				if (!rackUsed || len(usedRacks) == numRacks) &&
					(!brokerUsed || len(usedBrokers) == numBrokers) {
					replicas = append(replicas, broker)
					usedRacks[rack] = struct{}{}
					usedBrokers[broker] = struct{}{}
					break
				}
			}
		}
		out[int32(p)] = replicas
	}
	return out
}

func replicaIndex(first, shift, j, n int) int {
	s := 1 + (shift+j)%(n-1)
	return (first + s) % n
}

func rackSet(racks map[int32]string) map[string][]int32 {
	byRack := make(map[string][]int32)
	for id, rack := range racks {
		byRack[rack] = append(byRack[rack], id)
	}
	for _, ids := range byRack {
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}
	return byRack
}

// rackAlternated orders brokers so that consecutive brokers are on
// different racks where possible: racks are visited in sorted order, taking
// the next lowest broker id from each in turn.
func rackAlternated(racks map[int32]string) []int32 {
	byRack := rackSet(racks)
	names := make([]string, 0, len(byRack))
	for rack := range byRack {
		names = append(names, rack)
	}
	sort.Strings(names)

	out := make([]int32, 0, len(racks))
	next := make(map[string]int, len(names))
	for i := 0; len(out) < len(racks); i = (i + 1) % len(names) {
		rack := names[i]
		if at := next[rack]; at < len(byRack[rack]) {
			out = append(out, byRack[rack][at])
			next[rack] = at + 1
		}
	}
	return out
}
