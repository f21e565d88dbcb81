package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kzap"
	"go.uber.org/zap"

	"github.com/kplane/kplane/internal/config"
	"github.com/kplane/kplane/internal/metrics"
	"github.com/kplane/kplane/pkg/kmeta"
	"github.com/kplane/kplane/pkg/kplane"
	"github.com/kplane/kplane/pkg/kregistry"
	"github.com/kplane/kplane/pkg/kzk"
)

// stack is every dependency of a kplane.Client, built from the config.
type stack struct {
	log     *zap.Logger
	metrics *metrics.Registry

	kcl      *kgo.Client
	zk       *kzk.Store
	registry *kregistry.Registry
	cl       *kplane.Client

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// newStack connects to the cluster and the coordination store. If
// withRegistry is true, the offsets topic is tailed in the background until
// Close.
func newStack(c config.Config, log *zap.Logger, withRegistry bool) (*stack, error) {
	s := &stack{
		log:     log,
		metrics: metrics.NewRegistry(metrics.DefaultConfig()),
	}

	seed := []kgo.Opt{
		kgo.SeedBrokers(c.Kafka.Brokers...),
		kgo.ClientID(c.Kafka.ClientID),
		kgo.WithLogger(kzap.New(log.Named("kgo"))),
	}
	kcl, err := kgo.NewClient(append(seed, kgo.WithHooks(s.metrics.KgoHooks("admin")))...)
	if err != nil {
		return nil, fmt.Errorf("unable to create kafka client: %w", err)
	}
	s.kcl = kcl

	zks, err := kzk.Connect(c.ZooKeeper.Servers,
		kzk.Logger(log),
		kzk.SessionTimeout(c.ZooKeeper.SessionTimeout),
		kzk.ConnectTimeout(c.ZooKeeper.ConnectTimeout),
	)
	if err != nil {
		kcl.Close()
		return nil, err
	}
	s.zk = zks

	admin := kmeta.New(kcl, kmeta.RequestTimeout(c.Kafka.RequestTimeout))
	opts := []kplane.Opt{
		kplane.WithMetadata(admin),
		kplane.WithStore(zks),
		kplane.WithCoordinator(admin),
		kplane.WithTopicAdmin(admin),
		kplane.WithLogger(kzap.New(log.Named("kplane"))),
		kplane.LegacyWorkers(c.Groups.LegacyWorkers),
		kplane.FetchTimeout(c.Groups.FetchTimeout),
		kplane.DeleteVerify(c.Topics.DeleteVerifyInterval, c.Topics.DeleteVerifyTries),
	}
	if c.Kafka.NativeReassign {
		opts = append(opts, kplane.WithReassigner(admin.Reassigner()))
	}

	if withRegistry {
		reg, err := kregistry.New(
			kregistry.Topic(c.Kafka.OffsetsTopic),
			kregistry.Logger(log),
			kregistry.ClientOpts(append(seed, kgo.WithHooks(s.metrics.KgoHooks("registry")))...),
		)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.registry = reg
		s.metrics.WatchGroups(reg)
		opts = append(opts, kplane.WithRegistry(reg))

		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			reg.Run(ctx)
		}()
	}

	if s.cl, err = kplane.NewClient(opts...); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// catchUp waits for the registry to read the offsets topic to its current
// end. A registry that is still behind when ctx is done only logs a
// warning; group commands then work with what was read so far.
func (s *stack) catchUp(ctx context.Context) {
	if s.registry == nil {
		return
	}
	if err := s.registry.WaitCaughtUp(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.log.Warn("group registry is not caught up, coordinator group offsets may be stale", zap.Error(err))
			return
		}
		s.log.Warn("unable to check group registry progress", zap.Error(err))
	}
}

// Close stops the registry and closes every connection.
func (s *stack) Close() {
	if s.registry != nil {
		if s.cancel != nil {
			s.cancel()
		}
		s.registry.Close()
		s.wg.Wait()
	}
	if s.zk != nil {
		s.zk.Close()
	}
	if s.kcl != nil {
		s.kcl.Close()
	}
	_ = s.log.Sync()
}
