// Package kzk provides a kplane.CoordStore backed by ZooKeeper.
package kzk

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
	"go.uber.org/zap"

	"github.com/kplane/kplane/pkg/kplane"
)

// Opt is an option to configure a Store.
type Opt interface {
	apply(*cfg)
}

type opt struct{ fn func(*cfg) }

func (o opt) apply(c *cfg) { o.fn(c) }

type cfg struct {
	logger         *zap.Logger
	acl            []zk.ACL
	sessionTimeout time.Duration
	connectTimeout time.Duration
}

// Logger sets the logger used for the store and for the ZooKeeper client's
// own logging, overriding the default no-op logger.
func Logger(l *zap.Logger) Opt {
	return opt{func(c *cfg) { c.logger = l }}
}

// ACL sets the ACL nodes are created with, overriding the default of
// zk.WorldACL(zk.PermAll).
func ACL(acl ...zk.ACL) Opt {
	return opt{func(c *cfg) { c.acl = acl }}
}

// SessionTimeout sets the ZooKeeper session timeout, overriding the default
// 10s.
func SessionTimeout(d time.Duration) Opt {
	return opt{func(c *cfg) { c.sessionTimeout = d }}
}

// ConnectTimeout sets how long Connect waits for a session to be
// established, overriding the default 10s. Zero does not wait.
func ConnectTimeout(d time.Duration) Opt {
	return opt{func(c *cfg) { c.connectTimeout = d }}
}

// Store is a CoordStore over a ZooKeeper session. It is safe for concurrent
// use.
type Store struct {
	conn *zk.Conn
	acl  []zk.ACL
	log  *zap.Logger
}

var _ kplane.CoordStore = (*Store)(nil)

// Connect opens a ZooKeeper session against the given servers and, unless
// ConnectTimeout is zero, waits for the session to be established.
func Connect(servers []string, opts ...Opt) (*Store, error) {
	c := cfg{
		logger:         zap.NewNop(),
		acl:            zk.WorldACL(zk.PermAll),
		sessionTimeout: 10 * time.Second,
		connectTimeout: 10 * time.Second,
	}
	for _, o := range opts {
		o.apply(&c)
	}
	if len(servers) == 0 {
		return nil, errors.New("kzk: no zookeeper servers")
	}

	conn, events, err := zk.Connect(servers, c.sessionTimeout, zk.WithLogger(newZKLogger(c.logger)))
	if err != nil {
		return nil, fmt.Errorf("kzk: unable to connect: %w", err)
	}
	s := &Store{conn: conn, acl: c.acl, log: c.logger}
	if c.connectTimeout <= 0 {
		return s, nil
	}

	timer := time.NewTimer(c.connectTimeout)
	defer timer.Stop()
	for {
		select {
		case ev := <-events:
			if ev.State == zk.StateHasSession {
				s.log.Info("zookeeper session established", zap.Strings("servers", servers), zap.Int64("session_id", conn.SessionID()))
				return s, nil
			}
			if ev.State == zk.StateAuthFailed {
				conn.Close()
				return nil, errors.New("kzk: zookeeper authentication failed")
			}
		case <-timer.C:
			conn.Close()
			return nil, fmt.Errorf("kzk: no zookeeper session after %v", c.connectTimeout)
		}
	}
}

// Close closes the session.
func (s *Store) Close() { s.conn.Close() }

func stat(st *zk.Stat) kplane.Stat {
	if st == nil {
		return kplane.Stat{}
	}
	return kplane.Stat{
		Mtime:   time.UnixMilli(st.Mtime),
		Version: st.Version,
	}
}

// mapErr maps zk.ErrNoNode to kplane.ErrNoNode.
func mapErr(p string, err error) error {
	if errors.Is(err, zk.ErrNoNode) {
		return fmt.Errorf("%w: %s", kplane.ErrNoNode, p)
	}
	return err
}

// Get returns the data at p.
func (s *Store) Get(p string) ([]byte, kplane.Stat, error) {
	data, st, err := s.conn.Get(p)
	if err != nil {
		return nil, kplane.Stat{}, mapErr(p, err)
	}
	return data, stat(st), nil
}

// Set creates or overwrites p, creating any missing parents.
func (s *Store) Set(p string, data []byte) error {
	for {
		_, err := s.conn.Set(p, data, -1)
		if !errors.Is(err, zk.ErrNoNode) {
			return err
		}
		if err := s.ensureParents(p); err != nil {
			return err
		}
		_, err = s.conn.Create(p, data, 0, s.acl)
		if !errors.Is(err, zk.ErrNodeExists) {
			return err
		}
		// Created concurrently; overwrite it.
	}
}

// CreateSequential creates a persistent sequential node under prefix.
func (s *Store) CreateSequential(prefix string, data []byte) (string, error) {
	if err := s.ensureParents(prefix); err != nil {
		return "", err
	}
	created, err := s.conn.Create(prefix, data, zk.FlagSequence, s.acl)
	if err != nil {
		return "", mapErr(prefix, err)
	}
	return created, nil
}

// Children returns the child names of p.
func (s *Store) Children(p string) ([]string, error) {
	children, _, err := s.conn.Children(p)
	if err != nil {
		return nil, mapErr(p, err)
	}
	return children, nil
}

// Exists returns whether p exists.
func (s *Store) Exists(p string) (kplane.Stat, bool, error) {
	ok, st, err := s.conn.Exists(p)
	if err != nil || !ok {
		return kplane.Stat{}, false, err
	}
	return stat(st), true, nil
}

// Delete deletes p and everything under it. Nodes that disappear
// concurrently are ignored.
func (s *Store) Delete(p string) error {
	children, _, err := s.conn.Children(p)
	if errors.Is(err, zk.ErrNoNode) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := s.Delete(path.Join(p, child)); err != nil {
			return err
		}
	}
	if err := s.conn.Delete(p, -1); err != nil && !errors.Is(err, zk.ErrNoNode) {
		return err
	}
	s.log.Debug("deleted node", zap.String("path", p))
	return nil
}

// ensureParents creates every missing ancestor of p.
func (s *Store) ensureParents(p string) error {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	cur := ""
	for _, part := range parts[:len(parts)-1] {
		cur += "/" + part
		_, err := s.conn.Create(cur, nil, 0, s.acl)
		if err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return fmt.Errorf("kzk: unable to create %s: %w", cur, err)
		}
	}
	return nil
}
