package kplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"github.com/twmb/franz-go/pkg/kgo"
)

type topicConfigJSON struct {
	Version int               `json:"version"`
	Config  map[string]string `json:"config"`
}

type configChangeJSON struct {
	Version    int    `json:"version"`
	EntityPath string `json:"entity_path"`
}

// TopicConfig returns a topic's config overrides. A topic with no overrides
// returns an empty map.
func (cl *Client) TopicConfig(_ context.Context, topic string) (map[string]string, error) {
	raw, _, err := cl.cfg.store.Get(topicConfigPath(topic))
	if errors.Is(err, ErrNoNode) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, depErr("read topic config", err)
	}
	var c topicConfigJSON
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, depErr("decode topic config", err)
	}
	if c.Config == nil {
		c.Config = make(map[string]string)
	}
	return c.Config, nil
}

// TopicConfigKey returns one config override of a topic, and whether it is
// set.
func (cl *Client) TopicConfigKey(ctx context.Context, topic, key string) (string, bool, error) {
	configs, err := cl.TopicConfig(ctx, topic)
	if err != nil {
		return "", false, err
	}
	v, ok := configs[key]
	return v, ok, nil
}

// SetTopicConfig merges the given overrides into a topic's config and
// returns the resulting config.
func (cl *Client) SetTopicConfig(ctx context.Context, topic string, configs map[string]string) (map[string]string, error) {
	current, err := cl.TopicConfig(ctx, topic)
	if err != nil {
		return nil, err
	}
	maps.Copy(current, configs)
	return cl.ReplaceTopicConfig(ctx, topic, current)
}

// ReplaceTopicConfig replaces a topic's config overrides entirely and returns
// the resulting config.
func (cl *Client) ReplaceTopicConfig(ctx context.Context, topic string, configs map[string]string) (map[string]string, error) {
	if err := cl.writeTopicConfig(ctx, topic, configs); err != nil {
		return nil, err
	}
	return cl.TopicConfig(ctx, topic)
}

// DeleteTopicConfig removes the given keys from a topic's config overrides
// and returns the resulting config.
func (cl *Client) DeleteTopicConfig(ctx context.Context, topic string, keys ...string) (map[string]string, error) {
	current, err := cl.TopicConfig(ctx, topic)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		delete(current, k)
	}
	return cl.ReplaceTopicConfig(ctx, topic, current)
}

// SetTopicConfigKey sets one config override and verifies it by reading it
// back.
func (cl *Client) SetTopicConfigKey(ctx context.Context, topic, key, value string) error {
	configs, err := cl.SetTopicConfig(ctx, topic, map[string]string{key: value})
	if err != nil {
		return err
	}
	if got, ok := configs[key]; !ok || got != value {
		return &DependencyError{Op: "set topic config", Err: fmt.Errorf("read back %s=%q after writing %q", key, got, value)}
	}
	return nil
}

// DeleteTopicConfigKey removes one config override and returns whether it is
// now unset.
func (cl *Client) DeleteTopicConfigKey(ctx context.Context, topic, key string) (bool, error) {
	configs, err := cl.DeleteTopicConfig(ctx, topic, key)
	if err != nil {
		return false, err
	}
	_, ok := configs[key]
	return !ok, nil
}

// writeTopicConfig writes a topic's config and notifies the brokers of the
// change through a sequential change node.
func (cl *Client) writeTopicConfig(ctx context.Context, topic string, configs map[string]string) error {
	exists, err := cl.TopicExists(ctx, topic)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	if configs == nil {
		configs = make(map[string]string)
	}

	data, err := json.Marshal(topicConfigJSON{Version: 1, Config: configs})
	if err != nil {
		return err
	}
	if err := cl.cfg.store.Set(topicConfigPath(topic), data); err != nil {
		return depErr("write topic config", err)
	}

	change, err := json.Marshal(configChangeJSON{Version: 2, EntityPath: "topics/" + topic})
	if err != nil {
		return err
	}
	path, err := cl.cfg.store.CreateSequential(configChangePrefix, change)
	if err != nil {
		return depErr("notify topic config change", err)
	}
	cl.log.Log(kgo.LogLevelInfo, "changed topic config", "topic", topic, "configs", len(configs), "notification", path)
	return nil
}
