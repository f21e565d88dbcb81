package kplane

import "strconv"

// Coordination store layout, shared with the brokers and legacy consumers.
const (
	consumersPath      = "/consumers"
	brokerIDsPath      = "/brokers/ids"
	reassignPath       = "/admin/reassign_partitions"
	topicConfigsPath   = "/config/topics"
	configChangePrefix = "/config/changes/config_change_"
)

func groupPath(group string) string { return consumersPath + "/" + group }

func groupIDsPath(group string) string { return groupPath(group) + "/ids" }

func groupOffsetsPath(group string) string { return groupPath(group) + "/offsets" }

func groupTopicOffsetsPath(group, topic string) string {
	return groupOffsetsPath(group) + "/" + topic
}

func groupOffsetPath(group string, tp TopicPartition) string {
	return groupTopicOffsetsPath(group, tp.Topic) + "/" + strconv.Itoa(int(tp.Partition))
}

func groupOwnerPath(group string, tp TopicPartition) string {
	return groupPath(group) + "/owners/" + tp.Topic + "/" + strconv.Itoa(int(tp.Partition))
}

func brokerPath(id string) string { return brokerIDsPath + "/" + id }

func topicConfigPath(topic string) string { return topicConfigsPath + "/" + topic }
