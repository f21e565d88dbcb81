package httpapi

import (
	"maps"
	"net/http"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kplane/kplane/pkg/kplane"
)

type partitionResponse struct {
	Partition         int32   `json:"partition"`
	Leader            int32   `json:"leader"`
	Replicas          []int32 `json:"replicas"`
	ISR               []int32 `json:"isr"`
	InSync            bool    `json:"in_sync"`
	StartOffset       int64   `json:"start_offset"`
	EndOffset         int64   `json:"end_offset"`
	MessagesAvailable int64   `json:"messages_available"`
}

type topicResponse struct {
	Topic             string              `json:"topic"`
	PartitionCount    int                 `json:"partition_count"`
	ReplicationFactor int                 `json:"replication_factor"`
	Configs           map[string]string   `json:"configs"`
	Partitions        []partitionResponse `json:"partitions"`
}

func newTopicResponse(d kplane.TopicDetail) topicResponse {
	resp := topicResponse{
		Topic:             d.Topic,
		PartitionCount:    d.PartitionCount,
		ReplicationFactor: d.ReplicationFactor,
		Configs:           d.Configs,
		Partitions:        make([]partitionResponse, 0, len(d.Partitions)),
	}
	for _, p := range d.Partitions {
		resp.Partitions = append(resp.Partitions, partitionResponse{
			Partition:         p.Partition,
			Leader:            p.Leader,
			Replicas:          p.Replicas,
			ISR:               p.ISR,
			InSync:            p.InSync,
			StartOffset:       p.Window.Start,
			EndOffset:         p.Window.End,
			MessagesAvailable: p.MessagesAvailable,
		})
	}
	return resp
}

type briefResponse struct {
	Topic       string  `json:"topic"`
	Partitions  int     `json:"partitions"`
	InSyncRatio float64 `json:"in_sync_ratio"`
}

func (s *Server) listTopics(w http.ResponseWriter, r *http.Request) {
	if brief, _ := strconv.ParseBool(r.URL.Query().Get("brief")); brief {
		briefs, err := s.cl.ListTopicBriefs(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		resp := make([]briefResponse, 0, len(briefs))
		for _, b := range briefs {
			resp = append(resp, briefResponse(b))
		}
		writeJSON(w, http.StatusOK, map[string]any{"topics": resp})
		return
	}

	topics, err := s.cl.ListTopics(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if topics == nil {
		topics = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"topics": topics})
}

type createTopicRequest struct {
	Name              string            `json:"name"`
	Partitions        int32             `json:"partitions"`
	ReplicationFactor int16             `json:"replication_factor"`
	Configs           map[string]string `json:"configs"`
	// ReplicaAssignment is "1:2,2:3": one colon separated broker list
	// per partition.
	ReplicaAssignment string `json:"replica_assignment"`
}

func (s *Server) createTopic(w http.ResponseWriter, r *http.Request) {
	var req createTopicRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	d, err := s.cl.CreateTopic(r.Context(), kplane.TopicSpec{
		Name:              req.Name,
		Partitions:        req.Partitions,
		ReplicationFactor: req.ReplicationFactor,
		Configs:           req.Configs,
	}, req.ReplicaAssignment)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newTopicResponse(d))
}

func (s *Server) describeTopic(w http.ResponseWriter, r *http.Request) {
	d, err := s.cl.DescribeTopic(r.Context(), chi.URLParam(r, "topic"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTopicResponse(d))
}

func (s *Server) deleteTopic(w http.ResponseWriter, r *http.Request) {
	if err := s.cl.DeleteTopic(r.Context(), chi.URLParam(r, "topic")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addPartitionsRequest struct {
	Add               int    `json:"add"`
	ReplicaAssignment string `json:"replica_assignment"`
}

func (s *Server) addPartitions(w http.ResponseWriter, r *http.Request) {
	var req addPartitionsRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	d, err := s.cl.AddPartitions(r.Context(), chi.URLParam(r, "topic"), req.Add, req.ReplicaAssignment)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTopicResponse(d))
}

type windowResponse struct {
	Partition   int32 `json:"partition"`
	StartOffset int64 `json:"start_offset"`
	EndOffset   int64 `json:"end_offset"`
}

func (s *Server) watermarks(w http.ResponseWriter, r *http.Request) {
	ws, err := s.cl.Watermarks(r.Context(), chi.URLParam(r, "topic"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := make([]windowResponse, 0, len(ws))
	for _, p := range slices.Sorted(maps.Keys(ws)) {
		win := ws[p]
		resp = append(resp, windowResponse{p, win.Start, win.End})
	}
	writeJSON(w, http.StatusOK, map[string]any{"partitions": resp})
}

func (s *Server) fetchOffset(w http.ResponseWriter, r *http.Request) {
	topic := chi.URLParam(r, "topic")
	partition, err := parsePartition(chi.URLParam(r, "partition"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var pos kplane.OffsetPosition
	switch raw := chi.URLParam(r, "position"); raw {
	case "earliest":
		pos = kplane.OffsetEarliest
	case "latest":
		pos = kplane.OffsetLatest
	default:
		s.fail(w, r, badRequest("unknown offset position %q, expected earliest or latest", raw))
		return
	}
	at, err := s.cl.FetchOffset(r.Context(), topic, partition, pos)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"topic":     topic,
		"partition": partition,
		"position":  pos.String(),
		"offset":    at,
	})
}

func (s *Server) groupsByTopic(w http.ResponseWriter, r *http.Request) {
	l, err := s.cl.ListGroupsByTopic(r.Context(), chi.URLParam(r, "topic"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newListingResponse(l))
}

type brokerResponse struct {
	ID         int32    `json:"id"`
	Host       string   `json:"host"`
	Port       int32    `json:"port"`
	Rack       string   `json:"rack,omitempty"`
	Endpoints  []string `json:"endpoints"`
	JMXPort    int32    `json:"jmx_port"`
	Registered string   `json:"registered,omitempty"`
}

func (s *Server) listBrokers(w http.ResponseWriter, r *http.Request) {
	brokers, err := s.cl.ListBrokers(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := make([]brokerResponse, 0, len(brokers))
	for _, b := range brokers {
		br := brokerResponse{
			ID:        b.ID,
			Host:      b.Host,
			Port:      b.Port,
			Rack:      b.Rack,
			Endpoints: b.Endpoints,
			JMXPort:   b.JMXPort,
		}
		if !b.Registered.IsZero() {
			br.Registered = b.Registered.UTC().Format(timeFormat)
		}
		resp = append(resp, br)
	}
	writeJSON(w, http.StatusOK, map[string]any{"brokers": resp})
}

func parsePartition(raw string) (int32, error) {
	p, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || p < 0 {
		return 0, badRequest("invalid partition %q", raw)
	}
	return int32(p), nil
}
