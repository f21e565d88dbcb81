package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kplane/kplane/pkg/kplane"
)

type listingResponse struct {
	Old []string `json:"old"`
	New []string `json:"new"`
}

func newListingResponse(l kplane.GroupListing) listingResponse {
	resp := listingResponse{Old: l.Legacy, New: l.Coordinator}
	if resp.Old == nil {
		resp.Old = []string{}
	}
	if resp.New == nil {
		resp.New = []string{}
	}
	return resp
}

func (s *Server) listGroups(w http.ResponseWriter, r *http.Request) {
	l, err := s.cl.ListGroups(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newListingResponse(l))
}

type partitionStateResponse struct {
	Topic         string `json:"topic"`
	Partition     int32  `json:"partition"`
	CurrentOffset int64  `json:"current_offset"`
	LogEndOffset  int64  `json:"log_end_offset"`
	Lag           int64  `json:"lag"`
	Owner         string `json:"owner"`
	Host          string `json:"host"`
	State         string `json:"state"`
	Error         string `json:"error,omitempty"`
}

type groupResponse struct {
	Group      string                   `json:"group"`
	Type       string                   `json:"type"`
	TotalLag   int64                    `json:"total_lag"`
	Partitions []partitionStateResponse `json:"partitions"`
}

func newGroupResponse(d kplane.GroupDescriptor) groupResponse {
	resp := groupResponse{
		Group:      d.Group,
		Type:       d.Generation.String(),
		TotalLag:   d.TotalLag(),
		Partitions: make([]partitionStateResponse, 0, len(d.Partitions)),
	}
	for _, p := range d.Sorted() {
		ps := partitionStateResponse{
			Topic:         p.Topic,
			Partition:     p.Partition,
			CurrentOffset: p.CurrentOffset,
			LogEndOffset:  p.LogEndOffset,
			Lag:           p.Lag,
			Owner:         p.OwnerID,
			Host:          p.Host,
			State:         p.State.String(),
		}
		if p.Err != nil {
			ps.Error = p.Err.Error()
		}
		resp.Partitions = append(resp.Partitions, ps)
	}
	return resp
}

// describeGroup resolves the group's generation unless the type parameter
// forces one.
func (s *Server) describeGroup(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "group")
	topics := r.URL.Query()["topic"]

	describe := s.cl.DescribeGroup
	if raw := r.URL.Query().Get("type"); raw != "" {
		gen, err := kplane.ParseGeneration(raw)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		describe = s.cl.DescribeCoordinatorGroup
		if gen == kplane.GenerationLegacy {
			describe = s.cl.DescribeLegacyGroup
		}
	}

	d, err := describe(r.Context(), group, topics...)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newGroupResponse(d))
}

func (s *Server) deleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := s.cl.DeleteLegacyGroup(r.Context(), chi.URLParam(r, "group")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type legacyOffsetResponse struct {
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
	Offset    int64  `json:"offset"`
	Owner     string `json:"owner"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) legacyOffsets(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "group")
	offsets, err := s.cl.FetchLegacyOffsets(r.Context(), group, r.URL.Query()["topic"]...)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := make([]legacyOffsetResponse, 0, len(offsets))
	for _, o := range offsets.Sorted() {
		lo := legacyOffsetResponse{
			Topic:     o.Topic,
			Partition: o.Partition,
			Offset:    o.Offset,
			Owner:     o.Owner,
		}
		if o.Err != nil {
			lo.Error = o.Err.Error()
		}
		resp = append(resp, lo)
	}
	writeJSON(w, http.StatusOK, map[string]any{"group": group, "offsets": resp})
}

type resetRequest struct {
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
	// Type is "old" or "new".
	Type string `json:"type"`
	// Target is "earliest", "latest", or an offset.
	Target string `json:"target"`
}

func (s *Server) resetOffset(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "group")
	var req resetRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	gen, err := kplane.ParseGeneration(req.Type)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	at, err := s.cl.ResetOffset(r.Context(), kplane.ResetRequest{
		Group:      group,
		Topic:      req.Topic,
		Partition:  req.Partition,
		Generation: gen,
		Target:     req.Target,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"group":     group,
		"topic":     req.Topic,
		"partition": req.Partition,
		"type":      gen.String(),
		"offset":    at,
	})
}

func (s *Server) commitTimes(w http.ResponseWriter, r *http.Request) {
	group, topic := chi.URLParam(r, "group"), chi.URLParam(r, "topic")
	times, err := s.cl.LastCommitTimes(r.Context(), group, topic)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := make(map[string]map[string]string, len(times))
	for gen, ps := range times {
		byPartition := make(map[string]string, len(ps))
		for p, at := range ps {
			byPartition[strconv.Itoa(int(p))] = at.UTC().Format(timeFormat)
		}
		resp[gen.String()] = byPartition
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"group":        group,
		"topic":        topic,
		"commit_times": resp,
	})
}
