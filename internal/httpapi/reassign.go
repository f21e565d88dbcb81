package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/kplane/kplane/pkg/kplane"
)

// planJSON carries both assignments of a plan in the broker's reassignment
// JSON format.
type planJSON struct {
	Target  json.RawMessage `json:"target"`
	Current json.RawMessage `json:"current,omitempty"`
}

func encodePlan(plan kplane.ReassignmentPlan) (planJSON, error) {
	target, err := kplane.EncodeAssignment(plan.Target)
	if err != nil {
		return planJSON{}, err
	}
	current, err := kplane.EncodeAssignment(plan.Current)
	if err != nil {
		return planJSON{}, err
	}
	return planJSON{Target: target, Current: current}, nil
}

func decodePlan(p planJSON) (kplane.ReassignmentPlan, error) {
	if len(p.Target) == 0 {
		return kplane.ReassignmentPlan{}, badRequest("missing target assignment")
	}
	var plan kplane.ReassignmentPlan
	var err error
	if plan.Target, err = kplane.DecodeAssignment(p.Target); err != nil {
		return kplane.ReassignmentPlan{}, err
	}
	if len(p.Current) > 0 {
		if plan.Current, err = kplane.DecodeAssignment(p.Current); err != nil {
			return kplane.ReassignmentPlan{}, err
		}
	}
	return plan, nil
}

type planRequest struct {
	Brokers []int32 `json:"brokers"`
	// Assignment is an explicit target in the reassignment JSON format.
	// If absent, a target is generated for Topics.
	Assignment json.RawMessage `json:"assignment,omitempty"`
	Topics     []string        `json:"topics,omitempty"`
}

func (s *Server) planReassignment(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	pr := kplane.PlanRequest{Brokers: req.Brokers, Topics: req.Topics}
	if len(req.Assignment) > 0 {
		var err error
		if pr.Assignment, err = kplane.DecodeAssignment(req.Assignment); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	plan, err := s.cl.PlanReassignment(r.Context(), pr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp, err := encodePlan(plan)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type statusResponse struct {
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
	Status    string `json:"status"`
}

func newStatusResponse(statuses map[kplane.TopicPartition]kplane.ReassignmentStatus) map[string]any {
	tps := make(kplane.TopicPartitions, 0, len(statuses))
	for tp := range statuses {
		tps = append(tps, tp)
	}
	tps.Sort()

	resp := make([]statusResponse, 0, len(tps))
	for _, tp := range tps {
		resp = append(resp, statusResponse{tp.Topic, tp.Partition, statuses[tp].String()})
	}
	return map[string]any{"partitions": resp}
}

// executeReassignment submits a plan's target and reports its immediate
// status.
func (s *Server) executeReassignment(w http.ResponseWriter, r *http.Request) {
	s.withPlan(w, r, s.cl.ExecuteReassignment, http.StatusAccepted)
}

func (s *Server) checkReassignment(w http.ResponseWriter, r *http.Request) {
	s.withPlan(w, r, s.cl.CheckReassignment, http.StatusOK)
}

func (s *Server) withPlan(
	w http.ResponseWriter,
	r *http.Request,
	fn func(ctx context.Context, plan kplane.ReassignmentPlan) (map[kplane.TopicPartition]kplane.ReassignmentStatus, error),
	status int,
) {
	var req planJSON
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	plan, err := decodePlan(req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	statuses, err := fn(r.Context(), plan)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, status, newStatusResponse(statuses))
}
