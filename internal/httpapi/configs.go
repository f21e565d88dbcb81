package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type configResponse struct {
	Topic   string            `json:"topic"`
	Configs map[string]string `json:"configs"`
}

func (s *Server) topicConfig(w http.ResponseWriter, r *http.Request) {
	topic := chi.URLParam(r, "topic")
	configs, err := s.cl.TopicConfig(r.Context(), topic)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, configResponse{topic, configs})
}

func (s *Server) setTopicConfig(w http.ResponseWriter, r *http.Request) {
	topic := chi.URLParam(r, "topic")
	var req map[string]string
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	configs, err := s.cl.SetTopicConfig(r.Context(), topic, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, configResponse{topic, configs})
}

func (s *Server) replaceTopicConfig(w http.ResponseWriter, r *http.Request) {
	topic := chi.URLParam(r, "topic")
	var req map[string]string
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	configs, err := s.cl.ReplaceTopicConfig(r.Context(), topic, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, configResponse{topic, configs})
}

func (s *Server) deleteTopicConfig(w http.ResponseWriter, r *http.Request) {
	topic := chi.URLParam(r, "topic")
	keys := r.URL.Query()["key"]
	if len(keys) == 0 {
		s.fail(w, r, badRequest("no config keys to delete"))
		return
	}
	configs, err := s.cl.DeleteTopicConfig(r.Context(), topic, keys...)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, configResponse{topic, configs})
}

type configKeyResponse struct {
	Topic string `json:"topic"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (s *Server) topicConfigKey(w http.ResponseWriter, r *http.Request) {
	topic, key := chi.URLParam(r, "topic"), chi.URLParam(r, "key")
	v, ok, err := s.cl.TopicConfigKey(r.Context(), topic, key)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !ok {
		errorResponse(w, http.StatusNotFound, "config "+key+" is not set on topic "+topic)
		return
	}
	writeJSON(w, http.StatusOK, configKeyResponse{topic, key, v})
}

func (s *Server) setTopicConfigKey(w http.ResponseWriter, r *http.Request) {
	topic, key := chi.URLParam(r, "topic"), chi.URLParam(r, "key")
	var req struct {
		Value string `json:"value"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.cl.SetTopicConfigKey(r.Context(), topic, key, req.Value); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, configKeyResponse{topic, key, req.Value})
}

func (s *Server) deleteTopicConfigKey(w http.ResponseWriter, r *http.Request) {
	topic, key := chi.URLParam(r, "topic"), chi.URLParam(r, "key")
	unset, err := s.cl.DeleteTopicConfigKey(r.Context(), topic, key)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"topic":   topic,
		"key":     key,
		"deleted": unset,
	})
}
