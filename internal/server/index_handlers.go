package server

import (
	"net/http"

	"lodestone/internal/store"
)

// settingsPayload carries per-index build parameters. Pointer fields let a
// request override just some of the defaults.
type settingsPayload struct {
	Backend         *string `json:"backend"`
	EmbeddingModel  *string `json:"embedding_model"`
	GraphDegree     *int    `json:"graph_degree"`
	BuildComplexity *int    `json:"build_complexity"`
	ChunkSize       *int    `json:"chunk_size"`
	ChunkOverlap    *int    `json:"chunk_overlap"`
}

// resolve merges the payload over base. Validation happens downstream.
func (p *settingsPayload) resolve(base store.IndexSettings) store.IndexSettings {
	if p == nil {
		return base
	}
	if p.Backend != nil {
		base.Backend = *p.Backend
	}
	if p.EmbeddingModel != nil {
		base.EmbeddingModel = *p.EmbeddingModel
	}
	if p.GraphDegree != nil {
		base.GraphDegree = *p.GraphDegree
	}
	if p.BuildComplexity != nil {
		base.BuildComplexity = *p.BuildComplexity
	}
	if p.ChunkSize != nil {
		base.ChunkSize = *p.ChunkSize
	}
	if p.ChunkOverlap != nil {
		base.ChunkOverlap = *p.ChunkOverlap
	}
	return base
}

func (s *Server) handleCreateIndex(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string           `json:"name"`
		Settings *settingsPayload `json:"settings"`
	}
	if err := decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	settings := req.Settings.resolve(s.registry.DefaultSettings())
	idx, err := s.registry.Create(req.Name, &settings)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, idx)
}

func (s *Server) handleListIndexes(w http.ResponseWriter, r *http.Request) {
	indexes, err := s.registry.List()
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"indexes": indexes,
		"total":   len(indexes),
	})
}

func (s *Server) handleGetIndex(w http.ResponseWriter, r *http.Request) {
	idx, stats, err := s.registry.GetWithStatistics(r.PathValue("name"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"index":      idx,
		"statistics": stats,
	})
}

func (s *Server) handleDeleteIndex(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.registry.Delete(name); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"deleted": name})
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req struct {
		Settings *settingsPayload `json:"settings"`
	}
	if err := decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	var settings *store.IndexSettings
	if req.Settings != nil {
		idx, err := s.registry.Get(name)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		resolved := req.Settings.resolve(idx.Settings)
		settings = &resolved
	}

	result, err := s.registry.Rebuild(r.Context(), name, settings)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordRebuild(name, "error", 0)
		}
		s.respondError(w, r, err)
		return
	}
	if s.metrics != nil {
		status := "success"
		if !result.ArtifactBuilt {
			status = "skipped"
		}
		s.metrics.RecordRebuild(name, status, float64(result.ElapsedMS)/1000)
	}
	s.respond(w, http.StatusOK, result)
}
