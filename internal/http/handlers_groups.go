package http

import (
	"net/http"

	"commenergy/internal/core"
)

type sharingGroupPayload struct {
	Name        string `json:"name"`
	GroupNumber string `json:"group_number"`
	Price       string `json:"price"`
	Type        string `json:"type"`
}

type sharingGroupResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	GroupNumber string `json:"group_number"`
	Price       string `json:"price"`
	Type        string `json:"type"`
}

type podGroupLinkPayload struct {
	PodID int64 `json:"pod_id"`
}

type podGroupLinkResponse struct {
	ID             int64 `json:"id"`
	PodID          int64 `json:"pod_id"`
	SharingGroupID int64 `json:"sharing_group_id"`
}

func toSharingGroupResponse(g core.SharingGroup) sharingGroupResponse {
	return sharingGroupResponse{
		ID:          g.ID,
		Name:        g.Name,
		GroupNumber: g.GroupNumber,
		Price:       g.Price.String(),
		Type:        string(g.Type),
	}
}

func (p sharingGroupPayload) toGroup() (core.SharingGroup, error) {
	price, err := parseAmount(p.Price)
	if err != nil {
		return core.SharingGroup{}, err
	}
	return core.SharingGroup{
		Name:        p.Name,
		GroupNumber: p.GroupNumber,
		Price:       price,
		Type:        core.GroupType(p.Type),
	}, nil
}

func (s *Server) handleCreateSharingGroup(w http.ResponseWriter, r *http.Request) {
	var payload sharingGroupPayload
	if err := decodeJSON(r, &payload); err != nil {
		badRequest(w, err.Error())
		return
	}

	g, err := payload.toGroup()
	if err != nil {
		respondValidation(w, err)
		return
	}
	if err := g.Validate(); err != nil {
		respondValidation(w, err)
		return
	}

	id, err := s.repo.CreateSharingGroup(r.Context(), g)
	if err != nil {
		respondError(w, r, err)
		return
	}
	g.ID = id
	respondJSON(w, http.StatusCreated, toSharingGroupResponse(g))
}

func (s *Server) handleListSharingGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.repo.ListSharingGroups(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	out := make([]sharingGroupResponse, 0, len(groups))
	for _, g := range groups {
		out = append(out, toSharingGroupResponse(g))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSharingGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	g, err := s.repo.GetSharingGroup(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toSharingGroupResponse(g))
}

func (s *Server) handleUpdateSharingGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var payload sharingGroupPayload
	if err := decodeJSON(r, &payload); err != nil {
		badRequest(w, err.Error())
		return
	}

	g, err := payload.toGroup()
	if err != nil {
		respondValidation(w, err)
		return
	}
	g.ID = id
	if err := g.Validate(); err != nil {
		respondValidation(w, err)
		return
	}
	if err := s.repo.UpdateSharingGroup(r.Context(), g); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toSharingGroupResponse(g))
}

func (s *Server) handleDeleteSharingGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := s.repo.DeleteSharingGroup(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleListGroupPods(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if _, err := s.repo.GetSharingGroup(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	pods, err := s.repo.ListGroupPods(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	out := make([]podResponse, 0, len(pods))
	for _, p := range pods {
		out = append(out, toPodResponse(p))
	}
	respondJSON(w, http.StatusOK, out)
}

// handleAddPodToGroup links a pod into the group. Linking the same pod twice
// returns 409.
func (s *Server) handleAddPodToGroup(w http.ResponseWriter, r *http.Request) {
	groupID, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var payload podGroupLinkPayload
	if err := decodeJSON(r, &payload); err != nil {
		badRequest(w, err.Error())
		return
	}
	if payload.PodID <= 0 {
		badRequest(w, "pod_id is required")
		return
	}

	if _, err := s.repo.GetSharingGroup(r.Context(), groupID); err != nil {
		respondError(w, r, err)
		return
	}
	if _, err := s.repo.GetPod(r.Context(), payload.PodID); err != nil {
		respondError(w, r, err)
		return
	}

	id, err := s.repo.AddPodToGroup(r.Context(), payload.PodID, groupID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, podGroupLinkResponse{
		ID:             id,
		PodID:          payload.PodID,
		SharingGroupID: groupID,
	})
}

func (s *Server) handleRemovePodFromGroup(w http.ResponseWriter, r *http.Request) {
	groupID, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	podID, err := pathID(r, "podID")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := s.repo.RemovePodFromGroup(r.Context(), podID, groupID); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}
