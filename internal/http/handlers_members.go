package http

import (
	"net/http"

	"commenergy/internal/core"
)

type podPayload struct {
	Label     string `json:"label"`
	Type      string `json:"type"`
	MemberID  int64  `json:"member_id,omitempty"`
	PodNumber string `json:"pod_number"`
}

type memberPayload struct {
	Name        string       `json:"name"`
	Firstname   string       `json:"firstname"`
	NationalID  string       `json:"national_id"`
	Address     string       `json:"address"`
	PhoneNumber string       `json:"phone_number"`
	Email       string       `json:"email"`
	EnergyID    string       `json:"energy_id"`
	Pods        []podPayload `json:"pods,omitempty"`
}

type memberResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Firstname   string `json:"firstname"`
	NationalID  string `json:"national_id"`
	Address     string `json:"address"`
	PhoneNumber string `json:"phone_number"`
	Email       string `json:"email"`
	EnergyID    string `json:"energy_id"`
}

type podResponse struct {
	ID        int64  `json:"id"`
	Label     string `json:"label"`
	Type      string `json:"type"`
	MemberID  int64  `json:"member_id"`
	PodNumber string `json:"pod_number"`
}

func toMemberResponse(m core.Member) memberResponse {
	return memberResponse{
		ID:          m.ID,
		Name:        m.Name,
		Firstname:   m.Firstname,
		NationalID:  m.NationalID,
		Address:     m.Address,
		PhoneNumber: m.PhoneNumber,
		Email:       m.Email,
		EnergyID:    m.EnergyID,
	}
}

func toPodResponse(p core.Pod) podResponse {
	return podResponse{
		ID:        p.ID,
		Label:     p.Label,
		Type:      string(p.Type),
		MemberID:  p.MemberID,
		PodNumber: p.PodNumber,
	}
}

func (p memberPayload) toMember() core.Member {
	return core.Member{
		Name:        p.Name,
		Firstname:   p.Firstname,
		NationalID:  p.NationalID,
		Address:     p.Address,
		PhoneNumber: p.PhoneNumber,
		Email:       p.Email,
		EnergyID:    p.EnergyID,
	}
}

// handleCreateMember creates a member, optionally with its initial pods in
// the same transaction.
func (s *Server) handleCreateMember(w http.ResponseWriter, r *http.Request) {
	var payload memberPayload
	if err := decodeJSON(r, &payload); err != nil {
		badRequest(w, err.Error())
		return
	}

	m := payload.toMember()
	if err := m.Validate(); err != nil {
		respondValidation(w, err)
		return
	}

	// The owning member id is assigned by storage, so inline pods are
	// checked field by field here.
	pods := make([]core.Pod, 0, len(payload.Pods))
	for _, pp := range payload.Pods {
		p := core.Pod{Label: pp.Label, Type: core.PodType(pp.Type), PodNumber: pp.PodNumber}
		if p.Label == "" {
			respondValidation(w, core.ErrEmptyLabel)
			return
		}
		if err := p.Type.Validate(); err != nil {
			respondValidation(w, err)
			return
		}
		pods = append(pods, p)
	}

	var id int64
	var err error
	if len(pods) > 0 {
		id, err = s.repo.CreateMemberWithPods(r.Context(), m, pods)
	} else {
		id, err = s.repo.CreateMember(r.Context(), m)
	}
	if err != nil {
		respondError(w, r, err)
		return
	}

	m.ID = id
	respondJSON(w, http.StatusCreated, toMemberResponse(m))
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.repo.ListMembers(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	out := make([]memberResponse, 0, len(members))
	for _, m := range members {
		out = append(out, toMemberResponse(m))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetMember(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	m, err := s.repo.GetMember(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toMemberResponse(m))
}

func (s *Server) handleUpdateMember(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var payload memberPayload
	if err := decodeJSON(r, &payload); err != nil {
		badRequest(w, err.Error())
		return
	}

	m := payload.toMember()
	m.ID = id
	if err := m.Validate(); err != nil {
		respondValidation(w, err)
		return
	}
	if err := s.repo.UpdateMember(r.Context(), m); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toMemberResponse(m))
}

// handleDeleteMember removes the member together with its pods. Accounting
// entries or fee payments still referencing the member make the delete fail.
func (s *Server) handleDeleteMember(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := s.repo.DeleteMember(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleListMemberPods(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if _, err := s.repo.GetMember(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	pods, err := s.repo.ListPodsByMember(r.Context(), id)
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

func (s *Server) handleCreatePod(w http.ResponseWriter, r *http.Request) {
	var payload podPayload
	if err := decodeJSON(r, &payload); err != nil {
		badRequest(w, err.Error())
		return
	}

	p := core.Pod{
		Label:     payload.Label,
		Type:      core.PodType(payload.Type),
		MemberID:  payload.MemberID,
		PodNumber: payload.PodNumber,
	}
	if err := p.Validate(); err != nil {
		respondValidation(w, err)
		return
	}
	if _, err := s.repo.GetMember(r.Context(), p.MemberID); err != nil {
		respondError(w, r, err)
		return
	}

	id, err := s.repo.CreatePod(r.Context(), p)
	if err != nil {
		respondError(w, r, err)
		return
	}
	p.ID = id
	respondJSON(w, http.StatusCreated, toPodResponse(p))
}

func (s *Server) handleGetPod(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	p, err := s.repo.GetPod(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toPodResponse(p))
}

func (s *Server) handleUpdatePod(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var payload podPayload
	if err := decodeJSON(r, &payload); err != nil {
		badRequest(w, err.Error())
		return
	}

	// The owning member never changes through an update.
	existing, err := s.repo.GetPod(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}

	p := core.Pod{
		ID:        id,
		Label:     payload.Label,
		Type:      core.PodType(payload.Type),
		MemberID:  existing.MemberID,
		PodNumber: payload.PodNumber,
	}
	if err := p.Validate(); err != nil {
		respondValidation(w, err)
		return
	}
	if err := s.repo.UpdatePod(r.Context(), p); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toPodResponse(p))
}

func (s *Server) handleDeletePod(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := s.repo.DeletePod(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}
