package http

import (
	"errors"
	"net/http"

	"commenergy/internal/core"
	"commenergy/internal/exports"
)

type accountingPayload struct {
	Year           int    `json:"year"`
	Month          int    `json:"month"`
	MemberID       int64  `json:"member_id"`
	PodID          int64  `json:"pod_id"`
	SharingGroupID int64  `json:"sharing_group_id"`
	Amount         string `json:"amount"`
	BillingDate    string `json:"billing_date,omitempty"`
}

type accountingResponse struct {
	ID             int64  `json:"id"`
	Year           int    `json:"year"`
	Month          int    `json:"month"`
	MemberID       int64  `json:"member_id"`
	PodID          int64  `json:"pod_id"`
	SharingGroupID int64  `json:"sharing_group_id"`
	Amount         string `json:"amount"`
	BillingDate    string `json:"billing_date,omitempty"`
}

type unbilledResponse struct {
	accountingResponse
	MemberName string `json:"member_name"`
	Firstname  string `json:"firstname"`
	PodLabel   string `json:"pod_label"`
	GroupName  string `json:"group_name"`
}

type settlementLineResponse struct {
	MemberID  int64  `json:"member_id"`
	Name      string `json:"name"`
	Firstname string `json:"firstname"`
	Total     string `json:"total"`
}

type settlementRunResponse struct {
	ID          int64                    `json:"id"`
	Filename    string                   `json:"filename"`
	GeneratedAt string                   `json:"generated_at"`
	GrandTotal  string                   `json:"grand_total"`
	MemberCount int                      `json:"member_count"`
	SyncStatus  string                   `json:"sync_status,omitempty"`
	Lines       []settlementLineResponse `json:"lines"`
}

func toAccountingResponse(a core.Accounting) accountingResponse {
	return accountingResponse{
		ID:             a.ID,
		Year:           a.Year,
		Month:          a.Month,
		MemberID:       a.MemberID,
		PodID:          a.PodID,
		SharingGroupID: a.SharingGroupID,
		Amount:         a.Amount.String(),
		BillingDate:    formatOptionalDay(a.BillingDate),
	}
}

func toSettlementRunResponse(run core.SettlementRun) settlementRunResponse {
	resp := settlementRunResponse{
		ID:          run.ID,
		Filename:    run.Filename,
		GeneratedAt: run.GeneratedAt.Format(dayFormat),
		GrandTotal:  run.GrandTotal.String(),
		MemberCount: run.MemberCount,
		SyncStatus:  string(run.SyncStatus),
		Lines:       make([]settlementLineResponse, 0, len(run.Lines)),
	}
	for _, line := range run.Lines {
		resp.Lines = append(resp.Lines, settlementLineResponse{
			MemberID:  line.MemberID,
			Name:      line.Name,
			Firstname: line.Firstname,
			Total:     line.Total.String(),
		})
	}
	return resp
}

func (p accountingPayload) toAccounting() (core.Accounting, error) {
	amount, err := parseAmount(p.Amount)
	if err != nil {
		return core.Accounting{}, err
	}
	day, err := parseOptionalDay(p.BillingDate)
	if err != nil {
		return core.Accounting{}, err
	}
	return core.Accounting{
		Year:           p.Year,
		Month:          p.Month,
		MemberID:       p.MemberID,
		PodID:          p.PodID,
		SharingGroupID: p.SharingGroupID,
		Amount:         amount,
		BillingDate:    day,
	}, nil
}

// handleCreateAccounting records one month's charge for a member/pod/group
// combination. A second charge for the same (year, month, member, pod) tuple
// returns 409.
func (s *Server) handleCreateAccounting(w http.ResponseWriter, r *http.Request) {
	var payload accountingPayload
	if err := decodeJSON(r, &payload); err != nil {
		badRequest(w, err.Error())
		return
	}

	a, err := payload.toAccounting()
	if err != nil {
		respondValidation(w, err)
		return
	}
	if err := a.Validate(); err != nil {
		respondValidation(w, err)
		return
	}

	if _, err := s.repo.GetMember(r.Context(), a.MemberID); err != nil {
		respondError(w, r, err)
		return
	}
	if _, err := s.repo.GetPod(r.Context(), a.PodID); err != nil {
		respondError(w, r, err)
		return
	}
	if _, err := s.repo.GetSharingGroup(r.Context(), a.SharingGroupID); err != nil {
		respondError(w, r, err)
		return
	}

	id, err := s.repo.CreateAccounting(r.Context(), a)
	if err != nil {
		respondError(w, r, err)
		return
	}
	a.ID = id
	respondJSON(w, http.StatusCreated, toAccountingResponse(a))
}

func (s *Server) handleListAccounting(w http.ResponseWriter, r *http.Request) {
	entries, err := s.repo.ListAccounting(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	out := make([]accountingResponse, 0, len(entries))
	for _, a := range entries {
		out = append(out, toAccountingResponse(a))
	}
	respondJSON(w, http.StatusOK, out)
}

// handleListUnbilled shows the open entries that the next billing run would
// pick up, joined to member, pod and group display fields.
func (s *Server) handleListUnbilled(w http.ResponseWriter, r *http.Request) {
	details, err := s.repo.ListUnbilledDetailed(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	out := make([]unbilledResponse, 0, len(details))
	for _, d := range details {
		out = append(out, unbilledResponse{
			accountingResponse: toAccountingResponse(d.Entry),
			MemberName:         d.MemberName,
			Firstname:          d.Firstname,
			PodLabel:           d.PodLabel,
			GroupName:          d.GroupName,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetAccounting(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	a, err := s.repo.GetAccounting(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toAccountingResponse(a))
}

func (s *Server) handleUpdateAccounting(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var payload accountingPayload
	if err := decodeJSON(r, &payload); err != nil {
		badRequest(w, err.Error())
		return
	}

	a, err := payload.toAccounting()
	if err != nil {
		respondValidation(w, err)
		return
	}
	a.ID = id
	if err := a.Validate(); err != nil {
		respondValidation(w, err)
		return
	}
	if err := s.repo.UpdateAccounting(r.Context(), a); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toAccountingResponse(a))
}

func (s *Server) handleDeleteAccounting(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := s.repo.DeleteAccounting(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

// handleRunBilling triggers the settlement workflow: aggregate the unbilled
// entries per member, write the CSV export and stamp the entries as billed.
func (s *Server) handleRunBilling(w http.ResponseWriter, r *http.Request) {
	run, err := s.billing.Run(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toSettlementRunResponse(run))
}

func (s *Server) handleListBillingRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.repo.ListSettlementRuns(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	out := make([]settlementRunResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, toSettlementRunResponse(run))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetBillingRun(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	run, err := s.repo.GetSettlementRun(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toSettlementRunResponse(run))
}

func (s *Server) handleListExports(w http.ResponseWriter, r *http.Request) {
	files, err := s.exports.List()
	if err != nil {
		respondError(w, r, err)
		return
	}
	if files == nil {
		files = []exports.FileInfo{}
	}
	respondJSON(w, http.StatusOK, files)
}

// handleDownloadExport streams one settlement CSV. Filenames that would
// escape the export directory are rejected before touching the filesystem.
func (s *Server) handleDownloadExport(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	data, err := s.exports.Read(name)
	if errors.Is(err, exports.ErrInvalidName) {
		badRequest(w, err.Error())
		return
	}
	if err != nil {
		respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
