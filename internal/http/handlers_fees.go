package http

import (
	"net/http"

	"commenergy/internal/core"
)

type memberFeePayload struct {
	Amount     string `json:"amount"`
	FiscalYear int    `json:"fiscal_year"`
}

type memberFeeResponse struct {
	ID         int64  `json:"id"`
	Amount     string `json:"amount"`
	FiscalYear int    `json:"fiscal_year"`
}

type feePaymentPayload struct {
	MemberID    int64  `json:"member_id,omitempty"`
	MemberFeeID int64  `json:"member_fee_id,omitempty"`
	PaymentDate string `json:"payment_date,omitempty"`
	Status      string `json:"status"`
}

type feePaymentResponse struct {
	ID          int64  `json:"id"`
	MemberID    int64  `json:"member_id"`
	MemberFeeID int64  `json:"member_fee_id"`
	PaymentDate string `json:"payment_date,omitempty"`
	Status      string `json:"status"`
}

func toMemberFeeResponse(f core.MemberFee) memberFeeResponse {
	return memberFeeResponse{ID: f.ID, Amount: f.Amount.String(), FiscalYear: f.FiscalYear}
}

func toFeePaymentResponse(p core.MemberFeePayment) feePaymentResponse {
	return feePaymentResponse{
		ID:          p.ID,
		MemberID:    p.MemberID,
		MemberFeeID: p.MemberFeeID,
		PaymentDate: formatOptionalDay(p.PaymentDate),
		Status:      string(p.Status),
	}
}

func (s *Server) handleCreateMemberFee(w http.ResponseWriter, r *http.Request) {
	var payload memberFeePayload
	if err := decodeJSON(r, &payload); err != nil {
		badRequest(w, err.Error())
		return
	}

	amount, err := parseAmount(payload.Amount)
	if err != nil {
		respondValidation(w, err)
		return
	}
	f := core.MemberFee{Amount: amount, FiscalYear: payload.FiscalYear}
	if err := f.Validate(); err != nil {
		respondValidation(w, err)
		return
	}

	id, err := s.repo.CreateMemberFee(r.Context(), f)
	if err != nil {
		respondError(w, r, err)
		return
	}
	f.ID = id
	respondJSON(w, http.StatusCreated, toMemberFeeResponse(f))
}

func (s *Server) handleListMemberFees(w http.ResponseWriter, r *http.Request) {
	fees, err := s.repo.ListMemberFees(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	out := make([]memberFeeResponse, 0, len(fees))
	for _, f := range fees {
		out = append(out, toMemberFeeResponse(f))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetMemberFee(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	f, err := s.repo.GetMemberFee(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toMemberFeeResponse(f))
}

func (s *Server) handleUpdateMemberFee(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var payload memberFeePayload
	if err := decodeJSON(r, &payload); err != nil {
		badRequest(w, err.Error())
		return
	}

	amount, err := parseAmount(payload.Amount)
	if err != nil {
		respondValidation(w, err)
		return
	}
	f := core.MemberFee{ID: id, Amount: amount, FiscalYear: payload.FiscalYear}
	if err := f.Validate(); err != nil {
		respondValidation(w, err)
		return
	}
	if err := s.repo.UpdateMemberFee(r.Context(), f); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toMemberFeeResponse(f))
}

func (s *Server) handleDeleteMemberFee(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := s.repo.DeleteMemberFee(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

// handleCreateFeePayment records a payment for a (member, fee) pair. A second
// record for the same pair returns 409.
func (s *Server) handleCreateFeePayment(w http.ResponseWriter, r *http.Request) {
	var payload feePaymentPayload
	if err := decodeJSON(r, &payload); err != nil {
		badRequest(w, err.Error())
		return
	}

	day, err := parseOptionalDay(payload.PaymentDate)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	status := core.PaymentStatus(payload.Status)
	if payload.Status == "" {
		status = core.PaymentPending
	}

	p := core.MemberFeePayment{
		MemberID:    payload.MemberID,
		MemberFeeID: payload.MemberFeeID,
		PaymentDate: day,
		Status:      status,
	}
	if err := p.Validate(); err != nil {
		respondValidation(w, err)
		return
	}
	if _, err := s.repo.GetMember(r.Context(), p.MemberID); err != nil {
		respondError(w, r, err)
		return
	}
	if _, err := s.repo.GetMemberFee(r.Context(), p.MemberFeeID); err != nil {
		respondError(w, r, err)
		return
	}

	id, err := s.repo.CreateFeePayment(r.Context(), p)
	if err != nil {
		respondError(w, r, err)
		return
	}
	p.ID = id
	respondJSON(w, http.StatusCreated, toFeePaymentResponse(p))
}

func (s *Server) handleListFeePayments(w http.ResponseWriter, r *http.Request) {
	payments, err := s.repo.ListFeePayments(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	out := make([]feePaymentResponse, 0, len(payments))
	for _, p := range payments {
		out = append(out, toFeePaymentResponse(p))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleListFeePaymentsByFee(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if _, err := s.repo.GetMemberFee(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	payments, err := s.repo.ListFeePaymentsByFee(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	out := make([]feePaymentResponse, 0, len(payments))
	for _, p := range payments {
		out = append(out, toFeePaymentResponse(p))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleListMemberFeePayments(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if _, err := s.repo.GetMember(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	payments, err := s.repo.ListFeePaymentsByMember(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	out := make([]feePaymentResponse, 0, len(payments))
	for _, p := range payments {
		out = append(out, toFeePaymentResponse(p))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetFeePayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	p, err := s.repo.GetFeePayment(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toFeePaymentResponse(p))
}

// handleUpdateFeePayment changes the status and payment date. The member and
// fee of an existing payment never change.
func (s *Server) handleUpdateFeePayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var payload feePaymentPayload
	if err := decodeJSON(r, &payload); err != nil {
		badRequest(w, err.Error())
		return
	}

	existing, err := s.repo.GetFeePayment(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}

	day, err := parseOptionalDay(payload.PaymentDate)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	p := core.MemberFeePayment{
		ID:          id,
		MemberID:    existing.MemberID,
		MemberFeeID: existing.MemberFeeID,
		PaymentDate: day,
		Status:      core.PaymentStatus(payload.Status),
	}
	if err := p.Validate(); err != nil {
		respondValidation(w, err)
		return
	}
	if err := s.repo.UpdateFeePayment(r.Context(), p); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toFeePaymentResponse(p))
}

func (s *Server) handleDeleteFeePayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := s.repo.DeleteFeePayment(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}
