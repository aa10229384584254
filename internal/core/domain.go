package core

import (
	"errors"
	"strings"
	"time"
)

// Pod types. A pod is a metering point that either produces or consumes energy.
const (
	PodProduction  PodType = "Production"
	PodConsumption PodType = "Consumption"
)

// Sharing group scopes.
const (
	GroupNational GroupType = "National"
	GroupLocal    GroupType = "Local"
)

// Member fee payment states.
const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentOverdue PaymentStatus = "overdue"
)

// Settlement run sync states (mirroring to the external ledger).
const (
	SyncPending SyncStatus = "pending"
	SyncDone    SyncStatus = "synced"
	SyncError   SyncStatus = "error"
)

type (
	PodType       string
	GroupType     string
	PaymentStatus string
	SyncStatus    string

	Money struct {
		Cents int64
	}

	Member struct {
		ID          int64
		Name        string
		Firstname   string
		NationalID  string
		Address     string
		PhoneNumber string
		Email       string
		EnergyID    string
	}

	Pod struct {
		ID        int64
		Label     string
		Type      PodType
		MemberID  int64
		PodNumber string
	}

	SharingGroup struct {
		ID          int64
		Name        string
		GroupNumber string
		Price       Money
		Type        GroupType
	}

	PodSharingGroup struct {
		ID             int64
		PodID          int64
		SharingGroupID int64
	}

	MemberFee struct {
		ID         int64
		Amount     Money
		FiscalYear int
	}

	MemberFeePayment struct {
		ID          int64
		MemberID    int64
		MemberFeeID int64
		PaymentDate *time.Time
		Status      PaymentStatus
	}

	// Accounting is one month's billable charge for one member/pod/group
	// combination. BillingDate is nil while the charge is still open.
	Accounting struct {
		ID             int64
		Year           int
		Month          int
		MemberID       int64
		PodID          int64
		SharingGroupID int64
		Amount         Money
		BillingDate    *time.Time
	}

	// SettlementLine is one member's total over the unbilled entries of a run.
	SettlementLine struct {
		ID        int64
		RunID     int64
		MemberID  int64
		Name      string
		Firstname string
		Total     Money
	}

	// SettlementRun records one execution of the billing workflow.
	SettlementRun struct {
		ID          int64
		Filename    string
		GeneratedAt time.Time
		GrandTotal  Money
		MemberCount int
		SyncStatus  SyncStatus
		Lines       []SettlementLine
	}
)

var (
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidPodType       = errors.New("pod type must be Production or Consumption")
	ErrInvalidGroupType     = errors.New("group type must be National or Local")
	ErrInvalidPaymentStatus = errors.New("payment status must be pending, paid or overdue")
	ErrInvalidMonth         = errors.New("month must be between 1 and 12")
	ErrInvalidYear          = errors.New("invalid year")
	ErrEmptyName            = errors.New("empty name")
	ErrEmptyLabel           = errors.New("empty label")
	ErrNotFound             = errors.New("not found")
	ErrDuplicate            = errors.New("duplicate record")
)

func (t PodType) Validate() error {
	switch t {
	case PodProduction, PodConsumption:
		return nil
	}
	return ErrInvalidPodType
}

func (t GroupType) Validate() error {
	switch t {
	case GroupNational, GroupLocal:
		return nil
	}
	return ErrInvalidGroupType
}

func (s PaymentStatus) Validate() error {
	switch s {
	case PaymentPending, PaymentPaid, PaymentOverdue:
		return nil
	}
	return ErrInvalidPaymentStatus
}

func (m Member) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return ErrEmptyName
	}
	if len(m.Name) > 100 || len(m.Firstname) > 100 {
		return errors.New("name too long (max 100 characters)")
	}
	return nil
}

func (p Pod) Validate() error {
	if strings.TrimSpace(p.Label) == "" {
		return ErrEmptyLabel
	}
	if p.MemberID <= 0 {
		return errors.New("pod requires an owning member")
	}
	return p.Type.Validate()
}

func (g SharingGroup) Validate() error {
	if strings.TrimSpace(g.Name) == "" {
		return ErrEmptyName
	}
	if err := g.Type.Validate(); err != nil {
		return err
	}
	if g.Price.Cents < 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (f MemberFee) Validate() error {
	if f.Amount.Cents <= 0 {
		return ErrInvalidAmount
	}
	if f.FiscalYear < 2000 || f.FiscalYear > 2200 {
		return ErrInvalidYear
	}
	return nil
}

func (p MemberFeePayment) Validate() error {
	if p.MemberID <= 0 || p.MemberFeeID <= 0 {
		return errors.New("payment requires a member and a fee")
	}
	return p.Status.Validate()
}

func (a Accounting) Validate() error {
	if a.Month < 1 || a.Month > 12 {
		return ErrInvalidMonth
	}
	if a.Year < 2000 || a.Year > 2200 {
		return ErrInvalidYear
	}
	if a.MemberID <= 0 || a.PodID <= 0 || a.SharingGroupID <= 0 {
		return errors.New("accounting entry requires member, pod and sharing group")
	}
	if a.Amount.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Billed reports whether the entry was already included in a settlement.
func (a Accounting) Billed() bool {
	return a.BillingDate != nil
}
