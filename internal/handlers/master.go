package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/nkiryanov/hospitaldesk/internal/handlers/render"
	"github.com/nkiryanov/hospitaldesk/internal/models"
	"github.com/nkiryanov/hospitaldesk/internal/service/master"
)

type masterService interface {
	Branches(ctx context.Context, f master.BranchFilter) ([]models.Branch, error)
	CreateBranch(ctx context.Context, b models.Branch) (models.Branch, error)
	UpdateBranch(ctx context.Context, b models.Branch) (models.Branch, error)

	Roles(ctx context.Context, f master.RoleFilter) ([]models.Role, error)
	Menus(ctx context.Context, f master.MenuFilter) ([]models.Menu, error)

	Doctors(ctx context.Context, f master.DoctorFilter) ([]models.Doctor, error)
	CreateDoctor(ctx context.Context, p master.CreateDoctorParams) (models.Doctor, error)
	SetDoctorActive(ctx context.Context, doctorID int64, active bool) error

	Vendors(ctx context.Context, f master.VendorFilter) ([]models.Vendor, error)
	CreateVendor(ctx context.Context, v models.Vendor) (models.Vendor, error)
	SetVendorActive(ctx context.Context, vendorID int64, active bool) error
}

// Reference data handlers
type MasterHandler struct {
	master masterService
}

func NewMaster(master masterService) *MasterHandler {
	return &MasterHandler{master: master}
}

type branchRequest struct {
	Code     string `json:"code" validate:"required,max=20"`
	Name     string `json:"name" validate:"required,max=200"`
	Address  string `json:"address" validate:"max=500"`
	Contact  string `json:"contact" validate:"max=20"`
	IsActive *bool  `json:"isActive"`
}

func (b branchRequest) branch() models.Branch {
	return models.Branch{
		Code:     b.Code,
		Name:     b.Name,
		Address:  b.Address,
		Contact:  b.Contact,
		IsActive: b.IsActive == nil || *b.IsActive,
	}
}

type activeRequest struct {
	IsActive *bool `json:"isActive" validate:"required"`
}

func (h *MasterHandler) ListBranches(w http.ResponseWriter, r *http.Request) {
	activeOnly, ok := queryBool(w, r, "activeOnly")
	if !ok {
		return
	}

	branches, err := h.master.Branches(r.Context(), master.BranchFilter{ActiveOnly: activeOnly})
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.JSON(w, branches)
}

func (h *MasterHandler) CreateBranch(w http.ResponseWriter, r *http.Request) {
	data, err := render.BindAndValidate[branchRequest](w, r)
	if err != nil {
		return
	}

	created, err := h.master.CreateBranch(r.Context(), data.branch())
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.JSONWithStatus(w, created, http.StatusCreated)
}

func (h *MasterHandler) UpdateBranch(w http.ResponseWriter, r *http.Request) {
	branchID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	data, err := render.BindAndValidate[branchRequest](w, r)
	if err != nil {
		return
	}

	b := data.branch()
	b.ID = branchID
	updated, err := h.master.UpdateBranch(r.Context(), b)
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.JSON(w, updated)
}

func (h *MasterHandler) ListRoles(w http.ResponseWriter, r *http.Request) {
	activeOnly, ok := queryBool(w, r, "activeOnly")
	if !ok {
		return
	}

	roles, err := h.master.Roles(r.Context(), master.RoleFilter{ActiveOnly: activeOnly})
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.JSON(w, roles)
}

func (h *MasterHandler) ListMenus(w http.ResponseWriter, r *http.Request) {
	var f master.MenuFilter
	var ok bool

	if f.ActiveOnly, ok = queryBool(w, r, "activeOnly"); !ok {
		return
	}
	if f.RootOnly, ok = queryBool(w, r, "rootOnly"); !ok {
		return
	}
	parentID, ok := queryInt(w, r, "parentId", 0)
	if !ok {
		return
	}
	f.ParentID = int64(parentID)

	menus, err := h.master.Menus(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.JSON(w, menus)
}

func (h *MasterHandler) ListDoctors(w http.ResponseWriter, r *http.Request) {
	activeOnly, ok := queryBool(w, r, "activeOnly")
	if !ok {
		return
	}
	branchID, ok := queryInt(w, r, "branchId", 0)
	if !ok {
		return
	}

	doctors, err := h.master.Doctors(r.Context(), master.DoctorFilter{BranchID: int64(branchID), ActiveOnly: activeOnly})
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.JSON(w, doctors)
}

func (h *MasterHandler) CreateDoctor(w http.ResponseWriter, r *http.Request) {
	type LoginRequest struct {
		Username string `json:"username" validate:"required,max=100"`
		Password string `json:"password" validate:"required,min=8,max=200"`
	}
	type CreateDoctorRequest struct {
		BranchID        int64           `json:"branchId" validate:"required,gt=0"`
		Name            string          `json:"name" validate:"required,max=200"`
		Specialization  string          `json:"specialization" validate:"max=200"`
		Qualification   string          `json:"qualification" validate:"max=200"`
		Contact         string          `json:"contact" validate:"max=20"`
		Email           string          `json:"email" validate:"omitempty,email"`
		ConsultationFee decimal.Decimal `json:"consultationFee"`
		Login           *LoginRequest   `json:"login"`
	}

	data, err := render.BindAndValidate[CreateDoctorRequest](w, r)
	if err != nil {
		return
	}

	params := master.CreateDoctorParams{
		BranchID:        data.BranchID,
		Name:            data.Name,
		Specialization:  data.Specialization,
		Qualification:   data.Qualification,
		Contact:         data.Contact,
		Email:           data.Email,
		ConsultationFee: data.ConsultationFee,
	}
	if data.Login != nil {
		params.Login = &master.DoctorLogin{Username: data.Login.Username, Password: data.Login.Password}
	}

	created, err := h.master.CreateDoctor(r.Context(), params)
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.JSONWithStatus(w, created, http.StatusCreated)
}

func (h *MasterHandler) SetDoctorActive(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	data, err := render.BindAndValidate[activeRequest](w, r)
	if err != nil {
		return
	}

	if err := h.master.SetDoctorActive(r.Context(), doctorID, *data.IsActive); err != nil {
		writeError(w, r, err)
		return
	}

	render.JSON(w, successResponse{Success: true})
}

func (h *MasterHandler) ListVendors(w http.ResponseWriter, r *http.Request) {
	activeOnly, ok := queryBool(w, r, "activeOnly")
	if !ok {
		return
	}

	vendors, err := h.master.Vendors(r.Context(), master.VendorFilter{ActiveOnly: activeOnly})
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.JSON(w, vendors)
}

func (h *MasterHandler) CreateVendor(w http.ResponseWriter, r *http.Request) {
	type CreateVendorRequest struct {
		Name          string `json:"name" validate:"required,max=200"`
		ContactPerson string `json:"contactPerson" validate:"max=200"`
		Contact       string `json:"contact" validate:"max=20"`
		Email         string `json:"email" validate:"omitempty,email"`
		GSTNumber     string `json:"gstNumber" validate:"max=20"`
		Address       string `json:"address" validate:"max=500"`
	}

	data, err := render.BindAndValidate[CreateVendorRequest](w, r)
	if err != nil {
		return
	}

	created, err := h.master.CreateVendor(r.Context(), models.Vendor{
		Name:          data.Name,
		ContactPerson: data.ContactPerson,
		Contact:       data.Contact,
		Email:         data.Email,
		GSTNumber:     data.GSTNumber,
		Address:       data.Address,
		IsActive:      true,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.JSONWithStatus(w, created, http.StatusCreated)
}

func (h *MasterHandler) SetVendorActive(w http.ResponseWriter, r *http.Request) {
	vendorID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	data, err := render.BindAndValidate[activeRequest](w, r)
	if err != nil {
		return
	}

	if err := h.master.SetVendorActive(r.Context(), vendorID, *data.IsActive); err != nil {
		writeError(w, r, err)
		return
	}

	render.JSON(w, successResponse{Success: true})
}

// Optional bool query parameter, false if absent. On failure response is written
func queryBool(w http.ResponseWriter, r *http.Request, name string) (bool, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, true
	}

	v, err := strconv.ParseBool(raw)
	if err != nil {
		render.ServiceError(w, "Invalid "+name, http.StatusBadRequest)
		return false, false
	}
	return v, true
}
