package server

import (
	"net/http"

	"github.com/brbxai/recommand-peppol-sub001/internal/registration"
	"github.com/brbxai/recommand-peppol-sub001/internal/storage"
)

// Request types

// CreateTeamRequest is the request body for creating a team
type CreateTeamRequest struct {
	Name                string `json:"name"`
	IsPlayground        bool   `json:"isPlayground"`
	UseTestNetwork      bool   `json:"useTestNetwork"`
	SkipSMPRegistration bool   `json:"skipSmpRegistration"`
}

// UpdateTeamRequest is the request body for updating a team. Omitted
// fields keep their value.
type UpdateTeamRequest struct {
	Name                *string `json:"name,omitempty"`
	IsPlayground        *bool   `json:"isPlayground,omitempty"`
	UseTestNetwork      *bool   `json:"useTestNetwork,omitempty"`
	SkipSMPRegistration *bool   `json:"skipSmpRegistration,omitempty"`
}

// IdentifierRequest is the request body for adding or changing a custom
// identifier
type IdentifierRequest struct {
	Scheme string `json:"scheme"`
	Value  string `json:"value"`
}

// DocumentTypeRequest is the request body for adding or changing a
// capability
type DocumentTypeRequest struct {
	DocTypeID string `json:"docTypeId"`
	ProcessID string `json:"processId"`
}

// Team handlers

func (s *Server) handleCreateTeam(w http.ResponseWriter, r *http.Request) {
	var req CreateTeamRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Name == "" {
		s.jsonError(w, "name is required", http.StatusBadRequest)
		return
	}

	t := &storage.Team{
		Name:                req.Name,
		IsPlayground:        req.IsPlayground,
		UseTestNetwork:      req.UseTestNetwork,
		SkipSMPRegistration: req.SkipSMPRegistration,
	}
	if err := s.store.CreateTeam(r.Context(), t); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, t, http.StatusCreated)
}

func (s *Server) handleGetTeam(w http.ResponseWriter, r *http.Request) {
	t, err := s.teams.GetTeam(r.Context(), r.PathValue("teamID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, t, http.StatusOK)
}

func (s *Server) handleUpdateTeam(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.GetTeam(r.Context(), r.PathValue("teamID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req UpdateTeamRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Name != nil {
		t.Name = *req.Name
	}
	if req.IsPlayground != nil {
		t.IsPlayground = *req.IsPlayground
	}
	if req.UseTestNetwork != nil {
		t.UseTestNetwork = *req.UseTestNetwork
	}
	if req.SkipSMPRegistration != nil {
		t.SkipSMPRegistration = *req.SkipSMPRegistration
	}

	if err := s.teams.UpdateTeam(r.Context(), t); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, t, http.StatusOK)
}

// Company handlers

func (s *Server) handleCreateCompany(w http.ResponseWriter, r *http.Request) {
	var req registration.CompanyInput
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	company, err := s.registration.CreateCompany(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, company, http.StatusCreated)
}

func (s *Server) handleGetCompany(w http.ResponseWriter, r *http.Request) {
	company, err := s.store.GetCompany(r.Context(), r.PathValue("companyID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, company, http.StatusOK)
}

func (s *Server) handleUpdateCompany(w http.ResponseWriter, r *http.Request) {
	var req registration.CompanyInput
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	company, err := s.registration.UpdateCompany(r.Context(), r.PathValue("companyID"), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, company, http.StatusOK)
}

func (s *Server) handleDeleteCompany(w http.ResponseWriter, r *http.Request) {
	if err := s.registration.DeleteCompany(r.Context(), r.PathValue("companyID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSyncCompany(w http.ResponseWriter, r *http.Request) {
	if err := s.registration.SyncCompany(r.Context(), r.PathValue("companyID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, map[string]string{"status": "synced"}, http.StatusOK)
}

// Identifier handlers

func (s *Server) handleListIdentifiers(w http.ResponseWriter, r *http.Request) {
	companyID := r.PathValue("companyID")
	if _, err := s.store.GetCompany(r.Context(), companyID); err != nil {
		s.writeError(w, r, err)
		return
	}
	rows, err := s.store.ListIdentifiers(r.Context(), companyID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, map[string]any{"identifiers": rows}, http.StatusOK)
}

func (s *Server) handleAddIdentifier(w http.ResponseWriter, r *http.Request) {
	var req IdentifierRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	row, err := s.registration.AddIdentifier(r.Context(), r.PathValue("companyID"), req.Scheme, req.Value)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, row, http.StatusCreated)
}

// ownedIdentifier checks the identifier in the path belongs to the company
// in the path
func (s *Server) ownedIdentifier(r *http.Request) (string, error) {
	id := r.PathValue("identifierID")
	row, err := s.store.GetIdentifier(r.Context(), id)
	if err != nil {
		return "", err
	}
	if row.CompanyID != r.PathValue("companyID") {
		return "", storage.ErrNotFound
	}
	return id, nil
}

func (s *Server) handleUpdateIdentifier(w http.ResponseWriter, r *http.Request) {
	id, err := s.ownedIdentifier(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req IdentifierRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	row, err := s.registration.UpdateIdentifier(r.Context(), id, req.Scheme, req.Value)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, row, http.StatusOK)
}

func (s *Server) handleRemoveIdentifier(w http.ResponseWriter, r *http.Request) {
	id, err := s.ownedIdentifier(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.registration.RemoveIdentifier(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Document type handlers

func (s *Server) handleListDocumentTypes(w http.ResponseWriter, r *http.Request) {
	companyID := r.PathValue("companyID")
	if _, err := s.store.GetCompany(r.Context(), companyID); err != nil {
		s.writeError(w, r, err)
		return
	}
	rows, err := s.store.ListDocumentTypes(r.Context(), companyID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, map[string]any{"documentTypes": rows}, http.StatusOK)
}

func (s *Server) handleAddDocumentType(w http.ResponseWriter, r *http.Request) {
	var req DocumentTypeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	row, err := s.registration.AddDocumentType(r.Context(), r.PathValue("companyID"), req.DocTypeID, req.ProcessID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, row, http.StatusCreated)
}

func (s *Server) ownedDocumentType(r *http.Request) (string, error) {
	id := r.PathValue("documentTypeID")
	row, err := s.store.GetDocumentType(r.Context(), id)
	if err != nil {
		return "", err
	}
	if row.CompanyID != r.PathValue("companyID") {
		return "", storage.ErrNotFound
	}
	return id, nil
}

func (s *Server) handleUpdateDocumentType(w http.ResponseWriter, r *http.Request) {
	id, err := s.ownedDocumentType(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req DocumentTypeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	row, err := s.registration.UpdateDocumentType(r.Context(), id, req.DocTypeID, req.ProcessID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, row, http.StatusOK)
}

func (s *Server) handleRemoveDocumentType(w http.ResponseWriter, r *http.Request) {
	id, err := s.ownedDocumentType(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.registration.RemoveDocumentType(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
