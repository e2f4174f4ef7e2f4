package server

import (
	"net/http"
	"strconv"
)

func testNetwork(r *http.Request) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get("testNetwork"))
	return v
}

func (s *Server) handleResolveSMPURL(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	smpURL, err := s.discovery.ResolveSMPURL(r.Context(), address, testNetwork(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, map[string]string{"address": address, "smpUrl": smpURL}, http.StatusOK)
}

func (s *Server) handleVerifyRecipient(w http.ResponseWriter, r *http.Request) {
	recipient, err := s.discovery.VerifyRecipient(r.Context(), r.PathValue("address"), testNetwork(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, recipient, http.StatusOK)
}

func (s *Server) handleVerifyDocumentSupport(w http.ResponseWriter, r *http.Request) {
	support, err := s.discovery.VerifyDocumentSupport(r.Context(), r.PathValue("address"), r.PathValue("docType"), testNetwork(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, support, http.StatusOK)
}

func (s *Server) handleFetchBusinessCard(w http.ResponseWriter, r *http.Request) {
	card, err := s.discovery.FetchBusinessCard(r.Context(), r.PathValue("address"), testNetwork(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if card == nil {
		s.jsonError(w, "no business card published", http.StatusNotFound)
		return
	}
	s.jsonResponse(w, card, http.StatusOK)
}

func (s *Server) handleDescribeParticipant(w http.ResponseWriter, r *http.Request) {
	description, err := s.discovery.DescribeParticipant(r.Context(), r.PathValue("address"), testNetwork(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, description, http.StatusOK)
}
