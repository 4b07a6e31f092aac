package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/LewisZett/parts-connect-pro/auth"
	"github.com/LewisZett/parts-connect-pro/chat"
	"github.com/LewisZett/parts-connect-pro/ingest"
	"github.com/LewisZett/parts-connect-pro/listing"
	"github.com/LewisZett/parts-connect-pro/match"
	"github.com/LewisZett/parts-connect-pro/profile"
)

type userResponse struct {
	ID        string  `json:"id"`
	Email     string  `json:"email"`
	FullName  string  `json:"full_name"`
	TradeType string  `json:"trade_type"`
	Phone     *string `json:"phone,omitempty"`
	Verified  bool    `json:"verified"`
	CreatedAt string  `json:"created_at"`
}

type profileResponse struct {
	ID        string `json:"id"`
	FullName  string `json:"full_name"`
	TradeType string `json:"trade_type"`
	Verified  bool   `json:"verified"`
	CreatedAt string `json:"created_at"`
}

type listingResponse struct {
	ID          string   `json:"id"`
	Kind        string   `json:"kind"`
	OwnerID     string   `json:"owner_id"`
	PartName    string   `json:"part_name"`
	Category    string   `json:"category"`
	Condition   string   `json:"condition,omitempty"`
	Price       *float64 `json:"price,omitempty"`
	MaxPrice    *float64 `json:"max_price,omitempty"`
	Description string   `json:"description,omitempty"`
	Location    string   `json:"location,omitempty"`
	Status      string   `json:"status"`
	OwnerName   string   `json:"owner_name,omitempty"`
	OwnerTrade  string   `json:"owner_trade,omitempty"`
	CreatedAt   string   `json:"created_at"`
}

type matchResponse struct {
	ID              string  `json:"id"`
	PartID          *string `json:"part_id"`
	RequestID       *string `json:"request_id"`
	SupplierID      string  `json:"supplier_id"`
	RequesterID     string  `json:"requester_id"`
	InitiatorID     string  `json:"initiator_id"`
	SupplierAgreed  bool    `json:"supplier_agreed"`
	RequesterAgreed bool    `json:"requester_agreed"`
	Status          string  `json:"status"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

type partyResponse struct {
	ID        string `json:"id"`
	FullName  string `json:"full_name"`
	TradeType string `json:"trade_type"`
}

type matchSummaryResponse struct {
	matchResponse
	Role         string        `json:"role"`
	Counterparty partyResponse `json:"counterparty"`
	ItemName     string        `json:"item_name"`
	ItemType     string        `json:"item_type"`
}

type contactResponse struct {
	UserID   string  `json:"user_id"`
	FullName string  `json:"full_name"`
	Email    string  `json:"email"`
	Phone    *string `json:"phone,omitempty"`
}

func toUserResponse(u *auth.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		FullName:  u.FullName,
		TradeType: string(u.TradeType),
		Phone:     u.Phone,
		Verified:  u.Verified,
		CreatedAt: u.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toProfileResponse(p profile.Profile) profileResponse {
	return profileResponse{
		ID:        p.ID,
		FullName:  p.FullName,
		TradeType: p.TradeType,
		Verified:  p.Verified,
		CreatedAt: p.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toListingResponse(l listing.Listing) listingResponse {
	resp := listingResponse{
		ID:          l.ID,
		Kind:        string(l.Kind),
		OwnerID:     l.OwnerID,
		PartName:    l.Name,
		Category:    l.Category,
		Condition:   l.Condition,
		Description: l.Description,
		Location:    l.Location,
		Status:      string(l.Status),
		OwnerName:   l.OwnerName,
		OwnerTrade:  l.OwnerTrade,
		CreatedAt:   l.CreatedAt.UTC().Format(time.RFC3339),
	}
	if l.Kind == listing.KindRequest {
		resp.MaxPrice = l.Price
	} else {
		resp.Price = l.Price
	}
	return resp
}

func toListingResponses(ls []listing.Listing) []listingResponse {
	out := make([]listingResponse, 0, len(ls))
	for _, l := range ls {
		out = append(out, toListingResponse(l))
	}
	return out
}

func toMatchResponse(m match.Match) matchResponse {
	return matchResponse{
		ID:              m.ID,
		PartID:          m.PartID,
		RequestID:       m.RequestID,
		SupplierID:      m.SupplierID,
		RequesterID:     m.RequesterID,
		InitiatorID:     m.InitiatorID,
		SupplierAgreed:  m.SupplierAgreed,
		RequesterAgreed: m.RequesterAgreed,
		Status:          string(m.Status),
		CreatedAt:       m.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       m.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// kindFromPath maps the plural route segment onto a listing kind.
func kindFromPath(r *http.Request) listing.Kind {
	if mux.Vars(r)["kind"] == "requests" {
		return listing.KindRequest
	}
	return listing.KindPart
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.authService.Login(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": res.Token,
		"user":  toUserResponse(&res.User),
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFrom(r.Context())
	user, err := s.authService.GetUserByID(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var req auth.UpdateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID, _ := userIDFrom(r.Context())
	user, err := s.authService.UpdateProfile(r.Context(), userID, req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.profileService.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(p))
}

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	profiles, err := s.profileService.List(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	items := make([]profileResponse, 0, len(profiles))
	for _, p := range profiles {
		items = append(items, toProfileResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

func (s *Server) handleBrowse(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	items, err := s.listingService.Browse(r.Context(), kindFromPath(r), listing.BrowseFilters{
		Query:    q.Get("q"),
		Category: q.Get("category"),
		Limit:    limit,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": toListingResponses(items)})
}

func (s *Server) handleMyListings(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFrom(r.Context())
	items, err := s.listingService.ListByOwner(r.Context(), kindFromPath(r), userID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": toListingResponses(items)})
}

// createListingRequest accepts the request-table names next to the part ones.
type createListingRequest struct {
	listing.CreateParams
	MaxPrice            *float64 `json:"max_price,omitempty"`
	ConditionPreference string   `json:"condition_preference,omitempty"`
}

func (s *Server) handleCreateListing(w http.ResponseWriter, r *http.Request) {
	var req createListingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	params := req.CreateParams
	if params.Price == nil {
		params.Price = req.MaxPrice
	}
	if params.Condition == "" {
		params.Condition = req.ConditionPreference
	}

	userID, _ := userIDFrom(r.Context())
	created, err := s.listingService.Create(r.Context(), kindFromPath(r), userID, params)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toListingResponse(created))
}

func (s *Server) handleCloseListing(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFrom(r.Context())
	closed, err := s.listingService.Close(r.Context(), kindFromPath(r), userID, mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toListingResponse(closed))
}

func (s *Server) handleDeleteListing(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFrom(r.Context())
	if err := s.listingService.Delete(r.Context(), kindFromPath(r), userID, mux.Vars(r)["id"]); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBulkText(w http.ResponseWriter, r *http.Request) {
	if s.ingestService == nil {
		writeError(w, http.StatusServiceUnavailable, "bulk text ingestion is not configured")
		return
	}
	if s.bulkTextTimeout > 0 {
		deadline := time.Now().Add(s.bulkTextTimeout)
		if err := http.NewResponseController(w).SetWriteDeadline(deadline); err != nil {
			s.log().Debug("bulk text write deadline not extended", zap.Error(err))
		}
	}
	var body struct {
		Text string `json:"text"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	userID, _ := userIDFrom(r.Context())
	res, err := s.ingestService.Ingest(r.Context(), ingest.Request{Text: body.Text, UserID: userID})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": res.Success,
		"count":   res.Count,
		"parts":   toListingResponses(res.Parts),
	})
}

func (s *Server) handleListMatches(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFrom(r.Context())
	summaries, err := s.matchService.ListMatchesForUser(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	items := make([]matchSummaryResponse, 0, len(summaries))
	for _, sum := range summaries {
		items = append(items, matchSummaryResponse{
			matchResponse: toMatchResponse(sum.Match),
			Role:          string(sum.Role),
			Counterparty: partyResponse{
				ID:        sum.Counterparty.ID,
				FullName:  sum.Counterparty.FullName,
				TradeType: sum.Counterparty.TradeType,
			},
			ItemName: sum.ItemName,
			ItemType: string(sum.ItemType),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleCreateMatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PartID         string `json:"part_id"`
		RequestID      string `json:"request_id"`
		CounterpartyID string `json:"counterparty_id"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	userID, _ := userIDFrom(r.Context())
	params := match.CreateParams{InitiatorID: userID, CounterpartyID: body.CounterpartyID}
	switch {
	case body.PartID != "" && body.RequestID == "":
		params.ListingKind, params.ListingID = listing.KindPart, body.PartID
	case body.RequestID != "" && body.PartID == "":
		params.ListingKind, params.ListingID = listing.KindRequest, body.RequestID
	default:
		writeError(w, http.StatusBadRequest, "exactly one of part_id or request_id is required")
		return
	}

	created, err := s.matchService.CreateMatch(r.Context(), params)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMatchResponse(created))
}

func (s *Server) handleAgree(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Role string `json:"role"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	userID, _ := userIDFrom(r.Context())
	updated, err := s.matchService.Agree(r.Context(), mux.Vars(r)["id"], userID, match.Role(body.Role))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMatchResponse(updated))
}

func (s *Server) handleContact(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFrom(r.Context())
	c, err := s.matchService.Contact(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, contactResponse{
		UserID:   c.UserID,
		FullName: c.FullName,
		Email:    c.Email,
		Phone:    c.Phone,
	})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFrom(r.Context())
	msgs, err := s.chatService.ListMessages(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": msgs})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content string `json:"content"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	userID, _ := userIDFrom(r.Context())
	msg, err := s.chatService.SendMessage(r.Context(), mux.Vars(r)["id"], userID, body.Content)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}
