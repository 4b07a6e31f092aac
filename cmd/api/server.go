package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
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

type ctxKey int

const (
	ctxKeyUserID ctxKey = iota
	ctxKeyEmail
)

const maxBodyBytes = 1 << 20

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	GetUserByID(ctx context.Context, userID string) (*auth.User, error)
	UpdateProfile(ctx context.Context, userID string, req auth.UpdateProfileRequest) (*auth.User, error)
	VerifyToken(token string) (auth.Session, error)
}

type profileService interface {
	GetByID(ctx context.Context, id string) (profile.Profile, error)
	List(ctx context.Context, limit int) ([]profile.Profile, error)
}

type listingService interface {
	Create(ctx context.Context, kind listing.Kind, ownerID string, params listing.CreateParams) (listing.Listing, error)
	Browse(ctx context.Context, kind listing.Kind, filters listing.BrowseFilters) ([]listing.Listing, error)
	ListByOwner(ctx context.Context, kind listing.Kind, ownerID string) ([]listing.Listing, error)
	Close(ctx context.Context, kind listing.Kind, ownerID, id string) (listing.Listing, error)
	Delete(ctx context.Context, kind listing.Kind, ownerID, id string) error
}

type matchService interface {
	CreateMatch(ctx context.Context, params match.CreateParams) (match.Match, error)
	Agree(ctx context.Context, matchID, callerID string, role match.Role) (match.Match, error)
	ListMatchesForUser(ctx context.Context, userID string) ([]match.Summary, error)
	Contact(ctx context.Context, matchID, callerID string) (match.Contact, error)
}

type chatService interface {
	SendMessage(ctx context.Context, matchID, senderID, body string) (chat.Message, error)
	ListMessages(ctx context.Context, matchID, callerID string) ([]chat.Message, error)
	Subscribe(ctx context.Context, matchID, callerID string) (*chat.Subscription, error)
}

type ingestService interface {
	Ingest(ctx context.Context, req ingest.Request) (ingest.Result, error)
}

// Server exposes the marketplace over HTTP.
type Server struct {
	authService    authService
	profileService profileService
	listingService listingService
	matchService   matchService
	chatService    chatService
	ingestService  ingestService
	logger         *zap.Logger

	// bulkTextTimeout replaces the server write deadline for bulk-text
	// requests, which outlive it while the model runs. Zero keeps the default.
	bulkTextTimeout time.Duration
}

// Routes builds the router. Everything under /api except register and login
// requires a bearer token.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auth/register", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)

	authed := api.NewRoute().Subrouter()
	authed.Use(s.requireSession)

	authed.HandleFunc("/me", s.handleMe).Methods(http.MethodGet)
	authed.HandleFunc("/me", s.handleUpdateMe).Methods(http.MethodPatch)
	authed.HandleFunc("/me/{kind:parts|requests}", s.handleMyListings).Methods(http.MethodGet)

	authed.HandleFunc("/profiles", s.handleProfiles).Methods(http.MethodGet)
	authed.HandleFunc("/profiles/{id}", s.handleProfile).Methods(http.MethodGet)

	authed.HandleFunc("/parts/bulk-text", s.handleBulkText).Methods(http.MethodPost)
	authed.HandleFunc("/{kind:parts|requests}", s.handleBrowse).Methods(http.MethodGet)
	authed.HandleFunc("/{kind:parts|requests}", s.handleCreateListing).Methods(http.MethodPost)
	authed.HandleFunc("/{kind:parts|requests}/{id}/close", s.handleCloseListing).Methods(http.MethodPost)
	authed.HandleFunc("/{kind:parts|requests}/{id}", s.handleDeleteListing).Methods(http.MethodDelete)

	authed.HandleFunc("/matches", s.handleListMatches).Methods(http.MethodGet)
	authed.HandleFunc("/matches", s.handleCreateMatch).Methods(http.MethodPost)
	authed.HandleFunc("/matches/{id}/agree", s.handleAgree).Methods(http.MethodPost)
	authed.HandleFunc("/matches/{id}/contact", s.handleContact).Methods(http.MethodGet)
	authed.HandleFunc("/matches/{id}/messages", s.handleListMessages).Methods(http.MethodGet)
	authed.HandleFunc("/matches/{id}/messages", s.handleSendMessage).Methods(http.MethodPost)
	authed.HandleFunc("/matches/{id}/messages/stream", s.handleStream).Methods(http.MethodGet)

	return r
}

func (s *Server) log() *zap.Logger {
	if s.logger == nil {
		return zap.NewNop()
	}
	return s.logger
}

// requireSession verifies the bearer token. Browsers cannot set headers on a
// websocket handshake, so the stream route also accepts ?access_token=.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" && strings.HasSuffix(r.URL.Path, "/messages/stream") {
			token = r.URL.Query().Get("access_token")
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		sess, err := s.authService.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUserID, sess.UserID)
		ctx = context.WithValue(ctx, ctxKeyEmail, sess.Email)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func userIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKeyUserID).(string)
	return id, ok && id != ""
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps domain sentinels onto HTTP statuses. Unknown errors
// are logged and reported as 500 without detail.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log().Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrInvalidInput),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, listing.ErrInvalidInput),
		errors.Is(err, listing.ErrUnknownKind),
		errors.Is(err, match.ErrInvalidInput),
		errors.Is(err, match.ErrSelfMatch),
		errors.Is(err, match.ErrCounterpartyMismatch),
		errors.Is(err, chat.ErrEmptyBody),
		errors.Is(err, chat.ErrBodyTooLong),
		errors.Is(err, ingest.ErrInvalidInput),
		errors.Is(err, ingest.ErrNoParts):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, listing.ErrForbidden),
		errors.Is(err, match.ErrForbidden),
		errors.Is(err, match.ErrConsentPending),
		errors.Is(err, chat.ErrNotParticipant):
		return http.StatusForbidden
	case errors.Is(err, auth.ErrUserNotFound),
		errors.Is(err, profile.ErrNotFound),
		errors.Is(err, listing.ErrNotFound),
		errors.Is(err, match.ErrNotFound),
		errors.Is(err, chat.ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrDuplicateEmail),
		errors.Is(err, listing.ErrInUse),
		errors.Is(err, match.ErrDuplicate),
		errors.Is(err, match.ErrListingClosed):
		return http.StatusConflict
	case errors.Is(err, ingest.ErrExtraction):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
