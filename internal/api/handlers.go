// Package api exposes HTTP handlers for the registration backend.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/du6/yourlittleone/internal/auth"
	"github.com/du6/yourlittleone/internal/domain"
	"github.com/du6/yourlittleone/internal/observability"
	"github.com/du6/yourlittleone/internal/persistence"
)

// Handler coordinates HTTP requests with the registration coordinator.
type Handler struct {
	coordinator *domain.Coordinator
}

// NewHandler builds a Handler.
func NewHandler(coordinator *domain.Coordinator) *Handler {
	return &Handler{coordinator: coordinator}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/activities", h.activities)
	mux.HandleFunc("/v1/activities/created", h.activitiesCreated)
	mux.HandleFunc("/v1/activities/attending", h.activitiesAttending)
	mux.HandleFunc("/v1/activities/", h.activityByKey)
	mux.HandleFunc("/v1/profile", h.profile)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) activities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	h.createActivity(w, r)
}

func (h *Handler) activityByKey(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/activities/")
	token, isRegistration := strings.CutSuffix(rest, "/registration")
	token = strings.TrimSuffix(token, "/")
	if token == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing activity key")
		return
	}

	key, err := persistence.DecodeActivityKey(token)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid activity key")
		return
	}

	if isRegistration {
		switch r.Method {
		case http.MethodPost:
			h.register(w, r, key)
		case http.MethodDelete:
			h.unregister(w, r, key)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getActivity(w, r, key)
	case http.MethodPut:
		h.updateActivity(w, r, key)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) createActivity(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireScope(w, r, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}

	var req ActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	activity, err := h.coordinator.CreateActivity(r.Context(), caller, req.toForm())
	if err != nil {
		writeFault(w, err)
		return
	}

	observability.RecordActivityCreated(activity.CreatedAt)
	writeJSON(w, http.StatusCreated, toActivityView(*activity))
}

func (h *Handler) updateActivity(w http.ResponseWriter, r *http.Request, key domain.ActivityKey) {
	caller, ok := requireScope(w, r, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}

	var req ActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	activity, err := h.coordinator.UpdateActivity(r.Context(), caller, key, req.toForm())
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toActivityView(*activity))
}

func (h *Handler) getActivity(w http.ResponseWriter, r *http.Request, key domain.ActivityKey) {
	caller, ok := requireScope(w, r, auth.ScopeActivitiesRead, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}

	activity, err := h.coordinator.GetActivity(r.Context(), caller.TenantID, key)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toActivityView(*activity))
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request, key domain.ActivityKey) {
	caller, ok := requireScope(w, r, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}

	result, err := h.coordinator.Register(r.Context(), caller, key)
	if err != nil {
		switch domain.CodeOf(err) {
		case domain.FaultConflict:
			observability.RecordRegistration("conflict")
		case domain.FaultNotFound:
			observability.RecordRegistration("not_found")
		default:
			observability.RecordRegistration("error")
		}
		writeFault(w, err)
		return
	}
	observability.RecordRegistration("registered")
	writeJSON(w, http.StatusOK, RegistrationResponse{Result: result})
}

func (h *Handler) unregister(w http.ResponseWriter, r *http.Request, key domain.ActivityKey) {
	caller, ok := requireScope(w, r, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}

	result, err := h.coordinator.Unregister(r.Context(), caller, key)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RegistrationResponse{Result: result})
}

func (h *Handler) activitiesCreated(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	caller, ok := requireScope(w, r, auth.ScopeActivitiesRead, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}

	activities, err := h.coordinator.ActivitiesCreated(r.Context(), caller)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toActivityList(activities))
}

func (h *Handler) activitiesAttending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	caller, ok := requireScope(w, r, auth.ScopeActivitiesRead, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}

	activities, err := h.coordinator.ActivitiesToAttend(r.Context(), caller)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toActivityList(activities))
}

func (h *Handler) profile(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		caller, ok := requireScope(w, r, auth.ScopeProfileRead, auth.ScopeProfileWrite)
		if !ok {
			return
		}
		profile, err := h.coordinator.GetProfile(r.Context(), caller)
		if err != nil {
			writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toProfileView(*profile))

	case http.MethodPost:
		caller, ok := requireScope(w, r, auth.ScopeProfileWrite)
		if !ok {
			return
		}
		var req ProfileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
			return
		}
		var gender *domain.Gender
		if req.Gender != nil {
			g := domain.Gender(*req.Gender)
			gender = &g
		}
		profile, err := h.coordinator.SaveProfile(r.Context(), caller, req.DisplayName, gender)
		if err != nil {
			writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toProfileView(*profile))

	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

// requireScope resolves the caller identity and enforces that at least one of
// the scopes is present.
func requireScope(w http.ResponseWriter, r *http.Request, scopes ...string) (domain.Identity, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return domain.Identity{}, false
	}
	for _, scope := range scopes {
		if claims.HasScope(scope) {
			return domain.Identity{
				TenantID: claims.TenantID,
				UserID:   claims.Subject,
				Email:    claims.Email,
			}, true
		}
	}
	writeError(w, http.StatusForbidden, "forbidden", "scope "+scopes[0]+" required")
	return domain.Identity{}, false
}

// ActivityRequest is the payload for creating and updating activities.
type ActivityRequest struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Topics      []string   `json:"topics"`
	Location    string     `json:"location"`
	StartAt     *time.Time `json:"start_at"`
	EndAt       *time.Time `json:"end_at"`
	MaxSeats    int        `json:"max_seats"`
}

func (r ActivityRequest) toForm() domain.ActivityForm {
	return domain.ActivityForm{
		Name:        strings.TrimSpace(r.Name),
		Description: r.Description,
		Topics:      r.Topics,
		Location:    r.Location,
		Start:       r.StartAt,
		End:         r.EndAt,
		MaxSeats:    r.MaxSeats,
	}
}

// ProfileRequest is the payload for POST /v1/profile. Nil fields are left
// untouched.
type ProfileRequest struct {
	DisplayName *string `json:"display_name"`
	Gender      *string `json:"gender"`
}

// RegistrationResponse reports the outcome of register/unregister calls.
type RegistrationResponse struct {
	Result bool `json:"result"`
}

// ActivityView exposes full details about an activity.
type ActivityView struct {
	Key            string     `json:"key"`
	OwnerID        string     `json:"owner_id"`
	Name           string     `json:"name"`
	Description    string     `json:"description"`
	Topics         []string   `json:"topics"`
	Location       string     `json:"location"`
	StartAt        *time.Time `json:"start_at,omitempty"`
	EndAt          *time.Time `json:"end_at,omitempty"`
	StartMonth     int        `json:"start_month,omitempty"`
	MaxSeats       int        `json:"max_seats"`
	AvailableSeats int        `json:"available_seats"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ProfileView exposes the caller's profile.
type ProfileView struct {
	UserID      string   `json:"user_id"`
	DisplayName string   `json:"display_name"`
	Email       string   `json:"email"`
	Gender      string   `json:"gender"`
	Attending   []string `json:"attending"`
}

// ActivityListResponse packages list results.
type ActivityListResponse struct {
	Items []ActivityView `json:"items"`
}

func toActivityView(activity domain.Activity) ActivityView {
	return ActivityView{
		Key:            persistence.EncodeActivityKey(activity.Key()),
		OwnerID:        activity.OwnerID,
		Name:           activity.Name,
		Description:    activity.Description,
		Topics:         activity.Topics,
		Location:       activity.Location,
		StartAt:        activity.Start,
		EndAt:          activity.End,
		StartMonth:     activity.StartMonth,
		MaxSeats:       activity.MaxSeats,
		AvailableSeats: activity.AvailableSeats,
		CreatedAt:      activity.CreatedAt,
		UpdatedAt:      activity.UpdatedAt,
	}
}

func toActivityList(activities []domain.Activity) ActivityListResponse {
	items := make([]ActivityView, 0, len(activities))
	for _, activity := range activities {
		items = append(items, toActivityView(activity))
	}
	return ActivityListResponse{Items: items}
}

func toProfileView(profile domain.Profile) ProfileView {
	attending := make([]string, 0, len(profile.Attending))
	for _, key := range profile.Attending {
		attending = append(attending, persistence.EncodeActivityKey(key))
	}
	return ProfileView{
		UserID:      profile.UserID,
		DisplayName: profile.DisplayName,
		Email:       profile.Email,
		Gender:      string(profile.Gender),
		Attending:   attending,
	}
}

func writeFault(w http.ResponseWriter, err error) {
	detail := err.Error()
	var fault *domain.Fault
	if errors.As(err, &fault) {
		detail = fault.Message
	}

	switch domain.CodeOf(err) {
	case domain.FaultInvalid:
		writeError(w, http.StatusBadRequest, "validation_failed", detail)
	case domain.FaultNotFound:
		writeError(w, http.StatusNotFound, "not_found", detail)
	case domain.FaultForbidden:
		writeError(w, http.StatusForbidden, "forbidden", detail)
	case domain.FaultConflict:
		writeError(w, http.StatusConflict, "conflict", detail)
	case domain.FaultUnavailable:
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "unavailable", detail)
	default:
		writeError(w, http.StatusInternalServerError, "server_error", detail)
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
