package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/klimadev/chamalead-sub000/internal/deeplink"
	apperrors "github.com/klimadev/chamalead-sub000/internal/errors"
	"github.com/klimadev/chamalead-sub000/internal/pairing"
	"github.com/klimadev/chamalead-sub000/internal/service"
	"github.com/klimadev/chamalead-sub000/internal/util"
)

// InstanceHandler serves the admin panel's instance actions. The CSRF
// middleware guards the route; the admin session itself is handled by the
// surrounding panel and is not this handler's concern.
type InstanceHandler struct {
	instances *service.InstanceService
	pairing   *service.PairingService
	sessions  *pairing.Manager
	deepLinks *deeplink.Service
}

func NewInstanceHandler(
	instances *service.InstanceService,
	pairingSvc *service.PairingService,
	sessions *pairing.Manager,
	deepLinks *deeplink.Service,
) *InstanceHandler {
	return &InstanceHandler{
		instances: instances,
		pairing:   pairingSvc,
		sessions:  sessions,
		deepLinks: deepLinks,
	}
}

func (h *InstanceHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/instance-actions", h.Actions)

	return r
}

// POST /admin/instance-actions
// Form-encoded dispatch endpoint, one `action` per request.
func (h *InstanceHandler) Actions(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, apperrors.ValidationError("Malformed form body"))
		return
	}

	action := r.PostFormValue("action")
	instanceID := util.SanitizeInstanceName(r.PostFormValue("instance"))

	if action == "" {
		writeError(w, apperrors.MissingRequired("action"))
		return
	}

	// list is the one action that spans instances.
	if action == "list" {
		h.list(w, r)
		return
	}

	if instanceID == "" {
		writeError(w, apperrors.MissingRequired("instance"))
		return
	}

	switch action {
	case "connect":
		h.connect(w, r, instanceID)
	case "closeConnect":
		h.sessions.Close(instanceID)
		writeSuccess(w, nil)
	case "syncPairing":
		h.syncPairing(w, r, instanceID)
	case "checkStatus":
		h.checkStatus(w, r, instanceID)
	case "generateDeepLink":
		h.generateDeepLink(w, r, instanceID)
	case "create":
		h.create(w, r, instanceID)
	case "edit":
		h.edit(w, r, instanceID)
	case "delete":
		h.delete(w, r, instanceID)
	case "getSettings":
		h.getSettings(w, r, instanceID)
	case "getInstanceDetails":
		h.getInstanceDetails(w, r, instanceID)
	default:
		writeError(w, apperrors.InvalidInput("action", "unknown action"))
	}
}

// connect opens a pairing session for the connect dialog. The session
// keeps itself fresh from here on; the dialog only listens to events.
func (h *InstanceHandler) connect(w http.ResponseWriter, r *http.Request, instanceID string) {
	result, appErr := h.sessions.Open(r.Context(), instanceID, r.PostFormValue("number"))
	if appErr != nil {
		writeError(w, appErr)
		return
	}
	writeSuccess(w, result)
}

func (h *InstanceHandler) syncPairing(w http.ResponseWriter, r *http.Request, instanceID string) {
	if !util.IsValidPhoneNumber(r.PostFormValue("number")) {
		writeError(w, apperrors.InvalidInput("phone number", "must have at least 10 digits"))
		return
	}
	number := util.NormalizePhoneNumber(r.PostFormValue("number"))

	result, appErr := h.pairing.SyncPairing(r.Context(), instanceID, number, r.PostFormValue("lastCode"))
	if appErr != nil {
		writeError(w, appErr)
		return
	}
	writeSuccess(w, result)
}

func (h *InstanceHandler) list(w http.ResponseWriter, r *http.Request) {
	instances, appErr := h.instances.List(r.Context())
	if appErr != nil {
		writeError(w, appErr)
		return
	}
	writeSuccess(w, instances)
}

func (h *InstanceHandler) checkStatus(w http.ResponseWriter, r *http.Request, instanceID string) {
	status, appErr := h.pairing.CheckStatus(r.Context(), instanceID)
	if appErr != nil {
		writeError(w, appErr)
		return
	}
	writeSuccess(w, status)
}

func (h *InstanceHandler) generateDeepLink(w http.ResponseWriter, r *http.Request, instanceID string) {
	expiresAt, _ := strconv.ParseInt(r.PostFormValue("exp"), 10, 64)

	link, err := h.deepLinks.BuildSignedURL(r, instanceID, expiresAt)
	if err != nil {
		writeError(w, apperrors.InvalidInput("instance", err.Error()))
		return
	}

	shareQR, err := deeplink.ShareQR(link)
	if err != nil {
		log.Warn().Err(err).Str("instance", instanceID).Msg("failed to render share qr")
		shareQR = ""
	}

	log.Info().Str("instance", instanceID).Msg("deep link generated")
	writeSuccess(w, map[string]any{
		"url":    link,
		"qrCode": shareQR,
	})
}

func (h *InstanceHandler) create(w http.ResponseWriter, r *http.Request, instanceID string) {
	if appErr := h.instances.Create(r.Context(), instanceID); appErr != nil {
		writeError(w, appErr)
		return
	}
	writeSuccess(w, nil)
}

// edit updates instance settings; the form carries them as a JSON object.
func (h *InstanceHandler) edit(w http.ResponseWriter, r *http.Request, instanceID string) {
	var settings map[string]any
	if raw := r.PostFormValue("settings"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &settings); err != nil {
			writeError(w, apperrors.InvalidInput("settings", "must be a JSON object"))
			return
		}
	}
	if len(settings) == 0 {
		writeError(w, apperrors.MissingRequired("settings"))
		return
	}

	if appErr := h.instances.UpdateSettings(r.Context(), instanceID, settings); appErr != nil {
		writeError(w, appErr)
		return
	}
	writeSuccess(w, nil)
}

func (h *InstanceHandler) delete(w http.ResponseWriter, r *http.Request, instanceID string) {
	// A live pairing session for a deleted instance would keep polling a
	// ghost; close it first.
	h.sessions.Close(instanceID)

	if appErr := h.instances.Delete(r.Context(), instanceID); appErr != nil {
		writeError(w, appErr)
		return
	}
	writeSuccess(w, nil)
}

func (h *InstanceHandler) getSettings(w http.ResponseWriter, r *http.Request, instanceID string) {
	settings, appErr := h.instances.GetSettings(r.Context(), instanceID)
	if appErr != nil {
		writeError(w, appErr)
		return
	}
	writeSuccess(w, settings)
}

func (h *InstanceHandler) getInstanceDetails(w http.ResponseWriter, r *http.Request, instanceID string) {
	details, appErr := h.instances.Details(r.Context(), instanceID)
	if appErr != nil {
		writeError(w, appErr)
		return
	}
	writeSuccess(w, details)
}
