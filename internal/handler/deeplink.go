package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/klimadev/chamalead-sub000/internal/config"
	"github.com/klimadev/chamalead-sub000/internal/deeplink"
	apperrors "github.com/klimadev/chamalead-sub000/internal/errors"
	"github.com/klimadev/chamalead-sub000/internal/service"
	"github.com/klimadev/chamalead-sub000/internal/util"
)

// DeepLinkHandler serves the unauthenticated connection flow. The only
// authorization artifact is the capability embedded in the link; there is
// no session, no cookie, no login.
type DeepLinkHandler struct {
	deepLinks  *deeplink.Service
	connection *service.ConnectionService
}

func NewDeepLinkHandler(deepLinks *deeplink.Service, connection *service.ConnectionService) *DeepLinkHandler {
	return &DeepLinkHandler{
		deepLinks:  deepLinks,
		connection: connection,
	}
}

func (h *DeepLinkHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.Info)
	r.Post("/actions", h.Actions)

	return r
}

// capabilityParams pulls the capability triple out of query or form values.
type capabilityParams struct {
	Instance  string
	ExpiresAt int64
	Signature string
}

func parseCapability(get func(string) string) capabilityParams {
	expiresAt, _ := strconv.ParseInt(get("exp"), 10, 64)
	return capabilityParams{
		Instance:  get("instance"),
		ExpiresAt: expiresAt,
		Signature: get("sig"),
	}
}

func (h *DeepLinkHandler) validate(params capabilityParams) bool {
	if !util.IsValidInstanceName(params.Instance) {
		return false
	}
	return h.deepLinks.Validate(params.Instance, params.ExpiresAt, params.Signature)
}

// GET /deep-link?instance=&exp=&sig=
// Entry point for the shared link: confirms the capability before the page
// starts its poll loop.
func (h *DeepLinkHandler) Info(w http.ResponseWriter, r *http.Request) {
	params := parseCapability(r.URL.Query().Get)
	if !h.validate(params) {
		log.Warn().Str("instance", params.Instance).Msg("invalid deep link presented")
		writeError(w, apperrors.LinkInvalid())
		return
	}

	writeSuccess(w, map[string]any{
		"instance":     params.Instance,
		"expiresAt":    params.ExpiresAt,
		"pollInterval": int(config.QRPollInterval.Seconds()),
	})
}

// POST /deep-link/actions
// Form-encoded action=syncQrDeepLink&instance=&exp=&sig=. The page polls
// this until it gets a QR code, CONNECTED, or a terminal error.
func (h *DeepLinkHandler) Actions(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, apperrors.ValidationError("Malformed form body"))
		return
	}

	action := r.PostFormValue("action")
	if action != "syncQrDeepLink" {
		writeError(w, apperrors.InvalidInput("action", "unknown action"))
		return
	}

	params := parseCapability(r.PostFormValue)
	if !h.validate(params) {
		log.Warn().Str("instance", params.Instance).Msg("invalid deep link action rejected")
		writeError(w, apperrors.LinkInvalid())
		return
	}

	result, appErr := h.connection.SyncQR(r.Context(), params.Instance)
	if appErr != nil {
		writeError(w, appErr)
		return
	}

	writeSuccess(w, result)
}
