package api

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"

	"binpastes/pkg/domain"
	"binpastes/svc/lim"
	"binpastes/svc/policy"
	"binpastes/svc/svc"
	"binpastes/svc/util"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/text/unicode/norm"
)

const maxRequestSize = 64 * 1024

type Hdl struct {
	paste   *svc.Paste
	pol     *policy.Policy
	fp      *util.Fingerprinter
	proxies lim.Proxies
}

func (h *Hdl) caller(r *http.Request) string {
	return h.fp.Fingerprint(h.proxies.ClientIP(r))
}

func (h *Hdl) CreatePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	contentType := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "application/json" {
		log.Warn().
			Str("content_type", contentType).
			Str("request_id", requestID).
			Msg("invalid Content-Type header")
		writeErr(w, domain.ErrUnsupportedMedia, requestID)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestSize)
	var req CreateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err == io.EOF {
			log.Warn().Msg("empty request body")
		} else {
			log.Warn().Err(err).Msg("invalid request")
		}
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	content := req.Content
	if !req.IsEncrypted {
		content = norm.NFC.String(content)
	}
	params := domain.CreateParams{
		Title:         req.Title,
		Content:       content,
		Exposure:      domain.Exposure(req.Exposure),
		IsEncrypted:   req.IsEncrypted,
		Expiry:        domain.Expiry(req.Expiry),
		RemoteAddress: h.caller(r),
	}
	paste, err := h.paste.Create(r.Context(), params)
	if err != nil {
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			log.Info().Err(err).Msg("paste rejected")
		} else {
			log.Error().Err(err).Msg("failed to create paste")
		}
		writeErr(w, err, requestID)
		return
	}
	log.Info().
		Str("paste_id", paste.ID).
		Str("exposure", string(paste.Exposure)).
		Bool("encrypted", paste.IsEncrypted).
		Msg("paste created")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toView(&domain.View{Paste: paste, IsErasable: true}))
}

func (h *Hdl) GetPaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	view, err := h.paste.View(r.Context(), id, h.caller(r))
	if err != nil {
		if errors.Is(err, domain.ErrPasteNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("paste_id", id).Msg("get failed")
		writeErr(w, err, requestID)
		return
	}
	log.Debug().
		Str("paste_id", id).
		Str("client_ip", util.RedactIP(r.RemoteAddr)).
		Msg("paste retrieved")
	w.Header().Set("Cache-Control", h.pol.CacheControl(view.Paste))
	json.NewEncoder(w).Encode(toView(view))
}

// DeletePaste answers 204 whether or not anything was removed.
func (h *Hdl) DeletePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	if err := h.paste.Delete(r.Context(), id, h.caller(r)); err != nil {
		log.Error().Err(err).Str("paste_id", id).Msg("failed to delete paste")
		writeErr(w, err, requestID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Hdl) ListPastes(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	pastes, err := h.paste.ViewAll(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to list pastes")
		writeErr(w, err, requestID)
		return
	}
	resp := ListResp{Pastes: make([]PasteSummary, 0, len(pastes))}
	for _, p := range pastes {
		resp.Pastes = append(resp.Pastes, toSummary(p))
	}
	json.NewEncoder(w).Encode(resp)
}

func (h *Hdl) SearchPastes(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	hits, err := h.paste.Search(r.Context(), r.URL.Query().Get("term"))
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("search failed")
		writeErr(w, err, requestID)
		return
	}
	resp := SearchResp{Pastes: make([]SearchHit, 0, len(hits))}
	for _, hit := range hits {
		resp.Pastes = append(resp.Pastes, toHit(hit))
	}
	w.Header().Set("Cache-Control", policy.SearchCacheControl())
	json.NewEncoder(w).Encode(resp)
}

func writeErr(w http.ResponseWriter, err error, requestID string) {
	statusCode := domain.Status(err)
	resp := domain.ToResp(err)
	if statusCode >= 500 && statusCode != http.StatusServiceUnavailable {
		resp = domain.ToResp(domain.ErrInternalServer)
		util.Error().
			Err(err).
			Str("request_id", requestID).
			Msg("internal error with detailed info")
	}
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}
