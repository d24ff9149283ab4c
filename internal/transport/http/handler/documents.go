package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-kyc-access/internal/application/document"
	"github.com/go-kyc-access/internal/domain"
	"github.com/go-kyc-access/internal/transport/http/middleware"
)

// multipartOverhead is allowed on top of the file ceiling for form fields
// and part headers.
const multipartOverhead = 1 << 20

// DocumentHandler handles KYC document uploads and signed access grants.
type DocumentHandler struct {
	issuer    document.Issuer
	maxUpload int64
}

func NewDocumentHandler(issuer document.Issuer, maxUpload int64) *DocumentHandler {
	return &DocumentHandler{issuer: issuer, maxUpload: maxUpload}
}

// Upload accepts multipart fields "file" and "document_type".
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+multipartOverhead)
	if err := r.ParseMultipartForm(multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer f.Close()

	doc, err := h.issuer.Upload(r.Context(), p, document.UploadInput{
		Reader:       f,
		Filename:     header.Filename,
		ContentType:  header.Header.Get("Content-Type"),
		Size:         header.Size,
		DocumentType: domain.DocumentType(r.FormValue("document_type")),
	})
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, DocumentEnvelope{Success: true, Document: doc})
}

func (h *DocumentHandler) UploadURL(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req document.WriteGrantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httpError(w, r, err)
		return
	}
	target, err := h.issuer.IssueWriteGrant(r.Context(), p, req)
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, UploadTargetEnvelope{Success: true, Upload: target})
}

func (h *DocumentHandler) ListOwn(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, "")
}

func (h *DocumentHandler) ListForUser(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, chi.URLParam(r, "id"))
}

func (h *DocumentHandler) list(w http.ResponseWriter, r *http.Request, ownerID string) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	docs, err := h.issuer.ListDocuments(r.Context(), p, ownerID)
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DocumentsEnvelope{Success: true, Documents: docs})
}

// SignedURL issues a read grant. The admin role is checked again by the
// issuer itself, not only by the route middleware.
func (h *DocumentHandler) SignedURL(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req document.ReadGrantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httpError(w, r, err)
		return
	}
	grant, err := h.issuer.IssueReadGrant(r.Context(), p, req, domain.RoleAdmin)
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, GrantEnvelope{Success: true, Grant: grant})
}
