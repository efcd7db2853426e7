package share

import (
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/oncedrop/oncedrop/internal/response"
)

// AttachmentName is the filename every download is served under. The real
// name travels encrypted and is only recovered by the client.
const AttachmentName = "encrypted_file"

// EncryptedNameHeader carries the base64-encoded encrypted filename on
// content downloads.
const EncryptedNameHeader = "X-Encrypted-Name"

// multipartMemory is how much of a multipart body is held in memory before
// spilling to temporary files.
const multipartMemory = 8 << 20

// Handler holds HTTP handlers for upload and download endpoints.
type Handler struct {
	issuer   *Issuer
	gate     *Gate
	maxBytes int64
	baseURL  string
	log      *slog.Logger
}

// NewHandler creates a new share Handler. baseURL prefixes generated links;
// when empty the request's own scheme and host are used.
func NewHandler(issuer *Issuer, gate *Gate, maxBytes int64, baseURL string, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		issuer:   issuer,
		gate:     gate,
		maxBytes: maxBytes,
		baseURL:  strings.TrimRight(baseURL, "/"),
		log:      log.With("component", "share-handler"),
	}
}

// Routes mounts the handlers on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.Upload)
	r.Get("/{id}", h.Meta)
	r.Get("/{id}/content", h.Download)
}

type uploadData struct {
	ID  string `json:"id"  example:"q3Zr0C4uP9nU2Hk7XWcS1A"`
	URL string `json:"url" example:"https://drop.example/download/q3Zr0C4uP9nU2Hk7XWcS1A"`
}

type metaData struct {
	ID            string `json:"id"            example:"q3Zr0C4uP9nU2Hk7XWcS1A"`
	EncryptedName []byte `json:"encryptedName" swaggertype:"string" format:"base64" example:"YWIxMjpjZDM0"`
}

// Upload godoc
//
//	@Summary		Upload an encrypted file
//	@Description	Stores client-side encrypted content and returns a one-time download link. Append the key as the URL fragment before sharing; the server never sees it.
//	@Tags			files
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file				formData	file	true	"Encrypted content ([IV][ciphertext+tag])"
//	@Param			encrypted_filename	formData	string	true	"Encrypted original filename"
//	@Success		201	{object}	response.Envelope{data=uploadData}
//	@Failure		400	{object}	response.Envelope
//	@Failure		413	{object}	response.Envelope
//	@Failure		500	{object}	response.Envelope
//	@Router			/files [post]
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.TooLarge(w, "file exceeds "+strconv.FormatInt(h.maxBytes, 10)+" bytes")
			return
		}
		response.BadRequest(w, "invalid multipart body")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, _, err := r.FormFile("file")
	if err != nil {
		response.BadRequest(w, "missing file")
		return
	}
	defer file.Close()

	name := r.FormValue("encrypted_filename")
	if name == "" {
		response.BadRequest(w, ErrMissingName.Error())
		return
	}

	id, err := h.issuer.Issue(r.Context(), []byte(name), file)
	switch {
	case errors.Is(err, ErrEmptyUpload):
		response.BadRequest(w, "no file content")
		return
	case err != nil:
		h.log.Error("upload failed", "err", err)
		response.InternalError(w)
		return
	}

	response.Created(w, uploadData{ID: id, URL: h.linkFor(r, id)})
}

// Meta godoc
//
//	@Summary		Get encrypted filename
//	@Description	Returns the encrypted filename of a file that has not been downloaded yet. Does not consume the link.
//	@Tags			files
//	@Produce		json
//	@Param			id	path		string	true	"File id"
//	@Success		200	{object}	response.Envelope{data=metaData}
//	@Failure		404	{object}	response.Envelope
//	@Router			/files/{id} [get]
func (h *Handler) Meta(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	name, err := h.gate.Peek(id)
	if err != nil {
		response.NotFound(w, ErrNotFound.Error())
		return
	}
	response.OK(w, metaData{ID: id, EncryptedName: name})
}

// Download godoc
//
//	@Summary		Download encrypted content
//	@Description	Streams the encrypted content exactly once. The file and its metadata are deleted once the transfer completes; an interrupted transfer leaves the link usable.
//	@Tags			files
//	@Produce		application/octet-stream
//	@Param			id	path		string	true	"File id"
//	@Success		200	{file}		binary
//	@Header			200	{string}	X-Encrypted-Name	"base64 encrypted filename"
//	@Failure		404	{object}	response.Envelope
//	@Router			/files/{id}/content [get]
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	d, err := h.gate.Deliver(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.NotFound(w, ErrNotFound.Error())
		return
	}

	hdr := w.Header()
	hdr.Set("Content-Type", "application/octet-stream")
	hdr.Set("Content-Disposition", `attachment; filename="`+AttachmentName+`"`)
	hdr.Set("Content-Length", strconv.FormatInt(d.Size, 10))
	hdr.Set("Cache-Control", "no-store")
	hdr.Set(EncryptedNameHeader, base64.StdEncoding.EncodeToString(d.EncryptedName))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, d); err != nil {
		d.Abort(err)
		return
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	if err := r.Context().Err(); err != nil {
		d.Abort(err)
		return
	}
	if err := d.Complete(r.Context()); err != nil {
		h.log.Warn("delivery not completed", "err", err)
	}
}

func (h *Handler) linkFor(r *http.Request, id string) string {
	base := h.baseURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
			scheme = fwd
		}
		base = scheme + "://" + r.Host
	}
	return base + "/download/" + id
}
