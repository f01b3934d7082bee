package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/zombor/invoice-extract/internal/extract"
	"github.com/zombor/invoice-extract/internal/invoice"
	"github.com/zombor/invoice-extract/internal/review"
)

// maxUploadSize is the largest document accepted by /invoices/extract
const maxUploadSize = int64(20 << 20) // 20MB

// reviewIDHeader carries the ID of a stored degraded result
const reviewIDHeader = "X-Review-ID"

var extensionMediaTypes = map[string]string{
	".pdf":  invoice.MediaTypePDF,
	".png":  invoice.MediaTypePNG,
	".jpg":  invoice.MediaTypeJPEG,
	".jpeg": invoice.MediaTypeJPEG,
	".webp": invoice.MediaTypeWebP,
	".heic": invoice.MediaTypeHEIC,
	".heif": invoice.MediaTypeHEIF,
}

// errorResponse is the JSON body of every error
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message, kind string) {
	writeJSON(w, status, errorResponse{Error: message, Kind: kind})
}

// statusFor maps a pipeline error to an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, extract.ErrEmptyDocument):
		return http.StatusBadRequest
	case errors.Is(err, invoice.ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, invoice.ErrAuthFailure), errors.Is(err, invoice.ErrRemoteRejection):
		return http.StatusBadGateway
	case errors.Is(err, invoice.ErrTransportFailure):
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writePipelineError writes err with its status and kind
func writePipelineError(w http.ResponseWriter, err error) {
	var kind string
	if k, ok := invoice.KindOf(err); ok {
		kind = k.String()
	}
	writeError(w, statusFor(err), err.Error(), kind)
}

// modelContext applies the configured model timeout to a request context
func (s *Server) modelContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.ModelTimeout > 0 {
		return context.WithTimeout(ctx, s.config.ModelTimeout)
	}
	return context.WithCancel(ctx)
}

// detectMediaType takes the part's declared type, then the file extension, then
// sniffs the content
func detectMediaType(header *multipart.FileHeader, data []byte) string {
	declared := header.Header.Get("Content-Type")
	if declared != "" && invoice.NormalizeMediaType(declared) != "application/octet-stream" {
		return declared
	}

	if mt, ok := extensionMediaTypes[strings.ToLower(filepath.Ext(header.Filename))]; ok {
		return mt
	}

	return mimetype.Detect(data).String()
}

// handleExtract extracts an invoice from an uploaded document
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	// Leave room for the multipart envelope around the file
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+(1<<20))
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "File is too large. Maximum size is 20MB.", "")
			return
		}
		writeError(w, http.StatusBadRequest, "Error parsing form", "")
		return
	}
	defer r.MultipartForm.RemoveAll()

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		writeError(w, http.StatusBadRequest, "No file provided", "")
		return
	}
	defer f.Close()

	if header.Size > maxUploadSize {
		writeError(w, http.StatusRequestEntityTooLarge, "File is too large. Maximum size is 20MB.", "")
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, http.StatusInternalServerError, "Error reading file", "")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "File is empty", "")
		return
	}

	mediaType := detectMediaType(header, data)

	ctx, cancel := s.modelContext(r.Context())
	defer cancel()

	result, err := s.extractor.Extract(ctx, data, mediaType)
	if err != nil {
		slog.Error("Error extracting invoice",
			"filename", header.Filename,
			"media_type", mediaType,
			"file_size", len(data),
			"error", err,
		)
		writePipelineError(w, err)
		return
	}

	if degraded, ok := result.(*invoice.Degraded); ok && s.reviews != nil {
		rev, err := s.reviews.SaveDegraded(header.Filename, data, invoice.NormalizeMediaType(mediaType), degraded)
		if err != nil {
			// The extraction itself succeeded; losing the review copy is not fatal
			slog.Error("Error storing degraded extraction", "filename", header.Filename, "error", err)
		} else {
			w.Header().Set(reviewIDHeader, rev.ID)
		}
	}

	writeJSON(w, http.StatusOK, result)
}

// handleListReviews returns all reviews, or those of the kind query parameter
func (s *Server) handleListReviews(w http.ResponseWriter, r *http.Request) {
	var (
		reviews []*review.Review
		err     error
	)
	if kind := r.URL.Query().Get("kind"); kind != "" {
		reviews, err = s.reviews.ListReviewsByKind(kind)
	} else {
		reviews, err = s.reviews.ListReviews()
	}
	if err != nil {
		if errors.Is(err, review.ErrInvalidKind) {
			writeError(w, http.StatusBadRequest, err.Error(), "")
			return
		}
		slog.Error("Error listing reviews", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error", "")
		return
	}

	// Ensure we always return an array, not nil
	if reviews == nil {
		reviews = []*review.Review{}
	}
	writeJSON(w, http.StatusOK, reviews)
}

// handleReviewSummary returns the number of queued reviews per failure kind
func (s *Server) handleReviewSummary(w http.ResponseWriter, r *http.Request) {
	counts, err := s.reviews.Summary()
	if err != nil {
		slog.Error("Error counting reviews", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error", "")
		return
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total": total,
		"kinds": counts,
	})
}

// handleGetReview returns a single review
func (s *Server) handleGetReview(w http.ResponseWriter, r *http.Request) {
	rev, err := s.reviews.GetReview(r.PathValue("id"))
	if err != nil {
		writeReviewError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rev)
}

// handleGetReviewFile returns the source document of a review
func (s *Server) handleGetReviewFile(w http.ResponseWriter, r *http.Request) {
	data, mediaType, err := s.reviews.GetReviewFile(r.PathValue("id"))
	if err != nil {
		slog.Error("Error getting review file", "id", r.PathValue("id"), "error", err)
		writeError(w, http.StatusNotFound, "File not found", "")
		return
	}

	w.Header().Set("Content-Type", mediaType)
	w.Write(data)
}

// handleDeleteReview deletes a review and its file
func (s *Server) handleDeleteReview(w http.ResponseWriter, r *http.Request) {
	if err := s.reviews.DeleteReview(r.PathValue("id")); err != nil {
		writeReviewError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeReviewError(w http.ResponseWriter, err error) {
	if errors.Is(err, review.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Review not found", "")
		return
	}
	slog.Error("Error accessing review", "error", err)
	writeError(w, http.StatusInternalServerError, "Internal server error", "")
}
