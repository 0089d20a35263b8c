package receipt

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/zombor/receipt-tracker/internal/imageproc"
)

// maxUploadSize handles high-resolution phone photos
const maxUploadSize = int64(50 << 20) // 50MB

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

// writeServiceError maps service errors onto status codes
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotAuthenticated):
		writeError(w, http.StatusUnauthorized, "Unauthorized")
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, ErrSaveInProgress):
		writeError(w, http.StatusConflict, "This receipt is already being saved")
	case errors.Is(err, ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInvalidDraft):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, imageproc.ErrUnsupportedImage):
		writeError(w, http.StatusUnsupportedMediaType, "The file is not a readable image. Supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF.")
	case errors.Is(err, ErrTooManyDrafts):
		writeError(w, http.StatusTooManyRequests, "Too many unsaved receipts. Save or discard some before scanning more.")
	case errors.Is(err, ErrExtractionParse):
		writeError(w, http.StatusUnprocessableEntity, "The receipt could not be read. Please try again with a clearer photo.")
	case errors.Is(err, ErrUpload):
		writeError(w, http.StatusBadGateway, "The receipt image could not be uploaded. Please try again.")
	case errors.Is(err, ErrPersistence):
		writeError(w, http.StatusInternalServerError, "The receipt could not be saved. Please try again.")
	default:
		slog.Error("Unhandled service error", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// handleScan accepts a multipart "file" field or a raw image body
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	var (
		data        []byte
		contentType string
		err         error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		data, contentType, err = readMultipartFile(r)
	} else {
		contentType = r.Header.Get("Content-Type")
		data, err = io.ReadAll(r.Body)
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			writeError(w, http.StatusRequestEntityTooLarge, "File is too large. Maximum size is 50MB. Please compress or resize your image.")
			return
		}
		slog.Error("Error reading upload", "error", err)
		writeError(w, http.StatusBadRequest, "No file provided")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "No file was selected. Please choose a file to upload.")
		return
	}

	draft, err := s.service.Scan(r.Context(), data, contentType)
	if err != nil {
		if !isClientScanError(err) {
			// Anything else is the extraction provider failing
			slog.Error("Error scanning receipt", "error", err)
			writeError(w, http.StatusBadGateway, "The receipt could not be scanned. Please try again.")
			return
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, draft)
}

func isClientScanError(err error) bool {
	for _, target := range []error{ErrExtractionParse, ErrNotAuthenticated, ErrTooManyDrafts, imageproc.ErrUnsupportedImage} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func readMultipartFile(r *http.Request) ([]byte, string, error) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		return nil, "", err
	}
	f, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", err
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = imageproc.ContentTypeFromFilename(header.Filename)
	}
	return data, contentType, nil
}

func (s *Server) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	draft, err := s.service.GetDraft(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

func (s *Server) handleEditDraft(w http.ResponseWriter, r *http.Request) {
	var edit DraftEdit
	if err := json.NewDecoder(r.Body).Decode(&edit); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	draft, err := s.service.EditDraft(r.Context(), r.PathValue("id"), edit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

func (s *Server) handleDiscardDraft(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DiscardDraft(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddDraftItem(w http.ResponseWriter, r *http.Request) {
	draft, err := s.service.AddDraftItem(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

func (s *Server) handleRemoveDraftItem(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid item index")
		return
	}
	draft, err := s.service.RemoveDraftItem(r.Context(), r.PathValue("id"), index)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

// handleSaveDraft takes an optional {"date": ..., "time": ...} override
func (s *Server) handleSaveDraft(w http.ResponseWriter, r *http.Request) {
	var override *DateTimeOverride
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(bytes.TrimSpace(body)) > 0 {
		override = &DateTimeOverride{}
		if err := json.Unmarshal(body, override); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	receipt, err := s.service.SaveDraft(r.Context(), r.PathValue("id"), override)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.service.ListReceipts(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.service.GetReceipt(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteReceipt(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleItemHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.service.ItemHistory(r.Context(), r.PathValue("name"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleMonthlySpending(w http.ResponseWriter, r *http.Request) {
	totals, err := s.service.MonthlySpending(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.service.ExportXLSX(r.Context(), &buf); err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="receipts.xlsx"`)
	w.Write(buf.Bytes())
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	data, err := s.service.GetImage(r.Context(), r.PathValue("name"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Write(data)
}
