package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/facturaIA/invoice-insight/internal/auth"
	"github.com/facturaIA/invoice-insight/internal/config"
	"github.com/facturaIA/invoice-insight/internal/db"
	"github.com/facturaIA/invoice-insight/internal/learning"
	"github.com/facturaIA/invoice-insight/internal/logger"
	"github.com/facturaIA/invoice-insight/internal/models"
	"github.com/facturaIA/invoice-insight/internal/pipeline"
	"github.com/facturaIA/invoice-insight/internal/services"
	"github.com/facturaIA/invoice-insight/internal/storage"
)

const (
	MaxUploadSize = 10 * 1024 * 1024 // 10MB
	Version       = "3.0.0"
)

// Pinger reports whether a dependency answers
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators behind the HTTP surface
type Deps struct {
	Processor *pipeline.Processor
	Engine    *learning.Engine
	Validator *services.Validator
	Auth      *auth.Authenticator
	Users     auth.UserStore
	Database  Pinger // nil when running without Postgres
	Provider  string // active LLM provider, empty when disabled
}

// Handler handles HTTP requests for invoice processing
type Handler struct {
	config *config.Config
	deps   Deps
	logger *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(cfg *config.Config, deps Deps, l *zap.Logger) *Handler {
	if deps.Auth == nil {
		deps.Auth = auth.NewAuthenticator(cfg.Auth)
	}
	return &Handler{config: cfg, deps: deps, logger: logger.OrNop(l)}
}

// SetupRoutes configures the HTTP routes
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()
	router.Use(h.requestContext)

	router.Handle("/api/login", auth.LoginHandler(h.deps.Auth, h.deps.Users)).Methods("POST")

	// Processing
	router.HandleFunc("/api/process-invoice", h.ProcessInvoice).Methods("POST")
	router.HandleFunc("/api/parse", h.ParseText).Methods("POST")
	router.HandleFunc("/api/validate", h.Validate).Methods("POST")
	router.HandleFunc("/api/duplicates", h.Duplicates).Methods("POST")

	// Vendor learning
	router.HandleFunc("/api/vendors/prediction", h.PredictCategory).Methods("GET")
	router.HandleFunc("/api/vendors/mappings", h.UpdateMapping).Methods("POST")
	router.HandleFunc("/api/vendors/mappings", h.GetMappings).Methods("GET")
	router.HandleFunc("/api/categories", h.GetCategories).Methods("GET")

	// Stored invoices
	router.HandleFunc("/api/invoices", h.GetInvoices).Methods("GET")
	router.HandleFunc("/api/invoice/{id}", h.GetInvoice).Methods("GET")
	router.HandleFunc("/api/invoice/{id}/category", h.UpdateCategory).Methods("PUT")
	router.HandleFunc("/api/invoice/{id}", h.DeleteInvoice).Methods("DELETE")

	router.HandleFunc("/health", h.Health).Methods("GET")

	return router
}

// Routes returns the router behind the JWT middleware
func (h *Handler) Routes() http.Handler {
	return h.deps.Auth.JWTMiddleware(h.SetupRoutes())
}

// requestContext tags the request with an id and the caller's tenant for logging
func (h *Handler) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		ctx := context.WithValue(r.Context(), logger.RequestIDKey, requestID)
		if claims, err := auth.GetClaimsFromContext(ctx); err == nil {
			ctx = context.WithValue(ctx, logger.TenantKey, claims.Tenant)
			ctx = context.WithValue(ctx, logger.UserKey, claims.UserID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// HealthResponse represents the health check response structure
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Memory    MemoryStats       `json:"memory"`
	Tesseract ServiceStatus     `json:"tesseract"`
	Database  ServiceStatus     `json:"database"`
	Storage   ServiceStatus     `json:"storage"`
	AI        map[string]string `json:"ai"`
}

// MemoryStats represents memory usage statistics
type MemoryStats struct {
	Allocated string `json:"allocated"`
	Total     string `json:"total"`
	System    string `json:"system"`
}

// ServiceStatus represents the status of a service dependency
type ServiceStatus struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

var startTime = time.Now()

// Health reports dependency status. A configured but unreachable database
// marks the service degraded.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	databaseStatus := h.checkDatabase(r.Context())
	response := HealthResponse{
		Status:    "healthy",
		Version:   Version,
		Timestamp: time.Now().Format(time.RFC3339),
		Uptime:    time.Since(startTime).String(),
		Memory: MemoryStats{
			Allocated: fmt.Sprintf("%.2f MB", float64(m.Alloc)/1024/1024),
			Total:     fmt.Sprintf("%.2f MB", float64(m.TotalAlloc)/1024/1024),
			System:    fmt.Sprintf("%.2f MB", float64(m.Sys)/1024/1024),
		},
		Tesseract: h.checkTesseract(r.Context()),
		Database:  databaseStatus,
		Storage:   h.checkStorage(),
		AI: map[string]string{
			"defaultProvider": h.deps.Provider,
			"ocrEngine":       h.config.OCR.Engine,
			"learningStore":   h.config.Learning.Store,
		},
	}

	status := http.StatusOK
	if h.deps.Database != nil && !databaseStatus.Available {
		response.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	h.sendJSON(w, status, response)
}

// checkTesseract verifies the tesseract binary answers
func (h *Handler) checkTesseract(ctx context.Context) ServiceStatus {
	if !strings.EqualFold(h.config.OCR.Engine, "tesseract") {
		return ServiceStatus{Available: false, Error: "not the configured engine"}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	output, err := exec.CommandContext(ctx, h.config.OCR.TesseractPath, "--version").CombinedOutput()
	if err != nil {
		return ServiceStatus{Available: false, Error: "tesseract not found or not executable"}
	}
	version := strings.TrimSpace(strings.SplitN(string(output), "\n", 2)[0])
	return ServiceStatus{Available: true, Version: version}
}

// checkDatabase pings PostgreSQL
func (h *Handler) checkDatabase(ctx context.Context) ServiceStatus {
	if h.deps.Database == nil {
		return ServiceStatus{Available: false, Error: "database not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.deps.Database.Ping(ctx); err != nil {
		return ServiceStatus{Available: false, Error: err.Error()}
	}
	return ServiceStatus{Available: true, Version: "PostgreSQL"}
}

// checkStorage reports whether the document archive is configured
func (h *Handler) checkStorage() ServiceStatus {
	if h.deps.Processor == nil || h.deps.Processor.Archive() == nil {
		return ServiceStatus{Available: false, Error: "storage client not initialized"}
	}
	return ServiceStatus{Available: true, Version: "MinIO S3"}
}

// ProcessInvoice runs an uploaded document through the full pipeline
func (h *Handler) ProcessInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx, h.logger)

	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)
	if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
		h.sendError(w, http.StatusBadRequest, "File too large or invalid form data")
		return
	}

	// accept both "file" and "image" field names
	file, header, err := r.FormFile("file")
	if err != nil {
		file, header, err = r.FormFile("image")
		if err != nil {
			h.sendError(w, http.StatusBadRequest, "No file provided (use 'file' or 'image' field)")
			return
		}
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = contentTypeFromName(header.Filename)
	}

	dir, err := os.MkdirTemp("", "upload-*")
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, "Failed to store upload")
		return
	}
	defer os.RemoveAll(dir)

	ext := storage.GetFileExtension(contentType)
	path := filepath.Join(dir, "document"+ext)
	size, err := writeUpload(path, file)
	if err != nil {
		log.Error("api.upload.failed", zap.Error(err))
		h.sendError(w, http.StatusInternalServerError, "Failed to read file")
		return
	}

	filename := fmt.Sprintf("%s_%s%s", time.Now().Format("20060102_150405"), uuid.New().String()[:8], ext)
	result := h.deps.Processor.ProcessFile(ctx, auth.TenantFromContext(ctx), pipeline.Document{
		Path:        path,
		Filename:    filename,
		ContentType: contentType,
		Size:        size,
	})

	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"result":      result,
		"saved_to_db": result.InvoiceID != "",
	})
}

func writeUpload(path string, src io.Reader) (int64, error) {
	dst, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	return n, err
}

func contentTypeFromName(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".tif", ".tiff":
		return "image/tiff"
	case ".txt":
		return "text/plain"
	}
	return "application/octet-stream"
}

// ParseRequest is raw text with optional extraction facts
type ParseRequest struct {
	Text          string                  `json:"text"`
	OCRConfidence float64                 `json:"ocrConfidence"`
	PageCount     int                     `json:"pageCount"`
	Method        models.ExtractionMethod `json:"method"`
	Save          bool                    `json:"save"`
}

// ParseText parses, validates, scans for duplicates and predicts a category
func (h *Handler) ParseText(w http.ResponseWriter, r *http.Request) {
	var req ParseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		h.sendError(w, http.StatusBadRequest, "text is required")
		return
	}

	ctx := r.Context()
	tenant := auth.TenantFromContext(ctx)
	meta := models.ExtractionMetadata{OCRConfidence: req.OCRConfidence, PageCount: req.PageCount, Method: req.Method}

	var result *models.ProcessResult
	if req.Save {
		result = h.deps.Processor.ProcessText(ctx, tenant, req.Text, meta)
	} else {
		result = h.deps.Processor.Analyze(ctx, tenant, req.Text, meta)
	}
	h.sendJSON(w, http.StatusOK, map[string]interface{}{"success": true, "result": result})
}

// InvoiceInput is ParsedInvoiceData with a lenient date
type InvoiceInput struct {
	Vendor            string                    `json:"vendor"`
	Date              string                    `json:"date"`
	Amount            decimal.Decimal           `json:"amount"`
	LineItems         []models.LineItem         `json:"lineItems"`
	Tax               decimal.Decimal           `json:"tax"`
	Subtotal          decimal.Decimal           `json:"subtotal"`
	ParsingConfidence int                       `json:"parsingConfidence"`
	Metadata          models.ExtractionMetadata `json:"metadata"`
}

func (in InvoiceInput) parsed() (models.ParsedInvoiceData, error) {
	date, err := parseDateParam(in.Date)
	if err != nil {
		return models.ParsedInvoiceData{}, err
	}
	items := in.LineItems
	if items == nil {
		items = []models.LineItem{}
	}
	return models.ParsedInvoiceData{
		Vendor:            in.Vendor,
		Date:              date,
		Amount:            in.Amount,
		LineItems:         items,
		Tax:               in.Tax,
		Subtotal:          in.Subtotal,
		ParsingConfidence: in.ParsingConfidence,
	}, nil
}

// Validate scores supplied invoice fields
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var in InvoiceInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	data, err := in.parsed()
	if err != nil {
		h.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"validation": h.deps.Validator.Validate(data, in.Metadata),
	})
}

// DuplicateRequest identifies the invoice to look for
type DuplicateRequest struct {
	Vendor string          `json:"vendor"`
	Amount decimal.Decimal `json:"amount"`
	Date   string          `json:"date"`
}

// Duplicates lists stored invoices that may be the same document
func (h *Handler) Duplicates(w http.ResponseWriter, r *http.Request) {
	var req DuplicateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	date, err := parseDateParam(req.Date)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	candidates := []models.DuplicateCandidate{}
	if store := h.deps.Processor.Store(); store != nil {
		fp := models.InvoiceFingerprint{Vendor: req.Vendor, Amount: req.Amount, Date: date}
		stored, err := store.FindDuplicateCandidates(ctx, auth.TenantFromContext(ctx), fp, h.window())
		if err != nil {
			logger.From(ctx, h.logger).Warn("api.duplicates.failed", zap.Error(err))
		} else {
			candidates = services.FindDuplicates(req.Vendor, req.Amount, date, stored)
		}
	}
	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"duplicates": candidates,
		"count":      len(candidates),
	})
}

func (h *Handler) window() services.Window {
	w := services.DefaultWindow
	if h.config.Duplicates.AmountTolerance > 0 {
		w.AmountTolerance = h.config.Duplicates.AmountTolerance
	}
	if h.config.Duplicates.DateWindowDays > 0 {
		w.Days = h.config.Duplicates.DateWindowDays
	}
	return w
}

// PredictCategory returns the learned category for a vendor, or null
func (h *Handler) PredictCategory(w http.ResponseWriter, r *http.Request) {
	vendor := r.URL.Query().Get("vendor")
	if strings.TrimSpace(vendor) == "" {
		h.sendError(w, http.StatusBadRequest, "vendor is required")
		return
	}
	amount, err := amountParam(r.URL.Query().Get("amount"))
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	// a failing mapping store degrades to no prediction
	prediction, err := h.deps.Engine.Predict(r.Context(), vendor, amount)
	if err != nil {
		logger.From(r.Context(), h.logger).Warn("api.prediction.failed",
			zap.String("vendor", vendor), zap.Error(err))
		prediction = nil
	}
	h.sendJSON(w, http.StatusOK, map[string]interface{}{"success": true, "prediction": prediction})
}

// MappingRequest records one vendor/category observation
type MappingRequest struct {
	Vendor        string          `json:"vendor"`
	Category      string          `json:"category"`
	Amount        decimal.Decimal `json:"amount"`
	UserCorrected bool            `json:"userCorrected"`
}

// UpdateMapping teaches the learning engine a vendor/category pair
func (h *Handler) UpdateMapping(w http.ResponseWriter, r *http.Request) {
	var req MappingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !h.knownCategory(req.Category) {
		h.sendError(w, http.StatusBadRequest, fmt.Sprintf("unknown category %q", req.Category))
		return
	}

	mapping, err := h.deps.Engine.Update(r.Context(), req.Vendor, req.Category, req.Amount, req.UserCorrected)
	switch {
	case errors.Is(err, learning.ErrEmptyVendor), errors.Is(err, learning.ErrEmptyCategory):
		h.sendError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		logger.From(r.Context(), h.logger).Error("api.mapping.update.failed", zap.Error(err))
		h.sendError(w, http.StatusInternalServerError, "failed to update mapping")
		return
	}
	h.sendJSON(w, http.StatusOK, map[string]interface{}{"success": true, "mapping": mapping})
}

func (h *Handler) knownCategory(code string) bool {
	if len(h.config.Categories) == 0 {
		return true
	}
	for _, c := range h.config.Categories {
		if c.Code == code {
			return true
		}
	}
	return false
}

// GetMappings lists the learned mappings of a vendor
func (h *Handler) GetMappings(w http.ResponseWriter, r *http.Request) {
	mappings, err := h.deps.Engine.Mappings(r.Context(), r.URL.Query().Get("vendor"))
	if errors.Is(err, learning.ErrEmptyVendor) {
		h.sendError(w, http.StatusBadRequest, "vendor is required")
		return
	}
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, "failed to get mappings")
		return
	}
	if mappings == nil {
		mappings = []models.VendorMapping{}
	}
	h.sendJSON(w, http.StatusOK, map[string]interface{}{"success": true, "mappings": mappings, "count": len(mappings)})
}

// GetCategories lists the expense categories
func (h *Handler) GetCategories(w http.ResponseWriter, r *http.Request) {
	h.sendJSON(w, http.StatusOK, map[string]interface{}{"success": true, "categories": h.config.Categories})
}

// GetInvoices returns the tenant's most recent invoices
func (h *Handler) GetInvoices(w http.ResponseWriter, r *http.Request) {
	store := h.deps.Processor.Store()
	if store == nil {
		h.sendError(w, http.StatusServiceUnavailable, "database not available")
		return
	}

	limit := 100
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 500 {
		limit = v
	}

	ctx := r.Context()
	tenant := auth.TenantFromContext(ctx)
	invoices, err := store.ListInvoices(ctx, tenant, limit)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"invoices": invoices,
		"count":    len(invoices),
		"tenant":   tenant,
	})
}

// GetInvoice returns a single invoice with a link to its document
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	store := h.deps.Processor.Store()
	if store == nil {
		h.sendError(w, http.StatusServiceUnavailable, "database not available")
		return
	}
	id, ok := h.invoiceID(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	invoice, err := store.GetInvoice(ctx, auth.TenantFromContext(ctx), id)
	if err != nil {
		h.storeError(w, r, err)
		return
	}

	response := map[string]interface{}{"success": true, "invoice": invoice}
	if archive := h.deps.Processor.Archive(); archive != nil && invoice.DocumentKey != "" {
		if url, err := archive.GetPresignedURL(ctx, invoice.DocumentKey); err == nil {
			response["documentUrl"] = url
		}
	}
	h.sendJSON(w, http.StatusOK, response)
}

// UpdateCategory stores the user's category and feeds it to the learning engine
func (h *Handler) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	var req struct {
		Category string `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Category == "" {
		h.sendError(w, http.StatusBadRequest, "category is required")
		return
	}
	if !h.knownCategory(req.Category) {
		h.sendError(w, http.StatusBadRequest, fmt.Sprintf("unknown category %q", req.Category))
		return
	}

	ctx := r.Context()
	invoice, err := h.deps.Processor.CorrectCategory(ctx, auth.TenantFromContext(ctx), id, req.Category)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	h.sendJSON(w, http.StatusOK, map[string]interface{}{"success": true, "invoice": invoice})
}

// DeleteInvoice removes an invoice and its archived document
func (h *Handler) DeleteInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	if err := h.deps.Processor.DeleteInvoice(ctx, auth.TenantFromContext(ctx), id); err != nil {
		h.storeError(w, r, err)
		return
	}
	h.sendJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "invoice deleted"})
}

func (h *Handler) invoiceID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid invoice id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) storeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, db.ErrNoDatabase):
		h.sendError(w, http.StatusServiceUnavailable, "database not available")
	case errors.Is(err, db.ErrInvoiceNotFound):
		h.sendError(w, http.StatusNotFound, "invoice not found")
	default:
		logger.From(r.Context(), h.logger).Error("api.store.failed", zap.Error(err))
		h.sendError(w, http.StatusInternalServerError, "storage error")
	}
}

func parseDateParam(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q, use YYYY-MM-DD", s)
}

func amountParam(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func (h *Handler) sendJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// sendError sends an error response
func (h *Handler) sendError(w http.ResponseWriter, statusCode int, message string) {
	h.sendJSON(w, statusCode, map[string]string{"error": message})
}
