package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/axisfab/forecast-ingest/internal/model"
	"github.com/axisfab/forecast-ingest/internal/sheet"
	"github.com/axisfab/forecast-ingest/internal/store"
)

const maxUploadBytes = 20 << 20

// newRouter builds the HTTP API over a wired environment.
func newRouter(e *env, corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/forecast/upload", e.handleUpload)
		r.Post("/forecast/save", e.handleSave)

		r.Get("/templates", e.handleListTemplates)
		r.Post("/templates", e.handleCreateTemplate)
		r.Post("/templates/{id}/enable", e.setTemplateActive(true))
		r.Post("/templates/{id}/disable", e.setTemplateActive(false))

		r.Get("/stats", e.handleStats)
	})

	return r
}

// handleUpload runs one spreadsheet through the extraction cascade.
func (e *env) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	doc, err := sheet.LoadReader(file, header.Filename)
	if err != nil {
		// The one fatal input error: the workbook itself is unreadable.
		writeError(w, http.StatusUnprocessableEntity, "unreadable workbook: "+err.Error())
		return
	}

	outcome := e.Cascade.Process(r.Context(), doc)
	writeJSON(w, http.StatusOK, outcome)
}

type saveRequest struct {
	UploadDate string                  `json:"upload_date"`
	Records    []model.ExtractedRecord `json:"records"`
}

type saveResponse struct {
	Saved   int `json:"saved"`
	Skipped int `json:"skipped"`
}

// handleSave persists confirmed records as forecast snapshots. Periods that
// fall before the upload date are already in the past and are skipped.
func (e *env) handleSave(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UploadDate == "" {
		req.UploadDate = time.Now().Format("2006-01-02")
	}
	if _, err := time.Parse("2006-01-02", req.UploadDate); err != nil {
		writeError(w, http.StatusBadRequest, "upload_date must be YYYY-MM-DD")
		return
	}
	if len(req.Records) == 0 {
		writeError(w, http.StatusBadRequest, "records are required")
		return
	}

	var snapshots []model.ForecastSnapshot
	skipped := 0
	for _, rec := range req.Records {
		if _, err := time.Parse("2006-01-02", rec.Period); err != nil {
			writeError(w, http.StatusBadRequest, "record period must be YYYY-MM-DD")
			return
		}
		if rec.Period < req.UploadDate {
			skipped++
			continue
		}
		revenue, err := e.Prices.Revenue(r.Context(), rec.Model, rec.Process, rec.Quantity)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "price lookup failed")
			return
		}
		snapshots = append(snapshots, model.ForecastSnapshot{
			UploadDate:   req.UploadDate,
			ForecastDate: rec.Period,
			Model:        rec.Model,
			Process:      rec.Process,
			Quantity:     rec.Quantity,
			Revenue:      revenue,
		})
	}

	saved := 0
	if len(snapshots) > 0 {
		var err error
		saved, err = e.Store.SaveSnapshots(r.Context(), snapshots)
		if err != nil {
			zap.L().Error("snapshot save failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "snapshot save failed")
			return
		}
	}

	writeJSON(w, http.StatusOK, saveResponse{Saved: saved, Skipped: skipped})
}

func (e *env) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	recipes, err := e.Store.ListRecipes(r.Context(), store.RecipeFilter{ActiveOnly: activeOnly})
	if err != nil {
		zap.L().Error("template list failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "template list failed")
		return
	}
	writeJSON(w, http.StatusOK, recipes)
}

// handleCreateTemplate registers a recipe from a sample document plus an
// explicit mapping: multipart fields "file", "name" and "mapping" (JSON).
func (e *env) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	name := r.FormValue("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "name field is required")
		return
	}

	mapping, err := model.ParseCellMapping([]byte(r.FormValue("mapping")))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid mapping: "+err.Error())
		return
	}

	doc, err := sheet.LoadReader(file, header.Filename)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "unreadable workbook: "+err.Error())
		return
	}

	recipe, err := e.Templates.CreateRecipe(r.Context(), name, doc, mapping)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, recipe)
}

func (e *env) setTemplateActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := e.Store.SetRecipeActive(r.Context(), id, active); err != nil {
			writeError(w, http.StatusNotFound, "recipe not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "active": active})
	}
}

func (e *env) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := e.Templates.Stats(r.Context(), 30)
	if err != nil {
		zap.L().Error("stats query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "stats query failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
