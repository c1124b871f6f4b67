package app

import (
	"database/sql"
	"net/http"
	"time"

	"mocktest/internal/app/observability"
	"mocktest/internal/auth"
	"mocktest/internal/exam"
	"mocktest/internal/masterdata"
	"mocktest/internal/media"
	"mocktest/internal/question"
	"mocktest/internal/report"
	"mocktest/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func NewRouter(cfg Config, db *sql.DB, blobs storage.BlobStore) http.Handler {
	r := chi.NewRouter()
	metrics := observability.NewCollector(db)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", auth.UserIDHeader, adminTokenHeader},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))
	r.Use(auth.Identify(cfg.DefaultUserID))
	r.Use(metrics.Middleware)

	authHandler := auth.NewHandler(auth.NewService(db))
	examHandler := exam.NewHandler(exam.NewService(db))
	masterHandler := masterdata.NewHandler(masterdata.NewService(db))
	questionHandler := question.NewHandler(question.NewService(db))
	mediaHandler := media.NewHandler(media.NewService(db, blobs), blobs, cfg.MaxUploadBytes())
	reportHandler := report.NewHandler(report.NewService(db))

	submitLimiter := RateLimitMiddleware(NewIPRateLimiter(cfg.SubmitRateLimitMin, time.Minute))
	adminOnly := RequireAdmin(cfg.AdminTokenHash)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Get("/metrics", metrics.MetricsHandler)
	r.Get("/uploads/*", mediaHandler.ServeBlob)

	r.Route("/api", func(api chi.Router) {
		api.Post("/users", authHandler.CreateUser)
		api.Get("/users/{id}", authHandler.GetUser)

		api.Get("/tests", masterHandler.ListTests)
		api.Get("/tests/{id}", masterHandler.GetTest)
		api.Get("/questions", questionHandler.ListByTest)
		api.Get("/questions/test/{testID}", questionHandler.ListByTest)
		api.Get("/questions/{id}", questionHandler.GetQuestion)
		api.Get("/percentile-mappings/{testID}", masterHandler.ListPercentileMappings)
		api.Get("/pdfs", mediaHandler.ListPDFs)
		api.Get("/pdfs/{id}", mediaHandler.GetPDF)
		api.Get("/crops", mediaHandler.ListCrops)
		api.Get("/crops/pdf/{pdfID}", mediaHandler.ListCrops)
		api.Get("/crops/{id}", mediaHandler.GetCrop)

		api.Post("/submissions", examHandler.Start)
		api.Post("/submissions/start", examHandler.Start)
		api.Get("/submissions/{id}", examHandler.GetSubmission)
		api.Get("/responses", examHandler.ListResponses)
		api.Get("/responses/{submissionID}", examHandler.ListResponses)
		api.Get("/analysis/{id}", examHandler.Analysis)

		api.Get("/reports/tests/{id}/summary", reportHandler.Summary)
		api.Get("/reports/tests/{id}/results", reportHandler.Results)
		api.Get("/reports/tests/{id}/results.xlsx", reportHandler.ExportExcel)

		api.Group(func(limited chi.Router) {
			limited.Use(submitLimiter)
			limited.Post("/submissions/submit", examHandler.Submit)
			limited.Post("/submissions/{id}/submit", examHandler.SubmitByID)
			limited.Post("/responses", examHandler.SaveResponse)
		})

		api.Group(func(admin chi.Router) {
			admin.Use(adminOnly)
			admin.Post("/tests", masterHandler.CreateTest)
			admin.Put("/tests/{id}", masterHandler.UpdateTest)
			admin.Delete("/tests/{id}", masterHandler.DeleteTest)

			admin.Post("/questions", questionHandler.CreateQuestion)
			admin.Put("/questions/{id}", questionHandler.UpdateQuestion)
			admin.Delete("/questions/{id}", questionHandler.DeleteQuestion)
			admin.Post("/questions/test/{testID}/import", questionHandler.ImportExcel)
			admin.Get("/questions/test/{testID}/export.xlsx", questionHandler.ExportExcel)

			admin.Post("/percentile-mappings", masterHandler.ReplacePercentileMappings)
			admin.Post("/percentile-mappings/{testID}/import", masterHandler.ImportPercentileCSV)

			admin.Post("/pdfs/upload", mediaHandler.UploadPDF)
			admin.Post("/crops/upload", mediaHandler.UploadCrop)
		})
	})

	return r
}
