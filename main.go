package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"github.com/camden-git/mediasyncd/config"
	"github.com/camden-git/mediasyncd/database"
	"github.com/camden-git/mediasyncd/handlers"
	"github.com/camden-git/mediasyncd/reindex"
	"github.com/camden-git/mediasyncd/repository"
	"github.com/camden-git/mediasyncd/sources"
	"github.com/camden-git/mediasyncd/workers"
)

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Printf("Info: No .env file found or error loading: %v", err)
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	storagePaths := []string{cfg.ProjectsRoot, filepath.Dir(cfg.BridgeDatabasePath)}
	for _, p := range storagePaths {
		log.Printf("Ensuring storage directory exists: %s", p)
		if err := os.MkdirAll(p, 0755); err != nil {
			log.Fatalf("FATAL: Failed to create storage directory %s: %v", p, err)
		}
	}

	bridgeDB, err := database.InitBridgeDB(cfg.BridgeDatabasePath)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize bridge database: %v", err)
	}
	tagDB, err := database.InitTagDB(cfg.TagDatabasePath)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize tag database: %v", err)
	}

	registry := sources.NewRegistry(cfg)
	dbCache := database.NewProjectDBCache()
	reconciler := reindex.NewReconciler(dbCache)
	jobRepo := repository.NewResolveJobRepository(bridgeDB)
	tagRepo := repository.NewTagRepository(tagDB)

	log.Printf("Serving projects from root: %s", cfg.ProjectsRoot)
	log.Printf("Using bridge database: %s", cfg.BridgeDatabasePath)
	log.Printf("Using tag database: %s", cfg.TagDatabasePath)
	log.Printf("Upload size limit: %d bytes", cfg.MaxUploadBytes)

	var autoReindexer *workers.AutoReindexer
	if cfg.AutoReindexEnabled {
		autoReindexer = workers.NewAutoReindexer(registry, reconciler,
			time.Duration(cfg.AutoReindexIntervalS)*time.Second)
		autoReindexer.Start()
		defer autoReindexer.Stop()
	}

	r := chi.NewRouter()

	allowedOrigins := cfg.CORSOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:5173"}
	}
	corsOptions := cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	corsHandler := cors.New(corsOptions)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(corsHandler.Handler)

	sourceHandler := handlers.NewSourceHandler(registry)
	projectHandler := handlers.NewProjectHandler(registry, reconciler)
	uploadHandler := handlers.NewUploadHandler(registry, dbCache, cfg.MaxUploadBytes)
	mediaHandler := handlers.NewMediaHandler(registry, dbCache)
	reindexHandler := handlers.NewReindexHandler(registry, reconciler)
	resolveHandler := handlers.NewResolveHandler(registry, jobRepo)
	tagHandler := handlers.NewTagHandler(registry, tagRepo)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(r chi.Router) {
		// uploads can legitimately take minutes; everything else should not
		r.Use(middleware.Timeout(10 * time.Minute))

		r.Route("/sources", func(r chi.Router) {
			r.Get("/", sourceHandler.ListSources)
			r.Post("/", sourceHandler.RegisterSource)
			r.Post("/{source_name}/toggle", sourceHandler.ToggleSource)
			r.Delete("/{source_name}", sourceHandler.RemoveSource)
		})

		r.Route("/projects", func(r chi.Router) {
			r.Get("/", projectHandler.ListProjects)
			r.Post("/", projectHandler.CreateProject)
			r.Route("/{project_name}", func(r chi.Router) {
				r.Get("/", projectHandler.GetProject)
				r.Get("/events", projectHandler.GetProjectEvents)
				r.Post("/reindex", reindexHandler.ReindexProject)
				r.Post("/upload", uploadHandler.Upload)
				r.Route("/batches", func(r chi.Router) {
					r.Post("/", uploadHandler.BatchStart)
					r.Get("/{batch_id}", uploadHandler.BatchSnapshot)
					r.Post("/{batch_id}/finalize", uploadHandler.BatchFinalize)
				})
				r.Get("/media", mediaHandler.ListMedia)
				r.Delete("/media/*", mediaHandler.DeleteMedia)
				r.Post("/thumbnails", mediaHandler.StoreThumbnail)
				r.Route("/assets/tags", func(r chi.Router) {
					r.Get("/", tagHandler.GetAssetTags)
					r.Post("/", tagHandler.AddAssetTags)
					r.Delete("/", tagHandler.RemoveAssetTags)
				})
			})
		})

		r.Post("/reindex_all", reindexHandler.SweepAll)

		r.Route("/tags", func(r chi.Router) {
			r.Get("/", tagHandler.ListTags)
			r.Post("/batch", tagHandler.BatchTags)
			r.Patch("/{tag}", tagHandler.PatchTag)
		})

		r.Route("/resolve/jobs", func(r chi.Router) {
			r.Post("/", resolveHandler.OpenJob)
			r.Get("/", resolveHandler.ListJobs)
			r.Post("/claim", resolveHandler.ClaimJobs)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", resolveHandler.GetJob)
				r.Post("/complete", resolveHandler.CompleteJob)
				r.Post("/fail", resolveHandler.FailJob)
			})
		})
	})

	r.Route("/media/{project_name}", func(r chi.Router) {
		r.Get("/download/*", mediaHandler.DownloadMedia)
		r.Get("/thumbnail/{thumbnail_name}", mediaHandler.ServeThumbnail)
		r.Get("/*", mediaHandler.StreamMedia)
	})

	serverAddr := ":" + cfg.Port
	fmt.Printf("Server starting on http://localhost:%s\n", cfg.Port)
	log.Printf("Server listening on %s", serverAddr)
	server := &http.Server{
		Addr:        serverAddr,
		Handler:     r,
		ReadTimeout: 10 * time.Minute, // large uploads stream in slowly
		IdleTimeout: 120 * time.Second,
		// WriteTimeout stays unset; range streaming of long videos would
		// otherwise be cut off mid-play
	}
	log.Fatal(server.ListenAndServe())
}
