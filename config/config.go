package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	// DefaultOriginalsSubDir is the canonical storage subtree inside a project
	DefaultOriginalsSubDir = "ingest/originals"
	// DefaultThumbnailsSubDir holds client-posted thumbnails inside a project
	DefaultThumbnailsSubDir = "ingest/thumbnails"
	// DefaultMetadataSubDir holds sidecar metadata inside a project
	DefaultMetadataSubDir = "ingest/_metadata"
	// DefaultManifestSubDir holds the manifest db, event log and batch files
	DefaultManifestSubDir = "_manifest"
	// DefaultSourcesSubDir holds the source registry and the bridge database
	DefaultSourcesSubDir = "_sources"
	// DefaultTagsSubDir holds the shared tag database
	DefaultTagsSubDir = "_tags"
)

const (
	defaultMaxUploadMB          = 512
	defaultAutoReindexIntervalS = 60
	defaultListenPort           = "8787"
	defaultSourcesParentRoot    = "/mnt/media-sources"
)

type Config struct {
	// primary projects root; the implicit "primary" source points here
	ProjectsRoot string

	// parent directory under which additional source roots must live
	SourcesParentRoot string

	// bridge database path (resolve jobs), derived from ProjectsRoot
	BridgeDatabasePath string

	// tag database path (asset tags, shared across projects), derived from
	// ProjectsRoot
	TagDatabasePath string

	// upload settings
	MaxUploadBytes int64

	// auto reindex settings
	AutoReindexEnabled   bool
	AutoReindexIntervalS int

	// http settings
	Port        string
	CORSOrigins []string
}

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvIntOrDefault(envVar string, defaultVal int) int {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil || val <= 0 {
		log.Printf("Warning: Invalid %s '%s'. Using default %d. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

func getEnvBoolOrDefault(envVar string, defaultVal bool) bool {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	switch strings.ToLower(strings.TrimSpace(valStr)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	log.Printf("Warning: Invalid %s '%s'. Using default %v", envVar, valStr, defaultVal)
	return defaultVal
}

func parseOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	var origins []string
	for _, origin := range strings.Split(raw, ",") {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

func LoadConfig() (Config, error) {
	root := getEnvOrDefault("PROJECTS_ROOT", filepath.Join(".", "projects"))
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return Config{}, fmt.Errorf("failed to get absolute path for projects root '%s': %w", root, err)
	}

	sourcesParent := getEnvOrDefault("SOURCES_PARENT_ROOT", defaultSourcesParentRoot)
	absSourcesParent, err := filepath.Abs(sourcesParent)
	if err != nil {
		return Config{}, fmt.Errorf("failed to get absolute path for sources parent root '%s': %w", sourcesParent, err)
	}

	maxUploadMB := getEnvIntOrDefault("MAX_UPLOAD_MB", defaultMaxUploadMB)

	cfg := Config{
		ProjectsRoot:         absRoot,
		SourcesParentRoot:    absSourcesParent,
		BridgeDatabasePath:   filepath.Join(absRoot, DefaultSourcesSubDir, "bridge.db"),
		TagDatabasePath:      filepath.Join(absRoot, DefaultTagsSubDir, "tags.db"),
		MaxUploadBytes:       int64(maxUploadMB) * 1024 * 1024,
		AutoReindexEnabled:   getEnvBoolOrDefault("AUTO_REINDEX_ENABLED", false),
		AutoReindexIntervalS: getEnvIntOrDefault("AUTO_REINDEX_INTERVAL_S", defaultAutoReindexIntervalS),
		Port:                 getEnvOrDefault("PORT", defaultListenPort),
		CORSOrigins:          parseOrigins(os.Getenv("CORS_ORIGINS")),
	}

	return cfg, nil
}
