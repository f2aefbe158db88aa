package sources

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/camden-git/mediasyncd/config"
	"github.com/camden-git/mediasyncd/storage"
)

// PrimaryName is the implicit, always-present source pointing at the
// configured projects root. It resolves even when absent from persisted
// state and can be neither disabled nor removed.
const PrimaryName = "primary"

var (
	ErrNotFound = errors.New("source not found")
	ErrDisabled = errors.New("source is disabled")
)

// Source is a named filesystem root that may contain many projects.
type Source struct {
	Name    string `json:"name"`
	Root    string `json:"root"`
	Kind    string `json:"kind"` // local, smb, nfs; a hint, not behavior
	Enabled bool   `json:"enabled"`
}

// Accessible probes whether the source root is currently reachable on disk.
// Reported independently of Enabled so a disabled-but-reachable root and an
// enabled-but-unreachable one stay distinguishable.
func (s Source) Accessible() bool {
	info, err := os.Stat(s.Root)
	return err == nil && info.IsDir()
}

// Registry persists named sources as JSON under the primary root. Writes
// replace the file atomically so a crashed writer never corrupts it.
type Registry struct {
	primaryRoot       string
	sourcesParentRoot string
	registryPath      string
}

// NewRegistry creates a registry rooted at the configured primary projects
// root.
func NewRegistry(cfg config.Config) *Registry {
	return &Registry{
		primaryRoot:       cfg.ProjectsRoot,
		sourcesParentRoot: cfg.SourcesParentRoot,
		registryPath:      filepath.Join(cfg.ProjectsRoot, config.DefaultSourcesSubDir, "index.json"),
	}
}

func (r *Registry) primarySource() Source {
	return Source{Name: PrimaryName, Root: r.primaryRoot, Kind: "local", Enabled: true}
}

// NormalizeName lowercases and validates a source name. An empty name
// resolves to primary.
func NormalizeName(name string) (string, error) {
	cleaned := strings.ToLower(strings.TrimSpace(name))
	if cleaned == "" {
		return PrimaryName, nil
	}
	if _, err := storage.ValidateProjectName(cleaned); err != nil {
		return "", fmt.Errorf("invalid source name: %w", err)
	}
	return cleaned, nil
}

// load reads persisted sources, always forcing the primary entry to the
// configured root. A missing or unreadable registry file degrades to just
// the primary source.
func (r *Registry) load() []Source {
	byName := map[string]Source{PrimaryName: r.primarySource()}

	data, err := os.ReadFile(r.registryPath)
	if err == nil {
		var persisted []Source
		if jsonErr := json.Unmarshal(data, &persisted); jsonErr != nil {
			log.Printf("sources: ignoring malformed registry at %s: %v", r.registryPath, jsonErr)
		} else {
			for _, source := range persisted {
				name, nameErr := NormalizeName(source.Name)
				if nameErr != nil || name == PrimaryName {
					continue
				}
				source.Name = name
				byName[name] = source
			}
		}
	} else if !os.IsNotExist(err) {
		log.Printf("sources: failed to read registry at %s: %v", r.registryPath, err)
	}

	sources := make([]Source, 0, len(byName))
	for _, source := range byName {
		sources = append(sources, source)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].Name < sources[j].Name })
	return sources
}

// save atomically replaces the registry file.
func (r *Registry) save(sources []Source) error {
	data, err := json.MarshalIndent(sources, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode source registry: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.registryPath), 0755); err != nil {
		return fmt.Errorf("failed to create source registry directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(r.registryPath), ".sources-*")
	if err != nil {
		return fmt.Errorf("failed to create temp registry file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp registry file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp registry file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp registry file: %w", err)
	}
	if err := os.Rename(tmpName, r.registryPath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace source registry: %w", err)
	}
	return nil
}

// ListAll returns every known source, primary first by name ordering.
func (r *Registry) ListAll() []Source {
	return r.load()
}

// ListEnabled returns only enabled sources.
func (r *Registry) ListEnabled() []Source {
	var enabled []Source
	for _, source := range r.load() {
		if source.Enabled {
			enabled = append(enabled, source)
		}
	}
	return enabled
}

// Require resolves a source selector (empty means primary). Disabled
// sources are rejected unless includeDisabled is set.
func (r *Registry) Require(name string, includeDisabled bool) (*Source, error) {
	normalized, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}
	for _, source := range r.load() {
		if source.Name == normalized {
			if !includeDisabled && !source.Enabled {
				return nil, fmt.Errorf("source '%s': %w", normalized, ErrDisabled)
			}
			s := source
			return &s, nil
		}
	}
	return nil, fmt.Errorf("source '%s': %w", normalized, ErrNotFound)
}

// Register adds or replaces a named source. The primary entry is managed
// automatically and cannot be registered over. Roots must live under the
// configured sources parent; reachability is deliberately NOT required, an
// offline NAS registers fine and just lists as inaccessible.
func (r *Registry) Register(name, root, kind string, enabled bool) (*Source, error) {
	normalized, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}
	if normalized == PrimaryName {
		return nil, fmt.Errorf("primary source is managed automatically")
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("invalid source root '%s': %w", root, err)
	}
	if !storage.WithinRoot(r.sourcesParentRoot, absRoot) {
		return nil, fmt.Errorf("source root must live under %s", r.sourcesParentRoot)
	}
	if kind == "" {
		kind = "local"
	}

	candidate := Source{Name: normalized, Root: absRoot, Kind: kind, Enabled: enabled}
	sources := r.load()
	replaced := false
	for i := range sources {
		if sources[i].Name == normalized {
			sources[i] = candidate
			replaced = true
			break
		}
	}
	if !replaced {
		sources = append(sources, candidate)
	}
	if err := r.save(sources); err != nil {
		return nil, err
	}
	log.Printf("sources: registered '%s' -> %s (enabled=%v)", normalized, absRoot, enabled)
	return &candidate, nil
}

// Toggle flips a source's enabled flag without touching its root or kind.
func (r *Registry) Toggle(name string) (*Source, error) {
	normalized, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}
	if normalized == PrimaryName {
		return nil, fmt.Errorf("primary source cannot be disabled")
	}

	sources := r.load()
	for i := range sources {
		if sources[i].Name == normalized {
			sources[i].Enabled = !sources[i].Enabled
			if err := r.save(sources); err != nil {
				return nil, err
			}
			updated := sources[i]
			log.Printf("sources: toggled '%s' enabled=%v", normalized, updated.Enabled)
			return &updated, nil
		}
	}
	return nil, fmt.Errorf("source '%s': %w", normalized, ErrNotFound)
}

// Remove deletes a named source from the registry. Primary cannot be
// removed.
func (r *Registry) Remove(name string) error {
	normalized, err := NormalizeName(name)
	if err != nil {
		return err
	}
	if normalized == PrimaryName {
		return fmt.Errorf("primary source cannot be removed")
	}

	sources := r.load()
	kept := sources[:0]
	found := false
	for _, source := range sources {
		if source.Name == normalized {
			found = true
			continue
		}
		kept = append(kept, source)
	}
	if !found {
		return fmt.Errorf("source '%s': %w", normalized, ErrNotFound)
	}
	return r.save(kept)
}
