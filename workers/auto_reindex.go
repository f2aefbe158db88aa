package workers

import (
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/camden-git/mediasyncd/media"
	"github.com/camden-git/mediasyncd/reindex"
	"github.com/camden-git/mediasyncd/sources"
	"github.com/camden-git/mediasyncd/storage"
)

// projectSignature is a cheap fingerprint of a project's media tree: file
// count, total size, and the newest mtime. A full reconciliation pass only
// runs when the signature moved since the last sweep, so an idle tree costs
// one directory walk and zero hashing per interval.
type projectSignature struct {
	Files     int
	TotalSize int64
	NewestMod int64
}

// AutoReindexer periodically sweeps every project under every enabled,
// reachable source and reconciles the ones whose trees changed.
type AutoReindexer struct {
	Registry   *sources.Registry
	Reconciler *reindex.Reconciler
	Interval   time.Duration

	Wg       sync.WaitGroup
	StopChan chan struct{}

	mutex      sync.Mutex
	signatures map[string]projectSignature // keyed by source/project
}

func NewAutoReindexer(registry *sources.Registry, reconciler *reindex.Reconciler, interval time.Duration) *AutoReindexer {
	if interval <= 0 {
		interval = time.Minute
	}
	return &AutoReindexer{
		Registry:   registry,
		Reconciler: reconciler,
		Interval:   interval,
		StopChan:   make(chan struct{}),
		signatures: make(map[string]projectSignature),
	}
}

// Start launches the sweep loop.
func (ar *AutoReindexer) Start() {
	ar.Wg.Add(1)
	go ar.loop()
	log.Printf("Started auto reindexer with interval %s", ar.Interval)
}

// Stop signals the loop and waits for the in-flight sweep to finish.
func (ar *AutoReindexer) Stop() {
	close(ar.StopChan)
	ar.Wg.Wait()
	log.Println("Auto reindexer stopped")
}

func (ar *AutoReindexer) loop() {
	defer ar.Wg.Done()

	ticker := time.NewTicker(ar.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ar.sweep()
		case <-ar.StopChan:
			return
		}
	}
}

// sweep walks every enabled reachable source and reindexes the projects
// whose signatures changed.
func (ar *AutoReindexer) sweep() {
	for _, source := range ar.Registry.ListEnabled() {
		if !source.Accessible() {
			continue
		}
		entries, err := os.ReadDir(source.Root)
		if err != nil {
			log.Printf("auto-reindex: cannot list source '%s': %v", source.Name, err)
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			name := entry.Name()
			if strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") {
				continue
			}
			if _, err := storage.ValidateProjectName(name); err != nil {
				continue
			}
			project := storage.NewProject(name, source.Name, source.Root)
			ar.maybeReindex(project)
		}
	}
}

func (ar *AutoReindexer) maybeReindex(project storage.Project) {
	sig, err := computeSignature(project)
	if err != nil {
		log.Printf("auto-reindex: signature scan failed for %s: %v", project.Name, err)
		return
	}

	key := project.SourceName + "/" + project.Name
	ar.mutex.Lock()
	previous, seen := ar.signatures[key]
	ar.mutex.Unlock()

	if seen && previous == sig {
		return
	}

	result, err := ar.Reconciler.ReindexProject(project)
	if err != nil {
		log.Printf("auto-reindex: reindex failed for %s: %v", project.Name, err)
		return
	}
	log.Printf("auto-reindex: project %s on %s: scanned=%d updated=%d removed=%d relocated=%d",
		result.Project, result.Source, result.Scanned, result.HashedOrUpdated, result.Removed, result.Relocated)

	// relocation may have changed the tree; re-fingerprint after the pass so
	// the next sweep sees the settled state
	if settled, err := computeSignature(project); err == nil {
		sig = settled
	}
	ar.mutex.Lock()
	ar.signatures[key] = sig
	ar.mutex.Unlock()
}

// computeSignature walks the project's media files without hashing anything.
func computeSignature(project storage.Project) (projectSignature, error) {
	var sig projectSignature
	reserved := project.ReservedSubpaths()

	err := filepath.WalkDir(project.Root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if path == project.Root {
			return nil
		}
		rel, relErr := storage.RelPosix(project.Root, path)
		if relErr != nil {
			return nil
		}
		if entry.IsDir() {
			for _, r := range reserved {
				if rel == r || strings.HasPrefix(rel, r+"/") {
					return filepath.SkipDir
				}
			}
			if strings.HasPrefix(entry.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		for _, r := range reserved {
			if rel == r || strings.HasPrefix(rel, r+"/") {
				return nil
			}
		}
		if strings.HasPrefix(entry.Name(), ".") || !media.IsRecognized(entry.Name()) {
			return nil
		}
		info, infoErr := entry.Info()
		if infoErr != nil {
			return nil
		}
		sig.Files++
		sig.TotalSize += info.Size()
		if mod := info.ModTime().Unix(); mod > sig.NewestMod {
			sig.NewestMod = mod
		}
		return nil
	})
	return sig, err
}
