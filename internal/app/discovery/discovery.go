// Package discovery walks the roots named by --services-path, matches
// service files with a glob built from config.ServiceFileExt, and loads+
// validates the resulting set as one dependency graph (spec.md §6:
// "directory or file", §3 invariant 6).
package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/gobwas/glob"

	"horust/internal/app/errors"
	"horust/internal/config"
	"horust/internal/config/logger"
)

// Discovery loads every service file reachable from a set of
// --services-path roots into one validated graph.
type Discovery struct {
	pattern glob.Glob
	log     logger.Logger
}

// New builds a Discovery matching files by config.ServiceFileExt.
func New(log logger.Logger) *Discovery {
	return &Discovery{
		pattern: glob.MustCompile("*" + config.ServiceFileExt),
		log:     log.WithComponent("DISCOVERY"),
	}
}

// Load walks each root (a single .toml file or a directory of them),
// loads every matching service, and validates the combined graph.
func (d *Discovery) Load(roots []string) (map[string]*config.Service, error) {
	paths, err := d.collectPaths(roots)
	if err != nil {
		return nil, err
	}

	services := make(map[string]*config.Service, len(paths))

	for _, path := range paths {
		svc, err := config.LoadService(path)
		if err != nil {
			return nil, err
		}

		if _, exists := services[svc.Name]; exists {
			return nil, fmt.Errorf("%w: %s", errors.ErrDuplicateService, svc.Name)
		}

		services[svc.Name] = svc
		d.log.Debug().Str("name", svc.Name).Str("path", path).Msg("loaded service file")
	}

	if err := config.ValidateGraph(services); err != nil {
		return nil, err
	}

	return services, nil
}

// collectPaths resolves every root to a sorted, deduplicated list of
// matching file paths.
func (d *Discovery) collectPaths(roots []string) ([]string, error) {
	seen := make(map[string]bool)
	var paths []string

	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", errors.ErrFailedToReadServiceDir, root)
		}

		if !info.IsDir() {
			if !seen[root] {
				seen[root] = true
				paths = append(paths, root)
			}

			continue
		}

		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", errors.ErrFailedToReadServiceDir, root, err)
		}

		for _, e := range entries {
			if e.IsDir() || !d.pattern.Match(e.Name()) {
				continue
			}

			path := filepath.Join(root, e.Name())
			if !seen[path] {
				seen[path] = true
				paths = append(paths, path)
			}
		}
	}

	sort.Strings(paths)

	return paths, nil
}
