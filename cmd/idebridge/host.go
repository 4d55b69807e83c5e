package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/coderelay/idebridge"
)

// localHost backs the collaborator interfaces with the local filesystem for
// the standalone binary. An embedding editor would provide its own
// implementations instead.
type localHost struct {
	folders []string
}

func newLocalHost(folders []string) (*localHost, error) {
	abs := make([]string, 0, len(folders))
	for _, f := range folders {
		a, err := filepath.Abs(f)
		if err != nil {
			return nil, fmt.Errorf("bad workspace folder %q: %w", f, err)
		}
		abs = append(abs, a)
	}
	return &localHost{folders: abs}, nil
}

func (h *localHost) collaborators() idebridge.Collaborators {
	return idebridge.Collaborators{
		Files:     h,
		Workspace: h,
		Paths:     h,
	}
}

// Resolve normalizes path and rejects anything outside the workspace roots.
func (h *localHost) Resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}

	if !filepath.IsAbs(path) {
		if len(h.folders) == 0 {
			return "", fmt.Errorf("relative path %q with no workspace folder", path)
		}
		path = filepath.Join(h.folders[0], path)
	}
	path = filepath.Clean(path)

	for _, folder := range h.folders {
		if path == folder || strings.HasPrefix(path, folder+string(filepath.Separator)) {
			return path, nil
		}
	}
	return "", fmt.Errorf("path %q is outside the workspace", path)
}

func (h *localHost) ReadFile(_ context.Context, path string) (string, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(bs), nil
}

func (h *localHost) WriteFile(_ context.Context, path string, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

func (h *localHost) ListFiles(ctx context.Context, root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func (h *localHost) Folders(context.Context) []string {
	return h.folders
}

// ActiveDocument is meaningless without an editor attached; the standalone
// binary reports none.
func (h *localHost) ActiveDocument(context.Context) (idebridge.Document, bool) {
	return idebridge.Document{}, false
}

func (h *localHost) OpenDocuments(context.Context) []idebridge.Document {
	return nil
}
