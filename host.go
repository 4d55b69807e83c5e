package idebridge

import "context"

// Host collaborator interfaces. The bridge never touches the filesystem or
// editor state directly; everything flows through these narrow capabilities
// injected at construction time. Implementations live with the embedding host
// application (or in cmd/idebridge for the standalone binary).

// FileProvider exposes the host application's file read/write operations.
type FileProvider interface {
	// ReadFile returns the content of the file at path. The path has already
	// been through the PathResolver.
	ReadFile(ctx context.Context, path string) (string, error)

	// WriteFile replaces the content of the file at path.
	WriteFile(ctx context.Context, path string, content string) error

	// ListFiles returns the paths of regular files under root, relative to
	// root.
	ListFiles(ctx context.Context, root string) ([]string, error)
}

// Document describes one document known to the host.
type Document struct {
	Path       string `json:"path"`
	Dirty      bool   `json:"dirty"`
	LanguageID string `json:"languageId,omitempty"`
}

// WorkspaceProvider exposes workspace and active-document introspection.
type WorkspaceProvider interface {
	// Folders returns the current workspace root folders.
	Folders(ctx context.Context) []string

	// ActiveDocument returns the document currently focused in the host, if any.
	ActiveDocument(ctx context.Context) (Document, bool)

	// OpenDocuments returns every document currently open in the host.
	OpenDocuments(ctx context.Context) []Document
}

// PathResolver normalizes and validates paths before they reach the
// FileProvider. Resolve returns an error for paths outside the workspace.
type PathResolver interface {
	Resolve(path string) (string, error)
}

// Collaborators bundles the host capabilities consumed by the bridge.
type Collaborators struct {
	Files     FileProvider
	Workspace WorkspaceProvider
	Paths     PathResolver
}
