// Package tools provides the default tool sets the bridge server exposes
// over its registries. Every handler goes through the injected host
// collaborators; nothing here touches the OS directly.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	"github.com/qri-io/jsonschema"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/coderelay/idebridge"
)

// Tool categories. Internal grouping only; never serialized to clients.
const (
	CategoryWorkspace   = "workspace"
	CategoryIntegration = "integration"
)

// Shared returns the tool set registered on both transports.
func Shared(host idebridge.Collaborators) []idebridge.RegisteredTool {
	return []idebridge.RegisteredTool{
		{
			Definition: idebridge.ToolDefinition{
				Name:        "read_file",
				Description: "Read the content of a file in the workspace",
				InputSchema: json.RawMessage(readFileSchemaJSON),
				Category:    CategoryWorkspace,
			},
			Implementation: idebridge.ToolImplementation{
				Name:    "read_file",
				Handler: readFileHandler(host),
			},
		},
		{
			Definition: idebridge.ToolDefinition{
				Name:        "write_file",
				Description: "Replace the content of a file in the workspace",
				InputSchema: json.RawMessage(writeFileSchemaJSON),
				Category:    CategoryWorkspace,
			},
			Implementation: idebridge.ToolImplementation{
				Name:    "write_file",
				Handler: writeFileHandler(host),
			},
		},
		{
			Definition: idebridge.ToolDefinition{
				Name:        "list_files",
				Description: "List workspace files matching a glob pattern",
				InputSchema: json.RawMessage(listFilesSchemaJSON),
				Category:    CategoryWorkspace,
			},
			Implementation: idebridge.ToolImplementation{
				Name:    "list_files",
				Handler: listFilesHandler(host),
			},
		},
		{
			Definition: idebridge.ToolDefinition{
				Name:        "compute_diff",
				Description: "Compute a patch between a file's current content and proposed new content",
				InputSchema: json.RawMessage(computeDiffSchemaJSON),
				Category:    CategoryWorkspace,
			},
			Implementation: idebridge.ToolImplementation{
				Name:    "compute_diff",
				Handler: computeDiffHandler(host),
			},
		},
		{
			Definition: idebridge.ToolDefinition{
				Name:        "get_workspace_folders",
				Description: "Return the current workspace root folders",
				InputSchema: json.RawMessage(emptySchemaJSON),
				Category:    CategoryWorkspace,
			},
			Implementation: idebridge.ToolImplementation{
				Name:    "get_workspace_folders",
				Handler: getWorkspaceFoldersHandler(host),
			},
		},
		{
			Definition: idebridge.ToolDefinition{
				Name:        "get_active_document",
				Description: "Return the document currently focused in the host",
				InputSchema: json.RawMessage(emptySchemaJSON),
				Category:    CategoryWorkspace,
			},
			Implementation: idebridge.ToolImplementation{
				Name:    "get_active_document",
				Handler: getActiveDocumentHandler(host),
			},
		},
	}
}

// Integration returns the tools served only on the persistent-socket
// transport, where the connected client is the host's own integration.
func Integration(host idebridge.Collaborators) []idebridge.RegisteredTool {
	return []idebridge.RegisteredTool{
		{
			Definition: idebridge.ToolDefinition{
				Name:        "get_open_documents",
				Description: "Return every document currently open in the host",
				InputSchema: json.RawMessage(emptySchemaJSON),
				Category:    CategoryIntegration,
			},
			Implementation: idebridge.ToolImplementation{
				Name:    "get_open_documents",
				Handler: getOpenDocumentsHandler(host),
			},
		},
		{
			Definition: idebridge.ToolDefinition{
				Name:        "check_document_dirty",
				Description: "Report whether an open document has unsaved changes",
				InputSchema: json.RawMessage(checkDocumentDirtySchemaJSON),
				Category:    CategoryIntegration,
			},
			Implementation: idebridge.ToolImplementation{
				Name:    "check_document_dirty",
				Handler: checkDocumentDirtyHandler(host),
			},
		},
	}
}

// validate checks args against schema and, on violation, returns an in-band
// error result. Protocol errors are reserved for malformed requests; schema
// violations are tool-level failures.
func validate(ctx context.Context, schema *jsonschema.Schema, args []byte) (idebridge.CallToolResult, bool) {
	if len(args) == 0 {
		args = []byte(`{}`)
	}
	keyErrs, err := schema.ValidateBytes(ctx, args)
	if err != nil {
		return errResult(fmt.Sprintf("invalid arguments: %s", err)), false
	}
	if len(keyErrs) > 0 {
		msgs := make([]string, 0, len(keyErrs))
		for _, ke := range keyErrs {
			msgs = append(msgs, ke.Message)
		}
		return errResult("invalid arguments: " + strings.Join(msgs, "; ")), false
	}
	return idebridge.CallToolResult{}, true
}

func errResult(msg string) idebridge.CallToolResult {
	return idebridge.CallToolResult{
		Content: idebridge.TextContent(msg),
		IsError: true,
	}
}

func textResult(text string) idebridge.CallToolResult {
	return idebridge.CallToolResult{
		Content: idebridge.TextContent(text),
	}
}

func jsonResult(v any) (idebridge.CallToolResult, error) {
	bs, err := json.Marshal(v)
	if err != nil {
		return idebridge.CallToolResult{}, err
	}
	return textResult(string(bs)), nil
}

type pathArgs struct {
	Path string `json:"path"`
}

func readFileHandler(host idebridge.Collaborators) idebridge.ToolHandler {
	return func(ctx context.Context, args []byte) (idebridge.CallToolResult, error) {
		if res, ok := validate(ctx, readFileSchema, args); !ok {
			return res, nil
		}
		var p pathArgs
		if err := json.Unmarshal(args, &p); err != nil {
			return errResult(err.Error()), nil
		}

		path, err := host.Paths.Resolve(p.Path)
		if err != nil {
			return errResult(err.Error()), nil
		}
		content, err := host.Files.ReadFile(ctx, path)
		if err != nil {
			return errResult(err.Error()), nil
		}
		return textResult(content), nil
	}
}

func writeFileHandler(host idebridge.Collaborators) idebridge.ToolHandler {
	return func(ctx context.Context, args []byte) (idebridge.CallToolResult, error) {
		if res, ok := validate(ctx, writeFileSchema, args); !ok {
			return res, nil
		}
		var p struct {
			Path    string `json:"path"`
			Content string `json:"content"`
		}
		if err := json.Unmarshal(args, &p); err != nil {
			return errResult(err.Error()), nil
		}

		path, err := host.Paths.Resolve(p.Path)
		if err != nil {
			return errResult(err.Error()), nil
		}
		if err := host.Files.WriteFile(ctx, path, p.Content); err != nil {
			return errResult(err.Error()), nil
		}
		return textResult(fmt.Sprintf("wrote %d bytes to %s", len(p.Content), path)), nil
	}
}

func listFilesHandler(host idebridge.Collaborators) idebridge.ToolHandler {
	return func(ctx context.Context, args []byte) (idebridge.CallToolResult, error) {
		if res, ok := validate(ctx, listFilesSchema, args); !ok {
			return res, nil
		}
		var p struct {
			Pattern    string `json:"pattern"`
			MaxResults int    `json:"maxResults"`
		}
		if len(args) > 0 {
			if err := json.Unmarshal(args, &p); err != nil {
				return errResult(err.Error()), nil
			}
		}
		if p.Pattern == "" {
			p.Pattern = "**"
		}
		if p.MaxResults <= 0 {
			p.MaxResults = 200
		}

		g, err := glob.Compile(p.Pattern, '/')
		if err != nil {
			return errResult(fmt.Sprintf("bad pattern %q: %s", p.Pattern, err)), nil
		}

		var matches []string
		for _, folder := range host.Workspace.Folders(ctx) {
			files, err := host.Files.ListFiles(ctx, folder)
			if err != nil {
				return errResult(err.Error()), nil
			}
			for _, f := range files {
				if !g.Match(filepath.ToSlash(f)) {
					continue
				}
				matches = append(matches, f)
				if len(matches) >= p.MaxResults {
					return jsonResult(matches)
				}
			}
		}
		if matches == nil {
			matches = []string{}
		}
		return jsonResult(matches)
	}
}

func computeDiffHandler(host idebridge.Collaborators) idebridge.ToolHandler {
	return func(ctx context.Context, args []byte) (idebridge.CallToolResult, error) {
		if res, ok := validate(ctx, computeDiffSchema, args); !ok {
			return res, nil
		}
		var p struct {
			Path       string `json:"path"`
			NewContent string `json:"newContent"`
		}
		if err := json.Unmarshal(args, &p); err != nil {
			return errResult(err.Error()), nil
		}

		path, err := host.Paths.Resolve(p.Path)
		if err != nil {
			return errResult(err.Error()), nil
		}
		current, err := host.Files.ReadFile(ctx, path)
		if err != nil {
			return errResult(err.Error()), nil
		}

		dmp := diffmatchpatch.New()
		patches := dmp.PatchMake(current, p.NewContent)
		if len(patches) == 0 {
			return textResult("no changes"), nil
		}
		return textResult(dmp.PatchToText(patches)), nil
	}
}

func getWorkspaceFoldersHandler(host idebridge.Collaborators) idebridge.ToolHandler {
	return func(ctx context.Context, args []byte) (idebridge.CallToolResult, error) {
		folders := host.Workspace.Folders(ctx)
		if folders == nil {
			folders = []string{}
		}
		return jsonResult(folders)
	}
}

func getActiveDocumentHandler(host idebridge.Collaborators) idebridge.ToolHandler {
	return func(ctx context.Context, args []byte) (idebridge.CallToolResult, error) {
		doc, ok := host.Workspace.ActiveDocument(ctx)
		if !ok {
			return textResult("no active document"), nil
		}
		return jsonResult(doc)
	}
}

func getOpenDocumentsHandler(host idebridge.Collaborators) idebridge.ToolHandler {
	return func(ctx context.Context, args []byte) (idebridge.CallToolResult, error) {
		docs := host.Workspace.OpenDocuments(ctx)
		if docs == nil {
			docs = []idebridge.Document{}
		}
		return jsonResult(docs)
	}
}

func checkDocumentDirtyHandler(host idebridge.Collaborators) idebridge.ToolHandler {
	return func(ctx context.Context, args []byte) (idebridge.CallToolResult, error) {
		if res, ok := validate(ctx, checkDocumentDirtySchema, args); !ok {
			return res, nil
		}
		var p pathArgs
		if err := json.Unmarshal(args, &p); err != nil {
			return errResult(err.Error()), nil
		}

		path, err := host.Paths.Resolve(p.Path)
		if err != nil {
			return errResult(err.Error()), nil
		}
		for _, doc := range host.Workspace.OpenDocuments(ctx) {
			if doc.Path == path {
				return jsonResult(map[string]bool{"dirty": doc.Dirty})
			}
		}
		return errResult(fmt.Sprintf("document %s is not open", path)), nil
	}
}
