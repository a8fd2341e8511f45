package tools

import (
	"context"
	"os"
	"path/filepath"

	"archi/internal/safety"
)

// Workspace file actions create and extend files under the workspace root.
// Project reads may see the whole project root. Source modification is not
// a tool; it belongs to the plan executor's disjoint self-modification
// family.

type createFileTool struct{ safety *safety.Controller }
type appendFileTool struct{ safety *safety.Controller }
type readFileTool struct{ safety *safety.Controller }
type listFilesTool struct{ safety *safety.Controller }

// RegisterFileTools adds the workspace and project file tools.
func RegisterFileTools(r *Registry, controller *safety.Controller) error {
	for _, t := range []Tool{
		&createFileTool{controller},
		&appendFileTool{controller},
		&readFileTool{controller},
		&listFilesTool{controller},
	} {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func (t *createFileTool) Name() string { return "create_file" }
func (t *createFileTool) Description() string {
	return "Create or overwrite a file in the workspace. Params: path, content."
}

func (t *createFileTool) Execute(_ context.Context, params map[string]any) Result {
	path, err := StringParam(params, "path")
	if err != nil {
		return Fail("%v", err)
	}
	content, err := StringParam(params, "content")
	if err != nil {
		return Fail("%v", err)
	}
	abs, err := t.safety.ResolveWorkspacePath(path)
	if err != nil {
		return Fail("%v", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return Fail("create dir: %v", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return Fail("write: %v", err)
	}
	return Ok(map[string]any{"path": abs, "bytes": len(content)})
}

func (t *appendFileTool) Name() string { return "append_file" }
func (t *appendFileTool) Description() string {
	return "Append to a workspace file, creating it if absent. Params: path, content."
}

func (t *appendFileTool) Execute(_ context.Context, params map[string]any) Result {
	path, err := StringParam(params, "path")
	if err != nil {
		return Fail("%v", err)
	}
	content, err := StringParam(params, "content")
	if err != nil {
		return Fail("%v", err)
	}
	abs, err := t.safety.ResolveWorkspacePath(path)
	if err != nil {
		return Fail("%v", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return Fail("create dir: %v", err)
	}
	f, err := os.OpenFile(abs, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return Fail("open: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return Fail("append: %v", err)
	}
	return Ok(map[string]any{"path": abs, "bytes": len(content)})
}

func (t *readFileTool) Name() string { return "read_file" }
func (t *readFileTool) Description() string {
	return "Read a file inside the project root. Params: path."
}

func (t *readFileTool) Execute(_ context.Context, params map[string]any) Result {
	path, err := StringParam(params, "path")
	if err != nil {
		return Fail("%v", err)
	}
	abs, err := t.safety.ResolveProjectPath(path)
	if err != nil {
		// Workspace files are readable too.
		abs, err = t.safety.ResolveWorkspacePath(path)
		if err != nil {
			return Fail("%v", err)
		}
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return Fail("read: %v", err)
	}
	return Ok(map[string]any{"path": abs, "content": string(data)})
}

func (t *listFilesTool) Name() string { return "list_files" }
func (t *listFilesTool) Description() string {
	return "List files under a workspace directory. Params: path (optional)."
}

func (t *listFilesTool) Execute(_ context.Context, params map[string]any) Result {
	path := "."
	if v, ok := params["path"].(string); ok && v != "" {
		path = v
	}
	abs, err := t.safety.ResolveWorkspacePath(path)
	if err != nil {
		return Fail("%v", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return Fail("list: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	return Ok(map[string]any{"path": abs, "entries": names})
}
