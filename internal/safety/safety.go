// Package safety enforces the file-access perimeter: workspace writes stay
// inside the workspace root, project reads stay inside the project root,
// and protected paths are never modified. Workspace and self-modification
// writes are disjoint action families that never cross.
package safety

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Controller validates every file-touching action.
type Controller struct {
	workspaceRoot string
	projectRoot   string
	protected     []string // absolute, cleaned
}

// NewController creates a Controller. Protected entries are resolved
// against the project root when relative.
func NewController(workspaceRoot, projectRoot string, protected []string) (*Controller, error) {
	ws, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	pr, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("project root: %w", err)
	}
	c := &Controller{workspaceRoot: ws, projectRoot: pr}
	for _, p := range protected {
		if !filepath.IsAbs(p) {
			p = filepath.Join(pr, p)
		}
		c.protected = append(c.protected, filepath.Clean(p))
	}
	return c, nil
}

// WorkspaceRoot returns the absolute workspace root.
func (c *Controller) WorkspaceRoot() string { return c.workspaceRoot }

// ProjectRoot returns the absolute project root.
func (c *Controller) ProjectRoot() string { return c.projectRoot }

// ResolveWorkspacePath normalizes path and requires it to fall inside the
// workspace root. Relative paths resolve against the workspace root.
func (c *Controller) ResolveWorkspacePath(path string) (string, error) {
	return resolveWithin(c.workspaceRoot, path, "workspace")
}

// ResolveProjectPath normalizes path and requires it to fall inside the
// project root. Relative paths resolve against the project root.
func (c *Controller) ResolveProjectPath(path string) (string, error) {
	return resolveWithin(c.projectRoot, path, "project")
}

// CheckSourceWrite validates a self-modification target: inside the
// project root and not protected.
func (c *Controller) CheckSourceWrite(path string) (string, error) {
	abs, err := c.ResolveProjectPath(path)
	if err != nil {
		return "", err
	}
	if c.IsProtected(abs) {
		return "", fmt.Errorf("path %s is protected and cannot be modified", path)
	}
	return abs, nil
}

// IsProtected reports whether abs falls on or under a protected path.
func (c *Controller) IsProtected(abs string) bool {
	abs = filepath.Clean(abs)
	for _, p := range c.protected {
		if abs == p || strings.HasPrefix(abs, p+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func resolveWithin(root, path, family string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("empty path")
	}
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, abs)
	}
	abs = filepath.Clean(abs)
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s escapes the %s root", path, family)
	}
	return abs, nil
}
