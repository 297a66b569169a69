package handler

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/DukeRupert/posadmin/internal/auth"
	"github.com/DukeRupert/posadmin/internal/domain"
	"github.com/DukeRupert/posadmin/internal/notify"
)

//go:embed templates
var embeddedTemplates embed.FS

// Renderer manages template parsing and rendering with isolated template sets.
// It supports two layouts:
//   - "auth" layout for public pages (login, register, password recovery)
//   - "app" layout for protected pages (dashboard, orders, payments)
//
// Templates are organized as:
//   - layouts/auth.html, layouts/app.html - base layouts
//   - components/*.html - reusable components (shared across layouts)
//   - pages/auth/*.html - public pages (use auth layout)
//   - pages/*.html and pages/<dir>/*.html - app pages (use app layout)
type Renderer struct {
	templates map[string]*template.Template
	logger    *slog.Logger
	isDev     bool
	fsys      fs.FS
	mu        sync.RWMutex
}

// RendererConfig holds configuration for the renderer.
type RendererConfig struct {
	// TemplatesDir reads templates from disk instead of the embedded copy.
	// Combined with IsDev it enables hot reload.
	TemplatesDir string
	Logger       *slog.Logger
	IsDev        bool
}

// NewRenderer creates a new template renderer.
func NewRenderer(cfg RendererConfig) (*Renderer, error) {
	var fsys fs.FS
	if cfg.TemplatesDir != "" {
		fsys = os.DirFS(cfg.TemplatesDir)
	} else {
		sub, err := fs.Sub(embeddedTemplates, "templates")
		if err != nil {
			return nil, fmt.Errorf("open embedded templates: %w", err)
		}
		fsys = sub
	}

	r := &Renderer{
		templates: make(map[string]*template.Template),
		logger:    cfg.Logger,
		isDev:     cfg.IsDev && cfg.TemplatesDir != "",
		fsys:      fsys,
	}

	if err := r.loadTemplates(); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *Renderer) loadTemplates() error {
	components, err := fs.Glob(r.fsys, "components/*.html")
	if err != nil {
		return fmt.Errorf("failed to glob components: %w", err)
	}

	layouts := make(map[string]*template.Template, 2)
	for _, name := range []string{"auth", "app"} {
		base, err := template.New(name).Funcs(TemplateFuncs()).ParseFS(r.fsys, "layouts/"+name+".html")
		if err != nil {
			return fmt.Errorf("failed to parse %s layout: %w", name, err)
		}
		if len(components) > 0 {
			if base, err = base.ParseFS(r.fsys, components...); err != nil {
				return fmt.Errorf("failed to parse components into %s layout: %w", name, err)
			}
		}
		layouts[name] = base
	}

	templates := make(map[string]*template.Template)

	// Public pages: "auth/login", "auth/register", ...
	if err := r.parsePages(templates, layouts["auth"], "pages/auth/*.html", "auth/"); err != nil {
		return err
	}

	// App pages: "dashboard", "error", ...
	if err := r.parsePages(templates, layouts["app"], "pages/*.html", ""); err != nil {
		return err
	}

	// Nested app pages: "orders/show", "payments/show", ...
	for _, dir := range []string{"orders", "payments"} {
		if err := r.parsePages(templates, layouts["app"], "pages/"+dir+"/*.html", dir+"/"); err != nil {
			return err
		}
	}

	r.templates = templates
	if r.logger != nil {
		r.logger.Debug("templates loaded", "count", len(templates))
	}
	return nil
}

func (r *Renderer) parsePages(dst map[string]*template.Template, layout *template.Template, pattern, prefix string) error {
	pages, err := fs.Glob(r.fsys, pattern)
	if err != nil {
		return fmt.Errorf("failed to glob %s: %w", pattern, err)
	}

	for _, page := range pages {
		pageTmpl, err := layout.Clone()
		if err != nil {
			return fmt.Errorf("failed to clone layout for %s: %w", page, err)
		}
		if pageTmpl, err = pageTmpl.ParseFS(r.fsys, page); err != nil {
			return fmt.Errorf("failed to parse page %s: %w", page, err)
		}
		name := strings.TrimSuffix(path.Base(page), path.Ext(page))
		dst[prefix+name] = pageTmpl
	}
	return nil
}

// Reload reloads all templates. Useful for development.
func (r *Renderer) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadTemplates()
}

// ListTemplates returns the names of all loaded templates, sorted.
func (r *Renderer) ListTemplates() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// =============================================================================
// Rendering
// =============================================================================

// ToastData holds data for rendering a toast notification.
type ToastData struct {
	Type    string // success, error, warning, info
	Title   string // optional
	Message string
}

// View is what every template receives. Page is the handler's own data.
type View struct {
	Page        any
	CurrentPath string
	User        *domain.Session
	Toasts      []ToastData
}

// RenderHTTP renders a template with status 200.
func (r *Renderer) RenderHTTP(w http.ResponseWriter, req *http.Request, name string, data any) {
	r.RenderStatus(w, req, http.StatusOK, name, data)
}

// RenderStatus renders a template with the given status. Notifications
// recorded for this request are drained into toasts.
func (r *Renderer) RenderStatus(w http.ResponseWriter, req *http.Request, status int, name string, data any) {
	if r.isDev {
		if err := r.Reload(); err != nil {
			r.logger.Error("template reload failed", "error", err)
			http.Error(w, "Template reload failed", http.StatusInternalServerError)
			return
		}
	}

	r.mu.RLock()
	tmpl, ok := r.templates[name]
	r.mu.RUnlock()

	if !ok {
		r.logger.Error("template not found", "name", name)
		http.Error(w, "Template not found", http.StatusInternalServerError)
		return
	}

	view := View{
		Page:        data,
		CurrentPath: req.URL.Path,
		User:        auth.GetUser(req.Context()),
		Toasts:      toastsFrom(req),
	}

	// Render to buffer first to catch errors before writing headers
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, baseTemplateName(name), view); err != nil {
		r.logger.Error("template execution failed", "name", name, "error", err)
		http.Error(w, "Template execution failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// baseTemplateName determines which layout to execute.
func baseTemplateName(name string) string {
	if strings.HasPrefix(name, "auth/") {
		return "auth"
	}
	return "app"
}

func toastsFrom(req *http.Request) []ToastData {
	rec := notify.RecorderFrom(req.Context())
	if rec == nil {
		return nil
	}
	notes := rec.Drain()
	toasts := make([]ToastData, 0, len(notes))
	for _, n := range notes {
		toasts = append(toasts, ToastData{
			Type:    string(n.Severity),
			Title:   n.Title,
			Message: n.Description,
		})
	}
	return toasts
}
