package server

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/TobiSchelling/TurfWatch/internal/database"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New()

const indexLimit = 200

// Server is the local web view over the corpus store.
type Server struct {
	db    *database.DB
	pages map[string]*template.Template
	mux   *http.ServeMux
}

// New creates a new Server.
func New(db *database.DB) (*Server, error) {
	funcMap := template.FuncMap{
		"markdown":   renderMarkdown,
		"formatUnix": database.FormatUnix,
		"join":       strings.Join,
		"label":      categoryLabel,
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
	}

	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// Each page gets its own clone of base so "title" and "content" can be
	// defined per page.
	pageNames := []string{"index.html", "report.html", "terms.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		if _, err := clone.ParseFS(templateFS, "templates/"+name); err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{db: db, pages: pages, mux: http.NewServeMux()}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/report/", s.handleReport)
	s.mux.HandleFunc("/terms", s.handleTerms)
	s.mux.HandleFunc("/terms/add", s.handleAddTerm)
	s.mux.HandleFunc("/terms/", s.handleTermAction)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	stats, err := s.db.GetStats()
	if err != nil {
		log.Printf("Loading stats: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	diagnosed, err := s.db.GetDiagnosedReports(indexLimit)
	if err != nil {
		log.Printf("Loading diagnosed reports: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	recent, _ := s.db.GetRecentReports(20)
	runs, _ := s.db.GetRecentRuns(5)

	s.render(w, "index.html", map[string]any{
		"Stats":     stats,
		"Diagnosed": diagnosed,
		"Recent":    recent,
		"Runs":      runs,
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/report/")
	if id == "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	report, err := s.db.GetReport(id)
	if err != nil {
		log.Printf("Loading report %s: %v", id, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if report == nil {
		http.NotFound(w, r)
		return
	}
	replies, _ := s.db.GetReplies(id)
	diagnosis, _ := s.db.GetDiagnosis(id)

	s.render(w, "report.html", map[string]any{
		"Report":    report,
		"Replies":   replies,
		"Diagnosis": diagnosis,
	})
}

func (s *Server) handleTerms(w http.ResponseWriter, r *http.Request) {
	terms, _ := s.db.GetAllWatchTerms()
	s.render(w, "terms.html", map[string]any{
		"Terms": terms,
	})
}

func (s *Server) handleAddTerm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Redirect(w, r, "/terms", http.StatusFound)
		return
	}

	term := strings.TrimSpace(r.FormValue("term"))
	note := strings.TrimSpace(r.FormValue("note"))
	if term != "" {
		var notePtr *string
		if note != "" {
			notePtr = &note
		}
		if _, err := s.db.InsertWatchTerm(term, notePtr); err != nil {
			log.Printf("Adding watch term %q: %v", term, err)
		}
	}

	http.Redirect(w, r, "/terms", http.StatusFound)
}

func (s *Server) handleTermAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Redirect(w, r, "/terms", http.StatusFound)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/terms/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 {
		http.Redirect(w, r, "/terms", http.StatusFound)
		return
	}

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		http.Redirect(w, r, "/terms", http.StatusFound)
		return
	}

	switch parts[1] {
	case "toggle":
		err = s.db.ToggleWatchTerm(id)
	case "delete":
		err = s.db.DeleteWatchTerm(id)
	case "edit":
		term := strings.TrimSpace(r.FormValue("term"))
		note := strings.TrimSpace(r.FormValue("note"))
		if term != "" {
			err = s.db.UpdateWatchTerm(id, &term, &note)
		}
	}
	if err != nil {
		log.Printf("Watch term %d %s: %v", id, parts[1], err)
	}

	http.Redirect(w, r, "/terms", http.StatusFound)
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		log.Printf("Template %s not found", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		log.Printf("Error rendering template %s: %v", name, err)
	}
}

// renderMarkdown renders Reddit markdown. goldmark drops raw HTML by default.
func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

func categoryLabel(name string) string {
	return strings.ReplaceAll(name, "_", " ")
}

// Serve starts the HTTP server on the given port.
func Serve(db *database.DB, port int) error {
	srv, err := New(db)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	log.Printf("Server listening on http://%s", addr)
	return http.ListenAndServe(addr, srv.Handler())
}
