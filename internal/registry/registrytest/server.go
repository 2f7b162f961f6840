// Package registrytest serves a fake certification registry for tests.
package registrytest

import (
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// Paths served for each listing.
const (
	RegularPath     = "/registry"
	GrandMasterPath = "/registry/grand-masters"
)

// Row is one holder line rendered into the listing table. Cert lands in the
// Certification column on the regular listing and Credential on the
// grand-master listing.
type Row struct {
	Name     string
	Cert     string
	Location string
	Org      string
	Awarded  string
}

// Listing is the content of one variant.
type Listing struct {
	Pages [][]Row
	// LastPage overrides the pager link. -1 omits the pager entirely; 0 means
	// len(Pages)-1.
	LastPage int
	// Status forces a response code for a page index.
	Status map[int]int
	// LandingStatus forces a response code for the unparameterized landing page.
	LandingStatus int
	// Delay stalls a page index before responding.
	Delay map[int]time.Duration
}

// Server is a running fake registry.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	regular     Listing
	grandMaster Listing
	hits        map[string]int
	queries     []string
}

// NewServer starts a registry fake closed on test cleanup.
func NewServer(t testing.TB, regular, grandMaster Listing) *Server {
	t.Helper()
	s := &Server{regular: regular, grandMaster: grandMaster, hits: make(map[string]int)}
	mux := http.NewServeMux()
	mux.HandleFunc(RegularPath, func(w http.ResponseWriter, r *http.Request) {
		s.serve(w, r, s.regular, "Certification", "exam")
	})
	mux.HandleFunc(GrandMasterPath, func(w http.ResponseWriter, r *http.Request) {
		s.serve(w, r, s.grandMaster, "Credential", "credential")
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// RegularURL is the regular listing landing page.
func (s *Server) RegularURL() string { return s.URL + RegularPath }

// GrandMasterURL is the grand-master listing landing page.
func (s *Server) GrandMasterURL() string { return s.URL + GrandMasterPath }

// Hits reports requests for a path and page key ("landing" or the page index).
func (s *Server) Hits(path, page string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path+"|"+page]
}

// Queries returns every raw query string received, in arrival order.
func (s *Server) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request, l Listing, certHeader, filter string) {
	raw := r.URL.Query().Get("page")
	key := raw
	if key == "" {
		key = "landing"
	}
	s.mu.Lock()
	s.hits[r.URL.Path+"|"+key]++
	s.queries = append(s.queries, r.URL.RawQuery)
	s.mu.Unlock()

	page := 0
	if raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "bad page", http.StatusBadRequest)
			return
		}
		page = n
	}
	if d, ok := l.Delay[page]; ok {
		select {
		case <-time.After(d):
		case <-r.Context().Done():
			return
		}
	}
	if raw == "" && l.LandingStatus != 0 {
		http.Error(w, http.StatusText(l.LandingStatus), l.LandingStatus)
		return
	}
	if code, ok := l.Status[page]; ok && raw != "" {
		http.Error(w, http.StatusText(code), code)
		return
	}

	var rows []Row
	if page >= 0 && page < len(l.Pages) {
		rows = l.Pages[page]
	}
	last := l.LastPage
	if last == 0 {
		last = len(l.Pages) - 1
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, Page(certHeader, rows, last, filter))
}

// Page renders a listing page. A negative last omits the pager; a nil rows
// renders the "no results" view without a table.
func Page(certHeader string, rows []Row, last int, filter string) string {
	var b strings.Builder
	b.WriteString("<html><body><div class=\"view\">")
	if len(rows) == 0 {
		b.WriteString(`<div class="view-empty">No certified individuals found.</div>`)
	} else {
		b.WriteString(`<table class="views-table"><thead><tr>`)
		b.WriteString(`<th><a href="?order=name&amp;sort=asc">Name <span>Sort descending</span></a></th>`)
		fmt.Fprintf(&b, "<th>%s</th><th>Location</th><th>Organization</th><th>Awarded</th>", certHeader)
		b.WriteString("</tr></thead><tbody>")
		for _, r := range rows {
			fmt.Fprintf(&b, "<tr><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%s</td></tr>",
				html.EscapeString(r.Name), html.EscapeString(r.Cert), html.EscapeString(r.Location),
				html.EscapeString(r.Org), html.EscapeString(r.Awarded))
		}
		b.WriteString("</tbody></table>")
	}
	if last > 0 {
		b.WriteString(`<nav class="pager"><ul class="pager__items">`)
		fmt.Fprintf(&b, `<li class="pager__item--next"><a href="?%s=All&amp;page=1">Next</a></li>`, filter)
		fmt.Fprintf(&b, `<li class="pager__item pager__item--last"><a href="?%s=All&amp;page=%d">Last</a></li>`, filter, last)
		b.WriteString("</ul></nav>")
	}
	b.WriteString("</div></body></html>")
	return b.String()
}

// Rows builds n distinct regular rows whose names start with prefix.
func Rows(prefix string, n int) []Row {
	out := make([]Row, n)
	for i := range out {
		out[i] = Row{
			Name:     fmt.Sprintf("%s %02d", prefix, i),
			Cert:     "Acquia Certified Developer - Drupal 10",
			Location: "Austin, TX, USA",
			Org:      "Acquia",
			Awarded:  "March 03, 2021",
		}
	}
	return out
}
