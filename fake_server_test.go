package sharepoint

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/contentops/sharepoint-go/rest"
)

var (
	reListPath   = regexp.MustCompile(`^/_api/web/lists/getbytitle\('([^']*)'\)(.*)$`)
	reItemPath   = regexp.MustCompile(`^/items\((\d+)\)(.*)$`)
	reFolderPath = regexp.MustCompile(`^/_api/web/GetFolderByServerRelativeUrl\('([^']*)'\)(.*)$`)
	reFilePath   = regexp.MustCompile(`^/_api/web/GetFileByServerRelativeUrl\('([^']*)'\)$`)
	reFileAdd    = regexp.MustCompile(`^/Files/add\(url='([^']*)',overwrite=true\)$`)
	reAttachAdd  = regexp.MustCompile(`^/AttachmentFiles/add\(FileName='([^']*)'\)$`)
)

// fakeList holds a list's items in insertion order. Every item carries its
// "Id" property.
type fakeList struct {
	nextID int
	items  []map[string]any
}

// fakeSite is an in-memory stand-in for a SharePoint site, covering the REST
// surface the package talks to. It records every request (with tunneled
// methods resolved) so tests can assert call counts and ordering.
type fakeSite struct {
	t *testing.T

	mu          sync.Mutex
	webTitle    string
	lists       map[string]*fakeList
	folders     map[string]bool
	files       map[string]map[string][]byte
	attachments map[string][]map[string]string
	users       []map[string]any
	log         []string
}

func newFakeSite(t *testing.T) *fakeSite {
	t.Helper()

	return &fakeSite{
		t:           t,
		webTitle:    "Ops Site",
		lists:       map[string]*fakeList{},
		folders:     map[string]bool{},
		files:       map[string]map[string][]byte{},
		attachments: map[string][]map[string]string{},
	}
}

func (s *fakeSite) addList(title string) *fakeList {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := &fakeList{nextID: 1}
	s.lists[title] = l

	return l
}

func (s *fakeSite) addItem(title string, fields map[string]any) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.lists[title]
	if l == nil {
		s.t.Fatalf("addItem: list %q does not exist", title)
	}

	item := map[string]any{}
	for k, v := range fields {
		item[k] = v
	}

	id := l.nextID
	l.nextID++
	item["Id"] = float64(id)
	l.items = append(l.items, item)

	return id
}

func (s *fakeSite) addFolder(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.folders[path] = true
}

func (s *fakeSite) addFile(folderPath, name string, content []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.files[folderPath] == nil {
		s.files[folderPath] = map[string][]byte{}
	}

	s.files[folderPath][name] = content
}

func (s *fakeSite) addUser(id int, title, email, principalName string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users = append(s.users, map[string]any{
		"Id":                id,
		"Title":             title,
		"Email":             email,
		"UserPrincipalName": principalName,
	})
}

// fileContent returns the stored bytes for folderPath/name, or nil.
func (s *fakeSite) fileContent(folderPath, name string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.files[folderPath][name]
}

func (s *fakeSite) hasFolder(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.folders[path]
}

// requestCount counts logged requests matching "METHOD path" exactly.
func (s *fakeSite) requestCount(entry string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int

	for _, e := range s.log {
		if e == entry {
			n++
		}
	}

	return n
}

// requestLog returns a copy of the recorded requests in order.
func (s *fakeSite) requestLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.log...)
}

func (s *fakeSite) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := r.Method
	if tunneled := r.Header.Get("X-HTTP-Method"); tunneled != "" {
		method = tunneled
	}

	path := r.URL.Path

	s.mu.Lock()
	s.log = append(s.log, method+" "+path)
	s.mu.Unlock()

	switch {
	case path == "/_api/contextinfo":
		writeJSON(w, http.StatusOK, map[string]any{
			"FormDigestValue":          "0xFAKEDIGEST",
			"FormDigestTimeoutSeconds": 1800,
		})
	case path == "/_api/web":
		s.mu.Lock()
		title := s.webTitle
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{
			"Title":             title,
			"ServerRelativeUrl": "/sites/ops",
		})
	case path == "/_api/web/siteusers":
		s.mu.Lock()
		users := append([]map[string]any(nil), s.users...)
		s.mu.Unlock()
		writeCollection(w, users)
	case path == "/_api/web/lists" && method == http.MethodPost:
		s.handleCreateList(w, r)
	case path == "/_api/web/folders" && method == http.MethodPost:
		s.handleCreateFolder(w, r)
	case reListPath.MatchString(path):
		m := reListPath.FindStringSubmatch(path)
		s.handleList(w, r, method, m[1], m[2])
	case reFolderPath.MatchString(path):
		m := reFolderPath.FindStringSubmatch(path)
		s.handleFolder(w, r, method, m[1], m[2])
	case reFilePath.MatchString(path):
		m := reFilePath.FindStringSubmatch(path)
		s.handleFileDelete(w, method, m[1])
	default:
		writeNotFound(w, fmt.Sprintf("no handler for %s %s", method, path))
	}
}

func (s *fakeSite) handleCreateList(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"Title"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" {
		writeJSON(w, http.StatusBadRequest, odataErr("invalid create list payload"))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.lists[req.Title]; exists {
		writeJSON(w, http.StatusConflict, odataErr("list already exists"))
		return
	}

	s.lists[req.Title] = &fakeList{nextID: 1}
	writeJSON(w, http.StatusCreated, map[string]any{"Title": req.Title})
}

func (s *fakeSite) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ServerRelativeURL string `json:"ServerRelativeUrl"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ServerRelativeURL == "" {
		writeJSON(w, http.StatusBadRequest, odataErr("invalid create folder payload"))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.folders[req.ServerRelativeURL] = true
	writeJSON(w, http.StatusCreated, map[string]any{
		"Name":              lastPathSegment(req.ServerRelativeURL),
		"ServerRelativeUrl": req.ServerRelativeURL,
	})
}

func (s *fakeSite) handleList(w http.ResponseWriter, r *http.Request, method, title, tail string) {
	s.mu.Lock()
	list := s.lists[title]
	s.mu.Unlock()

	if list == nil {
		writeNotFound(w, fmt.Sprintf("list %q does not exist", title))
		return
	}

	switch {
	case tail == "" && method == http.MethodGet:
		s.mu.Lock()
		count := len(list.items)
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{
			"Id":          "guid-" + title,
			"Title":       title,
			"Description": "",
			"ItemCount":   count,
		})
	case tail == "/items" && method == http.MethodGet:
		s.mu.Lock()
		items := append([]map[string]any(nil), list.items...)
		s.mu.Unlock()
		writeCollection(w, items)
	case tail == "/items" && method == http.MethodPost:
		s.handleCreateItem(w, r, list)
	case reItemPath.MatchString(tail):
		m := reItemPath.FindStringSubmatch(tail)
		id, _ := strconv.Atoi(m[1])
		s.handleItem(w, r, method, title, list, id, m[2])
	default:
		writeNotFound(w, fmt.Sprintf("no handler for list path %q", tail))
	}
}

func (s *fakeSite) handleCreateItem(w http.ResponseWriter, r *http.Request, list *fakeList) {
	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeJSON(w, http.StatusBadRequest, odataErr("invalid item payload"))
		return
	}

	s.mu.Lock()
	id := list.nextID
	list.nextID++
	fields["Id"] = float64(id)
	list.items = append(list.items, fields)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, fields)
}

func (s *fakeSite) handleItem(
	w http.ResponseWriter, r *http.Request, method, title string, list *fakeList, id int, tail string,
) {
	s.mu.Lock()
	idx := -1

	for i, item := range list.items {
		if int(item["Id"].(float64)) == id {
			idx = i
			break
		}
	}
	s.mu.Unlock()

	if idx < 0 {
		writeNotFound(w, fmt.Sprintf("item %d does not exist", id))
		return
	}

	attachKey := title + "/" + strconv.Itoa(id)

	switch {
	case tail == "" && method == "MERGE":
		var fields map[string]any
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			writeJSON(w, http.StatusBadRequest, odataErr("invalid merge payload"))
			return
		}

		s.mu.Lock()
		for k, v := range fields {
			list.items[idx][k] = v
		}
		s.mu.Unlock()

		w.WriteHeader(http.StatusNoContent)
	case tail == "" && method == "DELETE":
		s.mu.Lock()
		list.items = append(list.items[:idx], list.items[idx+1:]...)
		s.mu.Unlock()

		w.WriteHeader(http.StatusOK)
	case tail == "/AttachmentFiles" && method == http.MethodGet:
		s.mu.Lock()
		attachments := make([]map[string]any, 0, len(s.attachments[attachKey]))

		for _, a := range s.attachments[attachKey] {
			attachments = append(attachments, map[string]any{
				"FileName":          a["FileName"],
				"ServerRelativeUrl": a["ServerRelativeUrl"],
			})
		}
		s.mu.Unlock()

		writeCollection(w, attachments)
	case reAttachAdd.MatchString(tail) && method == http.MethodPost:
		name := reAttachAdd.FindStringSubmatch(tail)[1]

		content, err := io.ReadAll(r.Body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, odataErr("unreadable attachment body"))
			return
		}

		s.mu.Lock()
		s.attachments[attachKey] = append(s.attachments[attachKey], map[string]string{
			"FileName":          name,
			"ServerRelativeUrl": "/sites/ops/Lists/" + title + "/Attachments/" + strconv.Itoa(id) + "/" + name,
			"Content":           string(content),
		})
		s.mu.Unlock()

		writeJSON(w, http.StatusCreated, map[string]any{"FileName": name})
	default:
		writeNotFound(w, fmt.Sprintf("no handler for item path %q", tail))
	}
}

func (s *fakeSite) handleFolder(w http.ResponseWriter, r *http.Request, method, path, tail string) {
	s.mu.Lock()
	exists := s.folders[path]
	s.mu.Unlock()

	if !exists {
		writeNotFound(w, fmt.Sprintf("folder %q does not exist", path))
		return
	}

	switch {
	case tail == "" && method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"Name":              lastPathSegment(path),
			"ServerRelativeUrl": path,
			"ItemCount":         0,
		})
	case tail == "" && method == "DELETE":
		s.deleteFolder(w, path)
	case tail == "/Folders" && method == http.MethodGet:
		writeCollection(w, s.subfolders(path))
	case tail == "/Files" && method == http.MethodGet:
		writeCollection(w, s.folderFiles(path))
	case reFileAdd.MatchString(tail) && method == http.MethodPost:
		name := reFileAdd.FindStringSubmatch(tail)[1]

		content, err := io.ReadAll(r.Body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, odataErr("unreadable file body"))
			return
		}

		s.mu.Lock()
		if s.files[path] == nil {
			s.files[path] = map[string][]byte{}
		}

		s.files[path][name] = content
		s.mu.Unlock()

		writeJSON(w, http.StatusCreated, map[string]any{
			"Name":              name,
			"ServerRelativeUrl": path + "/" + name,
		})
	default:
		writeNotFound(w, fmt.Sprintf("no handler for folder path %q", tail))
	}
}

// deleteFolder removes an empty folder. Deleting a folder that still has
// files or subfolders is a conflict, which is how depth-first ordering gets
// verified.
func (s *fakeSite) deleteFolder(w http.ResponseWriter, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.files[path]) > 0 {
		writeJSON(w, http.StatusConflict, odataErr("folder still contains files"))
		return
	}

	prefix := path + "/"
	for p := range s.folders {
		if strings.HasPrefix(p, prefix) {
			writeJSON(w, http.StatusConflict, odataErr("folder still contains subfolders"))
			return
		}
	}

	delete(s.folders, path)
	delete(s.files, path)
	w.WriteHeader(http.StatusOK)
}

func (s *fakeSite) handleFileDelete(w http.ResponseWriter, method, path string) {
	if method != "DELETE" {
		writeNotFound(w, fmt.Sprintf("no handler for %s on file %q", method, path))
		return
	}

	idx := strings.LastIndex(path, "/")
	folderPath, name := path[:idx], path[idx+1:]

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[folderPath][name]; !ok {
		writeNotFound(w, fmt.Sprintf("file %q does not exist", path))
		return
	}

	delete(s.files[folderPath], name)
	w.WriteHeader(http.StatusOK)
}

// subfolders returns the direct child folders of path.
func (s *fakeSite) subfolders(path string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := path + "/"

	var out []map[string]any

	for p := range s.folders {
		if !strings.HasPrefix(p, prefix) {
			continue
		}

		if strings.Contains(p[len(prefix):], "/") {
			continue
		}

		out = append(out, map[string]any{
			"Name":              p[len(prefix):],
			"ServerRelativeUrl": p,
			"ItemCount":         0,
		})
	}

	return out
}

func (s *fakeSite) folderFiles(path string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []map[string]any

	for name, content := range s.files[path] {
		out = append(out, map[string]any{
			"Name":              name,
			"ServerRelativeUrl": path + "/" + name,
			"Length":            len(content),
		})
	}

	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json;odata=nometadata")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeCollection(w http.ResponseWriter, items []map[string]any) {
	if items == nil {
		items = []map[string]any{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"value": items})
}

func odataErr(msg string) map[string]any {
	return map[string]any{
		"odata.error": map[string]any{
			"code":    "-1",
			"message": map[string]any{"value": msg},
		},
	}
}

func writeNotFound(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusNotFound, odataErr(msg))
}

// newTestContext spins up a fake site and a ClientContext talking to it.
func newTestContext(t *testing.T) (*fakeSite, *ClientContext) {
	t.Helper()

	site := newFakeSite(t)
	srv := httptest.NewServer(site)
	t.Cleanup(srv.Close)

	rc := rest.NewClient(srv.URL, nil, rest.BearerAuth("test-token"), slog.Default())

	return site, NewWithClient(rc)
}

// newTestManager spins up a fake site and a Manager over it.
func newTestManager(t *testing.T) (*fakeSite, *Manager) {
	t.Helper()

	site, cc := newTestContext(t)

	return site, NewManagerWithContext(cc)
}
