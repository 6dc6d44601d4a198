package corpus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/polystore/polystore/pkg/storage"
	"github.com/polystore/polystore/pkg/storage/fingerprint"
)

// fakeCorpus is one record held by the fake corpus manager.
type fakeCorpus struct {
	file     File
	content  string
	segments []Segment
}

// fakeService emulates the corpus-manager REST surface the backend
// talks to.
type fakeService struct {
	nextID  int
	corpora map[string]*fakeCorpus
}

func newFakeService() *fakeService {
	return &fakeService{corpora: map[string]*fakeCorpus{}}
}

func (s *fakeService) add(filename, content, checksum string) *fakeCorpus {
	s.nextID++
	id := fmt.Sprintf("c%03d", s.nextID)
	c := &fakeCorpus{
		file: File{
			ID:        id,
			Filename:  filename,
			Format:    FormatBitext,
			Checksum:  checksum,
			CreatedAt: "Mon Jan  2 15:04:05 2023",
		},
		content: content,
	}
	if strings.HasSuffix(filename, ".tmx") {
		c.file.Format = FormatTMX
	}
	s.corpora[id] = c
	return c
}

func (s *fakeService) byFilename(filename string) *fakeCorpus {
	for _, c := range s.corpora {
		if c.file.Filename == filename {
			return c
		}
	}
	return nil
}

func (s *fakeService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/corpus/list", s.handleList)
	mux.HandleFunc("/corpus/details", s.handleDetails)
	mux.HandleFunc("/corpus/export", s.handleExport)
	mux.HandleFunc("/corpus/exists", s.handleExists)
	mux.HandleFunc("/corpus/import", s.handleImport)
	mux.HandleFunc("/corpus/delete", s.handleDelete)
	mux.HandleFunc("/corpus/segment/list", s.handleSegmentList)
	mux.HandleFunc("/corpus/segment/add", s.handleSegmentAdd)
	mux.HandleFunc("/corpus/segment/delete", s.handleSegmentDelete)
	mux.HandleFunc("/corpus/segment/modify", s.handleSegmentModify)
	mux.HandleFunc("/corpus/tags/", s.handleTags)
	return mux
}

func (s *fakeService) handleList(w http.ResponseWriter, r *http.Request) {
	var out listResponse
	out.Directories = []string{}
	out.Files = []File{}

	if prefix := r.URL.Query().Get("prefix"); prefix != "" {
		for _, c := range s.corpora {
			if strings.HasPrefix(c.file.Filename, prefix) {
				out.Files = append(out.Files, c.file)
			}
		}
	} else if dir := r.URL.Query().Get("directory"); dir != "" {
		clean := strings.TrimSuffix(dir, "/")
		if clean == "" {
			clean = "/"
		}
		seen := map[string]bool{}
		for _, c := range s.corpora {
			parent := path.Dir(c.file.Filename)
			if parent == clean {
				out.Files = append(out.Files, c.file)
				continue
			}
			if strings.HasPrefix(parent, clean) {
				rest := strings.TrimPrefix(strings.TrimPrefix(c.file.Filename, clean), "/")
				child := strings.SplitN(rest, "/", 2)[0]
				if child != "" && !seen[child] {
					seen[child] = true
					out.Directories = append(out.Directories, child)
				}
			}
		}
	}
	json.NewEncoder(w).Encode(out)
}

func (s *fakeService) handleDetails(w http.ResponseWriter, r *http.Request) {
	c, ok := s.corpora[r.URL.Query().Get("id")]
	if !ok {
		http.Error(w, "unknown corpus", http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(map[string][]File{"files": {c.file}})
}

func (s *fakeService) handleExport(w http.ResponseWriter, r *http.Request) {
	c, ok := s.corpora[r.URL.Query().Get("id")]
	if !ok {
		http.Error(w, "unknown corpus", http.StatusNotFound)
		return
	}
	w.Write([]byte(c.content))
}

func (s *fakeService) handleExists(w http.ResponseWriter, r *http.Request) {
	if s.byFilename(r.URL.Query().Get("filename")) != nil {
		w.Write([]byte(`{"exists": true}`))
		return
	}
	w.Write([]byte(`{"exists": false}`))
}

func (s *fakeService) handleImport(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	filename := r.FormValue("filename")
	if filename == "" || r.FormValue("format") == "" {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "missing filename or format"})
		return
	}
	f, _, err := r.FormFile("corpus")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.add(filename, string(content), "sum-"+filename)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *fakeService) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if _, ok := s.corpora[id]; !ok {
		http.Error(w, "unknown corpus", http.StatusNotFound)
		return
	}
	delete(s.corpora, id)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *fakeService) handleSegmentList(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	var matched []Segment
	for _, id := range r.PostForm["id"] {
		c, ok := s.corpora[id]
		if !ok {
			continue
		}
		var srcQuery string
		if q := r.PostForm.Get("query"); q != "" {
			var parsed struct {
				Search struct {
					SrcQuery string `json:"srcQuery"`
				} `json:"search"`
			}
			json.Unmarshal([]byte(q), &parsed)
			srcQuery = parsed.Search.SrcQuery
		}
		for _, seg := range c.segments {
			if srcQuery == "" || strings.Contains(seg.Source, srcQuery) {
				matched = append(matched, seg)
			}
		}
	}
	total := len(matched)
	skip, _ := strconv.Atoi(r.PostForm.Get("skip"))
	limit, _ := strconv.Atoi(r.PostForm.Get("limit"))
	if skip > len(matched) {
		skip = len(matched)
	}
	matched = matched[skip:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	json.NewEncoder(w).Encode(map[string]any{"segments": matched, "total": total})
}

func (s *fakeService) handleSegmentAdd(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ID       string    `json:"id"`
		Segments []Segment `json:"segments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c, ok := s.corpora[payload.ID]
	if !ok {
		http.Error(w, "unknown corpus", http.StatusNotFound)
		return
	}
	for i, seg := range payload.Segments {
		seg.ID = fmt.Sprintf("%s-s%d", payload.ID, len(c.segments)+i+1)
		c.segments = append(c.segments, seg)
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *fakeService) handleSegmentDelete(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	c, ok := s.corpora[r.PostForm.Get("id")]
	if !ok {
		http.Error(w, "unknown corpus", http.StatusNotFound)
		return
	}
	segID := r.PostForm.Get("segId")
	deleted := 0
	kept := c.segments[:0]
	for _, seg := range c.segments {
		if seg.ID == segID {
			deleted++
			continue
		}
		kept = append(kept, seg)
	}
	c.segments = kept
	json.NewEncoder(w).Encode(map[string]int{"segmentDeleted": deleted})
}

func (s *fakeService) handleSegmentModify(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	c, ok := s.corpora[r.PostForm.Get("id")]
	if !ok {
		http.Error(w, "unknown corpus", http.StatusNotFound)
		return
	}
	segID := r.PostForm.Get("segId")
	for i := range c.segments {
		if c.segments[i].ID == segID {
			c.segments[i].Source = r.PostForm.Get("srcSeg")
			json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
			return
		}
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "unknown segment"})
}

func (s *fakeService) handleTags(w http.ResponseWriter, r *http.Request) {
	tag := strings.TrimPrefix(r.URL.Path, "/corpus/tags/")
	// ParseForm skips the body on DELETE, so read it by hand.
	body, _ := io.ReadAll(r.Body)
	form, _ := url.ParseQuery(string(body))
	c, ok := s.corpora[form.Get("id")]
	if !ok {
		http.Error(w, "unknown corpus", http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodPost:
		c.file.Tags = append(c.file.Tags, tag)
	case http.MethodDelete:
		kept := c.file.Tags[:0]
		for _, t := range c.file.Tags {
			if t != tag {
				kept = append(kept, t)
			}
		}
		c.file.Tags = kept
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func newTestBackend(t *testing.T) (*Backend, *fakeService) {
	t.Helper()
	svc := newFakeService()
	server := httptest.NewServer(svc.handler())
	t.Cleanup(server.Close)

	b, err := New("cm", Options{HostURL: server.URL, AccountID: "acct"}, fingerprint.NewSidecarStore())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b, svc
}

func TestRootedPath(t *testing.T) {
	b, err := New("cm", Options{HostURL: "http://example", RootFolder: "team"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		in, want string
	}{
		{"", "/team"},
		{"en-fr.txt", "/team/en-fr.txt"},
		{"/sub/mem.tmx", "/team/sub/mem.tmx"},
		{"sub/", "/team/sub/"},
		{"en-fr.txt.en", "/team/en-fr.txt"},
		{"mem.tmx.fr", "/team/mem.tmx"},
	}
	for _, tt := range tests {
		if got := b.rootedPath(tt.in); got != tt.want {
			t.Errorf("rootedPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatForPath(t *testing.T) {
	if f, err := formatForPath("a/b.txt"); err != nil || f != FormatBitext {
		t.Errorf("formatForPath(.txt) = %q, %v", f, err)
	}
	if f, err := formatForPath("a/b.tmx"); err != nil || f != FormatTMX {
		t.Errorf("formatForPath(.tmx) = %q, %v", f, err)
	}
	if _, err := formatForPath("a/b.pdf"); err == nil {
		t.Error("formatForPath accepted .pdf")
	}
}

func TestFileModTime(t *testing.T) {
	f := File{CreatedAt: "Mon Jan  2 15:04:05 2023"}
	if f.ModTime().IsZero() {
		t.Error("ModTime failed to parse a valid timestamp")
	}
	if got := f.ModTime().Year(); got != 2023 {
		t.Errorf("ModTime year = %d", got)
	}
	if !(File{CreatedAt: "garbage"}).ModTime().IsZero() {
		t.Error("ModTime parsed garbage")
	}
}

func TestCorpusGetAndSkip(t *testing.T) {
	b, svc := newTestBackend(t)
	svc.add("/en-fr.txt", "hello\tbonjour\n", "sum1")

	ctx := context.Background()
	local := filepath.Join(t.TempDir(), "en-fr.txt")

	if err := b.GetFileSafe(ctx, "en-fr.txt", local); err != nil {
		t.Fatalf("GetFileSafe: %v", err)
	}
	data, err := os.ReadFile(local)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello\tbonjour\n" {
		t.Errorf("downloaded %q", data)
	}

	fresh, err := b.CheckExistingFile(ctx, "en-fr.txt", local)
	if err != nil {
		t.Fatalf("CheckExistingFile: %v", err)
	}
	if !fresh {
		t.Error("fresh download reported as stale")
	}

	// The corpus changed server side: the recorded checksum no longer
	// matches.
	svc.byFilename("/en-fr.txt").file.Checksum = "sum2"
	fresh, err = b.CheckExistingFile(ctx, "en-fr.txt", local)
	if err != nil {
		t.Fatalf("CheckExistingFile after change: %v", err)
	}
	if fresh {
		t.Error("changed corpus still reported fresh")
	}
}

func TestCorpusGetMissing(t *testing.T) {
	b, _ := newTestBackend(t)
	err := b.GetFileSafe(context.Background(), "absent.txt", filepath.Join(t.TempDir(), "out"))
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetFileSafe = %v, want ErrNotFound", err)
	}
}

func TestCorpusAliasSuffixResolves(t *testing.T) {
	b, svc := newTestBackend(t)
	svc.add("/en-fr.txt", "hello\tbonjour\n", "sum1")

	local := filepath.Join(t.TempDir(), "en-fr.txt.en")
	if err := b.GetFileSafe(context.Background(), "en-fr.txt.en", local); err != nil {
		t.Fatalf("GetFileSafe via alias: %v", err)
	}
}

func TestCorpusPush(t *testing.T) {
	b, svc := newTestBackend(t)
	ctx := context.Background()

	local := filepath.Join(t.TempDir(), "new.txt")
	if err := os.WriteFile(local, []byte("src\ttgt\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := b.PushFile(ctx, local, "new.txt"); err != nil {
		t.Fatalf("PushFile: %v", err)
	}
	c := svc.byFilename("/new.txt")
	if c == nil {
		t.Fatal("push did not create the corpus")
	}
	if c.content != "src\ttgt\n" {
		t.Errorf("imported content %q", c.content)
	}
	if c.file.Format != FormatBitext {
		t.Errorf("imported format %q", c.file.Format)
	}

	// A second push over the same path is rejected.
	if err := b.PushFile(ctx, local, "new.txt"); err == nil {
		t.Error("push over an existing corpus succeeded")
	}
}

func TestCorpusPushRejectsUnknownExtension(t *testing.T) {
	b, _ := newTestBackend(t)
	local := filepath.Join(t.TempDir(), "corpus.pdf")
	if err := os.WriteFile(local, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := b.PushFile(context.Background(), local, "corpus.pdf"); err == nil {
		t.Error("push accepted an unsupported extension")
	}
}

func TestCorpusListDir(t *testing.T) {
	b, svc := newTestBackend(t)
	svc.add("/en-fr.txt", "a", "s1")
	svc.add("/memories/big.tmx", "b", "s2")
	svc.add("/memories/deep/old.tmx", "c", "s3")

	ctx := context.Background()

	listing, err := b.ListDir(ctx, "", false, false)
	if err != nil {
		t.Fatalf("ListDir: %v", err)
	}
	if _, ok := listing["en-fr.txt"]; !ok {
		t.Errorf("en-fr.txt missing from root listing: %v", listing)
	}
	if e, ok := listing["memories/"]; !ok || !e.IsDir {
		t.Errorf("memories/ missing from root listing: %v", listing)
	}
	if _, ok := listing["memories/big.tmx"]; ok {
		t.Error("non-recursive listing descended into memories/")
	}

	listing, err = b.ListDir(ctx, "memories", true, false)
	if err != nil {
		t.Fatalf("ListDir recursive: %v", err)
	}
	if _, ok := listing["big.tmx"]; !ok {
		t.Errorf("big.tmx missing from recursive listing: %v", listing)
	}
	if _, ok := listing["deep/old.tmx"]; !ok {
		t.Errorf("deep/old.tmx missing from recursive listing: %v", listing)
	}
	if e, ok := listing["deep/"]; !ok || !e.IsDir {
		t.Errorf("deep/ not synthesized in recursive listing: %v", listing)
	}
}

func TestCorpusIsDirAndExists(t *testing.T) {
	b, svc := newTestBackend(t)
	svc.add("/memories/big.tmx", "b", "s2")

	ctx := context.Background()

	isDir, err := b.IsDir(ctx, "")
	if err != nil || !isDir {
		t.Errorf("IsDir(root) = %v, %v", isDir, err)
	}
	isDir, err = b.IsDir(ctx, "memories")
	if err != nil || !isDir {
		t.Errorf("IsDir(memories) = %v, %v", isDir, err)
	}
	isDir, err = b.IsDir(ctx, "memories/big.tmx")
	if err != nil || isDir {
		t.Errorf("IsDir(memories/big.tmx) = %v, %v", isDir, err)
	}

	ok, err := b.Exists(ctx, "memories/big.tmx")
	if err != nil || !ok {
		t.Errorf("Exists(memories/big.tmx) = %v, %v", ok, err)
	}
	ok, err = b.Exists(ctx, "memories/absent.tmx")
	if err != nil || ok {
		t.Errorf("Exists(memories/absent.tmx) = %v, %v", ok, err)
	}
}

func TestCorpusStat(t *testing.T) {
	b, svc := newTestBackend(t)
	svc.add("/en-fr.txt", "a", "sum1")

	ctx := context.Background()

	stat, err := b.Stat(ctx, "en-fr.txt")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if stat.IsDir {
		t.Error("file reported as directory")
	}
	if stat.Checksum != "sum1" {
		t.Errorf("Stat checksum = %q", stat.Checksum)
	}
	if stat.LastModified.IsZero() {
		t.Error("Stat dropped the creation time")
	}

	if _, err := b.Stat(ctx, "absent.txt"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Stat(absent) = %v, want ErrNotFound", err)
	}
}

func TestCorpusDelete(t *testing.T) {
	b, svc := newTestBackend(t)
	svc.add("/en-fr.txt", "a", "s1")
	svc.add("/memories/big.tmx", "b", "s2")
	svc.add("/memories/deep/old.tmx", "c", "s3")

	ctx := context.Background()

	if err := b.Delete(ctx, "memories", false); err == nil {
		t.Error("directory delete without recursive succeeded")
	}

	if err := b.Delete(ctx, "memories", true); err != nil {
		t.Fatalf("recursive delete: %v", err)
	}
	if svc.byFilename("/memories/big.tmx") != nil || svc.byFilename("/memories/deep/old.tmx") != nil {
		t.Error("recursive delete left corpora behind")
	}
	if svc.byFilename("/en-fr.txt") == nil {
		t.Error("recursive delete removed an unrelated corpus")
	}

	if err := b.Delete(ctx, "en-fr.txt", false); err != nil {
		t.Fatalf("file delete: %v", err)
	}
	if len(svc.corpora) != 0 {
		t.Errorf("%d corpora left after deletes", len(svc.corpora))
	}

	if err := b.Delete(ctx, "en-fr.txt", false); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("delete of absent corpus = %v, want ErrNotFound", err)
	}
}

func TestCorpusRenameNotSupported(t *testing.T) {
	b, _ := newTestBackend(t)
	if err := b.Rename(context.Background(), "a", "b"); !errors.Is(err, storage.ErrNotSupported) {
		t.Errorf("Rename = %v, want ErrNotSupported", err)
	}
}

func TestSegmentLifecycle(t *testing.T) {
	b, svc := newTestBackend(t)
	c := svc.add("/en-fr.txt", "a", "s1")
	ctx := context.Background()

	err := b.AddSegments(ctx, c.file.ID, []Segment{
		{Source: "hello", Targets: []Target{{Segment: "bonjour", Language: "fr"}}},
		{Source: "world", Targets: []Target{{Segment: "monde", Language: "fr"}}},
		{Source: "hello again", Targets: []Target{{Segment: "rebonjour", Language: "fr"}}},
	})
	if err != nil {
		t.Fatalf("AddSegments: %v", err)
	}

	segments, total, err := b.SearchSegments(ctx, []string{c.file.ID}, nil, 0, 10)
	if err != nil {
		t.Fatalf("SearchSegments: %v", err)
	}
	if total != 3 || len(segments) != 3 {
		t.Fatalf("SearchSegments returned %d/%d segments", len(segments), total)
	}

	segments, total, err = b.SearchSegments(ctx, []string{c.file.ID},
		&SegmentQuery{SourceKeyword: "hello"}, 0, 10)
	if err != nil {
		t.Fatalf("SearchSegments with query: %v", err)
	}
	if total != 2 {
		t.Errorf("query matched %d segments, want 2", total)
	}

	segments, _, err = b.SearchSegments(ctx, []string{c.file.ID}, nil, 1, 1)
	if err != nil {
		t.Fatalf("SearchSegments with paging: %v", err)
	}
	if len(segments) != 1 {
		t.Errorf("paged search returned %d segments, want 1", len(segments))
	}

	segID := c.segments[0].ID
	if err := b.ModifySegment(ctx, c.file.ID, segID, "", "hi", "salut"); err != nil {
		t.Fatalf("ModifySegment: %v", err)
	}
	if c.segments[0].Source != "hi" {
		t.Errorf("segment source after modify = %q", c.segments[0].Source)
	}

	deleted, err := b.DeleteSegments(ctx, c.file.ID, []string{segID})
	if err != nil {
		t.Fatalf("DeleteSegments: %v", err)
	}
	if deleted != 1 {
		t.Errorf("DeleteSegments reported %d deletions", deleted)
	}
	if len(c.segments) != 2 {
		t.Errorf("%d segments left, want 2", len(c.segments))
	}
}

func TestCorpusTags(t *testing.T) {
	b, svc := newTestBackend(t)
	c := svc.add("/en-fr.txt", "a", "s1")
	ctx := context.Background()

	if err := b.AddTag(ctx, c.file.ID, "reviewed"); err != nil {
		t.Fatalf("AddTag: %v", err)
	}
	if len(c.file.Tags) != 1 || c.file.Tags[0] != "reviewed" {
		t.Errorf("tags after add: %v", c.file.Tags)
	}

	if err := b.RemoveTag(ctx, c.file.ID, "reviewed"); err != nil {
		t.Fatalf("RemoveTag: %v", err)
	}
	if len(c.file.Tags) != 0 {
		t.Errorf("tags after remove: %v", c.file.Tags)
	}
}

func TestCorpusDetail(t *testing.T) {
	b, svc := newTestBackend(t)
	c := svc.add("/en-fr.txt", "a", "sum1")

	files, err := b.Detail(context.Background(), c.file.ID)
	if err != nil {
		t.Fatalf("Detail: %v", err)
	}
	if len(files) != 1 || files[0].Checksum != "sum1" {
		t.Errorf("Detail returned %+v", files)
	}
}
