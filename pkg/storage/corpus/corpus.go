// Package corpus provides a storage backend for a corpus-manager REST
// service. Corpora are addressed by filename but stored server side as
// identified resources, so most operations first resolve the path to a
// corpus record through /corpus/list.
package corpus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/polystore/polystore/pkg/storage"
	"github.com/polystore/polystore/pkg/storage/fingerprint"
)

// Corpus formats accepted by the import endpoint.
const (
	FormatBitext = "text/bitext"
	FormatTMX    = "application/x-tmx+xml"
)

// Options configures a corpus backend.
type Options struct {
	// HostURL is the base URL of the corpus manager (required).
	HostURL string

	// AccountID scopes every request when set.
	AccountID string

	// RootFolder is an optional folder prefix for every path.
	RootFolder string

	// Timeout bounds each request (default 60s).
	Timeout time.Duration
}

// File is one corpus record as returned by the service.
type File struct {
	ID              string   `json:"id"`
	Filename        string   `json:"filename"`
	Format          string   `json:"format"`
	Status          string   `json:"status"`
	NbSegments      int      `json:"nbSegments,string"`
	SourceLanguage  string   `json:"sourceLanguage"`
	TargetLanguages []string `json:"targetLanguages"`
	Checksum        string   `json:"checksum"`
	CreatedAt       string   `json:"createdAt"`
	Tags            []string `json:"tags"`
}

// ModTime parses the record's creation timestamp.
func (f File) ModTime() time.Time {
	t, err := time.Parse(time.ANSIC, strings.TrimSpace(f.CreatedAt))
	if err != nil {
		return time.Time{}
	}
	return t
}

type listResponse struct {
	Directories []string `json:"directories"`
	Files       []File   `json:"files"`
}

// Backend implements storage.Backend against a corpus manager. Download
// checksums come from /corpus/details and feed the fingerprint store for
// skip detection.
type Backend struct {
	id     string
	opts   Options
	root   string
	client *http.Client
	fps    fingerprint.Store
}

// New creates a corpus backend. fps may be nil to disable checksum-based
// skip detection.
func New(storageID string, opts Options, fps fingerprint.Store) (*Backend, error) {
	if opts.HostURL == "" {
		return nil, fmt.Errorf("storage %s: host_url is required", storageID)
	}
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	root := strings.Trim(opts.RootFolder, "/")
	if root != "" {
		root = "/" + root
	}
	return &Backend{
		id:     storageID,
		opts:   opts,
		root:   root,
		client: &http.Client{Timeout: opts.Timeout},
		fps:    fps,
	}, nil
}

func (b *Backend) ID() string   { return b.id }
func (b *Backend) Type() string { return "corpus" }

func (b *Backend) InternalPath(p string) string {
	return strings.TrimPrefix(p, "/")
}

func (b *Backend) Join(p string, elem ...string) string {
	return path.Join(append([]string{p}, elem...)...)
}

func (b *Backend) Split(p string) (string, string) {
	return path.Split(p)
}

// rootedPath maps an external path to the server-side filename. Language
// alias suffixes like corpus.txt.en resolve to the corpus file itself.
func (b *Backend) rootedPath(p string) string {
	full := b.root
	if p != "" {
		full += "/" + strings.TrimPrefix(p, "/")
	}
	if full == "" {
		return "/"
	}
	if strings.HasSuffix(full, ".tmx") || strings.HasSuffix(full, ".txt") || strings.HasSuffix(full, "/") {
		return full
	}
	for _, ext := range []string{".tmx.", ".txt."} {
		if i := strings.LastIndex(full, ext); i >= 0 {
			return full[:i+len(ext)-1]
		}
	}
	return full
}

func (b *Backend) get(ctx context.Context, op, endpoint string, params url.Values) (*http.Response, error) {
	if b.opts.AccountID != "" {
		params.Set("accountId", b.opts.AccountID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		b.opts.HostURL+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", endpoint, err)
	}
	res, err := b.client.Do(req)
	if err != nil {
		return nil, storage.NewTransportError(b.id, op, 0, err)
	}
	if res.StatusCode != http.StatusOK {
		res.Body.Close()
		return nil, storage.NewHTTPTransportError(b.id, op, res.StatusCode)
	}
	return res, nil
}

func (b *Backend) getJSON(ctx context.Context, op, endpoint string, params url.Values, out any) error {
	res, err := b.get(ctx, op, endpoint, params)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

func (b *Backend) list(ctx context.Context, params url.Values) (listResponse, error) {
	var out listResponse
	err := b.getJSON(ctx, "list", "/corpus/list", params, &out)
	return out, err
}

// corpusInfo resolves a path to its corpus record.
func (b *Backend) corpusInfo(ctx context.Context, remote string) (File, error) {
	full := b.rootedPath(remote)
	out, err := b.list(ctx, url.Values{"prefix": {full}})
	if err != nil {
		return File{}, err
	}
	for _, f := range out.Files {
		if f.Filename == full {
			return f, nil
		}
	}
	return File{}, fmt.Errorf("corpus %s: %w", remote, storage.ErrNotFound)
}

// checksum fetches the file checksum from the corpus details.
func (b *Backend) checksum(ctx context.Context, corpusID string) (string, error) {
	var details struct {
		Files []struct {
			Checksum string `json:"checksum"`
		} `json:"files"`
	}
	err := b.getJSON(ctx, "stat", "/corpus/details", url.Values{"id": {corpusID}}, &details)
	if err != nil {
		return "", err
	}
	if len(details.Files) != 1 {
		return "", fmt.Errorf("corpus %s: malformed details response", corpusID)
	}
	return details.Files[0].Checksum, nil
}

func (b *Backend) export(ctx context.Context, corpusID, format string) (io.ReadCloser, error) {
	if format == "" {
		format = FormatBitext
	}
	res, err := b.get(ctx, "get", "/corpus/export", url.Values{
		"id":     {corpusID},
		"format": {format},
	})
	if err != nil {
		return nil, err
	}
	return res.Body, nil
}

// GetFileSafe exports the corpus into local through a temporary file and
// records the service checksum for skip detection.
func (b *Backend) GetFileSafe(ctx context.Context, remote, local string) error {
	info, err := b.corpusInfo(ctx, remote)
	if err != nil {
		return err
	}

	body, err := b.export(ctx, info.ID, info.Format)
	if err != nil {
		return err
	}
	defer body.Close()

	if err := storage.WriteFileSafe(local, body, info.ModTime()); err != nil {
		return err
	}

	if b.fps != nil {
		sum, err := b.checksum(ctx, info.ID)
		if err != nil {
			return nil
		}
		if fi, err := os.Stat(local); err == nil {
			_ = b.fps.Save(local, storage.Fingerprint{
				Size:     fi.Size(),
				ModTime:  fi.ModTime(),
				Checksum: sum,
			})
		}
	}
	return nil
}

// CheckExistingFile compares the recorded checksum with the current one
// from the corpus details.
func (b *Backend) CheckExistingFile(ctx context.Context, remote, local string) (bool, error) {
	if b.fps == nil {
		return false, nil
	}
	if _, err := os.Stat(local); err != nil {
		return false, nil
	}
	fp, ok, err := b.fps.Load(local)
	if err != nil || !ok || fp.Checksum == "" {
		return false, nil
	}

	info, err := b.corpusInfo(ctx, remote)
	if err != nil {
		return false, err
	}
	sum, err := b.checksum(ctx, info.ID)
	if err != nil {
		return false, err
	}
	return sum == fp.Checksum, nil
}

func (b *Backend) Stream(ctx context.Context, p string, bufferSize int) (*storage.Stream, error) {
	info, err := b.corpusInfo(ctx, p)
	if err != nil {
		return nil, err
	}
	body, err := b.export(ctx, info.ID, info.Format)
	if err != nil {
		return nil, err
	}
	return storage.NewStream(body, bufferSize), nil
}

// formatForPath maps a file extension to the corpus import format.
func formatForPath(p string) (string, error) {
	switch {
	case strings.HasSuffix(p, ".txt"):
		return FormatBitext, nil
	case strings.HasSuffix(p, ".tmx"):
		return FormatTMX, nil
	default:
		return "", fmt.Errorf("cannot push %s, only text/bitext (.txt) and TMX (.tmx) corpora are supported", p)
	}
}

// PushFile imports local as a new corpus. Pushing over an existing
// corpus is rejected.
func (b *Backend) PushFile(ctx context.Context, local, remote string) error {
	exists, err := b.fileExists(ctx, remote)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("cannot push file: %s already exists", remote)
	}

	format, err := formatForPath(local)
	if err != nil {
		return err
	}

	f, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("open %s: %w", local, err)
	}
	defer f.Close()

	importOptions, _ := json.Marshal(map[string]bool{
		"cleanFormatting":  true,
		"removeDuplicates": true,
	})

	var buf strings.Builder
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("accountId", b.opts.AccountID)
	_ = w.WriteField("format", format)
	_ = w.WriteField("importOptions", string(importOptions))
	_ = w.WriteField("filename", b.rootedPath(remote))
	part, err := w.CreateFormFile("corpus", path.Base(local))
	if err != nil {
		return fmt.Errorf("build import request: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("read %s: %w", local, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("build import request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		b.opts.HostURL+"/corpus/import", strings.NewReader(buf.String()))
	if err != nil {
		return fmt.Errorf("build import request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	res, err := b.client.Do(req)
	if err != nil {
		return storage.NewTransportError(b.id, "push", 0, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		var errBody struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(res.Body).Decode(&errBody) == nil && errBody.Error != "" {
			return fmt.Errorf("cannot import %s: %s", local, errBody.Error)
		}
		return storage.NewHTTPTransportError(b.id, "push", res.StatusCode)
	}
	return nil
}

func (b *Backend) ListDir(ctx context.Context, p string, recursive, isFile bool) (storage.Listing, error) {
	if !isFile && p != "" && !strings.HasSuffix(p, "/") {
		p += "/"
	}

	params := url.Values{}
	if recursive || isFile {
		params.Set("prefix", b.rootedPath(p))
	} else {
		params.Set("directory", b.rootedPath(p))
	}

	out, err := b.list(ctx, params)
	if err != nil {
		return nil, err
	}

	listing := storage.Listing{}
	for _, dir := range out.Directories {
		if dir != "" {
			listing[strings.TrimSuffix(dir, "/")+"/"] = storage.Entry{IsDir: true}
		}
	}

	fullPrefix := strings.TrimSuffix(b.rootedPath(p), "/")
	for _, f := range out.Files {
		rel := strings.TrimPrefix(f.Filename, fullPrefix)
		rel = strings.TrimPrefix(rel, "/")
		if rel == "" {
			rel = path.Base(f.Filename)
		}
		if recursive {
			parts := strings.Split(rel, "/")
			for i := 1; i < len(parts); i++ {
				listing[strings.Join(parts[:i], "/")+"/"] = storage.Entry{IsDir: true}
			}
		}
		listing[rel] = storage.Entry{LastModified: f.ModTime()}
	}
	return listing, nil
}

// Mkdir is a no-op; folders materialize when corpora are imported under
// them.
func (b *Backend) Mkdir(ctx context.Context, p string) error { return nil }

func (b *Backend) Delete(ctx context.Context, p string, recursive bool) error {
	isDir, err := b.IsDir(ctx, p)
	if err != nil {
		return err
	}

	if isDir {
		if !recursive {
			return fmt.Errorf("%s is a directory (use recursive delete)", p)
		}
		out, err := b.list(ctx, url.Values{"prefix": {b.rootedPath(strings.TrimSuffix(p, "/") + "/")}})
		if err != nil {
			return err
		}
		for _, f := range out.Files {
			if err := b.DeleteCorpus(ctx, f.ID); err != nil {
				return err
			}
		}
		return nil
	}

	info, err := b.corpusInfo(ctx, p)
	if err != nil {
		return err
	}
	return b.DeleteCorpus(ctx, info.ID)
}

// DeleteCorpus removes a corpus by its identifier.
func (b *Backend) DeleteCorpus(ctx context.Context, corpusID string) error {
	res, err := b.get(ctx, "delete", "/corpus/delete", url.Values{"id": {corpusID}})
	if err != nil {
		return err
	}
	res.Body.Close()
	return nil
}

func (b *Backend) Rename(ctx context.Context, oldPath, newPath string) error {
	return fmt.Errorf("storage %s: rename: %w", b.id, storage.ErrNotSupported)
}

func (b *Backend) fileExists(ctx context.Context, p string) (bool, error) {
	res, err := b.get(ctx, "exists", "/corpus/exists", url.Values{"filename": {b.rootedPath(p)}})
	if err != nil {
		return false, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return false, fmt.Errorf("read exists response: %w", err)
	}
	return strings.Contains(string(body), "true"), nil
}

func (b *Backend) Exists(ctx context.Context, p string) (bool, error) {
	isDir, err := b.IsDir(ctx, p)
	if err != nil {
		return false, err
	}
	if isDir {
		return true, nil
	}
	return b.fileExists(ctx, p)
}

// IsDir checks that the final path component shows up in its parent's
// directory listing. The root is always a directory.
func (b *Backend) IsDir(ctx context.Context, p string) (bool, error) {
	full := strings.Trim(b.rootedPath(p), "/")
	if full == "" {
		return true, nil
	}

	components := strings.Split(full, "/")
	parent := "/" + strings.Join(components[:len(components)-1], "/")

	out, err := b.list(ctx, url.Values{"directory": {parent}})
	if err != nil {
		return false, err
	}
	for _, dir := range out.Directories {
		if strings.Trim(dir, "/") == components[len(components)-1] {
			return true, nil
		}
	}
	return false, nil
}

func (b *Backend) Stat(ctx context.Context, p string) (storage.Stat, error) {
	isDir, err := b.IsDir(ctx, p)
	if err != nil {
		return storage.Stat{}, err
	}
	if isDir {
		return storage.Stat{IsDir: true}, nil
	}

	info, err := b.corpusInfo(ctx, p)
	if err != nil {
		return storage.Stat{}, err
	}
	sum, _ := b.checksum(ctx, info.ID)
	return storage.Stat{LastModified: info.ModTime(), Checksum: sum}, nil
}

func (b *Backend) Close() error { return nil }
