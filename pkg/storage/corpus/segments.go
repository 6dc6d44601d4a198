package corpus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/polystore/polystore/pkg/storage"
)

// Segment is one translation unit inside a corpus.
type Segment struct {
	ID      string   `json:"id,omitempty"`
	Source  string   `json:"seg"`
	Targets []Target `json:"tgts,omitempty"`
}

// Target is one target-language rendering of a segment.
type Target struct {
	ID       string `json:"id,omitempty"`
	Segment  string `json:"seg"`
	Language string `json:"lang,omitempty"`
}

// SegmentQuery narrows a segment search.
type SegmentQuery struct {
	SourceKeyword string
	SourceIsRegex bool
	TargetKeyword string
	TargetIsRegex bool
	SourceLang    string
	TargetLang    string
}

func (b *Backend) postForm(ctx context.Context, op, endpoint string, form url.Values, out any) error {
	if b.opts.AccountID != "" {
		form.Set("accountId", b.opts.AccountID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		b.opts.HostURL+endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request for %s: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := b.client.Do(req)
	if err != nil {
		return storage.NewTransportError(b.id, op, 0, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return storage.NewHTTPTransportError(b.id, op, res.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", endpoint, err)
		}
	}
	return nil
}

// SearchSegments lists segments from the given corpora, optionally
// filtered by query. Returns the matching segments and the total count.
func (b *Backend) SearchSegments(ctx context.Context, corpusIDs []string, query *SegmentQuery, skip, limit int) ([]Segment, int, error) {
	form := url.Values{
		"skip":  {strconv.Itoa(skip)},
		"limit": {strconv.Itoa(limit)},
	}
	for _, id := range corpusIDs {
		form.Add("id", id)
	}

	if query != nil {
		if query.SourceLang != "" {
			form.Set("srcLang", query.SourceLang)
		}
		if query.TargetLang != "" {
			form.Set("tgtLang", query.TargetLang)
		}

		search := map[string]any{}
		if query.SourceKeyword != "" {
			search["srcQuery"] = query.SourceKeyword
			if query.SourceIsRegex {
				search["srcIsRegex"] = true
			}
		}
		if query.TargetKeyword != "" {
			search["tgtQuery"] = query.TargetKeyword
			if query.TargetIsRegex {
				search["tgtIsRegex"] = true
			}
		}
		if len(search) > 0 {
			payload, err := json.Marshal(map[string]any{"search": search})
			if err != nil {
				return nil, 0, fmt.Errorf("encode segment query: %w", err)
			}
			form.Set("query", string(payload))
		}
	}

	var out struct {
		Error    string    `json:"error"`
		Segments []Segment `json:"segments"`
		Total    int       `json:"total"`
	}
	if err := b.postForm(ctx, "segment-list", "/corpus/segment/list", form, &out); err != nil {
		return nil, 0, err
	}
	if out.Error != "" {
		return nil, 0, fmt.Errorf("cannot list segments: %s", out.Error)
	}
	return out.Segments, out.Total, nil
}

// AddSegments appends segments to a corpus.
func (b *Backend) AddSegments(ctx context.Context, corpusID string, segments []Segment) error {
	payload := map[string]any{
		"id":       corpusID,
		"segments": segments,
	}
	if b.opts.AccountID != "" {
		payload["accountId"] = b.opts.AccountID
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode segments: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		b.opts.HostURL+"/corpus/segment/add", strings.NewReader(string(body)))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := b.client.Do(req)
	if err != nil {
		return storage.NewTransportError(b.id, "segment-add", 0, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return storage.NewHTTPTransportError(b.id, "segment-add", res.StatusCode)
	}
	return nil
}

// DeleteSegments removes segments one by one and returns how many the
// service reports as deleted.
func (b *Backend) DeleteSegments(ctx context.Context, corpusID string, segIDs []string) (int, error) {
	deleted := 0
	for _, segID := range segIDs {
		var out struct {
			SegmentDeleted int `json:"segmentDeleted"`
		}
		form := url.Values{
			"id":    {corpusID},
			"segId": {segID},
		}
		if err := b.postForm(ctx, "segment-delete", "/corpus/segment/delete", form, &out); err != nil {
			return deleted, fmt.Errorf("cannot delete segment %s in %s: %w", segID, corpusID, err)
		}
		deleted += out.SegmentDeleted
	}
	return deleted, nil
}

// ModifySegment updates the source and one target text of a segment.
func (b *Backend) ModifySegment(ctx context.Context, corpusID, segID, tgtID, srcSeg, tgtSeg string) error {
	var out struct {
		Status string `json:"status"`
	}
	form := url.Values{
		"id":     {corpusID},
		"segId":  {segID},
		"tgtId":  {tgtID},
		"srcSeg": {srcSeg},
		"tgtSeg": {tgtSeg},
	}
	if err := b.postForm(ctx, "segment-modify", "/corpus/segment/modify", form, &out); err != nil {
		return err
	}
	if out.Status != "ok" {
		return fmt.Errorf("cannot modify segment %s in %s: status %q", segID, corpusID, out.Status)
	}
	return nil
}

// AddTag attaches a tag to a corpus.
func (b *Backend) AddTag(ctx context.Context, corpusID, tag string) error {
	form := url.Values{"id": {corpusID}}
	return b.postForm(ctx, "tag-add", "/corpus/tags/"+url.PathEscape(tag), form, nil)
}

// RemoveTag detaches a tag from a corpus.
func (b *Backend) RemoveTag(ctx context.Context, corpusID, tag string) error {
	form := url.Values{"id": {corpusID}}
	if b.opts.AccountID != "" {
		form.Set("accountId", b.opts.AccountID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		b.opts.HostURL+"/corpus/tags/"+url.PathEscape(tag), strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := b.client.Do(req)
	if err != nil {
		return storage.NewTransportError(b.id, "tag-remove", 0, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return storage.NewHTTPTransportError(b.id, "tag-remove", res.StatusCode)
	}
	return nil
}

// Detail returns the file records of a corpus.
func (b *Backend) Detail(ctx context.Context, corpusID string) ([]File, error) {
	var out struct {
		Files []File `json:"files"`
	}
	err := b.getJSON(ctx, "detail", "/corpus/details", url.Values{"id": {corpusID}}, &out)
	if err != nil {
		return nil, err
	}
	return out.Files, nil
}
