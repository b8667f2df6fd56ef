package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"media-gallery/internal/analytics"
	"media-gallery/internal/hub"
	"media-gallery/internal/ingest"
	"media-gallery/internal/library"
	"media-gallery/internal/media"
	"media-gallery/internal/store"
	"media-gallery/internal/transform"
)

// =============================================================================
// Fixture
// =============================================================================

type recordingHub struct {
	mu     sync.Mutex
	events []hub.Event
}

func (r *recordingHub) Broadcast(ev hub.Event, _ *hub.Client) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return 1
}

func (r *recordingHub) Count() int { return 2 }

func (r *recordingHub) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	handlers  *Handlers
	router    *mux.Router
	library   *library.Library
	hub       *recordingHub
	imagesDir string
}

func newFixture(t *testing.T, maxUpload int64) *fixture {
	t.Helper()
	root := t.TempDir()
	imagesDir := filepath.Join(root, "images")
	thumbDir := filepath.Join(root, "thumbnails")
	derivedDir := filepath.Join(root, "derived")
	for _, dir := range []string{imagesDir, thumbDir, derivedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
	}

	backend, err := store.NewJSONBackend(filepath.Join(root, "db"))
	if err != nil {
		t.Fatalf("NewJSONBackend: %v", err)
	}
	s, err := store.Open(context.Background(), backend)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	lib := library.New(s)
	rec := &recordingHub{}
	ing := ingest.New(ingest.Config{UploadDir: imagesDir, MaxUploadBytes: maxUpload}, media.NewGenerator(thumbDir), lib, rec)
	q := transform.New(transform.Config{
		SourceDir:    imagesDir,
		OutputDir:    derivedDir,
		URLPrefix:    "/derived",
		Workers:      1,
		RetryBackoff: time.Millisecond,
	}, lib, rec)
	q.Start()
	t.Cleanup(q.Stop)

	h := New(lib, analytics.New(s), ing, q, rec)
	router := mux.NewRouter()
	h.RegisterAPI(router)
	h.RegisterProbes(router)

	return &fixture{handlers: h, router: router, library: lib, hub: rec, imagesDir: imagesDir}
}

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (f *fixture) do(t *testing.T, method, target string, body any) (*httptest.ResponseRecorder, response) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return f.serve(t, req)
}

func (f *fixture) serve(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, response) {
	t.Helper()
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var resp response
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode %s %s response %q: %v", req.Method, req.URL.Path, w.Body.String(), err)
		}
	}
	return w, resp
}

func decodeData(t *testing.T, resp response, v any) {
	t.Helper()
	if err := json.Unmarshal(resp.Data, v); err != nil {
		t.Fatalf("decode data %s: %v", resp.Data, err)
	}
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 5), G: uint8(y * 11), B: uint8(x ^ y), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("jpeg.Encode: %v", err)
	}
	return buf.Bytes()
}

type formFile struct {
	field, filename, contentType string
	data                         []byte
}

func uploadRequest(t *testing.T, fields map[string]string, files ...formFile) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	for _, f := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.field, f.filename))
		header.Set("Content-Type", f.contentType)
		part, err := mw.CreatePart(header)
		if err != nil {
			t.Fatalf("CreatePart: %v", err)
		}
		part.Write(f.data)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("multipart close: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func (f *fixture) upload(t *testing.T, filename string) library.Asset {
	t.Helper()
	req := uploadRequest(t, nil, formFile{"image", filename, "image/jpeg", jpegBytes(t, 64, 48)})
	w, resp := f.serve(t, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload %s: status %d: %s", filename, w.Code, w.Body.String())
	}
	var asset library.Asset
	decodeData(t, resp, &asset)
	return asset
}

// =============================================================================
// Upload
// =============================================================================

func TestUploadAndFetch(t *testing.T) {
	f := newFixture(t, 0)

	req := uploadRequest(t,
		map[string]string{"tags": "beach, sunset", "location": " Lisbon "},
		formFile{"image", "photo.jpg", "image/jpeg", jpegBytes(t, 64, 48)},
	)
	w, resp := f.serve(t, req)
	if w.Code != http.StatusCreated || !resp.Success {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var asset library.Asset
	decodeData(t, resp, &asset)
	if asset.ID != "photo.jpg" || asset.Src != "/images/photo.jpg" {
		t.Errorf("unexpected asset %+v", asset)
	}
	if asset.Metadata.Width != 64 || asset.Metadata.Height != 48 {
		t.Errorf("metadata = %+v", asset.Metadata)
	}
	if len(asset.Tags) != 2 || asset.Tags[0] != "beach" || asset.Location != "Lisbon" {
		t.Errorf("details = %q / %q", asset.Tags, asset.Location)
	}
	if types := f.hub.types(); len(types) != 1 || types[0] != hub.TypeNewImage {
		t.Errorf("broadcasts = %v, want [new-image]", types)
	}

	w, resp = f.do(t, http.MethodGet, "/api/images/photo.jpg", nil)
	if w.Code != http.StatusOK || !resp.Success {
		t.Errorf("get status = %d", w.Code)
	}

	w, resp = f.do(t, http.MethodGet, "/api/images/missing.jpg", nil)
	if w.Code != http.StatusNotFound || resp.Success || resp.Error == "" {
		t.Errorf("missing asset: status %d, %+v", w.Code, resp)
	}
}

func TestUploadRejections(t *testing.T) {
	tests := []struct {
		name      string
		maxUpload int64
		request   func(t *testing.T) *http.Request
		want      int
	}{
		{
			name: "Declared type not allowed",
			request: func(t *testing.T) *http.Request {
				return uploadRequest(t, nil, formFile{"image", "notes.txt", "text/plain", []byte("hello")})
			},
			want: http.StatusUnsupportedMediaType,
		},
		{
			name: "Content is not an image",
			request: func(t *testing.T) *http.Request {
				return uploadRequest(t, nil, formFile{"image", "fake.jpg", "image/jpeg", []byte("plain text pretending")})
			},
			want: http.StatusUnsupportedMediaType,
		},
		{
			name:      "Too large",
			maxUpload: 1024,
			request: func(t *testing.T) *http.Request {
				return uploadRequest(t, nil, formFile{"image", "big.jpg", "image/jpeg", jpegBytes(t, 200, 200)})
			},
			want: http.StatusRequestEntityTooLarge,
		},
		{
			name: "Missing image field",
			request: func(t *testing.T) *http.Request {
				return uploadRequest(t, map[string]string{"tags": "a"})
			},
			want: http.StatusBadRequest,
		},
		{
			name: "Not multipart",
			request: func(_ *testing.T) *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader(`{}`))
				req.Header.Set("Content-Type", "application/json")
				return req
			},
			want: http.StatusBadRequest,
		},
		{
			name: "Two images",
			request: func(t *testing.T) *http.Request {
				data := jpegBytes(t, 16, 16)
				return uploadRequest(t, nil,
					formFile{"image", "a.jpg", "image/jpeg", data},
					formFile{"image", "b.jpg", "image/jpeg", data},
				)
			},
			want: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.maxUpload)
			w, resp := f.serve(t, tt.request(t))
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
			if resp.Success {
				t.Error("rejected upload reported success")
			}

			assets, err := f.library.Assets(context.Background())
			if err != nil {
				t.Fatalf("Assets: %v", err)
			}
			if len(assets) != 0 {
				t.Errorf("rejected upload left %d assets", len(assets))
			}
			entries, _ := os.ReadDir(f.imagesDir)
			if len(entries) != 0 {
				t.Errorf("rejected upload left %d files", len(entries))
			}
		})
	}
}

// =============================================================================
// Listing, metadata and tags
// =============================================================================

func TestListImages(t *testing.T) {
	f := newFixture(t, 0)
	f.upload(t, "zebra.jpg")
	f.upload(t, "apple.jpg")

	w, resp := f.do(t, http.MethodGet, "/api/images?sort=name", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var entries []library.Entry
	decodeData(t, resp, &entries)
	if len(entries) != 2 || entries[0].ID != "apple.jpg" || entries[1].ID != "zebra.jpg" {
		t.Errorf("sorted by name = %+v", entries)
	}

	_, resp = f.do(t, http.MethodGet, "/api/images?q=ZEB", nil)
	decodeData(t, resp, &entries)
	if len(entries) != 1 || entries[0].ID != "zebra.jpg" {
		t.Errorf("search = %+v", entries)
	}

	w, _ = f.do(t, http.MethodGet, "/api/images?sort=size", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid sort status = %d, want 400", w.Code)
	}
}

func TestUpdateMetadataAndTags(t *testing.T) {
	f := newFixture(t, 0)
	f.upload(t, "cat.jpg")
	f.upload(t, "dog.jpg")

	for _, id := range []string{"cat.jpg", "dog.jpg"} {
		w, _ := f.do(t, http.MethodPut, "/api/images/"+id+"/metadata", map[string]any{"tags": []string{"pets"}})
		if w.Code != http.StatusOK {
			t.Fatalf("PUT %s status = %d", id, w.Code)
		}
	}
	w, resp := f.do(t, http.MethodPut, "/api/images/cat.jpg/metadata", map[string]any{"location": "Home"})
	if w.Code != http.StatusOK {
		t.Fatalf("location update status = %d", w.Code)
	}
	var asset library.Asset
	decodeData(t, resp, &asset)
	if asset.Location != "Home" || len(asset.Tags) != 1 || asset.Tags[0] != "pets" {
		t.Errorf("partial update lost fields: %+v", asset)
	}

	_, resp = f.do(t, http.MethodGet, "/api/tags", nil)
	var tags map[string]int
	decodeData(t, resp, &tags)
	if tags["pets"] != 2 {
		t.Errorf("tags = %v, want pets:2", tags)
	}

	_, resp = f.do(t, http.MethodGet, "/api/images?tag=pets", nil)
	var entries []library.Entry
	decodeData(t, resp, &entries)
	if len(entries) != 2 {
		t.Errorf("tag filter returned %d entries", len(entries))
	}

	if w, _ := f.do(t, http.MethodPut, "/api/images/cat.jpg/metadata", map[string]any{}); w.Code != http.StatusBadRequest {
		t.Errorf("empty update status = %d, want 400", w.Code)
	}
	if w, _ := f.do(t, http.MethodPut, "/api/images/nope.jpg/metadata", map[string]any{"location": "x"}); w.Code != http.StatusNotFound {
		t.Errorf("unknown asset status = %d, want 404", w.Code)
	}
}

// =============================================================================
// Favorites
// =============================================================================

func TestFavorites(t *testing.T) {
	f := newFixture(t, 0)
	f.upload(t, "cat.jpg")

	toggle := map[string]any{"userId": "u1", "imageId": "cat.jpg"}
	steps := []struct {
		body any
		want bool
	}{
		{toggle, true},
		{toggle, false},
		{map[string]any{"userId": "u1", "imageId": "cat.jpg", "isFavorite": true}, true},
		{map[string]any{"userId": "u1", "imageId": "cat.jpg", "isFavorite": true}, true},
	}
	for i, step := range steps {
		w, resp := f.do(t, http.MethodPost, "/api/favorites", step.body)
		if w.Code != http.StatusOK {
			t.Fatalf("step %d status = %d", i, w.Code)
		}
		var update hub.FavoriteUpdate
		decodeData(t, resp, &update)
		if update.IsFavorite != step.want {
			t.Errorf("step %d isFavorite = %v, want %v", i, update.IsFavorite, step.want)
		}
	}

	favoriteEvents := 0
	for _, typ := range f.hub.types() {
		if typ == hub.TypeFavoriteUpdate {
			favoriteEvents++
		}
	}
	if favoriteEvents != len(steps) {
		t.Errorf("favorite-update broadcasts = %d, want %d", favoriteEvents, len(steps))
	}

	_, resp := f.do(t, http.MethodGet, "/api/favorites?userId=u1", nil)
	var ids []string
	decodeData(t, resp, &ids)
	if len(ids) != 1 || ids[0] != "cat.jpg" {
		t.Errorf("favorites = %v", ids)
	}

	_, resp = f.do(t, http.MethodGet, "/api/images?userId=u1", nil)
	var entries []library.Entry
	decodeData(t, resp, &entries)
	if len(entries) != 1 || !entries[0].IsFavorite {
		t.Errorf("listing lacks favorite flag: %+v", entries)
	}

	if w, _ := f.do(t, http.MethodGet, "/api/favorites", nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing userId status = %d, want 400", w.Code)
	}
	if w, _ := f.do(t, http.MethodPost, "/api/favorites", map[string]any{"userId": "u1", "imageId": "nope.jpg"}); w.Code != http.StatusNotFound {
		t.Errorf("unknown image status = %d, want 404", w.Code)
	}
	if w, _ := f.do(t, http.MethodPost, "/api/favorites", map[string]any{"imageId": "cat.jpg"}); w.Code != http.StatusBadRequest {
		t.Errorf("missing userId status = %d, want 400", w.Code)
	}
}

func TestFavoriteIDsAreTrimmed(t *testing.T) {
	f := newFixture(t, 0)
	f.upload(t, "cat.jpg")

	w, resp := f.do(t, http.MethodPost, "/api/favorites",
		map[string]any{"userId": "  u1 ", "imageId": " cat.jpg", "isFavorite": true})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var update hub.FavoriteUpdate
	decodeData(t, resp, &update)
	want := hub.FavoriteUpdate{AssetID: "cat.jpg", UserID: "u1", IsFavorite: true}
	if update != want {
		t.Errorf("response = %+v, want %+v", update, want)
	}

	f.hub.mu.Lock()
	last := f.hub.events[len(f.hub.events)-1]
	f.hub.mu.Unlock()
	if got, ok := last.Data.(hub.FavoriteUpdate); !ok || got != want {
		t.Errorf("broadcast = %+v, want %+v", last.Data, want)
	}

	_, resp = f.do(t, http.MethodGet, "/api/favorites?userId=u1", nil)
	var ids []string
	decodeData(t, resp, &ids)
	if len(ids) != 1 || ids[0] != "cat.jpg" {
		t.Errorf("stored favorites = %v", ids)
	}
}

// =============================================================================
// Delete
// =============================================================================

func TestDeleteImage(t *testing.T) {
	f := newFixture(t, 0)
	asset := f.upload(t, "cat.jpg")
	f.upload(t, "dog.jpg")

	thumb := filepath.Join(filepath.Dir(f.imagesDir), "thumbnails", filepath.Base(asset.ThumbnailURL))
	if _, err := os.Stat(thumb); err != nil {
		t.Fatalf("thumbnail missing before delete: %v", err)
	}

	w, _ := f.do(t, http.MethodDelete, "/api/images/cat.jpg", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d: %s", w.Code, w.Body.String())
	}
	if _, err := os.Stat(filepath.Join(f.imagesDir, "cat.jpg")); !os.IsNotExist(err) {
		t.Error("original left behind")
	}
	if _, err := os.Stat(thumb); !os.IsNotExist(err) {
		t.Error("thumbnail left behind")
	}
	if w, _ := f.do(t, http.MethodGet, "/api/images/cat.jpg", nil); w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", w.Code)
	}
	if types := f.hub.types(); types[len(types)-1] != hub.TypeImageDeleted {
		t.Errorf("broadcasts = %v, want image-deleted last", types)
	}

	_, resp := f.do(t, http.MethodGet, "/api/images", nil)
	var entries []library.Entry
	decodeData(t, resp, &entries)
	if len(entries) != 1 || entries[0].ID != "dog.jpg" {
		t.Errorf("listing after delete = %+v", entries)
	}

	for _, id := range []string{"cat.jpg", "missing.jpg", "notes.txt"} {
		if w, _ := f.do(t, http.MethodDelete, "/api/images/"+id, nil); w.Code != http.StatusNotFound {
			t.Errorf("delete %s status = %d, want 404", id, w.Code)
		}
	}
	if _, err := os.Stat(filepath.Join(f.imagesDir, "dog.jpg")); err != nil {
		t.Errorf("unrelated original removed: %v", err)
	}
}

// =============================================================================
// Analytics
// =============================================================================

func TestViewsAndAnalytics(t *testing.T) {
	f := newFixture(t, 0)
	f.upload(t, "cat.jpg")

	for _, viewer := range []string{"v1", "v1", "v2"} {
		if w, _ := f.do(t, http.MethodPost, "/api/images/cat.jpg/views", map[string]string{"viewerId": viewer}); w.Code != http.StatusOK {
			t.Fatalf("view status = %d", w.Code)
		}
	}

	_, resp := f.do(t, http.MethodGet, "/api/images/cat.jpg/analytics", nil)
	var rec analytics.Record
	decodeData(t, resp, &rec)
	if rec.ViewCount != 3 || len(rec.UniqueViewers) != 2 {
		t.Errorf("record = %+v, want 3 views by 2 viewers", rec)
	}

	_, resp = f.do(t, http.MethodGet, "/api/analytics", nil)
	var all map[string]analytics.Record
	decodeData(t, resp, &all)
	if all["cat.jpg"].ViewCount != 3 {
		t.Errorf("all analytics = %+v", all)
	}

	if w, _ := f.do(t, http.MethodPost, "/api/images/nope.jpg/views", map[string]string{"viewerId": "v1"}); w.Code != http.StatusNotFound {
		t.Errorf("unknown asset view status = %d, want 404", w.Code)
	}
	if w, _ := f.do(t, http.MethodPost, "/api/images/cat.jpg/views", map[string]string{}); w.Code != http.StatusBadRequest {
		t.Errorf("missing viewer status = %d, want 400", w.Code)
	}
	if w, _ := f.do(t, http.MethodGet, "/api/images/nope.jpg/analytics", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown asset analytics status = %d, want 404", w.Code)
	}
}

// =============================================================================
// Albums
// =============================================================================

func TestAlbums(t *testing.T) {
	f := newFixture(t, 0)
	f.upload(t, "cat.jpg")
	f.upload(t, "dog.jpg")

	w, resp := f.do(t, http.MethodPost, "/api/albums", map[string]any{
		"name":        "Pets",
		"description": "mine",
		"assetIds":    []string{"dog.jpg", "cat.jpg"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body.String())
	}
	var album library.Album
	decodeData(t, resp, &album)
	if album.ID == "" || len(album.AssetIDs) != 2 || album.AssetIDs[0] != "dog.jpg" {
		t.Errorf("album = %+v", album)
	}

	w, resp = f.do(t, http.MethodPost, "/api/albums/"+album.ID+"/assets", map[string]any{"assetIds": []string{"dog.jpg"}})
	if w.Code != http.StatusOK {
		t.Fatalf("append status = %d", w.Code)
	}
	decodeData(t, resp, &album)
	if got := strings.Join(album.AssetIDs, ","); got != "dog.jpg,cat.jpg,dog.jpg" {
		t.Errorf("assetIds = %s", got)
	}

	_, resp = f.do(t, http.MethodGet, "/api/albums", nil)
	var albums []library.Album
	decodeData(t, resp, &albums)
	if len(albums) != 1 {
		t.Errorf("albums = %d, want 1", len(albums))
	}

	tests := []struct {
		name   string
		method string
		target string
		body   any
		want   int
	}{
		{"Unknown album", http.MethodGet, "/api/albums/nope", nil, http.StatusNotFound},
		{"Missing name", http.MethodPost, "/api/albums", map[string]any{"name": " "}, http.StatusBadRequest},
		{"Unknown asset", http.MethodPost, "/api/albums", map[string]any{"name": "x", "assetIds": []string{"nope.jpg"}}, http.StatusNotFound},
		{"Append to unknown album", http.MethodPost, "/api/albums/nope/assets", map[string]any{"assetIds": []string{"cat.jpg"}}, http.StatusNotFound},
		{"Append nothing", http.MethodPost, "/api/albums/" + album.ID + "/assets", map[string]any{}, http.StatusBadRequest},
		{"Malformed body", http.MethodPost, "/api/albums", "not an object", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w, _ := f.do(t, tt.method, tt.target, tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

// =============================================================================
// Transform jobs
// =============================================================================

func TestProcessImageWait(t *testing.T) {
	f := newFixture(t, 0)
	f.upload(t, "cat.jpg")

	w, resp := f.do(t, http.MethodPost, "/api/process-image", map[string]any{
		"imageId": "cat.jpg",
		"operations": []map[string]any{
			{"type": "resize", "width": 32, "height": 32, "fit": "cover"},
			{"type": "reformat", "format": "png"},
		},
		"wait": true,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	var job transform.Job
	decodeData(t, resp, &job)
	if job.Status != transform.StatusDone || job.Output == nil {
		t.Fatalf("job = %+v", job)
	}
	if !strings.HasPrefix(job.Output.URL, "/derived/cat_") || !strings.HasSuffix(job.Output.URL, ".png") {
		t.Errorf("output url = %q", job.Output.URL)
	}
	if job.Output.Metadata.Width != 32 || job.Output.Metadata.Height != 32 {
		t.Errorf("output metadata = %+v", job.Output.Metadata)
	}

	w, resp = f.do(t, http.MethodGet, "/api/jobs/"+job.ID, nil)
	if w.Code != http.StatusOK {
		t.Errorf("job status = %d", w.Code)
	}
	var fetched transform.Job
	decodeData(t, resp, &fetched)
	if fetched.ID != job.ID || fetched.Status != transform.StatusDone {
		t.Errorf("fetched job = %+v", fetched)
	}
}

func TestProcessImageAsync(t *testing.T) {
	f := newFixture(t, 0)
	f.upload(t, "cat.jpg")

	w, resp := f.do(t, http.MethodPost, "/api/process-image", map[string]any{
		"imageId":    "cat.jpg",
		"operations": []map[string]any{{"type": "rotate", "angle": 90}},
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var job transform.Job
	decodeData(t, resp, &job)
	if job.ID == "" || job.Status != transform.StatusQueued {
		t.Errorf("job = %+v", job)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		_, resp = f.do(t, http.MethodGet, "/api/jobs/"+job.ID, nil)
		decodeData(t, resp, &job)
		if job.Status.Terminal() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job still %s", job.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if job.Status != transform.StatusDone || job.Output.Metadata.Width != 48 {
		t.Errorf("rotated job = %+v", job)
	}
}

func TestProcessImageFailureIsUnprocessable(t *testing.T) {
	f := newFixture(t, 0)

	if err := os.WriteFile(filepath.Join(f.imagesDir, "broken.jpg"), []byte("not a jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := f.library.AddAsset(context.Background(), library.Asset{ID: "broken.jpg", Name: "broken.jpg"}); err != nil {
		t.Fatalf("AddAsset: %v", err)
	}

	w, resp := f.do(t, http.MethodPost, "/api/process-image", map[string]any{
		"imageId":    "broken.jpg",
		"operations": []map[string]any{{"type": "rotate", "angle": 180}},
		"wait":       true,
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422: %s", w.Code, w.Body.String())
	}
	if resp.Success || resp.Error == "" {
		t.Errorf("failure envelope = %+v", resp)
	}
	var job transform.Job
	decodeData(t, resp, &job)
	if job.Status != transform.StatusFailed {
		t.Errorf("job status = %s", job.Status)
	}
}

func TestProcessImageRejections(t *testing.T) {
	f := newFixture(t, 0)
	f.upload(t, "cat.jpg")

	tests := []struct {
		name string
		body any
		want int
	}{
		{"No operations", map[string]any{"imageId": "cat.jpg", "operations": []any{}}, http.StatusBadRequest},
		{"Unknown operation", map[string]any{"imageId": "cat.jpg", "operations": []map[string]any{{"type": "blur"}}}, http.StatusBadRequest},
		{"Invalid resize", map[string]any{"imageId": "cat.jpg", "operations": []map[string]any{{"type": "resize", "width": -1, "height": 10}}}, http.StatusBadRequest},
		{"Oversized resize", map[string]any{"imageId": "cat.jpg", "operations": []map[string]any{{"type": "resize", "width": 2000000000, "height": 2000000000, "fitMode": "cover"}}}, http.StatusBadRequest},
		{"Unknown field", map[string]any{"imageId": "cat.jpg", "operations": []map[string]any{{"type": "resize", "width": 10, "height": 10, "mode": "contain"}}}, http.StatusBadRequest},
		{"Unknown image", map[string]any{"imageId": "nope.jpg", "operations": []map[string]any{{"type": "rotate", "angle": 90}}}, http.StatusNotFound},
		{"Path traversal", map[string]any{"imageId": "../cat.jpg", "operations": []map[string]any{{"type": "rotate", "angle": 90}}}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w, _ := f.do(t, http.MethodPost, "/api/process-image", tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}

	if w, _ := f.do(t, http.MethodGet, "/api/jobs/unknown", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown job status = %d, want 404", w.Code)
	}
}

// =============================================================================
// Probes and static files
// =============================================================================

func TestHealthAndReadiness(t *testing.T) {
	f := newFixture(t, 0)

	for _, path := range []string{"/healthz", "/readyz"} {
		if w, _ := f.do(t, http.MethodGet, path, nil); w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s before ready = %d, want 503", path, w.Code)
		}
	}
	if w, _ := f.do(t, http.MethodGet, "/livez", nil); w.Code != http.StatusOK {
		t.Errorf("livez = %d, want 200", w.Code)
	}

	f.upload(t, "cat.jpg")
	f.handlers.SetReady(true)

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))
	if w.Code != http.StatusOK {
		t.Fatalf("healthz after ready = %d", w.Code)
	}
	var health HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != statusHealthy || health.Assets != 1 || health.Connections != 2 || health.Queue.Workers != 1 {
		t.Errorf("health = %+v", health)
	}

	if w, _ := f.do(t, http.MethodGet, "/readyz", nil); w.Code != http.StatusOK {
		t.Errorf("readyz after ready = %d", w.Code)
	}

	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/version", http.NoBody))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"version"`) {
		t.Errorf("version = %d %s", w.Code, w.Body.String())
	}
}

func TestStaticFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "cat.jpg"), []byte("jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".upload-123"), []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}
	handler := StaticFiles("/images/", dir)

	tests := []struct {
		path string
		want int
	}{
		{"/images/cat.jpg", http.StatusOK},
		{"/images/.upload-123", http.StatusNotFound},
		{"/images/", http.StatusNotFound},
		{"/images/missing.jpg", http.StatusNotFound},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, http.NoBody))
		if w.Code != tt.want {
			t.Errorf("%s = %d, want %d", tt.path, w.Code, tt.want)
		}
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", ingest.ErrInvalidMediaType), http.StatusUnsupportedMediaType},
		{ingest.ErrPayloadTooLarge, http.StatusRequestEntityTooLarge},
		{&http.MaxBytesError{Limit: 10}, http.StatusRequestEntityTooLarge},
		{transform.ErrInvalidOperation, http.StatusBadRequest},
		{library.ErrInvalidInput, http.StatusBadRequest},
		{analytics.ErrInvalidView, http.StatusBadRequest},
		{library.ErrAssetNotFound, http.StatusNotFound},
		{library.ErrAlbumNotFound, http.StatusNotFound},
		{transform.ErrSourceNotFound, http.StatusNotFound},
		{transform.ErrJobNotFound, http.StatusNotFound},
		{library.ErrAssetExists, http.StatusConflict},
		{media.ErrUnsupportedFormat, http.StatusUnprocessableEntity},
		{media.ErrDerivationTimeout, http.StatusGatewayTimeout},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{media.ErrDerivationIO, http.StatusInternalServerError},
		{store.ErrPersistence, http.StatusInternalServerError},
		{store.ErrVersionConflict, http.StatusInternalServerError},
		{transform.ErrQueueFull, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := statusForError(tt.err); got != tt.want {
				t.Errorf("statusForError(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestServerErrorsAreGeneric(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/images", http.NoBody)
	writeError(w, r, fmt.Errorf("%w: disk on fire at /var/secret", store.ErrPersistence))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "/var/secret") {
		t.Errorf("internal detail leaked: %s", w.Body.String())
	}
}
