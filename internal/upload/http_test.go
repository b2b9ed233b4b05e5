package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/your-org/eventsphere/internal/domain"
	"github.com/your-org/eventsphere/internal/gate"
	"github.com/your-org/eventsphere/internal/imagecheck"
	"github.com/your-org/eventsphere/internal/jobs"
	"github.com/your-org/eventsphere/internal/quota"
	"github.com/your-org/eventsphere/internal/scanner"
	"github.com/your-org/eventsphere/internal/store"
	"github.com/your-org/eventsphere/internal/testimage"
	"github.com/your-org/eventsphere/pkg/storage/objectstore"
)

const testSecret = "test-secret"

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut error
}

func (m *memStore) Put(_ context.Context, obj objectstore.Object) (string, error) {
	if m.failPut != nil {
		return "", m.failPut
	}
	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[obj.Key] = data
	return "https://cdn.test/" + obj.Key, nil
}

func (m *memStore) Ping(context.Context) error { return nil }
func (m *memStore) Close() error               { return nil }

type memEvents struct {
	mu     sync.Mutex
	events map[string]*domain.Event
}

func (m *memEvents) GetEvent(_ context.Context, id string) (*domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *memEvents) AppendPhoto(_ context.Context, id, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return store.ErrNotFound
	}
	e.Photos = append(e.Photos, url)
	return nil
}

type cleanScanner struct{}

func (cleanScanner) Scan(_ context.Context, buf []byte, _ string) (scanner.Result, error) {
	if bytes.Contains(buf, []byte("EICAR-STANDARD-ANTIVIRUS-TEST-FILE")) {
		return scanner.Result{Infected: true, Signatures: []string{"Eicar-Test-Signature"}}, nil
	}
	return scanner.Result{}, nil
}

type recordingJobs struct {
	types []jobs.Type
	err   error
}

func (r *recordingJobs) EnqueueRaw(_ context.Context, t jobs.Type, _ json.RawMessage, _ ...jobs.Option) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	r.types = append(r.types, t)
	return "job-1", nil
}

type fixture struct {
	handler http.Handler
	objects *memStore
	events  *memEvents
	jobs    *recordingJobs
	redis   *miniredis.Miniredis
}

func newFixture(t *testing.T, limits quota.Limits) *fixture {
	t.Helper()
	return newSizedFixture(t, limits, 64<<10)
}

func newSizedFixture(t *testing.T, limits quota.Limits, maxBytes int64) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	tracker := quota.NewTracker(quota.Config{Limits: limits}, quota.NewRedisCounter(rdb), nil, zap.NewNop())
	g := gate.New(gate.Params{
		Config:    gate.Config{MaxSizeBytes: maxBytes},
		Quota:     tracker,
		Scanner:   cleanScanner{},
		Integrity: imagecheck.New(imagecheck.Config{}),
		Logger:    zap.NewNop(),
	})

	f := &fixture{
		objects: &memStore{objects: map[string][]byte{}},
		events: &memEvents{events: map[string]*domain.Event{
			"ev1": {ID: "ev1", Title: "Meetup", OrganizerID: "org-1"},
		}},
		jobs:  &recordingJobs{},
		redis: mr,
	}
	svc := NewService(Params{Gate: g, Store: f.objects, Events: f.events, Logger: zap.NewNop()})
	h := NewHTTPHandler(HandlerParams{
		Config: HandlerConfig{
			MaxSizeBytes:      maxBytes,
			MultipartMemBytes: 1 << 20,
			AllowedOrigins:    []string{"*"},
		},
		Service: svc,
		Auth:    NewAuthenticator(testSecret, "", zap.NewNop()),
		Quota:   tracker,
		Jobs:    f.jobs,
		Health:  NewHealth("test", nil, map[string]Check{"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() }}),
		Logger:  zap.NewNop(),
	})
	f.handler = h.Router()
	return f
}

func token(t *testing.T, userID string, role domain.Role) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		UserID:           userID,
		Email:            userID + "@example.com",
		Role:             string(role),
	})
	s, err := tok.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func multipartBody(t *testing.T, field, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func (f *fixture) upload(t *testing.T, path, field, tok, filename, contentType string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, field, filename, contentType, data)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", ct)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Errors  []apiError      `json:"errors"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return env
}

func TestUploadAccepted(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.upload(t, "/api/v1/uploads", "file", token(t, "u1", domain.RoleAttendee), "photo.jpg", "image/jpeg", testimage.JPEG(64, 48))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	var res UploadResult
	if err := json.Unmarshal(decode(t, rec).Data, &res); err != nil {
		t.Fatal(err)
	}
	if res.Width != 64 || res.Height != 48 || !strings.HasPrefix(res.ObjectKey, "uploads/u1/") || !strings.HasSuffix(res.ObjectKey, ".jpg") {
		t.Fatalf("result = %+v", res)
	}
	if _, ok := f.objects.objects[res.ObjectKey]; !ok {
		t.Fatal("object not stored")
	}
	if got := rec.Header().Get("X-Upload-Remaining"); got != "9" {
		t.Fatalf("X-Upload-Remaining = %q", got)
	}
}

func TestUploadRejections(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		contentType string
		data        []byte
		status      int
		reason      string
	}{
		{"signature mismatch", "a.png", "image/png", []byte("definitely not an image"), http.StatusBadRequest, gate.ReasonSignatureMismatch},
		{"double extension", "a.php.jpg", "image/jpeg", testimage.JPEG(20, 20), http.StatusBadRequest, gate.ReasonDoubleExtension},
		{"bad type", "a.txt", "text/plain", []byte("hello"), http.StatusBadRequest, gate.ReasonInvalidType},
		{"too large", "big.png", "image/png", append(testimage.PNG(20, 20), make([]byte, 64<<10)...), http.StatusRequestEntityTooLarge, gate.ReasonTooLarge},
		{"too small", "tiny.png", "image/png", testimage.PNG(5, 5), http.StatusBadRequest, imagecheck.ReasonTooSmall},
		{"virus", "v.png", "image/png", append(testimage.PNG(20, 20), []byte(testimage.EICAR)...), http.StatusBadRequest, gate.ReasonVirusDetected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			rec := f.upload(t, "/api/v1/uploads", "file", token(t, "u1", domain.RoleAttendee), tt.filename, tt.contentType, tt.data)
			if rec.Code != tt.status {
				t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
			}
			env := decode(t, rec)
			if env.Success || len(env.Errors) != 1 || env.Errors[0].Reason != tt.reason {
				t.Fatalf("envelope = %+v", env)
			}
			if len(f.objects.objects) != 0 {
				t.Fatal("rejected file reached storage")
			}
		})
	}
}

func TestQuotaExceededReturns429(t *testing.T) {
	f := newFixture(t, quota.Limits{domain.RoleAttendee: 2})
	tok := token(t, "u1", domain.RoleAttendee)
	img := testimage.PNG(20, 20)

	for i := 0; i < 2; i++ {
		if rec := f.upload(t, "/api/v1/uploads", "file", tok, "a.png", "image/png", img); rec.Code != http.StatusOK {
			t.Fatalf("upload %d: %d %s", i, rec.Code, rec.Body)
		}
	}
	rec := f.upload(t, "/api/v1/uploads", "file", tok, "a.png", "image/png", img)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-Upload-Limit") != "2" || rec.Header().Get("X-Upload-Remaining") != "0" {
		t.Fatalf("headers = %v", rec.Header())
	}
}

func TestTinyImageSpendsQuota(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.upload(t, "/api/v1/uploads", "file", token(t, "u4", domain.RoleAttendee), "tiny.png", "image/png", testimage.PNG(4, 4))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	env := decode(t, rec)
	if env.Success || len(env.Errors) != 1 || env.Errors[0].Reason != imagecheck.ReasonTooSmall {
		t.Fatalf("envelope = %+v", env)
	}
	if got, err := f.redis.Get("upload_limit:u4"); err != nil || got != "1" {
		t.Fatalf("quota counter = %q, %v; want 1", got, err)
	}
	if len(f.objects.objects) != 0 {
		t.Fatal("rejected file reached storage")
	}
}

func TestTenthUploadAcceptedEleventhLimited(t *testing.T) {
	f := newSizedFixture(t, quota.Limits{domain.RoleAttendee: 10}, 5<<20)
	tok := token(t, "att-9", domain.RoleAttendee)

	for i := 0; i < 9; i++ {
		if rec := f.upload(t, "/api/v1/uploads", "file", tok, "a.png", "image/png", testimage.PNG(20, 20)); rec.Code != http.StatusOK {
			t.Fatalf("upload %d: %d %s", i+1, rec.Code, rec.Body)
		}
	}

	rec := f.upload(t, "/api/v1/uploads", "file", tok, "party.jpg", "image/jpeg", testimage.JPEG(800, 600))
	if rec.Code != http.StatusOK {
		t.Fatalf("10th upload: %d %s", rec.Code, rec.Body)
	}
	var res UploadResult
	if err := json.Unmarshal(decode(t, rec).Data, &res); err != nil {
		t.Fatal(err)
	}
	if res.Width != 800 || res.Height != 600 {
		t.Fatalf("result = %+v", res)
	}
	if got := rec.Header().Get("X-Upload-Remaining"); got != "0" {
		t.Fatalf("X-Upload-Remaining = %q, want 0", got)
	}

	rec = f.upload(t, "/api/v1/uploads", "file", tok, "party.jpg", "image/jpeg", testimage.JPEG(800, 600))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("11th upload: %d %s", rec.Code, rec.Body)
	}
	if got, err := f.redis.Get("upload_limit:att-9"); err != nil || got != "10" {
		t.Fatalf("quota counter = %q, %v; want 10", got, err)
	}
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t, nil)
	if rec := f.upload(t, "/api/v1/uploads", "file", "", "a.png", "image/png", testimage.PNG(20, 20)); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", rec.Code)
	}
	if rec := f.upload(t, "/api/v1/uploads", "file", "garbage", "a.png", "image/png", testimage.PNG(20, 20)); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: %d", rec.Code)
	}
}

func TestEventPhoto(t *testing.T) {
	img := testimage.PNG(30, 30)

	t.Run("organizer", func(t *testing.T) {
		f := newFixture(t, nil)
		rec := f.upload(t, "/api/v1/events/ev1/photos", "photo", token(t, "org-1", domain.RoleOrganizer), "p.png", "image/png", img)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
		}
		photos := f.events.events["ev1"].Photos
		if len(photos) != 1 || !strings.HasPrefix(photos[0], "https://cdn.test/events/ev1/") {
			t.Fatalf("photos = %v", photos)
		}
	})

	t.Run("other organizer spends no quota", func(t *testing.T) {
		f := newFixture(t, nil)
		rec := f.upload(t, "/api/v1/events/ev1/photos", "photo", token(t, "org-2", domain.RoleOrganizer), "p.png", "image/png", img)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("status = %d", rec.Code)
		}
		if f.redis.Exists("upload_limit:org-2") {
			t.Fatal("quota consumed for a refused caller")
		}
	})

	t.Run("attendee role", func(t *testing.T) {
		f := newFixture(t, nil)
		rec := f.upload(t, "/api/v1/events/ev1/photos", "photo", token(t, "u1", domain.RoleAttendee), "p.png", "image/png", img)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("missing event", func(t *testing.T) {
		f := newFixture(t, nil)
		rec := f.upload(t, "/api/v1/events/nope/photos", "photo", token(t, "org-1", domain.RoleAdmin), "p.png", "image/png", img)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("wrong field", func(t *testing.T) {
		f := newFixture(t, nil)
		rec := f.upload(t, "/api/v1/events/ev1/photos", "file", token(t, "org-1", domain.RoleOrganizer), "p.png", "image/png", img)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d", rec.Code)
		}
	})
}

func TestQuotaEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	tok := token(t, "org-1", domain.RoleOrganizer)
	f.upload(t, "/api/v1/uploads", "file", tok, "a.png", "image/png", testimage.PNG(20, 20))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/uploads/quota", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var stats struct {
		Limit     int64 `json:"limit"`
		Used      int64 `json:"used"`
		Remaining int64 `json:"remaining"`
	}
	if err := json.Unmarshal(decode(t, rec).Data, &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Limit != 50 || stats.Used != 1 || stats.Remaining != 49 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestEnqueueEndpoint(t *testing.T) {
	tests := []struct {
		name   string
		role   domain.Role
		body   string
		status int
	}{
		{"admin", domain.RoleAdmin, `{"type":"welcome","payload":{"email":"a@x.io","name":"A"}}`, http.StatusAccepted},
		{"unknown type", domain.RoleAdmin, `{"type":"nope","payload":{}}`, http.StatusBadRequest},
		{"missing payload", domain.RoleAdmin, `{"type":"welcome"}`, http.StatusBadRequest},
		{"not admin", domain.RoleOrganizer, `{"type":"welcome","payload":{}}`, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			req := httptest.NewRequest(http.MethodPost, "/internal/v1/jobs", strings.NewReader(tt.body))
			req.Header.Set("Authorization", "Bearer "+token(t, "admin-1", tt.role))
			rec := httptest.NewRecorder()
			f.handler.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
			}
		})
	}
}

func TestEnqueueQueueDown(t *testing.T) {
	f := newFixture(t, nil)
	f.jobs.err = errors.New("broker down")
	req := httptest.NewRequest(http.MethodPost, "/internal/v1/jobs", strings.NewReader(`{"type":"welcome","payload":{}}`))
	req.Header.Set("Authorization", "Bearer "+token(t, "admin-1", domain.RoleAdmin))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestStorageFailureIs500(t *testing.T) {
	f := newFixture(t, nil)
	f.objects.failPut = errors.New("bucket gone")
	rec := f.upload(t, "/api/v1/uploads", "file", token(t, "u1", domain.RoleAttendee), "a.png", "image/png", testimage.PNG(20, 20))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}

type stateStub scanner.State

func (s stateStub) State() scanner.State { return scanner.State(s) }

func TestHealth(t *testing.T) {
	up := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("down") }

	tests := []struct {
		name   string
		state  scanner.State
		checks map[string]Check
		status int
		want   string
	}{
		{"all up", scanner.StateReady, map[string]Check{"redis": up, "mongo": up}, http.StatusOK, statusUp},
		{"scanner disabled", scanner.StateDisabled, map[string]Check{"redis": up}, http.StatusOK, statusUp},
		{"redis down", scanner.StateReady, map[string]Check{"redis": down, "mongo": up}, http.StatusServiceUnavailable, statusDegraded},
		{"scanner unavailable", scanner.StateUnavailable, map[string]Check{"redis": up}, http.StatusServiceUnavailable, statusDegraded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealth("test", stateStub(tt.state), tt.checks)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			var rep HealthReport
			if err := json.Unmarshal(rec.Body.Bytes(), &rep); err != nil {
				t.Fatal(err)
			}
			if rec.Code != tt.status || rep.Status != tt.want || rep.Scanner != tt.state.String() {
				t.Fatalf("code = %d report = %+v", rec.Code, rep)
			}
		})
	}
}

func TestWriteJSON(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		payload    any
		wantStatus int
		wantReason string
	}{
		{name: "encodable", status: http.StatusCreated, payload: map[string]any{"success": true, "message": "ok"}, wantStatus: http.StatusCreated},
		{name: "unencodable", status: http.StatusOK, payload: map[string]any{"success": true, "data": make(chan int)}, wantStatus: http.StatusInternalServerError, wantReason: "encode_failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeJSON(rec, tt.status, tt.payload)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Fatalf("Content-Type = %q", ct)
			}
			if strings.Contains(rec.Body.String(), http.StatusText(http.StatusInternalServerError)) {
				t.Fatalf("plain-text error appended: %q", rec.Body)
			}
			env := decode(t, rec)
			if tt.wantReason == "" {
				if !env.Success {
					t.Fatalf("envelope = %+v", env)
				}
				return
			}
			if env.Success || len(env.Errors) != 1 || env.Errors[0].Reason != tt.wantReason {
				t.Fatalf("envelope = %+v", env)
			}
		})
	}
}
