// Package stubapi is an in-process backend that speaks the same HTTP
// contract as the compression service. Tests and local runs of the headless
// driver use it in place of the real server.
package stubapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mailsized/obs"
)

type job struct {
	ID          string
	Filename    string
	SizeBytes   int64
	DurationSec float64
	ContentType string
	Email       string
	Stored      []byte
	StoredType  string
	Started     bool
	Token       string
}

// StartJobRecord is one call to the no-payment job-start endpoint.
type StartJobRecord struct {
	UploadID   string `json:"upload_id"`
	Token      string `json:"token"`
	Provider   string `json:"provider"`
	Priority   bool   `json:"priority"`
	Transcript bool   `json:"transcript"`
}

// PaymentRecord is one call to the payment-session endpoint.
type PaymentRecord struct {
	FileKey     string  `json:"file_key"`
	Provider    string  `json:"provider"`
	Priority    bool    `json:"priority"`
	Transcript  bool    `json:"transcript"`
	Email       string  `json:"email"`
	PromoCode   string  `json:"promo_code"`
	SizeBytes   int64   `json:"size_bytes"`
	DurationSec float64 `json:"duration_sec"`
	PriceCents  int64   `json:"price_cents"`
	Filename    string  `json:"filename"`
}

type Backend struct {
	mu   sync.Mutex
	jobs map[string]*job

	calls    map[string]int
	starts   []StartJobRecord
	payments []PaymentRecord
	emails   map[string]string

	registerFail   string
	storageStatus  int
	startFail      string
	paymentBody    map[string]any
	paymentStatus  int
	frames         []string
	closeAfter     bool
	frameDelay     time.Duration
	downloadFails  int
	downloadURL    string
	eventsOpened   chan string
	streamsActive  int
	streamsStarted int
}

func New() *Backend {
	return &Backend{
		jobs:         make(map[string]*job),
		calls:        make(map[string]int),
		emails:       make(map[string]string),
		eventsOpened: make(chan string, 64),
		frames: []string{
			`{"status":"queued","progress":0,"message":"Queued"}`,
			`{"status":"processing","progress":50,"message":"Compressing"}`,
			`{"status":"done","progress":100,"message":"Done"}`,
		},
	}
}

// Handler returns the routed backend wrapped the same way the production
// service wraps its mux.
func (b *Backend) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("POST /upload", b.handleUpload)
	mux.HandleFunc("PUT /storage/{id}", b.handleStoragePut)
	mux.HandleFunc("POST /update_email", b.handleUpdateEmail)
	mux.HandleFunc("POST /devtest", b.handleStartJob)
	mux.HandleFunc("POST /api/pay", b.handlePay)
	mux.HandleFunc("GET /events/{id}", b.handleEvents)
	mux.HandleFunc("GET /download/{id}", b.handleDownload)
	mux.HandleFunc("GET /files/{id}/{name}", b.handleFile)
	return corsMiddleware(obs.WrapHTTP("mailsized-stub", mux))
}

func (b *Backend) count(route string) {
	b.mu.Lock()
	b.calls[route]++
	b.mu.Unlock()
}

type uploadRequest struct {
	Filename    string  `json:"filename"`
	SizeBytes   int64   `json:"size_bytes"`
	DurationSec float64 `json:"duration_sec"`
	ContentType string  `json:"content_type"`
	Email       string  `json:"email"`
}

func (b *Backend) handleUpload(w http.ResponseWriter, r *http.Request) {
	b.count("upload")
	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "detail": "invalid json"})
		return
	}
	b.mu.Lock()
	fail := b.registerFail
	b.mu.Unlock()
	if fail != "" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "detail": fail})
		return
	}
	if strings.TrimSpace(req.Filename) == "" || req.SizeBytes <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "detail": "filename and size_bytes are required"})
		return
	}

	id := uuid.NewString()
	b.mu.Lock()
	b.jobs[id] = &job{
		ID:          id,
		Filename:    req.Filename,
		SizeBytes:   req.SizeBytes,
		DurationSec: req.DurationSec,
		ContentType: req.ContentType,
		Email:       req.Email,
	}
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":            true,
		"upload_id":     id,
		"presigned_url": baseURL(r) + "/storage/" + id,
	})
}

func (b *Backend) handleStoragePut(w http.ResponseWriter, r *http.Request) {
	b.count("storage")
	id := r.PathValue("id")
	b.mu.Lock()
	status := b.storageStatus
	j := b.jobs[id]
	b.mu.Unlock()
	if status != 0 {
		http.Error(w, "AccessDenied", status)
		return
	}
	if j == nil {
		http.Error(w, "NoSuchUpload", http.StatusNotFound)
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body failed", http.StatusBadRequest)
		return
	}
	b.mu.Lock()
	j.Stored = data
	j.StoredType = r.Header.Get("Content-Type")
	b.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (b *Backend) handleUpdateEmail(w http.ResponseWriter, r *http.Request) {
	b.count("update_email")
	var req struct {
		UploadID string `json:"upload_id"`
		Email    string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "detail": "invalid json"})
		return
	}
	b.mu.Lock()
	b.emails[req.UploadID] = req.Email
	if j := b.jobs[req.UploadID]; j != nil {
		j.Email = req.Email
	}
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (b *Backend) handleStartJob(w http.ResponseWriter, r *http.Request) {
	b.count("devtest")
	var req StartJobRecord
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid json"})
		return
	}
	b.mu.Lock()
	b.starts = append(b.starts, req)
	fail := b.startFail
	j := b.jobs[req.UploadID]
	if fail == "" && j != nil {
		j.Started = true
		j.Token = req.Token
	}
	b.mu.Unlock()
	if fail != "" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "error": fail})
		return
	}
	if j == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "detail": "Upload not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "upload_id": req.UploadID})
}

func (b *Backend) handlePay(w http.ResponseWriter, r *http.Request) {
	b.count("pay")
	var req PaymentRecord
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "invalid json"})
		return
	}
	b.mu.Lock()
	b.payments = append(b.payments, req)
	body := b.paymentBody
	status := b.paymentStatus
	b.mu.Unlock()
	if status == 0 {
		status = http.StatusOK
	}
	if body == nil {
		body = map[string]any{
			"checkout_url": baseURL(r) + "/checkout/" + newKey("cs") + "?upload_id=" + req.FileKey,
		}
	}
	writeJSON(w, status, body)
}

func (b *Backend) handleEvents(w http.ResponseWriter, r *http.Request) {
	b.count("events")
	id := r.PathValue("id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	b.mu.Lock()
	frames := append([]string(nil), b.frames...)
	closeAfter := b.closeAfter
	delay := b.frameDelay
	b.streamsActive++
	b.streamsStarted++
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.streamsActive--
		b.mu.Unlock()
	}()
	select {
	case b.eventsOpened <- id:
	default:
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, ": connected\n\n")
	flusher.Flush()

	for _, f := range frames {
		if delay > 0 {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(delay):
			}
		}
		for _, line := range strings.Split(f, "\n") {
			_, _ = fmt.Fprintf(w, "data: %s\n", line)
		}
		_, _ = io.WriteString(w, "\n")
		flusher.Flush()
	}
	if closeAfter {
		return
	}
	<-r.Context().Done()
}

func (b *Backend) handleDownload(w http.ResponseWriter, r *http.Request) {
	b.count("download")
	id := r.PathValue("id")
	b.mu.Lock()
	j := b.jobs[id]
	failing := b.downloadFails > 0
	if failing {
		b.downloadFails--
	}
	override := b.downloadURL
	b.mu.Unlock()
	if failing {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"detail": "Result not ready"})
		return
	}
	if override != "" {
		writeJSON(w, http.StatusOK, map[string]any{"url": override})
		return
	}
	if j == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Upload not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": fileURL(baseURL(r), j)})
}

func fileURL(base string, j *job) string {
	return base + "/files/" + j.ID + "/" + url.PathEscape("compressed-"+j.Filename)
}

func (b *Backend) handleFile(w http.ResponseWriter, r *http.Request) {
	b.count("files")
	b.mu.Lock()
	j := b.jobs[r.PathValue("id")]
	var data []byte
	if j != nil {
		data = append([]byte(nil), j.Stored...)
	}
	b.mu.Unlock()
	if j == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "video/mp4")
	_, _ = w.Write(data)
}

func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func newKey(prefix string) string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err == nil {
		return fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(buf))
	}
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}

func readEnvDefault(key, defaultVal string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	return val
}

func corsMiddleware(next http.Handler) http.Handler {
	allowOrigin := readEnvDefault("CORS_ALLOW_ORIGIN", "*")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
