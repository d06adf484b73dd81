package dashboard

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"sync"

	"github.com/gorilla/sessions"
	"github.com/starfederation/datastar-go/datastar"

	"github.com/leapstack-labs/leapdash/internal/runner"
	"github.com/leapstack-labs/leapdash/internal/session"
	"github.com/leapstack-labs/leapdash/internal/ui/notifier"
)

const (
	// CookieName names the cookie holding the session id.
	CookieName = "leapdash"
	cookieKey  = "id"

	// MaxUploadBytes bounds the size of an uploaded CSV file.
	MaxUploadBytes = 32 << 20

	logTailBytes = 8 << 10
)

// Handlers provides HTTP handlers for the dashboard feature.
type Handlers struct {
	registry     *session.Registry
	sessionStore sessions.Store
	notifier     *notifier.Notifier
	logger       *slog.Logger
	isDev        bool

	// Last submitted app inputs per session, so re-renders triggered by
	// other updates keep the user's selections.
	mu     sync.Mutex
	inputs map[string]appInputs
}

type appInputs struct {
	generationID string
	values       url.Values
}

type generateSignals struct {
	Description string `json:"description"`
	Exploration bool   `json:"exploration"`
}

type explorationSignals struct {
	Exploration bool `json:"exploration"`
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(registry *session.Registry, sessionStore sessions.Store, notify *notifier.Notifier, logger *slog.Logger, isDev bool) *Handlers {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	h := &Handlers{
		registry:     registry,
		sessionStore: sessionStore,
		notifier:     notify,
		logger:       logger,
		isDev:        isDev,
		inputs:       make(map[string]appInputs),
	}
	registry.OnClose(h.forget)
	return h
}

// forget drops the inputs kept for a closed session.
func (h *Handlers) forget(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.inputs, id)
}

// Page renders the full dashboard page for the caller's session.
func (h *Handlers) Page(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	v := h.pageView(r, s)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := Page(v).Render(r.Context(), w); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Updates is the long-lived SSE endpoint. It pushes the content column and
// the busy signal whenever the session changes or the app log grows.
func (h *Handlers) Updates(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	updates := h.notifier.Subscribe(s.ID())
	defer h.notifier.Unsubscribe(s.ID(), updates)

	sse := datastar.NewSSE(w, r)
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-updates:
			if err := h.sendContent(sse, r, s); err != nil {
				_ = sse.ConsoleError(err)
			}
		}
	}
}

// Upload stores the posted CSV file in the session.
func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	if err := r.ParseMultipartForm(MaxUploadBytes); err != nil {
		http.Error(w, fmt.Sprintf("invalid upload: %v", err), http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer func() { _ = file.Close() }()

	uploadErr := s.Upload(r.Context(), header.Filename, file)
	if uploadErr != nil {
		h.logger.Warn("upload failed", "session", s.ID(), "file", header.Filename, "error", uploadErr)
	}

	if r.Header.Get("Datastar-Request") != "true" {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	sse := datastar.NewSSE(w, r)
	if err := h.sendContent(sse, r, s); err != nil {
		_ = sse.ConsoleError(err)
	}
}

// Generate runs the pipeline for the caller's session. Busy status is
// relayed as the busy signal while the request is open.
func (h *Handlers) Generate(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var signals generateSignals
	if err := datastar.ReadSignals(r, &signals); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sse := datastar.NewSSE(w, r)
	sink := &statusSink{sse: sse}
	defer sink.close()

	err = s.Generate(r.Context(), session.GenerateRequest{
		Description: signals.Description,
		Exploration: signals.Exploration,
	}, sink)

	switch {
	case errors.Is(err, session.ErrBusy):
		_ = sse.PatchElementTempl(Notice(PageView{Notice: session.Message(err)}))
		return
	case r.Context().Err() != nil:
		return
	}
	sink.close()
	if err := h.sendContent(sse, r, s); err != nil {
		_ = sse.ConsoleError(err)
	}
}

// Exploration records the exploration toggle and refreshes the data panel.
func (h *Handlers) Exploration(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var signals explorationSignals
	if err := datastar.ReadSignals(r, &signals); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.SetExploration(signals.Exploration)

	sse := datastar.NewSSE(w, r)
	if err := h.sendContent(sse, r, s); err != nil {
		_ = sse.ConsoleError(err)
	}
}

// RenderApp re-renders the in-process app for the submitted input values.
func (h *Handlers) RenderApp(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	view := s.View()
	if view.Result.App != nil {
		h.mu.Lock()
		h.inputs[s.ID()] = appInputs{generationID: view.GenerationID, values: r.PostForm}
		h.mu.Unlock()
	}

	sse := datastar.NewSSE(w, r)
	if err := sse.PatchElementTempl(AppRoot(h.pageView(r, s))); err != nil {
		_ = sse.ConsoleError(err)
	}
}

// Download serves the last generated app as an attachment.
func (h *Handlers) Download(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	path, ok := s.Download()
	if !ok {
		http.Error(w, NoArtifactMessage, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/x-python; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeFile(w, r, path)
}

// session resolves the caller's session from the cookie, creating both when
// missing. It must run before any response bytes are written.
func (h *Handlers) session(w http.ResponseWriter, r *http.Request) (*session.Session, error) {
	cookie, err := h.sessionStore.Get(r, CookieName)
	if err != nil && cookie == nil {
		return nil, fmt.Errorf("read session cookie: %w", err)
	}

	id, _ := cookie.Values[cookieKey].(string)
	s := h.registry.GetOrCreate(id)
	if id != s.ID() {
		cookie.Values[cookieKey] = s.ID()
		if err := cookie.Save(r, w); err != nil {
			return nil, fmt.Errorf("save session cookie: %w", err)
		}
	}
	return s, nil
}

func (h *Handlers) sendContent(sse *datastar.ServerSentEventGenerator, r *http.Request, s *session.Session) error {
	v := h.pageView(r, s)
	if err := sse.MarshalAndPatchSignals(map[string]any{"busy": v.View.Busy}); err != nil {
		return err
	}
	if err := sse.PatchElementTempl(Notice(v)); err != nil {
		return err
	}
	return sse.PatchElementTempl(Content(v))
}

// pageView snapshots the session and renders what the page embeds: the
// in-process app for the last submitted inputs and the app log tail.
func (h *Handlers) pageView(r *http.Request, s *session.Session) PageView {
	v := PageView{View: s.View(), IsDev: h.isDev}

	if app := v.View.Result.App; app != nil {
		h.mu.Lock()
		in, ok := h.inputs[s.ID()]
		h.mu.Unlock()
		var values url.Values
		if ok && in.generationID == v.View.GenerationID {
			values = in.values
		}
		html, err := app.Render(r.Context(), values)
		if err != nil {
			v.AppError = err.Error()
		}
		v.AppHTML = html
	}

	if path := v.View.Result.LogPath; path != "" {
		tail, err := runner.Tail(path, logTailBytes)
		if err != nil {
			h.logger.Debug("read app log", "path", path, "error", err)
		}
		v.LogTail = tail
	}
	return v
}

// statusSink relays session status as the busy signal. The session actor
// may report after the request has ended, so writes stop once closed.
type statusSink struct {
	mu     sync.Mutex
	sse    *datastar.ServerSentEventGenerator
	closed bool
}

func (s *statusSink) SendStatus(st session.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	_ = s.sse.MarshalAndPatchSignals(map[string]any{"busy": st.Show})
}

func (s *statusSink) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
