package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bryan-buckman/gleaner/internal/database"
	"github.com/bryan-buckman/gleaner/internal/model"
	"github.com/bryan-buckman/gleaner/internal/opml"
	"github.com/bryan-buckman/gleaner/internal/retention"
)

// errBadRequest marks client errors.
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...interface{}) error {
	return errors.Wrapf(errBadRequest, format, args...)
}

// --- Tree and items ---

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	subs, err := s.db.GetSubscriptions(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, subs)
}

func (s *Server) handleFeedItems(w http.ResponseWriter, r *http.Request) {
	feed, err := s.feedParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	hidden := false
	if v := r.URL.Query().Get("hidden"); v != "" {
		if hidden, err = strconv.ParseBool(v); err != nil {
			s.writeError(w, r, badRequest("hidden=%q", v))
			return
		}
	}
	items, err := s.db.GetItems(r.Context(), feed.ID, hidden)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if items == nil {
		items = []model.Item{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"feed":  feed,
		"items": items,
	})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemIDs   []int64 `json:"item_ids"`
		Propagate bool    `json:"propagate"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(req.ItemIDs) == 0 {
		s.writeError(w, r, badRequest("item_ids is empty"))
		return
	}
	if err := s.db.SetItemsState(r.Context(), req.ItemIDs, model.StateRead, req.Propagate); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "updated": len(req.ItemIDs)})
}

func (s *Server) handlePin(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "itemID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		Pinned bool `json:"pinned"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.db.SetItemPinned(r.Context(), id, req.Pinned); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeItem(w, r, id)
}

func (s *Server) handleLabels(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "itemID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		Labels []string `json:"labels"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.db.SetItemLabels(r.Context(), id, req.Labels); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeItem(w, r, id)
}

func (s *Server) writeItem(w http.ResponseWriter, r *http.Request, id int64) {
	item, err := s.db.GetItemByID(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, item)
}

// --- Preferences ---

type preferencesView struct {
	FeedID    int64             `json:"feed_id,omitempty"`
	Overrides map[string]string `json:"overrides"`
	Resolved  retention.Config  `json:"resolved"`
}

func (s *Server) preferences(ctx context.Context, scope model.Scope) (*preferencesView, error) {
	all, err := s.db.Preferences(ctx, scope)
	if err != nil {
		return nil, err
	}
	view := &preferencesView{FeedID: scope.FeedID, Overrides: make(map[string]string)}
	for k, v := range all {
		if model.IsRetentionKey(k) {
			view.Overrides[k] = v
		}
	}
	view.Resolved, err = s.engine.Resolver().Resolve(ctx, scope.FeedID)
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (s *Server) savePreferences(w http.ResponseWriter, r *http.Request, scope model.Scope) {
	var values map[string]string
	if err := decode(r, &values); err != nil {
		s.writeError(w, r, err)
		return
	}
	for k, v := range values {
		if err := validatePreference(k, v); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if err := s.db.SetPreferences(r.Context(), scope, values); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writePreferences(w, r, scope)
}

func (s *Server) writePreferences(w http.ResponseWriter, r *http.Request, scope model.Scope) {
	view, err := s.preferences(r.Context(), scope)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

// validatePreference checks the key is a retention key and the value parses
// the way the resolver reads it.
func validatePreference(key, value string) error {
	if !model.IsRetentionKey(key) {
		return badRequest("unknown preference %q", key)
	}
	var err error
	switch key {
	case model.PrefAgeDays, model.PrefCountMax:
		_, err = strconv.Atoi(value)
	default:
		_, err = strconv.ParseBool(value)
	}
	if err != nil {
		return badRequest("invalid value %q for %s", value, key)
	}
	return nil
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	s.writePreferences(w, r, model.GlobalScope)
}

func (s *Server) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	s.savePreferences(w, r, model.GlobalScope)
}

func (s *Server) handleGetFeedPreferences(w http.ResponseWriter, r *http.Request) {
	feed, err := s.feedParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writePreferences(w, r, model.FeedScope(feed.ID))
}

func (s *Server) handlePutFeedPreferences(w http.ResponseWriter, r *http.Request) {
	feed, err := s.feedParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.savePreferences(w, r, model.FeedScope(feed.ID))
}

func (s *Server) handleDeleteFeedPreferences(w http.ResponseWriter, r *http.Request) {
	feed, err := s.feedParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	scope := model.FeedScope(feed.ID)
	if err := s.db.DeletePreferences(r.Context(), scope); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writePreferences(w, r, scope)
}

// --- Retention ---

func (s *Server) handleRunAll(w http.ResponseWriter, r *http.Request) {
	summary, err := s.engine.ProcessAll(r.Context())
	s.writeSummary(w, r, summary, err)
}

func (s *Server) handleRunFolder(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "folderID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	folder, err := s.db.GetFolderByID(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	summary, err := s.engine.ProcessFolder(r.Context(), *folder)
	s.writeSummary(w, r, summary, err)
}

func (s *Server) writeSummary(w http.ResponseWriter, r *http.Request, summary *retention.Summary, err error) {
	if summary != nil {
		s.journal.record(summary.Reports...)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleRunFeed(w http.ResponseWriter, r *http.Request) {
	feed, err := s.feedParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	report, err := s.engine.ProcessFeed(r.Context(), *feed)
	if report != nil {
		s.journal.record(report)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	report, ok := s.journal.take(runID)
	if !ok {
		s.writeError(w, r, errors.Wrapf(database.ErrNotFound, "retention run %q", runID))
		return
	}
	if err := report.Transition.Revert(r.Context(), s.db); err != nil {
		s.journal.record(report)
		s.writeError(w, r, err)
		return
	}
	s.logger.WithFields(logrus.Fields{
		"run_id":   runID,
		"feed_id":  report.FeedID,
		"restored": report.Transition.Len(),
	}).Info("retention run undone")
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"run_id":   runID,
		"restored": report.Transition.Len(),
	})
}

// --- OPML and feeds ---

func (s *Server) handleImportOPML(w http.ResponseWriter, r *http.Request) {
	file, _, err := r.FormFile("opml")
	if err != nil {
		s.writeError(w, r, badRequest("no file provided"))
		return
	}
	defer file.Close()

	entries, err := opml.Parse(file)
	if err != nil {
		s.writeError(w, r, badRequest("parse OPML: %v", err))
		return
	}
	res, err := opml.Import(r.Context(), s.db, entries)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"imported": res.Created,
		"total":    res.Feeds,
	})
}

func (s *Server) handleExportOPML(w http.ResponseWriter, r *http.Request) {
	subs, err := s.db.GetSubscriptions(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	data, err := opml.Export("Gleaner Feeds", subs, time.Now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", "attachment; filename=gleaner-feeds.opml")
	w.Write(data)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), refreshTimeout)
	defer cancel()

	results, err := s.fetcher.FetchAll(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	total := 0
	for _, c := range results {
		total += c
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"new_items": total,
		"feeds":     len(results),
	})
}

// --- Settings ---

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	interval, err := s.db.GetPollingInterval(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"polling_interval": interval})
}

func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PollingInterval int `json:"polling_interval"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	// Enforce minimum.
	if req.PollingInterval < database.DefaultPollingInterval {
		req.PollingInterval = database.DefaultPollingInterval
	}
	err := s.db.SetPreference(r.Context(), model.GlobalScope, model.SettingPollingInterval, strconv.Itoa(req.PollingInterval))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "polling_interval": req.PollingInterval})
}

// --- Helpers ---

func (s *Server) feedParam(r *http.Request) (*model.Feed, error) {
	id, err := idParam(r, "feedID")
	if err != nil {
		return nil, err
	}
	return s.db.GetFeedByID(r.Context(), id)
}

func idParam(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid %s %q", name, raw)
	}
	return id, nil
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequest("decode request: %v", err)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Warn("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, model.ErrInvalidState):
		status = http.StatusBadRequest
	case errors.Is(err, database.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithField("path", r.URL.Path).Error("request failed")
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
