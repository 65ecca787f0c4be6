package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/feedloom/curator/internal/config"
	"github.com/feedloom/curator/internal/domain"
	"github.com/feedloom/curator/internal/usecase"
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg      config.Config
	Feeds    usecase.FeedService
	Stats    usecase.StatsService
	Export   usecase.ExportService
	Training usecase.TrainingService
	DBCheck  func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers and checks wired.
func NewServer(cfg config.Config, feeds usecase.FeedService, stats usecase.StatsService, export usecase.ExportService, training usecase.TrainingService, dbCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Feeds: feeds, Stats: stats, Export: export, Training: training, DBCheck: dbCheck}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

type createFeedRequest struct {
	URL  string `json:"url" validate:"required,url"`
	Name string `json:"name" validate:"max=200"`
}

type feedResponse struct {
	ID              int64   `json:"id"`
	URL             string  `json:"url"`
	Name            string  `json:"name"`
	IntervalSeconds int64   `json:"interval_seconds"`
	LastChecked     *string `json:"last_checked"`
	Items           int64   `json:"items"`
}

func toFeedResponse(src domain.Source, items int64) feedResponse {
	out := feedResponse{
		ID:              src.ID,
		URL:             src.URL,
		Name:            src.Name,
		IntervalSeconds: int64(src.Interval / time.Second),
		Items:           items,
	}
	if src.LastChecked != nil {
		s := src.LastChecked.UTC().Format(time.RFC3339)
		out.LastChecked = &s
	}
	return out
}

// ListFeedsHandler returns every source with its item count.
func (s *Server) ListFeedsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		feeds, err := s.Feeds.List(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		out := make([]feedResponse, 0, len(feeds))
		for _, f := range feeds {
			out = append(out, toFeedResponse(f.Source, f.Items))
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"feeds": out})
	}
}

// CreateFeedHandler registers a new source for polling.
func (s *Server) CreateFeedHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createFeedRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json body", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), nil)
			return
		}
		src, err := s.Feeds.Add(r.Context(), req.URL, req.Name)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		LoggerFrom(r).Info("feed created", "id", src.ID, "url", src.URL)
		writeJSON(w, http.StatusCreated, toFeedResponse(src, 0))
	}
}

// DeleteFeedHandler removes a source and everything discovered from it.
func (s *Server) DeleteFeedHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil || id <= 0 {
			writeError(w, r, fmt.Errorf("%w: feed id must be a positive integer", domain.ErrInvalidArgument), nil)
			return
		}
		if err := s.Feeds.Delete(r.Context(), id); err != nil {
			writeError(w, r, err, nil)
			return
		}
		LoggerFrom(r).Info("feed deleted", "id", id)
		w.WriteHeader(http.StatusNoContent)
	}
}

type statsResponse struct {
	Sources        int64              `json:"sources"`
	Items          int64              `json:"items"`
	ItemsToday     int64              `json:"items_today"`
	ScoredToday    int64              `json:"scored_today"`
	Queues         map[string]int64   `json:"queues"`
	AvgItemsPerSrc float64            `json:"avg_items_per_source"`
	EmptySources   int64              `json:"empty_sources"`
	TopByItemCount []sourceCountEntry `json:"top_by_item_count"`
	TopByAvgRank   []sourceRankEntry  `json:"top_by_avg_rank"`
}

type sourceCountEntry struct {
	Name  string `json:"name"`
	Items int64  `json:"items"`
}

type sourceRankEntry struct {
	Name    string  `json:"name"`
	AvgRank float64 `json:"avg_rank"`
}

// StatsHandler serves the pipeline aggregate.
func (s *Server) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := s.Stats.Collect(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		out := statsResponse{
			Sources:        st.Sources,
			Items:          st.Items,
			ItemsToday:     st.ItemsToday,
			ScoredToday:    st.ScoredToday,
			Queues:         map[string]int64{},
			AvgItemsPerSrc: st.AvgItemsPerSrc,
			EmptySources:   st.EmptySources,
			TopByItemCount: []sourceCountEntry{},
			TopByAvgRank:   []sourceRankEntry{},
		}
		for q, n := range st.QueueSizes {
			out.Queues[string(q)] = n
		}
		for _, sc := range st.TopByItemCount {
			out.TopByItemCount = append(out.TopByItemCount, sourceCountEntry{Name: sc.Name, Items: sc.Items})
		}
		for _, sr := range st.TopByAvgRank {
			out.TopByAvgRank = append(out.TopByAvgRank, sourceRankEntry{Name: sr.Name, AvgRank: sr.AvgRank})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// ExportRSSHandler renders the curated RSS feed. The optional min_rank query
// parameter overrides the publish threshold as the export floor.
func (s *Server) ExportRSSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		minRank := s.Cfg.PublishThreshold
		if raw := r.URL.Query().Get("min_rank"); raw != "" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				writeError(w, r, fmt.Errorf("%w: min_rank must be a number", domain.ErrInvalidArgument), nil)
				return
			}
			minRank = v
		}
		out, err := s.Export.RenderRSS(r.Context(), minRank)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(out))
	}
}

// TrainingSyncHandler pulls the ranker's training set and applies it to
// stored items.
func (s *Server) TrainingSyncHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := s.Training.Sync(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		LoggerFrom(r).Info("training sync applied", "fetched", res.Fetched, "updated", res.Updated)
		writeJSON(w, http.StatusOK, map[string]int64{"fetched": res.Fetched, "updated": res.Updated})
	}
}

// ReadyzHandler reports readiness based on the store check.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if s.DBCheck != nil {
			if err := s.DBCheck(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unready", "db": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
