package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-social-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-social-crawler/internal/keyword"
	"github.com/JakeFAU/realtime-social-crawler/internal/orchestrator"
)

const (
	defaultErrorHours     = 24
	defaultRateLimitHours = 24
	maxSuggestions        = 10
)

func platformParam(r *http.Request) string {
	return chi.URLParam(r, "platform")
}

func (s *Server) platform(w http.ResponseWriter, r *http.Request) (crawler.Platform, bool) {
	p, err := crawler.ParsePlatform(platformParam(r))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return p, true
}

func intQuery(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return v, nil
}

func (s *Server) rateLimitStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := s.platform(w, r)
	if !ok {
		return
	}
	status, err := s.limits.Status(r.Context(), p)
	if err != nil {
		s.logger.Error("rate limit status failed", zap.String("platform", string(p)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read rate limits")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"platform": p, "endpoints": status})
}

func (s *Server) rateLimitStatistics(w http.ResponseWriter, r *http.Request) {
	hours, err := intQuery(r, "hours", defaultRateLimitHours)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stats, err := s.limits.Statistics(r.Context(), s.clock.Now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		s.logger.Error("rate limit statistics failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read rate limit statistics")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) clearRateLimits(w http.ResponseWriter, r *http.Request) {
	p, ok := s.platform(w, r)
	if !ok {
		return
	}
	if err := s.limits.Clear(r.Context(), p); err != nil {
		s.logger.Error("clear rate limits failed", zap.String("platform", string(p)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to clear rate limits")
		return
	}
	s.logger.Info("rate limits cleared", zap.String("platform", string(p)))
	writeJSON(w, http.StatusOK, map[string]string{"platform": string(p), "status": "cleared"})
}

func (s *Server) errorStats(w http.ResponseWriter, r *http.Request) {
	p, ok := s.platform(w, r)
	if !ok {
		return
	}
	hours, err := intQuery(r, "hours", defaultErrorHours)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.errors.Stats(r.Context(), p, hours))
}

func (s *Server) trending(w http.ResponseWriter, r *http.Request) {
	var platform crawler.Platform
	if raw := r.URL.Query().Get("platform"); raw != "" {
		p, err := crawler.ParsePlatform(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		platform = p
	}
	hours, err := intQuery(r, "hours", orchestrator.DefaultTrendHours)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	trends, err := s.crawler.TrendingTopics(r.Context(), platform, hours)
	if err != nil {
		s.logger.Error("trending topics failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to compute trends")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trends": trends})
}

func (s *Server) statistics(w http.ResponseWriter, r *http.Request) {
	days, err := intQuery(r, "days", orchestrator.DefaultStatsDays)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stats, err := s.crawler.Statistics(r.Context(), days)
	if err != nil {
		s.logger.Error("statistics failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to compute statistics")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.crawler.Job(r.Context(), chi.URLParam(r, "job_id"))
	if errors.Is(err, crawler.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) triggerCrawl(w http.ResponseWriter, r *http.Request) {
	p, ok := s.platform(w, r)
	if !ok {
		return
	}
	job, err := s.crawler.TriggerCrawl(r.Context(), p)
	switch {
	case errors.Is(err, orchestrator.ErrPlatformBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, crawler.ErrNotFound) && job.ID == "":
		writeError(w, http.StatusNotFound, "no crawler config for "+string(p))
	case err != nil && job.ID == "":
		writeError(w, http.StatusInternalServerError, err.Error())
	case err != nil:
		writeJSON(w, http.StatusBadGateway, map[string]any{"job": job, "error": err.Error()})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"job": job})
	}
}

type searchRequest struct {
	Keywords      []string `json:"keywords"`
	Platforms     []string `json:"platforms"`
	MaxResults    int      `json:"max_results"`
	LookbackHours int      `json:"lookback_hours"`
}

type monitorRequest struct {
	Accounts []struct {
		Platform string `json:"platform"`
		Identity string `json:"identity"`
	} `json:"accounts"`
	MaxResults    int `json:"max_results"`
	LookbackHours int `json:"lookback_hours"`
}

func searchOptions(maxResults, lookbackHours int) orchestrator.SearchOptions {
	return orchestrator.SearchOptions{
		MaxResults: maxResults,
		Lookback:   time.Duration(lookbackHours) * time.Hour,
	}
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	platforms := make([]crawler.Platform, 0, len(req.Platforms))
	for _, raw := range req.Platforms {
		p, err := crawler.ParsePlatform(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		platforms = append(platforms, p)
	}
	results, err := s.crawler.SearchKeywords(r.Context(), req.Keywords, platforms, searchOptions(req.MaxResults, req.LookbackHours))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) monitor(w http.ResponseWriter, r *http.Request) {
	var req monitorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	accounts := make([]orchestrator.Account, 0, len(req.Accounts))
	for _, acc := range req.Accounts {
		p, err := crawler.ParsePlatform(acc.Platform)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if acc.Identity == "" {
			writeError(w, http.StatusBadRequest, "account identity required")
			return
		}
		accounts = append(accounts, orchestrator.Account{Platform: p, Identity: acc.Identity})
	}
	results, err := s.crawler.MonitorAccounts(r.Context(), accounts, searchOptions(req.MaxResults, req.LookbackHours))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

type analyzeRequest struct {
	Content   string   `json:"content"`
	Keywords  []string `json:"keywords"`
	Sentiment string   `json:"sentiment_strategy"`
}

type analyzeResponse struct {
	Matches     []keyword.Match   `json:"matches"`
	Entities    keyword.Entities  `json:"entities"`
	Sentiment   keyword.Sentiment `json:"sentiment"`
	Suggestions []string          `json:"suggested_keywords"`
}

// analyze runs the keyword engine over ad hoc content without persisting anything.
func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		writeError(w, http.StatusBadRequest, "content required")
		return
	}
	strategy, err := keyword.NewSentimentStrategy(req.Sentiment)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	matches := keyword.MatchKeywords(req.Content, req.Keywords, keyword.Options{})
	if matches == nil {
		matches = []keyword.Match{}
	}
	writeJSON(w, http.StatusOK, analyzeResponse{
		Matches:     matches,
		Entities:    keyword.ExtractEntities(req.Content),
		Sentiment:   strategy.Analyze(req.Content),
		Suggestions: keyword.SuggestKeywords(req.Content, maxSuggestions),
	})
}
