package assistant

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/malakmagdy1/RealStateFlutter/internal/catalog"
	"github.com/malakmagdy1/RealStateFlutter/internal/models"
	"github.com/malakmagdy1/RealStateFlutter/internal/prompt"
)

// Preferences describe what a client is looking for. Zero values are ignored.
type Preferences struct {
	MinPrice   float64 `json:"min_price"`
	MaxPrice   float64 `json:"max_price"`
	MinArea    float64 `json:"min_area"`
	MaxArea    float64 `json:"max_area"`
	Bedrooms   int     `json:"bedrooms"`
	UnitType   string  `json:"unit_type"`
	Location   string  `json:"location"`
	CompoundID int64   `json:"compound_id"`
}

func (p Preferences) filter() catalog.Filter {
	return catalog.Filter{
		MinPrice:      p.MinPrice,
		MaxPrice:      p.MaxPrice,
		MinArea:       p.MinArea,
		MaxArea:       p.MaxArea,
		Bedrooms:      p.Bedrooms,
		UnitType:      p.UnitType,
		Location:      p.Location,
		CompoundID:    p.CompoundID,
		AvailableOnly: true,
	}
}

func (p Preferences) matches(u *models.Unit) bool {
	switch {
	case !u.Available:
		return false
	case p.MinPrice > 0 && u.Price < p.MinPrice:
		return false
	case p.MaxPrice > 0 && u.Price > p.MaxPrice:
		return false
	case p.MinArea > 0 && u.Area < p.MinArea:
		return false
	case p.MaxArea > 0 && u.Area > p.MaxArea:
		return false
	case p.Bedrooms > 0 && u.Bedrooms != p.Bedrooms:
		return false
	case p.UnitType != "" && !strings.EqualFold(u.UnitType, p.UnitType):
		return false
	case p.Location != "" && !strings.Contains(strings.ToLower(u.Location), strings.ToLower(p.Location)):
		return false
	case p.CompoundID > 0 && u.CompoundID != p.CompoundID:
		return false
	}
	return true
}

func (p Preferences) record() prompt.Record {
	r := prompt.Record{Title: "preferences"}
	add := func(key, value string) {
		r.Fields = append(r.Fields, prompt.Field{Key: key, Value: value})
	}
	if p.MinPrice > 0 {
		add("min_price", prompt.FormatAmount(p.MinPrice)+" EGP")
	}
	if p.MaxPrice > 0 {
		add("max_price", prompt.FormatAmount(p.MaxPrice)+" EGP")
	}
	if p.MinArea > 0 {
		add("min_area", prompt.FormatAmount(p.MinArea)+" m²")
	}
	if p.MaxArea > 0 {
		add("max_area", prompt.FormatAmount(p.MaxArea)+" m²")
	}
	if p.Bedrooms > 0 {
		add("bedrooms", strconv.Itoa(p.Bedrooms))
	}
	if p.UnitType != "" {
		add("unit_type", p.UnitType)
	}
	if p.Location != "" {
		add("location", p.Location)
	}
	return r
}

type RecommendRequest struct {
	Preferences Preferences
	// Candidates, when set, are filtered instead of querying the catalog.
	Candidates []*models.Unit
	Limit      int
	Language   string
}

type RecommendResult struct {
	Units    []*models.Unit
	Analysis string
}

// Recommend ranks units matching the preferences. With no matching unit the
// provider is not called and Analysis is empty.
func (s *Service) Recommend(ctx context.Context, userID int64, req RecommendRequest) (*RecommendResult, error) {
	limit := req.Limit
	if limit == 0 {
		limit = DefaultRecommend
	}
	if limit < 0 || limit > MaxRecommendLimit {
		return nil, validation("limit must be between 1 and %d", MaxRecommendLimit)
	}

	var units []*models.Unit
	if req.Candidates != nil {
		for _, u := range req.Candidates {
			if u != nil && req.Preferences.matches(u) {
				units = append(units, u)
			}
			if len(units) == limit {
				break
			}
		}
	} else {
		if s.catalog == nil {
			return nil, validation("candidates are required")
		}
		var err error
		units, err = s.catalog.SearchUnits(ctx, req.Preferences.filter(), limit)
		if err != nil {
			s.log.Error("recommendation search failed", "user_id", userID, "error", err)
			return nil, err
		}
	}
	if len(units) == 0 {
		return &RecommendResult{Units: []*models.Unit{}}, nil
	}

	tpl := s.builder.Templates()
	records := make([]prompt.Record, len(units))
	for i, u := range units {
		records[i] = prompt.UnitRecord(u)
	}
	analysis, err := s.runTask(ctx, userID, req.Language, prompt.PersonaGeneral, prompt.TaskRecommend, map[string]any{
		"preferences": tpl.Render(req.Language, []prompt.Record{req.Preferences.record()}),
		"units":       tpl.Render(req.Language, records),
	}, 0)
	if err != nil {
		return nil, err
	}
	return &RecommendResult{Units: units, Analysis: analysis}, nil
}

type DescribeRequest struct {
	Property PropertyInput
	Language string
	Style    string
}

// Describe writes a marketing description in one of the known styles.
func (s *Service) Describe(ctx context.Context, userID int64, req DescribeRequest) (string, error) {
	style := strings.ToLower(strings.TrimSpace(req.Style))
	if style == "" {
		style = DefaultStyle
	}
	tpl := s.builder.Templates()
	if !tpl.HasStyle(style) {
		return "", validation("unknown style %q", req.Style)
	}
	rec, _, err := s.record(ctx, req.Property)
	if err != nil {
		return "", err
	}
	return s.runTask(ctx, userID, req.Language, prompt.PersonaGeneral, prompt.TaskDescribe, map[string]any{
		"style":    tpl.Style(req.Language, style),
		"property": tpl.Render(req.Language, []prompt.Record{rec}),
	}, 0)
}

type AskRequest struct {
	Question   string
	UnitID     int64
	CompoundID int64
	// Context is extra caller-supplied domain data.
	Context  []prompt.Record
	Language string
}

// Ask answers a free-form question, optionally about one unit or compound.
func (s *Service) Ask(ctx context.Context, userID int64, req AskRequest) (string, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return "", validation("question is required")
	}
	if utf8.RuneCountInString(question) > MaxQuestionRunes {
		return "", validation("question must be at most %d characters", MaxQuestionRunes)
	}

	records := append([]prompt.Record(nil), req.Context...)
	if req.UnitID > 0 {
		rec, _, err := s.record(ctx, PropertyInput{UnitID: req.UnitID})
		if err != nil {
			return "", err
		}
		records = append(records, rec)
	}
	if req.CompoundID > 0 {
		if s.catalog == nil {
			return "", validation("compound lookups are not available")
		}
		comp, err := s.catalog.GetCompound(ctx, req.CompoundID)
		if err != nil {
			return "", err
		}
		records = append(records, prompt.CompoundRecord(comp))
	}

	text, err := s.builder.Task(ctx, req.Language, prompt.TaskAsk, map[string]any{"question": question})
	if err != nil {
		return "", err
	}
	payload := s.builder.BuildTurn(req.Language, prompt.PersonaGeneral, nil, records, text)
	answer, err := s.generate(ctx, userID, payload, 0)
	if err != nil {
		s.log.Error("ask inference failed", "user_id", userID, "error", err)
		return "", err
	}
	return answer, nil
}

type CompareRequest struct {
	Properties []PropertyInput
	Language   string
}

type CompareResult struct {
	Units      []*models.Unit
	Comparison string
}

// Compare contrasts two to five properties. Any other count is rejected.
func (s *Service) Compare(ctx context.Context, userID int64, req CompareRequest) (*CompareResult, error) {
	n := len(req.Properties)
	if n < MinCompareUnits || n > MaxCompareUnits {
		return nil, validation("compare needs between %d and %d properties, got %d", MinCompareUnits, MaxCompareUnits, n)
	}
	records := make([]prompt.Record, 0, n)
	units := make([]*models.Unit, 0, n)
	for _, p := range req.Properties {
		rec, unit, err := s.record(ctx, p)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
		if unit != nil {
			units = append(units, unit)
		}
	}
	comparison, err := s.runTask(ctx, userID, req.Language, prompt.PersonaComparison, prompt.TaskCompare, map[string]any{
		"count": n,
		"units": s.builder.Templates().Render(req.Language, records),
	}, 0)
	if err != nil {
		return nil, err
	}
	return &CompareResult{Units: units, Comparison: comparison}, nil
}

type MarketRequest struct {
	// Stats, when set, is used as is; otherwise it is aggregated from the
	// catalog for CompoundID, Location, or the whole market.
	Stats      *models.MarketStats
	CompoundID int64
	Location   string
	Language   string
}

type MarketResult struct {
	Stats   *models.MarketStats
	Insight string
}

// MarketInsight analyses aggregate price statistics.
func (s *Service) MarketInsight(ctx context.Context, userID int64, req MarketRequest) (*MarketResult, error) {
	stats := req.Stats
	var records []prompt.Record
	if stats == nil {
		if s.catalog == nil {
			return nil, validation("market statistics are required")
		}
		var err error
		switch {
		case req.CompoundID > 0:
			var comp *models.Compound
			if comp, err = s.catalog.GetCompound(ctx, req.CompoundID); err == nil {
				records = append(records, prompt.CompoundRecord(comp))
				stats, err = s.catalog.CompoundStats(ctx, comp)
			}
		case strings.TrimSpace(req.Location) != "":
			stats, err = s.catalog.LocationStats(ctx, req.Location)
		default:
			stats, err = s.catalog.MarketStats(ctx)
		}
		if err != nil {
			if !errors.Is(err, catalog.ErrNotFound) {
				s.log.Error("market statistics failed", "user_id", userID, "error", err)
			}
			return nil, err
		}
	}
	records = append(records, prompt.StatsRecord(stats))

	insight, err := s.runTask(ctx, userID, req.Language, prompt.PersonaGeneral, prompt.TaskMarket, map[string]any{
		"stats": s.builder.Templates().Render(req.Language, records),
	}, 0)
	if err != nil {
		return nil, err
	}
	return &MarketResult{Stats: stats, Insight: insight}, nil
}

type SalesRequest struct {
	Message  string
	Language string
}

// SalesAssist gives a short reply an agent can use live on a call.
func (s *Service) SalesAssist(ctx context.Context, userID int64, req SalesRequest) (string, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return "", validation("message is required")
	}
	if utf8.RuneCountInString(message) > MaxQuestionRunes {
		return "", validation("message must be at most %d characters", MaxQuestionRunes)
	}
	payload := s.builder.BuildTurn(req.Language, prompt.PersonaSales, nil, nil, message)
	reply, err := s.generate(ctx, userID, payload, SalesMaxTokens)
	if err != nil {
		s.log.Error("sales inference failed", "user_id", userID, "error", err)
		return "", err
	}
	return reply, nil
}

func (s *Service) runTask(ctx context.Context, userID int64, lang string, persona prompt.Persona, task prompt.Task, vars map[string]any, maxTokens int) (string, error) {
	payload, err := s.builder.TaskPayload(ctx, lang, persona, task, vars)
	if err != nil {
		return "", err
	}
	text, err := s.generate(ctx, userID, payload, maxTokens)
	if err != nil {
		s.log.Error("task inference failed", "user_id", userID, "task", string(task), "error", err)
		return "", err
	}
	return text, nil
}
