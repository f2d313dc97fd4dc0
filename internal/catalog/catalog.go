package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/malakmagdy1/RealStateFlutter/internal/logger"
	"github.com/malakmagdy1/RealStateFlutter/internal/models"
	"github.com/malakmagdy1/RealStateFlutter/internal/redis"
	"github.com/malakmagdy1/RealStateFlutter/internal/storage"
)

var (
	ErrNotFound = errors.New("property not found")
	ErrStore    = errors.New("catalog unavailable")
)

const (
	DefaultSearchLimit = 10
	MaxSearchLimit     = 50
	statsTTL           = 10 * time.Minute
)

// StatsCache is the subset of the redis client used for aggregate caching.
type StatsCache interface {
	GetJSON(ctx context.Context, key string, v interface{}) error
	SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error
}

// Filter narrows SearchUnits. Zero values are ignored.
type Filter struct {
	MinPrice      float64
	MaxPrice      float64
	MinArea       float64
	MaxArea       float64
	Bedrooms      int
	UnitType      string
	Location      string
	CompoundID    int64
	AvailableOnly bool
}

// Catalog reads units, compounds and developers. It never writes.
type Catalog struct {
	db      *sql.DB
	dialect storage.Dialect
	cache   StatsCache
	log     *logger.Logger
}

func New(db *sql.DB, dialect storage.Dialect, cache StatsCache, log *logger.Logger) *Catalog {
	return &Catalog{
		db:      db,
		dialect: dialect,
		cache:   cache,
		log:     log.With("component", "Catalog"),
	}
}

const unitColumns = `u.id, COALESCE(u.compound_id, 0), u.unit_number, u.unit_type, u.area, u.price,
	u.bedrooms, u.bathrooms, u.floor, u.status, u.view, u.finishing, u.delivery_date, u.available,
	COALESCE(c.project, ''), COALESCE(c.location, ''), COALESCE(co.name, '')`

const unitFrom = ` FROM units u
	LEFT JOIN compounds c ON c.id = u.compound_id
	LEFT JOIN companies co ON co.id = c.company_id`

// GetUnit loads one unit with its compound and developer names.
func (c *Catalog) GetUnit(ctx context.Context, id int64) (*models.Unit, error) {
	row := c.db.QueryRowContext(ctx, c.dialect.Rebind(`SELECT `+unitColumns+unitFrom+` WHERE u.id = ?`), id)
	unit, err := scanUnit(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("unit %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get unit: %w: %w", ErrStore, err)
	}
	return unit, nil
}

// GetUnits loads the units in the order of ids. Any missing id is ErrNotFound.
func (c *Catalog) GetUnits(ctx context.Context, ids []int64) ([]*models.Unit, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := c.db.QueryContext(ctx,
		c.dialect.Rebind(`SELECT `+unitColumns+unitFrom+` WHERE u.id IN (`+placeholders+`)`), args...)
	if err != nil {
		return nil, fmt.Errorf("get units: %w: %w", ErrStore, err)
	}
	defer rows.Close()

	byID := make(map[int64]*models.Unit, len(ids))
	for rows.Next() {
		unit, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan unit: %w: %w", ErrStore, err)
		}
		byID[unit.ID] = unit
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get units: %w: %w", ErrStore, err)
	}

	units := make([]*models.Unit, 0, len(ids))
	for _, id := range ids {
		unit, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("unit %d: %w", id, ErrNotFound)
		}
		units = append(units, unit)
	}
	return units, nil
}

// SearchUnits returns units matching f, cheapest first.
func (c *Catalog) SearchUnits(ctx context.Context, f Filter, limit int) ([]*models.Unit, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}
	where, args := f.clauses()
	query := `SELECT ` + unitColumns + unitFrom + where + ` ORDER BY u.price ASC, u.id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := c.db.QueryContext(ctx, c.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("search units: %w: %w", ErrStore, err)
	}
	defer rows.Close()

	var units []*models.Unit
	for rows.Next() {
		unit, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan unit: %w: %w", ErrStore, err)
		}
		units = append(units, unit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search units: %w: %w", ErrStore, err)
	}
	return units, nil
}

func (f Filter) clauses() (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	if f.MinPrice > 0 {
		conds = append(conds, "u.price >= ?")
		args = append(args, f.MinPrice)
	}
	if f.MaxPrice > 0 {
		conds = append(conds, "u.price <= ?")
		args = append(args, f.MaxPrice)
	}
	if f.MinArea > 0 {
		conds = append(conds, "u.area >= ?")
		args = append(args, f.MinArea)
	}
	if f.MaxArea > 0 {
		conds = append(conds, "u.area <= ?")
		args = append(args, f.MaxArea)
	}
	if f.Bedrooms > 0 {
		conds = append(conds, "u.bedrooms = ?")
		args = append(args, f.Bedrooms)
	}
	if f.UnitType != "" {
		conds = append(conds, "LOWER(u.unit_type) = ?")
		args = append(args, strings.ToLower(f.UnitType))
	}
	if f.Location != "" {
		conds = append(conds, "LOWER(c.location) LIKE ?")
		args = append(args, "%"+strings.ToLower(f.Location)+"%")
	}
	if f.CompoundID > 0 {
		conds = append(conds, "u.compound_id = ?")
		args = append(args, f.CompoundID)
	}
	if f.AvailableOnly {
		conds = append(conds, "u.available = ?")
		args = append(args, true)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// GetCompound loads a compound with its developer name.
func (c *Catalog) GetCompound(ctx context.Context, id int64) (*models.Compound, error) {
	var comp models.Compound
	err := c.db.QueryRowContext(ctx, c.dialect.Rebind(
		`SELECT c.id, COALESCE(c.company_id, 0), c.project, c.location, c.total_units, c.available_units, COALESCE(co.name, '')
		FROM compounds c LEFT JOIN companies co ON co.id = c.company_id WHERE c.id = ?`), id,
	).Scan(&comp.ID, &comp.CompanyID, &comp.Project, &comp.Location, &comp.TotalUnits, &comp.AvailableUnits, &comp.Developer)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("compound %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get compound: %w: %w", ErrStore, err)
	}
	return &comp, nil
}

// CompoundStats aggregates the units of a compound loaded with GetCompound.
func (c *Catalog) CompoundStats(ctx context.Context, comp *models.Compound) (*models.MarketStats, error) {
	if comp == nil {
		return nil, fmt.Errorf("compound stats: %w", ErrNotFound)
	}
	return c.cachedStats(ctx, redis.Key("stats", "compound", fmt.Sprint(comp.ID)), comp.Project,
		" WHERE u.compound_id = ?", comp.ID)
}

// LocationStats aggregates units whose compound location contains location.
func (c *Catalog) LocationStats(ctx context.Context, location string) (*models.MarketStats, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return c.MarketStats(ctx)
	}
	stats, err := c.cachedStats(ctx, redis.Key("stats", "location", strings.ToLower(location)), location,
		" WHERE LOWER(c.location) LIKE ?", "%"+strings.ToLower(location)+"%")
	if err != nil {
		return nil, err
	}
	if stats.TotalUnits == 0 {
		return nil, fmt.Errorf("location %q: %w", location, ErrNotFound)
	}
	return stats, nil
}

// MarketStats aggregates the whole catalog.
func (c *Catalog) MarketStats(ctx context.Context) (*models.MarketStats, error) {
	return c.cachedStats(ctx, redis.Key("stats", "all"), "all", "")
}

func (c *Catalog) cachedStats(ctx context.Context, key, scope, where string, args ...interface{}) (*models.MarketStats, error) {
	if c.cache != nil {
		var cached models.MarketStats
		if err := c.cache.GetJSON(ctx, key, &cached); err == nil {
			return &cached, nil
		} else if !errors.Is(err, redis.ErrCacheMiss) {
			c.log.Warn("stats cache read failed", "key", key, "error", err)
		}
	}
	stats, err := c.aggregate(ctx, scope, where, args...)
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		if err := c.cache.SetJSON(ctx, key, stats, statsTTL); err != nil {
			c.log.Warn("stats cache write failed", "key", key, "error", err)
		}
	}
	return stats, nil
}

func (c *Catalog) aggregate(ctx context.Context, scope, where string, args ...interface{}) (*models.MarketStats, error) {
	query := `SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN u.available THEN 1 ELSE 0 END), 0),
		COALESCE(AVG(u.price), 0), COALESCE(MIN(u.price), 0), COALESCE(MAX(u.price), 0),
		COALESCE(AVG(u.price / CASE WHEN u.area < 1 THEN 1 ELSE u.area END), 0)
		FROM units u LEFT JOIN compounds c ON c.id = u.compound_id` + where

	stats := &models.MarketStats{Scope: scope}
	var avg, minPrice, maxPrice, perSqm sql.NullFloat64
	err := c.db.QueryRowContext(ctx, c.dialect.Rebind(query), args...).Scan(
		&stats.TotalUnits, &stats.AvailableUnits, &avg, &minPrice, &maxPrice, &perSqm)
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w: %w", scope, ErrStore, err)
	}
	stats.AveragePrice = avg.Float64
	stats.MinPrice = minPrice.Float64
	stats.MaxPrice = maxPrice.Float64
	stats.AvgPricePerSqm = perSqm.Float64
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUnit(row rowScanner) (*models.Unit, error) {
	var u models.Unit
	err := row.Scan(&u.ID, &u.CompoundID, &u.UnitNumber, &u.UnitType, &u.Area, &u.Price,
		&u.Bedrooms, &u.Bathrooms, &u.Floor, &u.Status, &u.View, &u.Finishing, &u.DeliveryDate, &u.Available,
		&u.CompoundName, &u.Location, &u.Developer)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
