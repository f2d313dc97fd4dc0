package prompt

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/malakmagdy1/RealStateFlutter/internal/models"
)

// Field is one "key: value" line of domain context.
type Field struct {
	Key   string
	Value string
}

// Record is a normalized block of domain context, e.g. one unit.
type Record struct {
	Title  string
	Fields []Field
}

func (r *Record) add(key, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	r.Fields = append(r.Fields, Field{Key: key, Value: value})
}

var numbers = message.NewPrinter(language.English)

// FormatAmount renders a rounded number with thousands separators.
func FormatAmount(v float64) string {
	return numbers.Sprintf("%d", int64(math.Round(v)))
}

func formatArea(v float64) string {
	if v == math.Trunc(v) {
		return strconv.FormatFloat(v, 'f', 0, 64) + " m²"
	}
	return strconv.FormatFloat(v, 'f', 1, 64) + " m²"
}

func formatCount(n int) string {
	if n <= 0 {
		return ""
	}
	return strconv.Itoa(n)
}

// UnitRecord normalizes a catalog unit.
func UnitRecord(u *models.Unit) Record {
	r := Record{Title: "unit"}
	r.add("unit_number", u.UnitNumber)
	r.add("unit_type", u.UnitType)
	if u.Area > 0 {
		r.add("area", formatArea(u.Area))
	}
	if u.Price > 0 {
		r.add("price", FormatAmount(u.Price)+" EGP")
		r.add("price_per_sqm", FormatAmount(u.PricePerSqm())+" EGP")
	}
	r.add("bedrooms", formatCount(u.Bedrooms))
	r.add("bathrooms", formatCount(u.Bathrooms))
	r.add("floor", u.Floor)
	r.add("view", u.View)
	r.add("finishing", u.Finishing)
	r.add("delivery_date", u.DeliveryDate)
	r.add("compound", u.CompoundName)
	r.add("location", u.Location)
	r.add("developer", u.Developer)
	return r
}

// CompoundRecord normalizes a catalog compound.
func CompoundRecord(c *models.Compound) Record {
	r := Record{Title: "project"}
	r.add("project", c.Project)
	r.add("location", c.Location)
	r.add("developer", c.Developer)
	r.add("total_units", strconv.Itoa(c.TotalUnits))
	r.add("available_units", strconv.Itoa(c.AvailableUnits))
	return r
}

// StatsRecord normalizes aggregated market figures.
func StatsRecord(s *models.MarketStats) Record {
	r := Record{Title: "market"}
	r.add("location", s.Scope)
	r.add("average_price", FormatAmount(s.AveragePrice)+" EGP")
	r.add("min_price", FormatAmount(s.MinPrice)+" EGP")
	r.add("max_price", FormatAmount(s.MaxPrice)+" EGP")
	if s.AvgPricePerSqm > 0 {
		r.add("avg_price_per_sqm", FormatAmount(s.AvgPricePerSqm)+" EGP")
	}
	r.add("total_units", strconv.Itoa(s.TotalUnits))
	r.add("available_units", strconv.Itoa(s.AvailableUnits))
	return r
}

// MapRecord normalizes an opaque attribute map. Nested maps are flattened into
// dotted keys and keys are emitted in sorted order so prompts are stable.
func MapRecord(title string, attrs map[string]interface{}) Record {
	flat := map[string]string{}
	flatten("", attrs, flat)
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	r := Record{Title: title}
	for _, k := range keys {
		r.add(k, flat[k])
	}
	return r
}

func flatten(prefix string, in map[string]interface{}, out map[string]string) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case nil:
		case map[string]interface{}:
			flatten(key, val, out)
		case []interface{}:
			parts := make([]string, 0, len(val))
			for _, item := range val {
				parts = append(parts, scalar(item))
			}
			out[key] = strings.Join(parts, ", ")
		default:
			out[key] = scalar(val)
		}
	}
}

func scalar(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}

// Render writes records as flat "label: value" lines, one block per record.
func (t *Templates) Render(lang string, records []Record) string {
	var b strings.Builder
	for i, r := range records {
		if i > 0 {
			b.WriteString("\n")
		}
		if r.Title != "" {
			b.WriteString(t.Label(lang, r.Title))
			if len(records) > 1 {
				b.WriteString(" " + strconv.Itoa(i+1))
			}
			b.WriteString(":\n")
		}
		for _, f := range r.Fields {
			b.WriteString(t.Label(lang, f.Key))
			b.WriteString(": ")
			b.WriteString(f.Value)
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
