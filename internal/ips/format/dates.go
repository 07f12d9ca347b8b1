package format

import (
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ehr/ips/internal/platform/fhir"
)

// DefaultZoneCacheSize bounds the number of cached *time.Location values.
const DefaultZoneCacheSize = 64

// dateTimeLayout renders converted instants; the zone abbreviation is
// appended by the layout's MST token.
const dateTimeLayout = "2006-01-02 15:04:05 MST"

var dateOnlyLayouts = []string{"2006-01-02", "2006-01", "2006"}

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// ZoneCache resolves IANA zone names to locations, caching lookups.
// Unknown or empty names resolve to UTC.
type ZoneCache struct {
	cache *lru.Cache[string, *time.Location]
}

// NewZoneCache creates a zone cache holding at most size locations.
func NewZoneCache(size int) (*ZoneCache, error) {
	if size <= 0 {
		size = DefaultZoneCacheSize
	}
	c, err := lru.New[string, *time.Location](size)
	if err != nil {
		return nil, err
	}
	return &ZoneCache{cache: c}, nil
}

// Location returns the location for name, falling back to UTC.
func (z *ZoneCache) Location(name string) *time.Location {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "UTC") {
		return time.UTC
	}
	if z != nil && z.cache != nil {
		if loc, ok := z.cache.Get(name); ok {
			return loc
		}
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		loc = time.UTC
	}
	if z != nil && z.cache != nil {
		z.cache.Add(name, loc)
	}
	return loc
}

// IsDateOnly reports whether value is a FHIR date without a time part.
func IsDateOnly(value string) bool {
	value = strings.TrimSpace(value)
	if value == "" || strings.Contains(value, "T") {
		return false
	}
	for _, layout := range dateOnlyLayouts {
		if len(value) == len(layout) {
			if _, err := time.Parse(layout, value); err == nil {
				return true
			}
		}
	}
	return false
}

// ParseTime parses a FHIR date, dateTime or instant. Date-only values are
// returned as midnight UTC; date-times without an offset are taken as UTC.
func ParseTime(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range dateOnlyLayouts {
		if len(value) == len(layout) {
			if t, err := time.Parse(layout, value); err == nil {
				return t, true
			}
		}
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// RenderDate renders a date-only value as a fixed calendar date. Partial
// dates are kept at their given precision. Date-times are reduced to their
// UTC calendar date.
func (u *Utilities) RenderDate(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if IsDateOnly(value) {
		return value
	}
	t, ok := ParseTime(value)
	if !ok {
		return fhir.EscapeText(value)
	}
	return t.UTC().Format("2006-01-02")
}

// RenderTime renders a date or date-time. Date-only values never shift
// across timezones; date-times are converted to tz and printed with the
// zone abbreviation.
func (u *Utilities) RenderTime(value, tz string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if IsDateOnly(value) {
		return u.RenderDate(value)
	}
	t, ok := ParseTime(value)
	if !ok {
		return fhir.EscapeText(value)
	}
	return t.In(u.zones.Location(tz)).Format(dateTimeLayout)
}

// RenderPeriod renders a Period as "start to end", or the single bound present.
func (u *Utilities) RenderPeriod(period map[string]interface{}, tz string) string {
	if period == nil {
		return ""
	}
	start := u.RenderTime(fhir.GetString(period, "start"), tz)
	end := u.RenderTime(fhir.GetString(period, "end"), tz)
	switch {
	case start != "" && end != "":
		return start + " to " + end
	case start != "":
		return start
	default:
		return end
	}
}

// RenderChoice renders a FHIR choice element such as effective[x],
// onset[x] or performed[x] by trying the common typed suffixes.
func (u *Utilities) RenderChoice(r map[string]interface{}, prefix, tz string) string {
	if r == nil {
		return ""
	}
	if v := fhir.GetString(r, prefix+"DateTime"); v != "" {
		return u.RenderTime(v, tz)
	}
	if v := fhir.GetString(r, prefix+"Instant"); v != "" {
		return u.RenderTime(v, tz)
	}
	if p := fhir.GetMap(r, prefix+"Period"); p != nil {
		return u.RenderPeriod(p, tz)
	}
	if v := fhir.GetString(r, prefix+"Date"); v != "" {
		return u.RenderTime(v, tz)
	}
	if v := fhir.GetString(r, prefix+"String"); v != "" {
		return fhir.EscapeText(v)
	}
	if a := fhir.GetMap(r, prefix+"Age"); a != nil {
		return u.Quantity(a)
	}
	if rg := fhir.GetMap(r, prefix+"Range"); rg != nil {
		return u.Range(rg)
	}
	// Some producers emit the bare element name with a string value.
	if v := fhir.GetString(r, prefix); v != "" {
		return u.RenderTime(v, tz)
	}
	return ""
}

// DateKey returns the first sortable instant found among fields. Each field
// may name a plain date element ("authoredOn") or a choice prefix
// ("effective"). Missing dates yield the zero time, which sorts last.
func DateKey(r map[string]interface{}, fields ...string) time.Time {
	for _, field := range fields {
		candidates := []string{
			fhir.GetString(r, field),
			fhir.GetString(r, field+"DateTime"),
			fhir.GetString(r, field+"Instant"),
			fhir.GetString(fhir.GetMap(r, field+"Period"), "start"),
			fhir.GetString(fhir.GetMap(r, field), "start"),
		}
		for _, c := range candidates {
			if t, ok := ParseTime(c); ok {
				return t
			}
		}
	}
	return time.Time{}
}

// SortByDateDesc returns a copy of records ordered most recent first by the
// given date fields. Equal dates are ordered by Type/id so that the output
// does not depend on input order.
func SortByDateDesc(records []fhir.Resource, fields ...string) []fhir.Resource {
	out := make([]fhir.Resource, len(records))
	copy(out, records)
	keys := make(map[int]time.Time, len(out))
	idx := make([]int, len(out))
	for i := range out {
		idx[i] = i
		keys[i] = DateKey(out[i], fields...)
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ka, kb := keys[idx[a]], keys[idx[b]]
		if !ka.Equal(kb) {
			return ka.After(kb)
		}
		return fhir.Key(out[idx[a]]) < fhir.Key(out[idx[b]])
	})
	sorted := make([]fhir.Resource, len(out))
	for i, j := range idx {
		sorted[i] = out[j]
	}
	return sorted
}
