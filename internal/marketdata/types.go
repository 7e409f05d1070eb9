package marketdata

import (
	"fmt"
	"strings"
	"time"
)

// PropertyType is the dwelling category a snapshot covers.
type PropertyType string

const (
	PropertyHouse      PropertyType = "house"
	PropertyApartment  PropertyType = "apartment"
	PropertyTownhouse  PropertyType = "townhouse"
	PropertyDuplex     PropertyType = "duplex"
	PropertyVacantLand PropertyType = "vacant_land"
)

// Period is the lookback window the statistics are computed over.
type Period string

const (
	Period3Months Period = "3months"
	Period6Months Period = "6months"
	Period1Year   Period = "1year"
)

// Defaults applied when a request leaves the field empty.
const (
	DefaultPropertyType = PropertyHouse
	DefaultPeriod       = Period6Months

	// DefaultMaxComparables caps the comparable sales kept per snapshot.
	DefaultMaxComparables = 100

	maxLocationLength = 120
)

// PropertyTypes lists the valid property types in display order.
func PropertyTypes() []PropertyType {
	return []PropertyType{PropertyHouse, PropertyApartment, PropertyTownhouse, PropertyDuplex, PropertyVacantLand}
}

// Periods lists the valid periods in display order.
func Periods() []Period {
	return []Period{Period3Months, Period6Months, Period1Year}
}

func (p PropertyType) Valid() bool {
	for _, v := range PropertyTypes() {
		if p == v {
			return true
		}
	}
	return false
}

func (p Period) Valid() bool {
	for _, v := range Periods() {
		if p == v {
			return true
		}
	}
	return false
}

// Trend describes the direction of prices over the period.
type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

// Key identifies exactly one market snapshot.
type Key struct {
	Location     string       `json:"location"`
	PropertyType PropertyType `json:"property_type"`
	Period       Period       `json:"period"`
}

// String renders the cache key for k.
func (k Key) String() string {
	return fmt.Sprintf("market:%s:%s:%s", k.Location, k.PropertyType, k.Period)
}

// NormalizeLocation trims, collapses internal whitespace and lower-cases.
func NormalizeLocation(location string) string {
	return strings.ToLower(strings.Join(strings.Fields(location), " "))
}

// Request is the inbound lookup. Empty PropertyType and Period take defaults.
type Request struct {
	Location     string       `json:"location,omitempty"`
	PropertyType PropertyType `json:"property_type,omitempty"`
	Period       Period       `json:"period,omitempty"`
}

// Key validates r and builds its normalized key.
func (r Request) Key() (Key, error) {
	loc := NormalizeLocation(r.Location)
	if loc == "" {
		return Key{}, NewValidationError("location is required")
	}
	if len(loc) > maxLocationLength {
		return Key{}, NewValidationError(fmt.Sprintf("location exceeds %d characters", maxLocationLength))
	}

	pt := PropertyType(strings.ToLower(strings.TrimSpace(string(r.PropertyType))))
	if pt == "" {
		pt = DefaultPropertyType
	}
	if !pt.Valid() {
		return Key{}, NewValidationError(fmt.Sprintf("invalid property type %q", r.PropertyType))
	}

	period := Period(strings.ToLower(strings.TrimSpace(string(r.Period))))
	if period == "" {
		period = DefaultPeriod
	}
	if !period.Valid() {
		return Key{}, NewValidationError(fmt.Sprintf("invalid period %q", r.Period))
	}

	return Key{Location: loc, PropertyType: pt, Period: period}, nil
}

// ComparableSale is one recorded transaction supporting a snapshot.
type ComparableSale struct {
	ID           string       `json:"id"`
	Address      string       `json:"address"`
	Suburb       string       `json:"suburb"`
	City         string       `json:"city"`
	PropertyType PropertyType `json:"property_type"`
	Bedrooms     *int         `json:"bedrooms"`
	Bathrooms    *int         `json:"bathrooms"`
	Size         *float64     `json:"size"`
	LandSize     *float64     `json:"land_size"`
	SalePrice    float64      `json:"sale_price"`
	SaleDate     time.Time    `json:"sale_date"`
	DaysOnMarket *int         `json:"days_on_market"`
	Source       string       `json:"source"`
}

// Snapshot is the market statistics for one Key at LastUpdated.
type Snapshot struct {
	Key
	AveragePrice        float64          `json:"average_price"`
	MedianPrice         float64          `json:"median_price"`
	PricePerSqm         float64          `json:"price_per_sqm"`
	TotalListings       int              `json:"total_listings"`
	SoldListings        int              `json:"sold_listings"`
	AverageDaysOnMarket float64          `json:"average_days_on_market"`
	Trend               Trend            `json:"trend"`
	TrendPercentage     float64          `json:"trend_percentage"`
	Source              string           `json:"source"`
	LastUpdated         time.Time        `json:"last_updated"`
	Comparables         []ComparableSale `json:"comparable_sales"`
}

// Age is how old s is at now.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.LastUpdated)
}

// Clone returns a deep copy so cached or stored values never alias callers.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := *s
	if s.Comparables != nil {
		out.Comparables = make([]ComparableSale, len(s.Comparables))
		for i, c := range s.Comparables {
			out.Comparables[i] = c.clone()
		}
	}
	return &out
}

func (c ComparableSale) clone() ComparableSale {
	out := c
	out.Bedrooms = cloneInt(c.Bedrooms)
	out.Bathrooms = cloneInt(c.Bathrooms)
	out.DaysOnMarket = cloneInt(c.DaysOnMarket)
	out.Size = cloneFloat(c.Size)
	out.LandSize = cloneFloat(c.LandSize)
	return out
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	x := *v
	return &x
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	x := *v
	return &x
}

// MarketData is a snapshot annotated with how this request obtained it.
type MarketData struct {
	Snapshot
	Cached          bool  `json:"cached"`
	Stale           bool  `json:"stale,omitempty"`
	StaleAgeSeconds int64 `json:"stale_age_seconds,omitempty"`
}
