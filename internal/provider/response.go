package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/Rajchodisetti/market-data/internal/marketdata"
)

type statsResponse struct {
	Data *statsPayload `json:"data"`
}

type statsPayload struct {
	AveragePrice        flexNumber    `json:"averagePrice"`
	MedianPrice         flexNumber    `json:"medianPrice"`
	PricePerSqm         flexNumber    `json:"pricePerSqm"`
	TotalListings       flexNumber    `json:"totalListings"`
	SoldListings        flexNumber    `json:"soldListings"`
	AverageDaysOnMarket flexNumber    `json:"averageDaysOnMarket"`
	Trend               string        `json:"trend"`
	TrendPercentage     flexNumber    `json:"trendPercentage"`
	Source              string        `json:"source"`
	ComparableSales     []salePayload `json:"comparableSales"`
}

type salePayload struct {
	ID           string     `json:"id"`
	Address      string     `json:"address"`
	Suburb       string     `json:"suburb"`
	City         string     `json:"city"`
	PropertyType string     `json:"propertyType"`
	Bedrooms     flexNumber `json:"bedrooms"`
	Bathrooms    flexNumber `json:"bathrooms"`
	Size         flexNumber `json:"size"`
	LandSize     flexNumber `json:"landSize"`
	SalePrice    flexNumber `json:"salePrice"`
	SaleDate     string     `json:"saleDate"`
	DaysOnMarket flexNumber `json:"daysOnMarket"`
	Source       string     `json:"source"`
}

// flexNumber accepts a JSON number, a numeric string, or null. Valid is false
// for null, empty strings and absent fields.
type flexNumber struct {
	Value float64
	Valid bool
}

func (n *flexNumber) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*n = flexNumber{}
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
		if s == "" {
			*n = flexNumber{}
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("numeric string %q: %w", s, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("numeric string %q: not a finite number", s)
		}
		*n = flexNumber{Value: v, Valid: true}
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*n = flexNumber{Value: v, Valid: true}
	return nil
}

func (n flexNumber) asFloat() float64 { return n.Value }

// asInt rounds to the nearest int, clamped to the int range.
func (n flexNumber) asInt() int {
	v := math.Round(n.Value)
	switch {
	case v >= math.MaxInt:
		return math.MaxInt
	case v <= math.MinInt:
		return math.MinInt
	}
	return int(v)
}

func (n flexNumber) intPtr() *int {
	if !n.Valid {
		return nil
	}
	v := n.asInt()
	return &v
}

func (n flexNumber) floatPtr() *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Value
	return &v
}

func parseTrend(s string) marketdata.Trend {
	switch marketdata.Trend(strings.ToLower(strings.TrimSpace(s))) {
	case marketdata.TrendUp:
		return marketdata.TrendUp
	case marketdata.TrendDown:
		return marketdata.TrendDown
	default:
		return marketdata.TrendStable
	}
}

// parseSaleDate accepts RFC 3339 timestamps or plain dates; anything else is zero.
func parseSaleDate(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// toSnapshot maps the payload onto key. Sales without a positive price are
// dropped and at most limit are kept, in payload order.
func (p *statsPayload) toSnapshot(key marketdata.Key, provider string, limit int) *marketdata.Snapshot {
	source := strings.TrimSpace(p.Source)
	if source == "" {
		source = provider
	}

	snap := &marketdata.Snapshot{
		Key:                 key,
		AveragePrice:        p.AveragePrice.asFloat(),
		MedianPrice:         p.MedianPrice.asFloat(),
		PricePerSqm:         p.PricePerSqm.asFloat(),
		TotalListings:       p.TotalListings.asInt(),
		SoldListings:        p.SoldListings.asInt(),
		AverageDaysOnMarket: p.AverageDaysOnMarket.asFloat(),
		Trend:               parseTrend(p.Trend),
		TrendPercentage:     p.TrendPercentage.asFloat(),
		Source:              source,
		Comparables:         make([]marketdata.ComparableSale, 0, min(len(p.ComparableSales), limit)),
	}

	for _, s := range p.ComparableSales {
		if len(snap.Comparables) == limit {
			break
		}
		if !s.SalePrice.Valid || s.SalePrice.Value <= 0 {
			continue
		}
		pt := marketdata.PropertyType(strings.ToLower(strings.TrimSpace(s.PropertyType)))
		if !pt.Valid() {
			pt = key.PropertyType
		}
		saleSource := s.Source
		if saleSource == "" {
			saleSource = source
		}
		snap.Comparables = append(snap.Comparables, marketdata.ComparableSale{
			ID:           s.ID,
			Address:      s.Address,
			Suburb:       s.Suburb,
			City:         s.City,
			PropertyType: pt,
			Bedrooms:     s.Bedrooms.intPtr(),
			Bathrooms:    s.Bathrooms.intPtr(),
			Size:         s.Size.floatPtr(),
			LandSize:     s.LandSize.floatPtr(),
			SalePrice:    s.SalePrice.Value,
			SaleDate:     parseSaleDate(s.SaleDate),
			DaysOnMarket: s.DaysOnMarket.intPtr(),
			Source:       saleSource,
		})
	}
	return snap
}
