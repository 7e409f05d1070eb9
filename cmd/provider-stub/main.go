package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"hash/fnv"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// ---- payload shapes (match the market-stats API) ----

type Sale struct {
	ID           string   `json:"id"`
	Address      string   `json:"address"`
	Suburb       string   `json:"suburb"`
	City         string   `json:"city"`
	PropertyType string   `json:"propertyType"`
	Bedrooms     *int     `json:"bedrooms"`
	Bathrooms    *int     `json:"bathrooms"`
	Size         *float64 `json:"size"`
	LandSize     *float64 `json:"landSize"`
	SalePrice    float64  `json:"salePrice"`
	SaleDate     string   `json:"saleDate"`
	DaysOnMarket *int     `json:"daysOnMarket"`
}

type Stats struct {
	AveragePrice        float64 `json:"averagePrice"`
	MedianPrice         float64 `json:"medianPrice"`
	PricePerSqm         float64 `json:"pricePerSqm"`
	TotalListings       int     `json:"totalListings"`
	SoldListings        int     `json:"soldListings"`
	AverageDaysOnMarket float64 `json:"averageDaysOnMarket"`
	Trend               string  `json:"trend"`
	TrendPercentage     float64 `json:"trendPercentage"`
	Source              string  `json:"source"`
	ComparableSales     []Sale  `json:"comparableSales"`
}

type StatsPayload struct {
	Data Stats `json:"data"`
}

// ---- helpers ----

func health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func seedFor(parts ...string) uint32 {
	h := fnv.New32a()
	for _, p := range parts {
		_, _ = h.Write([]byte(strings.ToLower(p)))
	}
	return h.Sum32()
}

// statsFor builds deterministic figures so repeated runs are comparable.
func statsFor(location, propertyType, period string) Stats {
	seed := seedFor(location, propertyType, period)
	base := 900000 + float64(seed%3000)*1000
	trends := []string{"up", "down", "stable"}

	s := Stats{
		AveragePrice:        base,
		MedianPrice:         base * 0.94,
		PricePerSqm:         base / 130,
		TotalListings:       40 + int(seed%200),
		AverageDaysOnMarket: 20 + float64(seed%60),
		Trend:               trends[seed%3],
		TrendPercentage:     float64(seed%90) / 10,
		Source:              "provider-stub",
	}
	s.SoldListings = s.TotalListings / 3

	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 12; i++ {
		beds := 1 + (int(seed)+i)%5
		size := 60 + float64((int(seed)+i*7)%200)
		sale := Sale{
			ID:           fmt.Sprintf("stub-%08x-%02d", seed, i),
			Address:      fmt.Sprintf("%d Main Rd", 10+i),
			Suburb:       location,
			City:         location,
			PropertyType: propertyType,
			Bedrooms:     &beds,
			Size:         &size,
			SalePrice:    base * (0.85 + float64(i)*0.025),
			SaleDate:     day.AddDate(0, 0, i*9).Format("2006-01-02"),
		}
		if i%4 == 3 {
			// unknown details as a real feed sometimes sends them
			sale.Bedrooms, sale.Size = nil, nil
		}
		s.ComparableSales = append(s.ComparableSales, sale)
	}
	return s
}

func main() {
	var (
		port      string
		apiKey    string
		failEvery int
		latency   time.Duration
	)
	flag.StringVar(&port, "port", "8091", "HTTP server port")
	flag.StringVar(&apiKey, "api-key", "", "require this bearer token when set")
	flag.IntVar(&failEvery, "fail-every", 0, "answer 503 on every Nth request (0 disables)")
	flag.DurationVar(&latency, "latency", 0, "artificial delay per request")
	flag.Parse()

	var requests int64
	mux := http.NewServeMux()
	mux.HandleFunc("/health", health)
	mux.HandleFunc("/v1/market-stats", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "GET only", http.StatusMethodNotAllowed)
			return
		}
		if apiKey != "" && r.Header.Get("Authorization") != "Bearer "+apiKey {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		n := atomic.AddInt64(&requests, 1)
		if latency > 0 {
			select {
			case <-time.After(latency):
			case <-r.Context().Done():
				return
			}
		}
		if failEvery > 0 && n%int64(failEvery) == 0 {
			log.Printf("request %d: injected failure", n)
			http.Error(w, "injected failure", http.StatusServiceUnavailable)
			return
		}

		q := r.URL.Query()
		location := strings.TrimSpace(q.Get("location"))
		if location == "" {
			http.Error(w, "location required", http.StatusBadRequest)
			return
		}
		payload := StatsPayload{Data: statsFor(location, q.Get("propertyType"), q.Get("period"))}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(payload)
		log.Printf("request %d: %s/%s/%s avg=%.0f", n, location, q.Get("propertyType"), q.Get("period"), payload.Data.AveragePrice)
	})

	addr := ":" + port
	log.Printf("provider stub listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
