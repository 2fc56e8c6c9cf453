// Command genfeed serves mock provider feeds over HTTP for local
// development. Each endpoint returns a JSON array of normalized events in the
// shape the aggregator's source fetcher expects, with a little per-request
// jitter so refresh cycles observe changing data.
//
// Usage:
//
//	go run ./cmd/genfeed -addr :9100
//
// Then point the aggregator at it:
//
//	SOURCES='mock-quakes|earthquake|http://localhost:9100/feeds/earthquake|1m|1;mock-floods|flood|http://localhost:9100/feeds/flood|1m|1'
package main

import (
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"time"

	"github.com/couchcryptid/disaster-feed-service/internal/domain"
)

type template struct {
	idPrefix string
	name     string
	lat, lon float64
	level    domain.AlertLevel
	mag      float64
	ageHours int
}

var templates = map[domain.DisasterType][]template{
	domain.TypeEarthquake: {
		{idPrefix: "EQ-HONSHU", name: "Honshu coast quake", lat: 38.32, lon: 142.37, level: domain.AlertOrange, mag: 6.8, ageHours: 3},
		{idPrefix: "EQ-CHILE", name: "Valparaiso quake", lat: -33.05, lon: -71.62, level: domain.AlertYellow, mag: 5.4, ageHours: 9},
		{idPrefix: "EQ-GREECE", name: "Crete offshore quake", lat: 35.34, lon: 25.14, level: domain.AlertGreen, mag: 4.1, ageHours: 30},
	},
	domain.TypeFlood: {
		{idPrefix: "FL-RHINE", name: "Rhine basin flooding", lat: 50.11, lon: 8.68, level: domain.AlertOrange, mag: 2.1, ageHours: 12},
		{idPrefix: "FL-MEKONG", name: "Mekong delta flooding", lat: 10.03, lon: 105.78, level: domain.AlertRed, mag: 3.4, ageHours: 6},
	},
	domain.TypeCyclone: {
		{idPrefix: "CY-MARLENE", name: "Cyclone Marlene", lat: -18.1, lon: 63.4, level: domain.AlertRed, mag: 185, ageHours: 2},
	},
	domain.TypeWildfire: {
		{idPrefix: "WF-ALBERTA", name: "Alberta crown fire", lat: 54.72, lon: -113.29, level: domain.AlertOrange, mag: 340, ageHours: 18},
	},
	domain.TypeDrought: {
		{idPrefix: "DR-HORN", name: "Horn of Africa drought 2026", lat: 6.0, lon: 44.5, level: domain.AlertYellow, mag: 0, ageHours: 24 * 40},
	},
}

func main() {
	addr := flag.String("addr", ":9100", "listen address")
	flag.Parse()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /feeds/{type}", handleFeed)

	log.Printf("genfeed: serving mock feeds on %s", *addr)
	log.Fatal(http.ListenAndServe(*addr, mux))
}

func handleFeed(w http.ResponseWriter, r *http.Request) {
	t := domain.DisasterType(r.PathValue("type"))
	tpls, ok := templates[t]
	if !ok {
		http.Error(w, "no mock data for type", http.StatusNotFound)
		return
	}

	now := time.Now().UTC()
	events := make([]domain.Event, 0, len(tpls))
	for _, tpl := range tpls {
		observed := now.Add(-time.Duration(tpl.ageHours) * time.Hour)
		events = append(events, domain.Event{
			ID:           tpl.idPrefix,
			DisasterType: t,
			Name:         tpl.name,
			Geo: domain.Geo{
				Lat: tpl.lat + jitter(0.02),
				Lon: tpl.lon + jitter(0.02),
			},
			AlertLevel:     tpl.level,
			Magnitude:      tpl.mag + jitter(tpl.mag*0.05),
			StartTime:      observed.Add(-6 * time.Hour),
			LastObservedAt: observed,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(events); err != nil {
		log.Printf("genfeed: encode response: %v", err)
	}
}

func jitter(scale float64) float64 {
	return (rand.Float64()*2 - 1) * scale
}
