// Package categorize maps registrable domains to a small set of interest
// categories for telemetry enrichment. The mapping is static: a hardcoded
// table of popular domains plus a couple of top-level suffix rules.
package categorize

import (
	"strings"
	"sync"

	"golang.org/x/net/publicsuffix"
)

// Category is an interest tag attached to telemetry events.
type Category int32

const (
	Unknown Category = iota
	Gaming
	Fitness
	Music
	Movies
	Anime
	Cooking
	Travel
	Outdoors
	Tech
	Programming
	Finance
	Fashion
	Art
	Reading
	Podcasts
	Sports
	Pets
	Diy
	Photography
	News
	Social
	Shopping
	Streaming
)

// Categories excluded from matching (sensitive); kept as named constants so
// a future loader that reads these from an external source has a place to
// put them, even though the static table below never assigns them.
const (
	Health Category = iota + 100
	Adult
	Religion
	Politics
)

// Map holds the exact and suffix domain-to-category mappings.
type Map struct {
	exact  map[string]Category
	suffix []suffixRule
}

type suffixRule struct {
	suffix   string
	category Category
}

var (
	defaultMap     *Map
	defaultMapOnce sync.Once
)

// Default returns the process-wide category map, built once on first use.
func Default() *Map {
	defaultMapOnce.Do(func() {
		defaultMap = Load()
	})
	return defaultMap
}

// Load builds the static category mapping.
func Load() *Map {
	m := &Map{
		exact: make(map[string]Category, 256),
	}

	add := func(cat Category, domains ...string) {
		for _, d := range domains {
			m.exact[d] = cat
		}
	}

	add(Gaming, "steam.com", "steampowered.com", "epicgames.com", "twitch.tv",
		"discord.com", "riotgames.com", "blizzard.com", "ea.com",
		"xbox.com", "playstation.com", "nintendo.com", "itch.io")

	add(Music, "spotify.com", "music.apple.com", "soundcloud.com", "bandcamp.com",
		"last.fm", "genius.com", "shazam.com", "deezer.com")

	add(Fitness, "strava.com", "myfitnesspal.com", "nike.com", "underarmour.com",
		"peloton.com", "fitbit.com", "garmin.com")

	add(Streaming, "netflix.com", "hulu.com", "disneyplus.com", "hbomax.com",
		"primevideo.com", "imdb.com", "rottentomatoes.com", "letterboxd.com")

	add(Anime, "crunchyroll.com", "funimation.com", "myanimelist.net",
		"anilist.co", "vrv.co")

	add(Tech, "github.com", "stackoverflow.com", "gitlab.com", "bitbucket.org",
		"hackernews.com", "news.ycombinator.com", "dev.to", "medium.com",
		"techcrunch.com", "theverge.com", "arstechnica.com", "wired.com")

	add(Social, "twitter.com", "x.com", "facebook.com", "instagram.com",
		"reddit.com", "tiktok.com", "snapchat.com", "linkedin.com")

	add(Shopping, "amazon.com", "ebay.com", "etsy.com", "shopify.com",
		"aliexpress.com", "walmart.com", "target.com")

	add(News, "nytimes.com", "washingtonpost.com", "bbc.com", "cnn.com",
		"reuters.com", "apnews.com", "theguardian.com")

	add(Travel, "airbnb.com", "booking.com", "expedia.com", "tripadvisor.com",
		"kayak.com", "hotels.com", "vrbo.com")

	add(Finance, "robinhood.com", "coinbase.com", "binance.com", "kraken.com",
		"fidelity.com", "schwab.com", "vanguard.com", "mint.com")

	add(Cooking, "allrecipes.com", "foodnetwork.com", "epicurious.com",
		"seriouseats.com", "bonappetit.com", "tasty.co")

	add(Reading, "goodreads.com", "kindle.amazon.com", "audible.com",
		"scribd.com", "librarything.com")

	add(Podcasts, "podcasts.apple.com", "pocketcasts.com", "overcast.fm",
		"castbox.fm", "anchor.fm")

	add(Sports, "espn.com", "nba.com", "nfl.com", "mlb.com",
		"fifa.com", "uefa.com", "bleacherreport.com")

	add(Photography, "flickr.com", "500px.com", "unsplash.com", "pexels.com",
		"adobe.com", "lightroom.adobe.com")

	add(Art, "deviantart.com", "artstation.com", "behance.net",
		"dribbble.com", "pinterest.com")

	add(Pets, "chewy.com", "petco.com", "petsmart.com", "akc.org")

	add(Diy, "instructables.com", "hackaday.com", "makezine.com",
		"homedepot.com", "lowes.com")

	m.suffix = []suffixRule{
		{suffix: ".edu", category: Reading},
		{suffix: ".gov", category: News},
	}

	return m
}

// Lookup returns the category for a registrable domain, if any.
func (m *Map) Lookup(domain string) (Category, bool) {
	if cat, ok := m.exact[domain]; ok {
		return cat, true
	}
	for _, r := range m.suffix {
		if strings.HasSuffix(domain, r.suffix) {
			return r.category, true
		}
	}
	return Unknown, false
}

// Len returns the number of exact-match entries, for boot logging.
func (m *Map) Len() int {
	return len(m.exact)
}

// NormalizeDomain extracts the registrable domain (eTLD+1) from a full
// domain name, using the public suffix list with a best-effort fallback to
// the last two labels when the list has no opinion.
func NormalizeDomain(name string) string {
	if d, err := publicsuffix.EffectiveTLDPlusOne(name); err == nil && d != "" {
		return d
	}
	parts := strings.Split(name, ".")
	if len(parts) >= 2 {
		return parts[len(parts)-2] + "." + parts[len(parts)-1]
	}
	return name
}
