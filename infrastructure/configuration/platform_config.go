package configuration

import (
	"fmt"
	"strconv"
)

// Platforms holds per-platform adapter settings.
type Platforms struct {
	Facebook  PlatformClient `json:"facebook"`
	Instagram PlatformClient `json:"instagram"`
	YouTube   PlatformClient `json:"youtube"`
}

type PlatformClient struct {
	Enabled       bool    `json:"enabled"`
	BaseURL       string  `json:"baseURL"`
	ClientID      string  `json:"clientId"`
	ClientSecret  string  `json:"clientSecret"`
	RedirectURI   string  `json:"redirectURI"`
	RatePerSecond float64 `json:"ratePerSecond"`
	Burst         int     `json:"burst"`
}

const defaultGraphBaseURL = "https://graph.facebook.com/v19.0"

func initPlatforms(C *Config) {
	fb := &C.Platforms.Facebook
	fb.BaseURL = getConfigValue(fb.BaseURL, "FACEBOOK_GRAPH_URL", defaultGraphBaseURL)
	fb.ClientID = getConfigValue(fb.ClientID, "FACEBOOK_CLIENT_ID", "")
	fb.ClientSecret = getConfigValue(fb.ClientSecret, "FACEBOOK_CLIENT_SECRET", "")

	ig := &C.Platforms.Instagram
	ig.BaseURL = getConfigValue(ig.BaseURL, "INSTAGRAM_GRAPH_URL", defaultGraphBaseURL)
	ig.ClientID = getConfigValue(ig.ClientID, "INSTAGRAM_CLIENT_ID", "")
	ig.ClientSecret = getConfigValue(ig.ClientSecret, "INSTAGRAM_CLIENT_SECRET", "")

	yt := &C.Platforms.YouTube
	yt.ClientID = getConfigValue(yt.ClientID, "YOUTUBE_CLIENT_ID", "")
	yt.ClientSecret = getConfigValue(yt.ClientSecret, "YOUTUBE_CLIENT_SECRET", "")
	scheme := "http"
	if C.App.TLSEnabled {
		scheme = "https"
	}
	yt.RedirectURI = getConfigValue(yt.RedirectURI, "YOUTUBE_REDIRECT_URL",
		fmt.Sprintf("%s://localhost:%s/auth/youtube/callback", scheme, strconv.Itoa(C.App.Port)))

	for _, p := range []*PlatformClient{fb, ig, yt} {
		if p.RatePerSecond <= 0 {
			p.RatePerSecond = 5
		}
		if p.Burst <= 0 {
			p.Burst = 1
		}
	}
}
