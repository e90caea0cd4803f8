package player

import (
	"github.com/mssola/useragent"
	"github.com/sendrec/cueplayer/internal/geoip"
)

// ClientInfo describes the viewer a session was opened for.
type ClientInfo struct {
	Browser        string `json:"browser,omitempty"`
	BrowserVersion string `json:"browserVersion,omitempty"`
	OS             string `json:"os,omitempty"`
	Mobile         bool   `json:"mobile"`
	Bot            bool   `json:"bot"`
	geoip.Location
}

func ParseClient(userAgent string, loc geoip.Location) ClientInfo {
	info := ClientInfo{Location: loc}
	if userAgent == "" {
		return info
	}
	ua := useragent.New(userAgent)
	info.Browser, info.BrowserVersion = ua.Browser()
	info.OS = ua.OS()
	info.Mobile = ua.Mobile()
	info.Bot = ua.Bot()
	return info
}
