// Package device derives a human-readable device label from a user agent string.
//
// Labels name the passkey a person enrolls ("Chrome on macOS", "iPhone").
// Detection never fails: anything unrecognised gets DefaultLabel.
package device

import (
	"strings"
)

// DefaultLabel is used when the user agent says nothing useful
const DefaultLabel = "This device"

type keyword struct {
	match string
	name  string
}

// Order matters: more specific tokens come first.
var browsers = []keyword{
	{"edg/", "Edge"},
	{"edga/", "Edge"},
	{"edgios/", "Edge"},
	{"opr/", "Opera"},
	{"opera", "Opera"},
	{"samsungbrowser", "Samsung Internet"},
	{"firefox/", "Firefox"},
	{"fxios/", "Firefox"},
	{"crios/", "Chrome"},
	{"chrome/", "Chrome"},
	{"chromium/", "Chromium"},
	{"safari/", "Safari"},
	{"go-http-client", "Go"},
	{"curl/", "curl"},
}

var platforms = []keyword{
	{"iphone", "iPhone"},
	{"ipad", "iPad"},
	{"ipod", "iPod"},
	{"android", "Android"},
	{"windows phone", "Windows Phone"},
	{"windows", "Windows"},
	{"cros", "ChromeOS"},
	{"mac os x", "macOS"},
	{"macintosh", "macOS"},
	{"linux", "Linux"},
	{"freebsd", "FreeBSD"},
}

// handhelds are labelled by the device alone
var handhelds = map[string]bool{
	"iPhone": true,
	"iPad":   true,
	"iPod":   true,
}

func find(ua string, keywords []keyword) string {
	for _, k := range keywords {
		if strings.Contains(ua, k.match) {
			return k.name
		}
	}
	return ""
}

// DetectLabel returns a label such as "Chrome on macOS" or "iPhone",
// or DefaultLabel when neither browser nor platform can be identified.
func DetectLabel(userAgent string) string {
	ua := strings.ToLower(strings.TrimSpace(userAgent))
	if ua == "" {
		return DefaultLabel
	}

	platform := find(ua, platforms)
	if handhelds[platform] {
		return platform
	}
	browser := find(ua, browsers)

	switch {
	case browser != "" && platform != "":
		return browser + " on " + platform
	case platform != "":
		return platform
	case browser != "":
		return browser
	default:
		return DefaultLabel
	}
}

// LabelOrDetect trims a user-supplied label and falls back to detection
func LabelOrDetect(label, userAgent string) string {
	if l := strings.TrimSpace(label); l != "" {
		return l
	}
	return DetectLabel(userAgent)
}

// IsMobileUserAgent checks if the user agent string indicates a mobile device
func IsMobileUserAgent(userAgent string) bool {
	userAgentLower := strings.ToLower(userAgent)
	mobileKeywords := []string{
		"android", "iphone", "ipad", "ipod", "windows phone", "blackberry",
		"mobile", "tablet", "opera mini", "opera mobi", "samsung",
		"nokia", "symbian", "webos", "palm", "midp", "j2me", "wap", "mobile safari",
	}

	for _, keyword := range mobileKeywords {
		if strings.Contains(userAgentLower, keyword) {
			return true
		}
	}

	return false
}
