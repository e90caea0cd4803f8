package languages

import (
	"fmt"
	"strings"
)

type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
	File string `json:"file"`
}

var languageNames = map[string]string{
	"ar":  "Arabic",
	"bg":  "Bulgarian",
	"ca":  "Catalan",
	"cs":  "Czech",
	"da":  "Danish",
	"de":  "German",
	"el":  "Greek",
	"en":  "English",
	"es":  "Spanish",
	"fi":  "Finnish",
	"fr":  "French",
	"he":  "Hebrew",
	"hi":  "Hindi",
	"ht":  "Haitian Creole",
	"hu":  "Hungarian",
	"id":  "Indonesian",
	"it":  "Italian",
	"ja":  "Japanese",
	"ko":  "Korean",
	"nl":  "Dutch",
	"no":  "Norwegian",
	"pl":  "Polish",
	"pt":  "Portuguese",
	"ro":  "Romanian",
	"ru":  "Russian",
	"sv":  "Swedish",
	"th":  "Thai",
	"tr":  "Turkish",
	"uk":  "Ukrainian",
	"vi":  "Vietnamese",
	"yue": "Cantonese",
	"zh":  "Chinese",
}

// DefaultCodes are the transcript languages enabled when none are configured.
var DefaultCodes = []string{"en", "es", "fr"}

func LanguageName(code string) string {
	return languageNames[code]
}

func IsKnown(code string) bool {
	_, ok := languageNames[code]
	return ok
}

// TranscriptFile is the resource name of a language's transcript, e.g.
// english.vtt for en.
func TranscriptFile(code string) string {
	name, ok := languageNames[code]
	if !ok {
		return ""
	}
	return strings.ReplaceAll(strings.ToLower(name), " ", "-") + ".vtt"
}

// Catalog is the ordered set of transcript languages a deployment serves.
// The first entry is the default.
type Catalog struct {
	codes []string
}

func NewCatalog(codes []string) (*Catalog, error) {
	if len(codes) == 0 {
		codes = DefaultCodes
	}
	seen := make(map[string]bool, len(codes))
	c := &Catalog{}
	for _, code := range codes {
		code = strings.TrimSpace(code)
		if code == "" || seen[code] {
			continue
		}
		if !IsKnown(code) {
			return nil, fmt.Errorf("unknown transcript language %q", code)
		}
		seen[code] = true
		c.codes = append(c.codes, code)
	}
	if len(c.codes) == 0 {
		return nil, fmt.Errorf("no transcript languages configured")
	}
	return c, nil
}

// ParseCodes splits a comma-separated TRANSCRIPT_LANGUAGES value.
func ParseCodes(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var codes []string
	for _, part := range strings.Split(raw, ",") {
		if code := strings.ToLower(strings.TrimSpace(part)); code != "" {
			codes = append(codes, code)
		}
	}
	return codes
}

func (c *Catalog) Supports(code string) bool {
	for _, known := range c.codes {
		if known == code {
			return true
		}
	}
	return false
}

func (c *Catalog) Default() string {
	return c.codes[0]
}

func (c *Catalog) Languages() []Language {
	langs := make([]Language, 0, len(c.codes))
	for _, code := range c.codes {
		langs = append(langs, Language{Code: code, Name: LanguageName(code), File: TranscriptFile(code)})
	}
	return langs
}
