package symbols

import (
	"strings"

	"signalpulse/models"
)

// Linker builds outbound trade-page URLs from per-venue templates. A template
// may use {symbol} (compact form) and {base} (base asset).
type Linker struct {
	templates map[models.Venue]string
}

// NewLinker keys templates by venue name. Unknown venue names are ignored.
func NewLinker(templates map[string]string) *Linker {
	l := &Linker{templates: make(map[models.Venue]string, len(templates))}
	for name, tmpl := range templates {
		venue, err := models.ParseVenue(name)
		if err != nil {
			continue
		}
		l.templates[venue] = tmpl
	}
	return l
}

// TradeURL returns the venue trade page for sym.
func (l *Linker) TradeURL(venue models.Venue, sym string) (string, bool) {
	if l == nil {
		return "", false
	}
	tmpl, ok := l.templates[venue]
	if !ok || sym == "" {
		return "", false
	}
	r := strings.NewReplacer("{symbol}", Compact(sym), "{base}", BaseAsset(sym))
	return r.Replace(tmpl), true
}
