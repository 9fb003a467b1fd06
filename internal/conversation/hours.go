// ABOUTME: Business-hours window and localized offline notices for human handoff
// ABOUTME: Notices are text templates rendered through markdown into HTML

package conversation

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"
	_ "time/tzdata" // timezone database for minimal container images

	"github.com/dingdoor/chat-gateway/internal/render"
)

// Defaults for the human-support window
const (
	DefaultTimezone      = "America/New_York"
	DefaultOpenHour      = 9
	DefaultCloseHour     = 17
	DefaultLocationLabel = "Miami"
)

var offlineTemplates = map[string]*template.Template{
	"es": template.Must(template.New("es").Parse(
		"Nuestro equipo no está disponible en este momento, pero te responderemos apenas volvamos. " +
			"Nuestro tiempo de respuesta habitual es de menos de 2 horas entre las {{.Open}} y {{.Close}} ({{.Location}}). " +
			"Recibirás todas las actualizaciones por aquí.")),
	"en": template.Must(template.New("en").Parse(
		"Our team's currently offline, but we'll hit you back first thing when we're back online. " +
			"During business hours ({{.Open}}-{{.Close}} {{.Location}}), we reply fast — usually under 2 hours. " +
			"You'll get your updates right here.")),
}

// BusinessHours is the daily window, in a fixed timezone, when human agents are available.
// The window is half-open: Open:00 is inside, Close:00 is outside.
type BusinessHours struct {
	loc           *time.Location
	open          int
	close         int
	locationLabel string
}

// NewBusinessHours validates and builds a business-hours window
func NewBusinessHours(timezone string, open, close int, label string) (BusinessHours, error) {
	if timezone == "" {
		timezone = DefaultTimezone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return BusinessHours{}, fmt.Errorf("loading timezone %q: %w", timezone, err)
	}
	if open < 0 || close > 24 || open >= close {
		return BusinessHours{}, fmt.Errorf("invalid business hours %d-%d", open, close)
	}
	if label == "" {
		label = DefaultLocationLabel
	}
	return BusinessHours{loc: loc, open: open, close: close, locationLabel: label}, nil
}

// DefaultBusinessHours is 9:00-17:00 America/New_York
func DefaultBusinessHours() BusinessHours {
	b, err := NewBusinessHours(DefaultTimezone, DefaultOpenHour, DefaultCloseHour, DefaultLocationLabel)
	if err != nil {
		panic(err)
	}
	return b
}

// Contains reports whether t falls inside the window
func (b BusinessHours) Contains(t time.Time) bool {
	h := t.In(b.loc).Hour()
	return h >= b.open && h < b.close
}

// OfflineNotice renders the offline message for locale as single-line HTML.
// Locales starting with "es" get Spanish; everything else gets English.
func (b BusinessHours) OfflineNotice(locale string) (string, error) {
	lang := "en"
	if strings.HasPrefix(strings.ToLower(locale), "es") {
		lang = "es"
	}

	var buf bytes.Buffer
	err := offlineTemplates[lang].Execute(&buf, struct {
		Open, Close, Location string
	}{
		Open:     formatHour(b.open),
		Close:    formatHour(b.close),
		Location: b.locationLabel,
	})
	if err != nil {
		return "", fmt.Errorf("rendering offline notice: %w", err)
	}
	return render.Reply(buf.String())
}

// formatHour renders 0-24 as a 12-hour clock label, e.g. 9 -> "9am", 17 -> "5pm"
func formatHour(h int) string {
	suffix := "am"
	if h%24 >= 12 {
		suffix = "pm"
	}
	h12 := h % 12
	if h12 == 0 {
		h12 = 12
	}
	return fmt.Sprintf("%d%s", h12, suffix)
}
