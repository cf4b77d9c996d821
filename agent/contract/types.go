package contract

import (
	"fmt"
	"strings"
	"time"
)

// BBox is a map viewport bounding box in degrees.
type BBox struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// Viewport is the visible map region a request refers to.
type Viewport struct {
	BBox BBox    `json:"bbox"`
	Zoom float64 `json:"zoom"`
}

// DateRange is an inclusive [Start, End] range of YYYY-MM-DD dates.
type DateRange struct {
	Start string `json:"start_date"`
	End   string `json:"end_date"`
}

const dateLayout = "2006-01-02"

func (r DateRange) Validate() error {
	start, err := time.Parse(dateLayout, r.Start)
	if err != nil {
		return fmt.Errorf("%w: invalid start date %q", ErrValidation, r.Start)
	}
	end, err := time.Parse(dateLayout, r.End)
	if err != nil {
		return fmt.Errorf("%w: invalid end date %q", ErrValidation, r.End)
	}
	if end.Before(start) {
		return fmt.Errorf("%w: end date %s before start date %s", ErrValidation, r.End, r.Start)
	}
	return nil
}

// Contains reports whether date (YYYY-MM-DD) falls inside the range.
// Unparseable dates are outside by definition.
func (r DateRange) Contains(date string) bool {
	d, err := time.Parse(dateLayout, date)
	if err != nil {
		return false
	}
	start, err := time.Parse(dateLayout, r.Start)
	if err != nil {
		return false
	}
	end, err := time.Parse(dateLayout, r.End)
	if err != nil {
		return false
	}
	return !d.Before(start) && !d.After(end)
}

func (r DateRange) SingleDay() bool {
	return r.Start == r.End
}

// LastNDays returns the range covering the n days ending at now's date.
func LastNDays(n int, now time.Time) DateRange {
	end := now.UTC()
	start := end.AddDate(0, 0, -(n - 1))
	return DateRange{
		Start: start.Format(dateLayout),
		End:   end.Format(dateLayout),
	}
}

type Category string

const (
	CategoryPolitics  Category = "politics"
	CategoryConflict  Category = "conflict"
	CategoryCulture   Category = "culture"
	CategoryScience   Category = "science"
	CategoryEconomics Category = "economics"
	CategoryOther     Category = "other"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryPolitics, CategoryConflict, CategoryCulture, CategoryScience, CategoryEconomics, CategoryOther:
		return true
	}
	return false
}

// Pin is a located event. Identity is EventID; uniqueness is enforced when
// pins are merged into the accumulation store, not at construction.
type Pin struct {
	EventID           string   `json:"event_id"`
	Title             string   `json:"title"`
	Date              string   `json:"date"`
	Lat               float64  `json:"lat"`
	Lng               float64  `json:"lng"`
	LocationLabel     string   `json:"location_label"`
	Category          Category `json:"category"`
	SignificanceScore float64  `json:"significance_score"`
	OneLiner          string   `json:"one_liner"`
	Confidence        float64  `json:"confidence"`
	PositivityScale   float64  `json:"positivity_scale"`
	RelatedEventIDs   []string `json:"related_event_ids,omitempty"`
}

// Unlocated reports whether the pin still carries the generator's
// placeholder coordinate and should be geocoded from its label.
func (p Pin) Unlocated() bool {
	return p.Lat == 0 && p.Lng == 0 && strings.TrimSpace(p.LocationLabel) != ""
}

func (p Pin) Validate() error {
	if strings.TrimSpace(p.EventID) == "" {
		return fmt.Errorf("%w: pin event_id is empty", ErrValidation)
	}
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("%w: pin title is empty", ErrValidation)
	}
	if !p.Category.Valid() {
		return fmt.Errorf("%w: pin category %q", ErrValidation, p.Category)
	}
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("%w: pin lat %f out of range", ErrValidation, p.Lat)
	}
	if p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("%w: pin lng %f out of range", ErrValidation, p.Lng)
	}
	return nil
}

// Location is a geocoder result.
type Location struct {
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Label string  `json:"label"`
}

// ParsedCommand is the structured reading of a free-text user command.
// Nil fields mean the command did not mention that facet.
type ParsedCommand struct {
	Location  *Location  `json:"location,omitempty"`
	Language  string     `json:"language,omitempty"`
	DateRange *DateRange `json:"date_range,omitempty"`
}

// RandomEvent is a historic event picked by the generator.
type RandomEvent struct {
	EventName string    `json:"event_name"`
	Location  *Location `json:"location,omitempty"`
	DateRange DateRange `json:"date_range"`
	Language  string    `json:"language,omitempty"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a per-session conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
