package prompt

import (
	"embed"
	"strings"
	"text/template"
)

//go:embed template/*.txt
var templateFS embed.FS

var (
	//go:embed template/pins_system.txt
	pinsSystemRaw string

	//go:embed template/parse_system.txt
	parseSystemRaw string

	//go:embed template/random_system.txt
	randomSystemRaw string
)

// Set holds the loaded prompt content. System prompts are static strings;
// user-facing prompts carry request parameters and are parsed templates.
type Set struct {
	PinsSystem   string
	ParseSystem  string
	RandomSystem string

	Pins        *template.Template
	Explanation *template.Template
	Answer      *template.Template
	Parse       *template.Template
	Random      *template.Template
}

// LoadSet returns a Set with trimmed system prompts and parsed templates.
// The embed is compile-time, so parse failures surface at program start.
func LoadSet() Set {
	parse := func(name string) *template.Template {
		return template.Must(template.ParseFS(templateFS, "template/"+name))
	}
	return Set{
		PinsSystem:   strings.TrimSpace(pinsSystemRaw),
		ParseSystem:  strings.TrimSpace(parseSystemRaw),
		RandomSystem: strings.TrimSpace(randomSystemRaw),
		Pins:         parse("pins_user.txt"),
		Explanation:  parse("explanation.txt"),
		Answer:       parse("answer.txt"),
		Parse:        parse("parse_user.txt"),
		Random:       parse("random_user.txt"),
	}
}

// Render executes a template against data and returns the trimmed result.
func Render(t *template.Template, data any) (string, error) {
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(sb.String()), nil
}
