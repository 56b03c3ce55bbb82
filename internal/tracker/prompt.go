package tracker

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/zulandar/great12/internal/view"
)

const feedbackTemplate = `You are a supportive coach for someone following a 12-week plan.

## Goals
{{ range .Goals }}- {{ .Title }}{{ if .Description }}: {{ .Description }}{{ end }}
{{ end }}
## Week {{ .Week }} actions ({{ .Completed }} of {{ len .Actions }} completed)
{{ range .Actions }}- [{{ if .IsCompleted }}x{{ else }} {{ end }}] {{ .Title }}{{ with goalTitle .GoalID }} ({{ . }}){{ end }}
{{ else }}- none planned
{{ end }}
## Their review
{{ range .Reviews }}- {{ . }}
{{ end }}
Reply with two or three short paragraphs: what went well, what to adjust
next week, and one concrete suggestion. Keep it encouraging and specific.
`

type feedbackData struct {
	Week      int
	Goals     []view.Goal
	Actions   []view.Action
	Completed int
	Reviews   []string
}

// renderFeedbackPrompt builds the generation prompt for one week.
func renderFeedbackPrompt(week int, goals []view.Goal, w view.WeekData) (string, error) {
	titles := make(map[string]string, len(goals))
	for _, g := range goals {
		titles[g.ID] = g.Title
	}
	data := feedbackData{Week: week, Goals: goals, Actions: w.Actions}
	for _, a := range w.Actions {
		if a.IsCompleted {
			data.Completed++
		}
	}
	for _, r := range w.Review {
		if r = strings.TrimSpace(r); r != "" {
			data.Reviews = append(data.Reviews, r)
		}
	}

	funcMap := template.FuncMap{
		"goalTitle": func(id string) string { return titles[id] },
	}
	tmpl, err := template.New("feedback").Funcs(funcMap).Parse(feedbackTemplate)
	if err != nil {
		return "", fmt.Errorf("tracker: parse feedback template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("tracker: render feedback prompt: %w", err)
	}
	return buf.String(), nil
}
