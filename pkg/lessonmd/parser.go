// Package lessonmd extracts lesson plan fields from assistant-generated markdown.
package lessonmd

import (
	"strings"
)

// Draft is a partially filled lesson plan. A nil field was not found.
type Draft struct {
	Title        *string `json:"title,omitempty"`
	Subject      *string `json:"subject,omitempty"`
	Topic        *string `json:"topic,omitempty"`
	ClassName    *string `json:"class_name,omitempty"`
	Duration     *string `json:"duration,omitempty"`
	TeachingAids *string `json:"teaching_aids,omitempty"`
	Objectives   *string `json:"objectives,omitempty"`
	Activities   *string `json:"activities,omitempty"`
}

type section int

const (
	sectionNone section = iota
	sectionObjectives
	sectionActivities
	sectionAppendix
)

var labels = []struct {
	prefix string
	field  func(*Draft) **string
}{
	{"subject:", func(d *Draft) **string { return &d.Subject }},
	{"topic:", func(d *Draft) **string { return &d.Topic }},
	{"class:", func(d *Draft) **string { return &d.ClassName }},
	{"duration:", func(d *Draft) **string { return &d.Duration }},
	{"teaching aids:", func(d *Draft) **string { return &d.TeachingAids }},
}

// appendix headings have no column of their own and are folded into activities.
var appendixHeadings = map[string]string{
	"rationale":  "Rationale",
	"homework":   "Homework",
	"references": "References",
}

// Parse reads markdown line by line. It accepts any input, including empty
// or unstructured text, and never fails.
func Parse(markdown string) Draft {
	var (
		draft      Draft
		current    = sectionNone
		objectives []string
		activities []string
		appendix   []string
	)

	text := strings.ReplaceAll(markdown, "\r\n", "\n")
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)

		if heading, level, ok := headingOf(line); ok {
			if level == 1 {
				if draft.Title == nil && heading != "" {
					draft.Title = strPtr(heading)
				}
				current = sectionNone
				continue
			}
			if matchLabel(&draft, heading) {
				continue
			}
			key := strings.ToLower(heading)
			switch {
			case key == "behavioral objectives" || key == "behavioural objectives":
				current = sectionObjectives
			case key == "presentation and development":
				current = sectionActivities
			case appendixHeadings[key] != "":
				current = sectionAppendix
				appendix = append(appendix, "### "+appendixHeadings[key])
			default:
				if level == 2 {
					current = sectionNone
				} else {
					collect(current, raw, &objectives, &activities, &appendix)
				}
			}
			continue
		}

		if matchLabel(&draft, line) {
			continue
		}
		collect(current, raw, &objectives, &activities, &appendix)
	}

	if body := joinBlock(objectives); body != "" {
		draft.Objectives = strPtr(body)
	}

	body := joinBlock(activities)
	if extra := joinBlock(appendix); extra != "" {
		if body != "" {
			body += "\n\n"
		}
		body += extra
	}
	if body != "" {
		draft.Activities = strPtr(body)
	}

	return draft
}

func collect(current section, raw string, objectives, activities, appendix *[]string) {
	line := strings.TrimRight(raw, " \t")
	switch current {
	case sectionObjectives:
		*objectives = append(*objectives, line)
	case sectionActivities:
		*activities = append(*activities, line)
	case sectionAppendix:
		*appendix = append(*appendix, line)
	}
}

func headingOf(line string) (string, int, bool) {
	level := 0
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level == 0 || level > 6 {
		return "", 0, false
	}
	if level < len(line) && line[level] != ' ' {
		return "", 0, false
	}
	heading := strings.TrimSpace(stripEmphasis(line[level:]))
	heading = strings.TrimRight(heading, ":")
	return strings.TrimSpace(heading), level, true
}

func matchLabel(draft *Draft, line string) bool {
	cleaned := strings.TrimSpace(stripBullet(line))
	cleaned = stripEmphasis(cleaned)
	for _, label := range labels {
		n := len(label.prefix)
		if len(cleaned) < n || !strings.EqualFold(cleaned[:n], label.prefix) {
			continue
		}
		field := label.field(draft)
		if *field != nil {
			return true
		}
		value := strings.TrimSpace(cleaned[n:])
		if value != "" {
			*field = strPtr(value)
		}
		return true
	}
	return false
}

func stripBullet(line string) string {
	for _, bullet := range []string{"- ", "* ", "+ "} {
		if strings.HasPrefix(line, bullet) {
			return line[len(bullet):]
		}
	}
	return line
}

func stripEmphasis(line string) string {
	return strings.NewReplacer("**", "", "__", "").Replace(line)
}

func joinBlock(lines []string) string {
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func strPtr(v string) *string {
	return &v
}
