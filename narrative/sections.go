package narrative

import (
	"strings"
)

// Section header names. A narrative is rendered as "## NAME" header lines each
// followed by the section body.
const (
	SectionContentWarning    = "CONTENT WARNING"
	SectionWhatHappened      = "WHAT HAPPENED"
	SectionWhyItMatters      = "WHY IT MATTERS"
	SectionRecommendedAction = "RECOMMENDED ACTION"

	SectionAttackPattern    = "ATTACK PATTERN"
	SectionObservedBehavior = "OBSERVED BEHAVIOR"
	SectionBusinessImpact   = "BUSINESS IMPACT"
	SectionPriorityLevel    = "PRIORITY LEVEL"
	SectionContainment      = "CONTAINMENT"
	SectionRecommendation   = "RECOMMENDATION"

	SectionRiskScore        = "RISK SCORE"
	SectionConfidence       = "CONFIDENCE"
	SectionFalsePositive    = "FALSE POSITIVE LIKELIHOOD"
	SectionAssetCriticality = "ASSET CRITICALITY"
	SectionAnalystGuidance  = "ANALYST GUIDANCE"
)

// Prose sections are the only ones a language model is allowed to write.
var (
	AlertProseSections = []string{
		SectionWhatHappened,
		SectionWhyItMatters,
		SectionRecommendedAction,
	}
	IncidentProseSections = []string{
		SectionAttackPattern,
		SectionObservedBehavior,
		SectionBusinessImpact,
		SectionContainment,
		SectionRecommendation,
	}
)

const headerPrefix = "## "

// SectionText is one named section of a narrative.
type SectionText struct {
	Name string `json:"name"`
	Body string `json:"body"`
}

// Narrative is an ordered list of sections.
type Narrative struct {
	Sections []SectionText `json:"sections"`
}

// Set stores a section body, replacing an existing section of the same name in
// place. Empty bodies remove the section.
func (n *Narrative) Set(name, body string) {
	name = normalizeName(name)
	body = normalizeBody(body)
	for i, s := range n.Sections {
		if s.Name == name {
			if body == "" {
				n.Sections = append(n.Sections[:i], n.Sections[i+1:]...)
			} else {
				n.Sections[i].Body = body
			}
			return
		}
	}
	if name != "" && body != "" {
		n.Sections = append(n.Sections, SectionText{Name: name, Body: body})
	}
}

// Get returns the body of a section, or "" when absent.
func (n Narrative) Get(name string) string {
	name = normalizeName(name)
	for _, s := range n.Sections {
		if s.Name == name {
			return s.Body
		}
	}
	return ""
}

// Has reports whether the named section is present.
func (n Narrative) Has(name string) bool {
	return n.Get(name) != ""
}

// Names returns section names in order.
func (n Narrative) Names() []string {
	names := make([]string, 0, len(n.Sections))
	for _, s := range n.Sections {
		names = append(names, s.Name)
	}
	return names
}

// CountPresent returns how many of the given section names are populated.
func (n Narrative) CountPresent(names []string) int {
	count := 0
	for _, name := range names {
		if n.Has(name) {
			count++
		}
	}
	return count
}

// Format serializes the narrative. Parse(Format(n)) yields n.
func (n Narrative) Format() string {
	var b strings.Builder
	for i, s := range n.Sections {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(headerPrefix)
		b.WriteString(s.Name)
		b.WriteString("\n")
		b.WriteString(s.Body)
	}
	return b.String()
}

// String implements fmt.Stringer
func (n Narrative) String() string {
	return n.Format()
}

// Parse reads a narrative in section-header format. Text before the first
// header is ignored. Header names are matched case-insensitively and stored
// upper-case; a repeated header overwrites the earlier body.
func Parse(text string) Narrative {
	var (
		n       Narrative
		current string
		body    []string
		started bool
	)
	flush := func() {
		if started {
			n.Set(current, strings.Join(body, "\n"))
		}
	}

	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if name, ok := headerName(line); ok {
			flush()
			current, body, started = name, nil, true
			continue
		}
		if started {
			body = append(body, line)
		}
	}
	flush()
	return n
}

func headerName(line string) (string, bool) {
	if !strings.HasPrefix(line, headerPrefix) {
		return "", false
	}
	name := normalizeName(strings.TrimPrefix(line, headerPrefix))
	if name == "" {
		return "", false
	}
	return name, true
}

func normalizeName(name string) string {
	name = strings.TrimSpace(strings.Trim(strings.TrimSpace(name), "#*:"))
	return strings.ToUpper(name)
}

// normalizeBody trims the body and demotes lines that would otherwise be read
// back as section headers.
func normalizeBody(body string) string {
	body = strings.TrimSpace(strings.ReplaceAll(body, "\r\n", "\n"))
	if !strings.Contains(body, headerPrefix) {
		return body
	}
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, headerPrefix) {
			lines[i] = strings.TrimLeft(line, "# ")
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
