package builder

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// headingRE matches setext-style wiki headings: a line of the form
// "== Title ==" with matching marker depth on both sides.
var headingRE = regexp.MustCompile(`(?m)^(={1,6})[^=\n].*?={1,6}[ \t]*$`)

// replaceSection splices new text for one section into the full page
// text. Section "new" appends a fresh section at the bottom; a numeric
// section replaces that section, where 0 is the lead text before the
// first heading and section n starts at the n-th heading.
func replaceSection(page, section, text string) (string, error) {
	if section == "new" {
		if page == "" {
			return text, nil
		}
		return strings.TrimRight(page, "\n") + "\n\n" + text, nil
	}

	idx, err := strconv.Atoi(section)
	if err != nil || idx < 0 {
		return "", fmt.Errorf("invalid section identifier %q", section)
	}

	bounds := headingRE.FindAllStringIndex(page, -1)

	// Section idx spans from its heading (or the page start for the
	// lead) up to the next heading.
	start, end := 0, len(page)
	if idx > 0 {
		if idx > len(bounds) {
			return "", fmt.Errorf("page has no section %d", idx)
		}
		start = bounds[idx-1][0]
	}
	if idx < len(bounds) {
		end = bounds[idx][0]
	}

	var sb strings.Builder
	sb.WriteString(page[:start])
	sb.WriteString(strings.TrimRight(text, "\n"))
	if end < len(page) {
		sb.WriteString("\n")
	}
	sb.WriteString(page[end:])
	return sb.String(), nil
}
