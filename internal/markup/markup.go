// Package markup converts the markdown the agent produces into whatever
// a chat surface can display: plain text for transports that render no
// formatting, or an escaped minimal HTML subset for those that do.
package markup

import (
	"html"
	"regexp"
	"strings"
)

var (
	boldRe    = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	italicRe  = regexp.MustCompile(`(^|[^*])\*([^*\n]+)\*`)
	codeRe    = regexp.MustCompile("`([^`\n]+)`")
	linkRe    = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	headingRe = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	hruleRe   = regexp.MustCompile(`(?m)^(\*{3,}|-{3,}|_{3,})\s*$`)
)

// ToPlain strips markdown decoration while preserving the text itself.
// Fenced code blocks keep their content but lose the fences; link targets
// are dropped in favor of the link text.
func ToPlain(s string) string {
	var out strings.Builder
	inFence := false
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			out.WriteString(line)
		} else {
			out.WriteString(plainLine(line))
		}
		if i < len(lines)-1 {
			out.WriteString("\n")
		}
	}
	return collapseBlank(out.String())
}

func plainLine(line string) string {
	if hruleRe.MatchString(line) {
		return ""
	}
	line = headingRe.ReplaceAllString(line, "")
	line = linkRe.ReplaceAllString(line, "$1")
	line = boldRe.ReplaceAllString(line, "$1")
	line = italicRe.ReplaceAllString(line, "$1$2")
	line = codeRe.ReplaceAllString(line, "$1")

	// Normalize list bullets to a plain dash.
	trimmed := strings.TrimLeft(line, " \t")
	indent := line[:len(line)-len(trimmed)]
	if strings.HasPrefix(trimmed, "* ") || strings.HasPrefix(trimmed, "+ ") {
		trimmed = "- " + trimmed[2:]
	}
	return indent + trimmed
}

// ToHTML renders a minimal HTML subset: bold, italic, inline code and
// fenced code blocks. Everything else, including the text inside code,
// is HTML-escaped, so agent output can never inject markup of its own.
func ToHTML(s string) string {
	var out strings.Builder
	var fence []string
	inFence := false
	lines := strings.Split(s, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			if inFence {
				out.WriteString("<pre><code>")
				out.WriteString(html.EscapeString(strings.Join(fence, "\n")))
				out.WriteString("</code></pre>\n")
				fence = fence[:0]
			}
			inFence = !inFence
			continue
		}
		if inFence {
			fence = append(fence, line)
			continue
		}
		out.WriteString(htmlLine(line))
		out.WriteString("\n")
	}
	// Unclosed fence: treat the buffered lines as a code block anyway.
	if inFence && len(fence) > 0 {
		out.WriteString("<pre><code>")
		out.WriteString(html.EscapeString(strings.Join(fence, "\n")))
		out.WriteString("</code></pre>\n")
	}
	return strings.TrimSuffix(collapseBlank(out.String()), "\n")
}

func htmlLine(line string) string {
	line = html.EscapeString(line)
	line = boldRe.ReplaceAllString(line, "<strong>$1</strong>")
	line = italicRe.ReplaceAllString(line, "$1<em>$2</em>")
	line = codeRe.ReplaceAllString(line, "<code>$1</code>")
	return line
}

// collapseBlank reduces runs of blank lines, which stripping headings and
// rules tends to leave behind, to a single one.
func collapseBlank(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			if blank {
				continue
			}
			blank = true
			out = append(out, "")
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
