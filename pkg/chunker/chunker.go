// Package chunker splits Markdown text into bounded-size chunks along
// heading boundaries. Sections shorter than the minimum size merge with
// their neighbors; sections over the maximum split on paragraph breaks,
// then sentence ends, then a hard character cut. Concatenating the chunks
// in index order reproduces every non-whitespace character of the input.
package chunker

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

type Chunk struct {
	Content string
	Label   string // heading path, e.g. "Guide - Setup (Part 1/2)"
	Index   int
	Start   int // character offset into the emitted stream
	End     int
}

type Splitter struct {
	minSize int
	maxSize int
}

func NewSplitter(minSize, maxSize int) *Splitter {
	if minSize <= 0 {
		minSize = 1000
	}
	if maxSize <= minSize {
		maxSize = minSize * 3
	}
	return &Splitter{minSize: minSize, maxSize: maxSize}
}

var headingRe = regexp.MustCompile(`(?m)^(#{1,6})[ \t]+(.+?)(?:[ \t]*\{#[\w-]+\})?[ \t]*$`)

type heading struct {
	level int
	title string
	pos   int // byte offset of the heading line
}

// section is a run of text between two headings. Merged sections carry
// every heading they absorbed, in document order.
type section struct {
	content  string
	headings []heading
}

func (s *Splitter) Split(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	outline := extractOutline(text)
	sections := splitByHeadings(text, outline)
	sections = mergeShort(sections, s.minSize, s.maxSize)

	var chunks []Chunk
	offset := 0
	emit := func(content, label string) {
		n := utf8.RuneCountInString(content)
		chunks = append(chunks, Chunk{
			Content: content,
			Label:   label,
			Index:   len(chunks),
			Start:   offset,
			End:     offset + n,
		})
		offset += n
	}

	for _, sec := range sections {
		label := sectionLabel(sec, outline)
		if utf8.RuneCountInString(strings.TrimSpace(sec.content)) <= s.maxSize {
			emit(strings.TrimSpace(sec.content), label)
			continue
		}
		parts := splitLong(sec.content, s.maxSize)
		for i, part := range parts {
			emit(part, fmt.Sprintf("%s (Part %d/%d)", label, i+1, len(parts)))
		}
	}

	return chunks
}

func extractOutline(text string) []heading {
	var outline []heading
	for _, m := range headingRe.FindAllStringSubmatchIndex(text, -1) {
		outline = append(outline, heading{
			level: m[3] - m[2],
			title: strings.TrimSpace(text[m[4]:m[5]]),
			pos:   m[0],
		})
	}
	return outline
}

// splitByHeadings cuts the text at each heading. The heading line stays
// inside its own section so nothing is lost on reconstruction.
func splitByHeadings(text string, outline []heading) []section {
	if len(outline) == 0 {
		return []section{{content: strings.TrimSpace(text)}}
	}

	var sections []section
	if front := strings.TrimSpace(text[:outline[0].pos]); front != "" {
		sections = append(sections, section{content: front})
	}

	for i, h := range outline {
		end := len(text)
		if i+1 < len(outline) {
			end = outline[i+1].pos
		}
		sections = append(sections, section{
			content:  strings.TrimSpace(text[h.pos:end]),
			headings: []heading{h},
		})
	}
	return sections
}

// mergeShort folds sections below minSize into their predecessor as long
// as the merged content stays within maxSize.
func mergeShort(sections []section, minSize, maxSize int) []section {
	var merged []section
	var cur *section

	for i := range sections {
		s := sections[i]
		if cur == nil {
			cur = &s
			continue
		}
		curLen := utf8.RuneCountInString(strings.TrimSpace(cur.content))
		secLen := utf8.RuneCountInString(strings.TrimSpace(s.content))
		if curLen < minSize || secLen < minSize {
			combined := cur.content + "\n\n" + s.content
			if utf8.RuneCountInString(combined) <= maxSize {
				cur.content = combined
				cur.headings = append(cur.headings, s.headings...)
				continue
			}
		}
		merged = append(merged, *cur)
		cur = &s
	}
	if cur != nil {
		merged = append(merged, *cur)
	}
	return merged
}

// splitLong cuts an oversized section into parts of at most maxLen runes,
// preferring a blank line, then a sentence end, then a hard cut.
func splitLong(content string, maxLen int) []string {
	runes := []rune(content)
	var parts []string
	pos := 0

	for pos < len(runes) {
		end := pos + maxLen
		if end > len(runes) {
			end = len(runes)
		}

		split := end
		if end < len(runes) {
			if i := lastIndexSeq(runes, pos, end, []rune("\n\n")); i >= 0 {
				split = i + 2
			} else if i := lastIndexRune(runes, pos, end, '.'); i >= 0 {
				split = i + 1
			}
			if split <= pos {
				split = end
			}
		}

		if part := strings.TrimSpace(string(runes[pos:split])); part != "" {
			parts = append(parts, part)
		}
		pos = split
	}
	return parts
}

func lastIndexSeq(runes []rune, from, to int, seq []rune) int {
	for i := to - len(seq); i >= from; i-- {
		match := true
		for j := range seq {
			if runes[i+j] != seq[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func lastIndexRune(runes []rune, from, to int, r rune) int {
	for i := to - 1; i >= from; i-- {
		if runes[i] == r {
			return i
		}
	}
	return -1
}

func sectionLabel(sec section, outline []heading) string {
	switch len(sec.headings) {
	case 0:
		return contentLabel(sec.content)
	case 1:
		if path := headingPath(sec.headings[0], outline); len(path) > 0 {
			return strings.Join(path, " - ")
		}
		return sec.headings[0].title
	default:
		titles := make([]string, len(sec.headings))
		for i, h := range sec.headings {
			titles[i] = h.title
		}
		return strings.Join(titles, " - ")
	}
}

// headingPath walks the outline backwards collecting ancestors, so a
// level-3 heading under "Guide > Setup" labels as [Guide Setup Title].
func headingPath(h heading, outline []heading) []string {
	idx := -1
	for i, o := range outline {
		if o.pos == h.pos {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil
	}

	path := []string{h.title}
	level := h.level
	for i := idx - 1; i >= 0 && level > 1; i-- {
		if outline[i].level < level {
			path = append([]string{outline[i].title}, path...)
			level = outline[i].level
		}
	}
	return path
}

// contentLabel falls back to the first non-empty line for heading-less text.
func contentLabel(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		runes := []rune(line)
		if len(runes) > 50 {
			return string(runes[:50])
		}
		return line
	}
	return "Document"
}
