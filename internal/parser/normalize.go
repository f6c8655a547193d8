package parser

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"pams-ai/internal/config"
)

var (
	blanks      = regexp.MustCompile(`[ \t]+`)
	extraBreaks = regexp.MustCompile(`\n{3,}`)
	pageNumber  = regexp.MustCompile(`^\d{1,4}$`)
)

// Normalize cleans extracted or OCR text: form feeds and runs of blanks
// become single spaces, lines of two characters or less and bare page
// numbers are dropped, and at most one empty line separates paragraphs.
func Normalize(t string) string {
	t = strings.ReplaceAll(t, "\x0c", " ")
	t = blanks.ReplaceAllString(t, " ")
	t = strings.ReplaceAll(t, "\r\n", "\n")
	t = strings.ReplaceAll(t, "\r", "\n")
	t = extraBreaks.ReplaceAllString(t, "\n\n")

	lines := strings.Split(t, "\n")
	kept := lines[:0]
	for _, line := range lines {
		s := strings.TrimSpace(line)
		switch {
		case s == "":
			kept = append(kept, "")
		case utf8.RuneCountInString(s) <= 2, pageNumber.MatchString(s):
			// noise
		default:
			kept = append(kept, s)
		}
	}
	t = strings.Join(kept, "\n")
	return strings.TrimSpace(extraBreaks.ReplaceAllString(t, "\n\n"))
}

// AlphaRatio is the share of letters among the non-space characters of t.
func AlphaRatio(t string) float64 {
	var letters, total int
	for _, r := range t {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(letters) / float64(total)
}

// Chunker packs paragraphs into overlapping chunks. Sizes count characters,
// not bytes.
type Chunker struct {
	MaxChars      int
	Overlap       int
	MinChars      int
	MinAlphaRatio float64
}

func NewChunker(cfg config.IngestConfig) Chunker {
	return Chunker{
		MaxChars:      cfg.ChunkSize,
		Overlap:       cfg.ChunkOverlap,
		MinChars:      cfg.MinChunkChars,
		MinAlphaRatio: cfg.MinAlphaRatio,
	}.sane()
}

func (c Chunker) sane() Chunker {
	if c.MaxChars <= 0 {
		c.MaxChars = 1400
	}
	if c.Overlap < 0 || c.Overlap >= c.MaxChars {
		c.Overlap = c.MaxChars / 2
	}
	return c
}

// Split groups the paragraphs of text into chunks of at most MaxChars.
// Paragraphs longer than that are cut with Overlap characters repeated
// between pieces; when a chunk is closed, its last Overlap characters open
// the next one when it fits. Chunks failing Keep are dropped.
func (c Chunker) Split(text string) []string {
	c = c.sane()
	text = strings.TrimSpace(extraBreaks.ReplaceAllString(text, "\n\n"))
	if text == "" {
		return nil
	}

	var (
		chunks []string
		cur    []rune
	)
	for _, para := range strings.Split(text, "\n\n") {
		p := []rune(strings.TrimSpace(para))
		if len(p) == 0 {
			continue
		}
		for len(p) > c.MaxChars {
			if part := strings.TrimSpace(string(p[:c.MaxChars])); part != "" {
				chunks = append(chunks, part)
			}
			p = []rune(strings.TrimSpace(string(p[c.MaxChars-c.Overlap:])))
		}

		switch {
		case len(cur) == 0:
			cur = p
		case len(cur)+2+len(p) <= c.MaxChars:
			cur = append(append(cur, '\n', '\n'), p...)
		default:
			chunks = append(chunks, string(cur))
			tail := []rune(c.tail(cur))
			if len(tail) == 0 || len(tail)+2+len(p) > c.MaxChars {
				cur = p
			} else {
				cur = append(append(tail, '\n', '\n'), p...)
			}
		}
	}
	if len(cur) > 0 {
		chunks = append(chunks, string(cur))
	}

	out := chunks[:0]
	for _, ch := range chunks {
		if c.Keep(ch) {
			out = append(out, ch)
		}
	}
	return out
}

func (c Chunker) tail(cur []rune) string {
	if c.Overlap <= 0 {
		return ""
	}
	if len(cur) > c.Overlap {
		cur = cur[len(cur)-c.Overlap:]
	}
	return strings.TrimSpace(string(cur))
}

// Keep reports whether a chunk is long enough and mostly letters. OCR noise
// such as tables of figures or scanned stamps fails the ratio.
func (c Chunker) Keep(chunk string) bool {
	chunk = strings.TrimSpace(chunk)
	if utf8.RuneCountInString(chunk) < c.MinChars {
		return false
	}
	return AlphaRatio(chunk) >= c.MinAlphaRatio
}
