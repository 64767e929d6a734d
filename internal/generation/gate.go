// Package generation fans section prompts out to a text generator under
// per-task and global time budgets and resolves every section to usable
// content.
package generation

import (
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/recapbook/api/internal/config"
	"github.com/recapbook/api/internal/model"
)

// Output is what a generation task produced. A non-nil Err means nothing
// usable was produced (timeout, provider error or panic).
type Output struct {
	Text string
	Err  error
}

// Gate validates generated text and substitutes fallback content when it is
// rejected.
type Gate struct {
	minWords    int
	maxEmphasis int
	md          goldmark.Markdown
}

func NewGate(cfg config.QualityConfig) *Gate {
	return &Gate{
		minWords:    cfg.MinWords,
		maxEmphasis: cfg.MaxEmphasis,
		md:          goldmark.New(),
	}
}

var (
	// whole paragraphs that are chatter around the content
	chatter = regexp.MustCompile(`(?i)^(sure|certainly|of course|absolutely|here is|here's|below is|i hope|let me know|feel free)\b.*`)
	// leading disclaimers in front of real content
	disclaimer = regexp.MustCompile(`(?i)^(as an ai( language model)?|as a language model)[^,.]*[,.]\s*`)
)

// Resolve turns a task output into a SectionResult. It never panics and
// never returns empty content.
func (g *Gate) Resolve(spec model.SectionSpec, out Output, keywords []string) (res model.SectionResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Quality gate panic on section %s: %v", spec.ID, r)
			res = fallback(spec)
		}
	}()

	if out.Err != nil || strings.TrimSpace(out.Text) == "" {
		return fallback(spec)
	}
	if wordCount(out.Text) < g.minWords {
		return fallback(spec)
	}

	content := g.normalize(out.Text, keywords)
	if wordCount(content) < g.minWords {
		return fallback(spec)
	}

	return model.SectionResult{
		SectionID: spec.ID,
		Title:     spec.Title,
		Content:   content,
		Origin:    model.OriginGenerated,
	}
}

func fallback(spec model.SectionSpec) model.SectionResult {
	content := strings.TrimSpace(spec.Fallback)
	if content == "" {
		title := strings.TrimSpace(spec.Title)
		if title == "" {
			title = "This chapter"
		}
		content = fmt.Sprintf("%s is a story still waiting to be told.", title)
	}
	return model.SectionResult{
		SectionID: spec.ID,
		Title:     spec.Title,
		Content:   content,
		Origin:    model.OriginFallback,
	}
}

func (g *Gate) normalize(raw string, keywords []string) string {
	var paras []string
	for _, p := range g.plainParagraphs([]byte(raw)) {
		p = disclaimer.ReplaceAllString(p, "")
		if chatter.MatchString(p) && (strings.HasSuffix(p, ":") || wordCount(p) < 12) {
			continue
		}
		if p = strings.TrimSpace(p); p != "" {
			paras = append(paras, capitalize(p))
		}
	}
	return emphasize(strings.Join(paras, "\n\n"), keywords, g.maxEmphasis)
}

// plainParagraphs parses src as Markdown and returns the text of every
// paragraph with markup removed and whitespace collapsed.
func (g *Gate) plainParagraphs(src []byte) []string {
	doc := g.md.Parser().Parse(text.NewReader(src))

	var paras []string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindParagraph, ast.KindTextBlock:
			if p := inlineText(n, src); p != "" {
				paras = append(paras, p)
			}
			return ast.WalkSkipChildren, nil
		case ast.KindHeading, ast.KindFencedCodeBlock, ast.KindCodeBlock,
			ast.KindHTMLBlock, ast.KindThematicBreak:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return paras
}

func inlineText(n ast.Node, src []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				sb.WriteByte(' ')
			}
		case *ast.String:
			sb.Write(t.Value)
		case *ast.AutoLink:
			sb.Write(t.Label(src))
			return ast.WalkSkipChildren, nil
		case *ast.Image, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return strings.Join(strings.Fields(sb.String()), " ")
}

// emphasize bolds the first occurrence of up to limit keywords. Longer
// keywords go first so they are not split by a shorter one.
func emphasize(s string, keywords []string, limit int) string {
	if limit <= 0 || len(keywords) == 0 {
		return s
	}

	seen := make(map[string]bool)
	var kws []string
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		key := strings.ToLower(kw)
		if len([]rune(kw)) < 3 || seen[key] {
			continue
		}
		seen[key] = true
		kws = append(kws, kw)
	}
	sort.SliceStable(kws, func(i, j int) bool { return len(kws[i]) > len(kws[j]) })

	applied := 0
	for _, kw := range kws {
		if applied == limit {
			break
		}
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(kw) + `\b`)
		if err != nil {
			continue
		}
		for _, loc := range re.FindAllStringIndex(s, -1) {
			if strings.Count(s[:loc[0]], "**")%2 == 1 {
				continue
			}
			s = s[:loc[0]] + "**" + s[loc[0]:loc[1]] + "**" + s[loc[1]:]
			applied++
			break
		}
	}
	return s
}

func capitalize(s string) string {
	r := []rune(s)
	if len(r) == 0 {
		return s
	}
	r[0] = []rune(strings.ToUpper(string(r[0])))[0]
	return string(r)
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
