package plan

import (
	"sort"
	"strings"

	"github.com/recapbook/api/internal/model"
)

const (
	maxCaptions   = 20
	maxCaptionLen = 200
	edgeCaptions  = 5
	maxHashtags   = 10
	maxLocations  = 12
)

// PromptContext is the data plan templates are rendered against.
type PromptContext struct {
	Style         model.StyleID
	Owner         string
	ItemCount     int
	Captions      []string
	EarlyCaptions []string
	LateCaptions  []string
	Locations     []string
	Hashtags      []string
}

// OwnerOrDefault is used by title templates.
func (pc PromptContext) OwnerOrDefault() string {
	if pc.Owner == "" {
		return "Your"
	}
	return pc.Owner
}

// Keywords returns the terms worth emphasising in generated prose.
func (pc PromptContext) Keywords() []string {
	out := make([]string, 0, len(pc.Locations)+len(pc.Hashtags))
	out = append(out, pc.Locations...)
	for _, h := range pc.Hashtags {
		out = append(out, strings.TrimPrefix(h, "#"))
	}
	return out
}

// BuildContext condenses a run's source items into a bounded PromptContext.
// Items are expected in chronological order.
func BuildContext(run *model.Run, items []model.SourceItem) PromptContext {
	pc := PromptContext{
		ItemCount: len(items),
	}
	if run != nil {
		pc.Style = run.Style
		pc.Owner = run.OwnerID
	}

	captions := make([]string, 0, len(items))
	seenLoc := make(map[string]bool)
	tagCount := make(map[string]int)
	var tagOrder []string

	for _, item := range items {
		if c := clip(item.Caption); c != "" {
			captions = append(captions, c)
		}
		if loc := strings.TrimSpace(item.Location); loc != "" && !seenLoc[loc] {
			seenLoc[loc] = true
			pc.Locations = append(pc.Locations, loc)
		}
		for _, tag := range item.Hashtags {
			tag = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(tag), "#"))
			if tag == "" {
				continue
			}
			if tagCount[tag] == 0 {
				tagOrder = append(tagOrder, tag)
			}
			tagCount[tag]++
		}
	}

	pc.Captions = spread(captions, maxCaptions)
	pc.EarlyCaptions = head(captions, edgeCaptions)
	pc.LateCaptions = tail(captions, edgeCaptions)
	if len(pc.Locations) > maxLocations {
		pc.Locations = pc.Locations[:maxLocations]
	}

	sort.SliceStable(tagOrder, func(i, j int) bool {
		return tagCount[tagOrder[i]] > tagCount[tagOrder[j]]
	})
	for _, tag := range head(tagOrder, maxHashtags) {
		pc.Hashtags = append(pc.Hashtags, "#"+tag)
	}
	return pc
}

func clip(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > maxCaptionLen {
		return string(r[:maxCaptionLen]) + "…"
	}
	return s
}

func head(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func tail(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// spread picks n evenly spaced entries so long runs stay represented end to end.
func spread(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	out := make([]string, 0, n)
	step := float64(len(s)-1) / float64(n-1)
	for i := 0; i < n; i++ {
		out = append(out, s[int(float64(i)*step+0.5)])
	}
	return out
}
