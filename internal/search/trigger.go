package search

import (
	"regexp"
	"strings"
)

// TriggerKind names the family of phrase that fired the trigger.
type TriggerKind string

const (
	TriggerNone       TriggerKind = ""
	TriggerHistorical TriggerKind = "historical"
	TriggerTime       TriggerKind = "time"
	TriggerRecall     TriggerKind = "recall"
)

// Compiled at package init. Checked in order; the first match wins. Each
// phrase must point back at the user's own history, so "remind me to call"
// or "a product recall" do not count.
var (
	// "what did we discuss", "remember when", "you told me", "we talked about"
	historicalPattern = regexp.MustCompile(`(?i)\b(` +
		`what\s+(did|have)\s+(we|i|you)\s+(discuss|discussed|talk|talked|say|said|decide|decided|agree|agreed)|` +
		`(do|can)\s+you\s+remember|remember\s+(when|what|how|the\s+time)|` +
		`(we|you)\s+(discussed|talked\s+about|mentioned|decided|agreed)|` +
		`i\s+(mentioned|told\s+you)|` +
		`you\s+(told|asked)\s+me|i\s+asked\s+you|` +
		`as\s+(we|i|you)\s+(said|discussed|mentioned)|` +
		`(our|the)\s+(previous|last|earlier)\s+(conversation|chat|discussion|session)|` +
		`last\s+time\s+(we|i|you)|` +
		`earlier\s+(you|we|i)\s+(said|mentioned)` +
		`)\b`)

	// "last week", "a few days ago", "yesterday", "back in March"
	timePattern = regexp.MustCompile(`(?i)\b(` +
		`yesterday|the\s+other\s+day|` +
		`last\s+(week|month|year|night|weekend|monday|tuesday|wednesday|thursday|friday|saturday|sunday)|` +
		`(a\s+few|a\s+couple\s+(of\s+)?|several|some|\d+|two|three|four|five)\s+(days?|weeks?|months?|years?)\s+ago|` +
		`a\s+(day|week|month|year|while)\s+ago|` +
		`back\s+in\s+(january|february|march|april|may|june|july|august|september|october|november|december|\d{4})|` +
		`earlier\s+(this|today|in\s+the)\s*(week|month|year|conversation)?` +
		`)\b`)

	// "look up my notes", "find when I", "search my journal", "remind me what"
	recallPattern = regexp.MustCompile(`(?i)\b(` +
		`look\s+(it\s+)?up\s+in\s+(my|our)|look\s+up\s+(my|our)|look\s+back\s+(at|on|through|over)|` +
		`find\s+(when|where)\s+(i|we|you)|` +
		`find\s+what\s+(i|we|you)\s+(said|wrote|mentioned)|` +
		`find\s+the\s+(time|conversation|message|note|entry)\s+(when|where|about|i|we|you)|` +
		`search\s+(my|our|the)\s+(history|notes|messages|conversations?|journal|entries)|` +
		`(check|go\s+through)\s+(my|our)\s+(history|notes|messages|conversations?|journal)|` +
		`remind\s+me\s+(what|when|where|how|who|why|of|about)|` +
		`(you|i)\s+recall|recall\s+(what|when|where|how|who|whether|if)` +
		`)\b`)
)

var triggerPatterns = []struct {
	kind    TriggerKind
	pattern *regexp.Regexp
}{
	{TriggerHistorical, historicalPattern},
	{TriggerTime, timePattern},
	{TriggerRecall, recallPattern},
}

// TriggerMatch reports whether a message warrants recursive search.
type TriggerMatch struct {
	Triggered bool        `json:"triggered"`
	Kind      TriggerKind `json:"kind,omitempty"`
	Phrase    string      `json:"phrase,omitempty"`
}

// Trigger decides, without any model call, whether message refers to past
// context. Only explicit historical, time and recall phrasing fires it;
// message length and elapsed time never do.
func Trigger(message string) TriggerMatch {
	message = strings.TrimSpace(message)
	if message == "" {
		return TriggerMatch{}
	}
	for _, p := range triggerPatterns {
		if m := p.pattern.FindString(message); m != "" {
			return TriggerMatch{Triggered: true, Kind: p.kind, Phrase: m}
		}
	}
	return TriggerMatch{}
}

// ShouldSearch is Trigger(message).Triggered.
func ShouldSearch(message string) bool {
	return Trigger(message).Triggered
}
