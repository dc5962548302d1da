// Package filter compiles the queue search box and status/kind toggles into
// a single predicate over jobs.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/psantana5/ffqueue/pkg/models"
)

const regexTokenPrefix = "regex:"

// Query is the raw filter input
type Query struct {
	Text      string             `json:"text,omitempty" yaml:"text,omitempty"`
	RegexMode bool               `json:"regexMode,omitempty" yaml:"regexMode,omitempty"`
	Statuses  []models.JobStatus `json:"statuses,omitempty" yaml:"statuses,omitempty"`
	Kinds     []models.Kind      `json:"kinds,omitempty" yaml:"kinds,omitempty"`
}

// IsActive reports whether any filter would hide jobs
func (q Query) IsActive() bool {
	return strings.TrimSpace(q.Text) != "" || len(q.Statuses) > 0 || len(q.Kinds) > 0
}

// InvalidPatternError reports a regex that failed to compile. It is never
// fatal: the predicate keeps using the last valid pattern.
type InvalidPatternError struct {
	Pattern string
	Err     error
}

func (e *InvalidPatternError) Error() string {
	return fmt.Sprintf("invalid filter pattern %q: %v", e.Pattern, e.Err)
}

func (e *InvalidPatternError) Unwrap() error { return e.Err }

// patternSlot remembers the last pattern that compiled
type patternSlot struct {
	source string
	re     *regexp.Regexp
}

func (s *patternSlot) compile(src string) (*regexp.Regexp, error) {
	if src == s.source && s.re != nil {
		return s.re, nil
	}
	re, err := regexp.Compile("(?i)" + src)
	if err != nil {
		return s.re, &InvalidPatternError{Pattern: src, Err: err}
	}
	s.source, s.re = src, re
	return re, nil
}

// Compiler turns queries into predicates. It is stateful: a broken regex
// falls back to the previous valid one for the same clause.
type Compiler struct {
	global patternSlot
	token  patternSlot
}

// NewCompiler creates a compiler with no remembered patterns
func NewCompiler() *Compiler {
	return &Compiler{}
}

// Predicate is a compiled query
type Predicate struct {
	tokens   []string
	size     *SizeFilter
	re       *regexp.Regexp
	statuses map[models.JobStatus]struct{}
	kinds    map[models.Kind]struct{}

	// Invalid is set when a pattern failed to compile during this Compile
	Invalid *InvalidPatternError
}

// Compile builds the predicate for q
func (c *Compiler) Compile(q Query) *Predicate {
	p := &Predicate{}
	text := strings.TrimSpace(q.Text)

	if q.RegexMode {
		if text != "" {
			p.re = c.useSlot(&c.global, text, p)
		}
	} else {
		c.tokenize(text, p)
	}

	if len(q.Statuses) > 0 {
		p.statuses = make(map[models.JobStatus]struct{}, len(q.Statuses))
		for _, s := range q.Statuses {
			p.statuses[models.Normalize(s)] = struct{}{}
		}
	}
	if len(q.Kinds) > 0 {
		p.kinds = make(map[models.Kind]struct{}, len(q.Kinds))
		for _, k := range q.Kinds {
			p.kinds[k] = struct{}{}
		}
	}
	return p
}

func (c *Compiler) useSlot(slot *patternSlot, src string, p *Predicate) *regexp.Regexp {
	re, err := slot.compile(src)
	if err != nil {
		if ip, ok := err.(*InvalidPatternError); ok {
			p.Invalid = ip
		}
	}
	return re
}

func (c *Compiler) tokenize(text string, p *Predicate) {
	for _, tok := range strings.Fields(text) {
		switch {
		case tok == "/":
			continue
		case len(tok) >= len(regexTokenPrefix) && strings.EqualFold(tok[:len(regexTokenPrefix)], regexTokenPrefix):
			pattern := tok[len(regexTokenPrefix):]
			if pattern != "" {
				p.re = c.useSlot(&c.token, pattern, p)
			}
		default:
			if sf, ok := ParseSizeToken(tok); ok {
				p.size = &sf
				continue
			}
			p.tokens = append(p.tokens, strings.ToLower(tok))
		}
	}
}

// Match applies every clause
func (p *Predicate) Match(job *models.Job) bool {
	if p.statuses != nil {
		if _, ok := p.statuses[models.Normalize(job.Status)]; !ok {
			return false
		}
	}
	return p.MatchIgnoringStatus(job)
}

// MatchIgnoringStatus skips the status toggles so active jobs can always be
// surfaced in a live view.
func (p *Predicate) MatchIgnoringStatus(job *models.Job) bool {
	if p.kinds != nil {
		if _, ok := p.kinds[job.Kind()]; !ok {
			return false
		}
	}

	if len(p.tokens) > 0 {
		path := strings.ToLower(job.DisplayPath())
		name := strings.ToLower(job.Filename)
		for _, tok := range p.tokens {
			if !strings.Contains(path, tok) && !strings.Contains(name, tok) {
				return false
			}
		}
	}

	if p.size != nil && !p.size.Match(job) {
		return false
	}

	if p.re != nil && !p.re.MatchString(job.DisplayPath()) && !p.re.MatchString(job.Filename) {
		return false
	}
	return true
}
