package agent

import (
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Strategy is the caching behavior applied to a request.
type Strategy int

// Strategies, in classification priority order.
const (
	NetworkOnly Strategy = iota
	StaleWhileRevalidate
	CacheFirst
	NetworkFirst
)

func (s Strategy) String() string {
	switch s {
	case NetworkOnly:
		return "network-only"
	case StaleWhileRevalidate:
		return "stale-while-revalidate"
	case CacheFirst:
		return "cache-first"
	case NetworkFirst:
		return "network-first"
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

// Rules classify request paths.  Patterns are regular expressions matched against the URL path.
type Rules struct {
	NeverCache   []string `yaml:"NeverCache"`
	CacheableAPI []string `yaml:"CacheableAPI"`
	APIPrefixes  []string `yaml:"APIPrefixes"`

	never     []*regexp.Regexp
	cacheable []*regexp.Regexp
}

// DefaultRules covers the REST mailbox API and the Gmail API.
func DefaultRules() *Rules {
	r := &Rules{
		NeverCache: []string{
			`^/api/auth/`,
			`^/api/search/`,
			`^/api/emails/send$`,
			`^/api/emails/[^/]+/(modify|trash)$`,
			`^/gmail/v1/users/[^/]+/messages/send$`,
			`^/gmail/v1/users/[^/]+/messages/[^/]+/(modify|trash)$`,
			`^/token$`,
		},
		CacheableAPI: []string{
			`^/api/emails$`,
			`^/api/emails/labels$`,
			`^/gmail/v1/users/[^/]+/labels$`,
			`^/gmail/v1/users/[^/]+/messages$`,
		},
		APIPrefixes: []string{"/api/", "/gmail/"},
	}
	if err := r.Compile(); err != nil {
		panic(err)
	}
	return r
}

// LoadRules reads rules from a YAML file.
func LoadRules(path string) (*Rules, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	r := &Rules{}
	if err := yaml.Unmarshal(buf, r); err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", path, err)
	}
	if err := r.Compile(); err != nil {
		return nil, err
	}
	return r, nil
}

// Compile validates and compiles the patterns.
func (r *Rules) Compile() error {
	var err error
	if r.never, err = compileAll(r.NeverCache); err != nil {
		return err
	}
	r.cacheable, err = compileAll(r.CacheableAPI)
	return err
}

// Classify returns exactly one strategy for req.  Only GET requests are ever cached.
func (r *Rules) Classify(req *http.Request) Strategy {
	if req.Method != http.MethodGet {
		return NetworkOnly
	}
	path := req.URL.Path
	switch {
	case matchAny(r.never, path):
		return NetworkOnly
	case matchAny(r.cacheable, path):
		return StaleWhileRevalidate
	case !r.isAPI(path):
		return CacheFirst
	}
	return NetworkFirst
}

func (r *Rules) isAPI(path string) bool {
	for _, p := range r.APIPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func matchAny(res []*regexp.Regexp, path string) bool {
	for _, re := range res {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}
