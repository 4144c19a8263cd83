package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Render modes of a store's search pages.
const (
	RenderStatic  = "static"
	RenderBrowser = "browser"
)

// ErrUnsupportedCountry is returned when a store has no domain for a country.
var ErrUnsupportedCountry = errors.New("store does not serve country")

// Catalog is the store catalog: the country routing table, the currency of
// each country and how to search each store.
type Catalog struct {
	Currencies      map[string]string   `yaml:"currencies"`
	AcceptLanguages map[string]string   `yaml:"accept_language"`
	Countries       map[string][]string `yaml:"countries"`
	Stores          map[string]*Store   `yaml:"stores"`
}

// Store describes how to search one store and read its result cards.
type Store struct {
	Name              string            `yaml:"name"`
	Render            string            `yaml:"render"`
	SearchURL         string            `yaml:"search_url"`
	PageURL           string            `yaml:"page_url"`
	QuerySeparator    string            `yaml:"query_separator"`
	Domains           map[string]string `yaml:"domains"`
	MaxPages          int               `yaml:"max_pages"`
	PageStep          int               `yaml:"page_step"`
	WaitFor           string            `yaml:"wait_for"`
	Selectors         Selectors         `yaml:"selectors"`
	RejectURLPatterns []string          `yaml:"reject_url_patterns"`
}

// Selectors locate the fields of a result card. Container selects the
// cards; every other selector is relative to one card.
type Selectors struct {
	Container     string       `yaml:"container"`
	Title         SelectorList `yaml:"title"`
	URL           SelectorList `yaml:"url"`
	Image         SelectorList `yaml:"image"`
	Price         SelectorList `yaml:"price"`
	PriceSymbol   SelectorList `yaml:"price_symbol"`
	PriceBefore   SelectorList `yaml:"price_before"`
	DiscountLabel SelectorList `yaml:"discount_label"`
	Rating        SelectorList `yaml:"rating"`
	Reviews       SelectorList `yaml:"reviews"`
}

// SelectorList is a list of fallbacks tried in order. Each entry is a CSS
// selector optionally followed by @attr to read an attribute instead of
// the text. In YAML it may be written as a single string.
type SelectorList []string

func (s *SelectorList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Value == "" {
			*s = nil
			return nil
		}
		*s = SelectorList{node.Value}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*s = list
		return nil
	default:
		return fmt.Errorf("line %d: selector must be a string or a list of strings", node.Line)
	}
}

// LoadCatalog reads and validates the YAML store catalog at path.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %q: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML store catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	c.normalize()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) normalize() {
	currencies := make(map[string]string, len(c.Currencies))
	for cc, cur := range c.Currencies {
		currencies[strings.ToUpper(cc)] = strings.ToUpper(cur)
	}
	c.Currencies = currencies

	languages := make(map[string]string, len(c.AcceptLanguages))
	for cc, lang := range c.AcceptLanguages {
		languages[strings.ToUpper(cc)] = lang
	}
	c.AcceptLanguages = languages

	countries := make(map[string][]string, len(c.Countries))
	for cc, stores := range c.Countries {
		names := make([]string, 0, len(stores))
		for _, s := range stores {
			names = append(names, strings.ToLower(strings.TrimSpace(s)))
		}
		countries[strings.ToUpper(cc)] = names
	}
	c.Countries = countries

	stores := make(map[string]*Store, len(c.Stores))
	for name, s := range c.Stores {
		if s == nil {
			continue
		}
		key := strings.ToLower(name)
		if s.Name == "" {
			s.Name = key
		}
		if s.Render == "" {
			s.Render = RenderStatic
		}
		if s.QuerySeparator == "" {
			s.QuerySeparator = "+"
		}
		if s.MaxPages < 1 {
			s.MaxPages = 1
		}
		domains := make(map[string]string, len(s.Domains))
		for cc, d := range s.Domains {
			domains[strings.ToUpper(cc)] = d
		}
		s.Domains = domains
		stores[key] = s
	}
	c.Stores = stores
}

func (c *Catalog) validate() error {
	var problems []string
	for cc, names := range c.Countries {
		for _, n := range names {
			if _, ok := c.Stores[n]; !ok {
				problems = append(problems, fmt.Sprintf("country %s routes to unknown store %q", cc, n))
			}
		}
	}
	for name, s := range c.Stores {
		if s.SearchURL == "" {
			problems = append(problems, fmt.Sprintf("store %q has no search_url", name))
		}
		if s.Selectors.Container == "" {
			problems = append(problems, fmt.Sprintf("store %q has no container selector", name))
		}
		if s.Render != RenderStatic && s.Render != RenderBrowser {
			problems = append(problems, fmt.Sprintf("store %q has unknown render mode %q", name, s.Render))
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("catalog: invalid: %s", strings.Join(problems, "; "))
	}
	return nil
}

// StoresFor returns the stores routed to country. The result is a copy.
func (c *Catalog) StoresFor(country string) []string {
	names := c.Countries[strings.ToUpper(strings.TrimSpace(country))]
	if len(names) == 0 {
		return nil
	}
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// AcceptLanguage returns the Accept-Language header sent to stores of
// country, falling back to the DEFAULT entry.
func (c *Catalog) AcceptLanguage(country string) string {
	if lang, ok := c.AcceptLanguages[strings.ToUpper(country)]; ok {
		return lang
	}
	return c.AcceptLanguages["DEFAULT"]
}

// Store returns the definition of the named store.
func (c *Catalog) Store(name string) (*Store, bool) {
	s, ok := c.Stores[strings.ToLower(name)]
	return s, ok
}

// SearchPageURL builds the URL of result page (1-based) for query in
// country. ok is false when the store has no such page.
func (s *Store) SearchPageURL(query, country string, page int) (string, bool, error) {
	domain, found := s.Domains[strings.ToUpper(country)]
	if !found {
		domain, found = s.Domains["GLOBAL"]
	}
	if !found {
		return "", false, fmt.Errorf("%s: %w %s", s.Name, ErrUnsupportedCountry, country)
	}
	if page < 1 || page > s.MaxPages {
		return "", false, nil
	}

	tmpl := s.SearchURL
	if page > 1 {
		if s.PageURL == "" {
			return "", false, nil
		}
		tmpl = s.PageURL
	}

	r := strings.NewReplacer(
		"{domain}", domain,
		"{query}", s.querySlug(query),
		"{page}", strconv.Itoa(page),
		"{offset}", strconv.Itoa((page-1)*s.PageStep+1),
	)
	return r.Replace(tmpl), true, nil
}

func (s *Store) querySlug(query string) string {
	words := strings.Fields(query)
	for i, w := range words {
		words[i] = url.QueryEscape(w)
	}
	return strings.Join(words, s.QuerySeparator)
}
