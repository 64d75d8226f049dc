// Package catalog builds the wiki catalog from the wikistats CSV listing:
// hostname and code indexes, the wiki type list and the language list.
package catalog

import (
	"bufio"
	"bytes"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tajhlande/listen-to-wiki-changes/internal/domain"
)

// Catalog is immutable after Build and safe for concurrent reads.
type Catalog struct {
	wikis     map[string]domain.WikiMetadata
	codes     []string
	hosts     map[string]string
	types     []string
	languages map[string]domain.Language
	langCodes []string
	rows      int
}

var _ domain.Catalog = (*Catalog)(nil)

func (c *Catalog) LookupByHostname(host string) (string, bool) {
	code, ok := c.hosts[host]
	return code, ok
}

func (c *Catalog) Metadata(code string) (domain.WikiMetadata, bool) {
	m, ok := c.wikis[code]
	return m, ok
}

// Wikis returns every indexed wiki keyed by code.
func (c *Catalog) Wikis() map[string]domain.WikiMetadata {
	out := make(map[string]domain.WikiMetadata, len(c.wikis))
	for k, v := range c.wikis {
		out[k] = v
	}
	return out
}

// WikiCodes lists codes with display names in load order.
func (c *Catalog) WikiCodes() []domain.WikiCode {
	out := make([]domain.WikiCode, 0, len(c.codes))
	for _, code := range c.codes {
		out = append(out, domain.WikiCode{WikiCode: code, DisplayName: c.wikis[code].DisplayName})
	}
	return out
}

func (c *Catalog) Types() []domain.WikiType {
	out := make([]domain.WikiType, 0, len(c.types))
	for _, t := range c.types {
		out = append(out, domain.WikiType{WikiType: t})
	}
	return out
}

// TypeNames returns the wiki type names, "special" first.
func (c *Catalog) TypeNames() []string {
	return append([]string(nil), c.types...)
}

func (c *Catalog) Languages() []domain.Language {
	out := make([]domain.Language, 0, len(c.langCodes))
	for _, code := range c.langCodes {
		out = append(out, c.languages[code])
	}
	return out
}

// LanguageName maps a language code such as "fr" to its English name.
func (c *Catalog) LanguageName(code string) (string, bool) {
	lang, ok := c.languages[code]
	if !ok || lang.EnName == "" {
		return "", false
	}
	return lang.EnName, true
}

func (c *Catalog) Len() int {
	return len(c.wikis)
}

// Rows is the number of data rows read from the listing.
func (c *Catalog) Rows() int {
	return c.rows
}

type builder struct {
	cat     *Catalog
	columns []string
	special map[string]specialWiki
	title   cases.Caser
	types   map[string]struct{}
}

// Build parses a wikistats CSV listing. The header row starts with "rank";
// data rows may carry HTML entities and are split on plain commas. Rows that
// cannot be classified are logged and skipped.
func Build(data []byte) (*Catalog, error) {
	special, err := loadSpecialWikis()
	if err != nil {
		return nil, err
	}

	b := &builder{
		cat: &Catalog{
			wikis:     make(map[string]domain.WikiMetadata),
			hosts:     make(map[string]string),
			languages: make(map[string]domain.Language),
		},
		special: special,
		title:   cases.Title(language.Und),
		types:   make(map[string]struct{}),
	}
	b.addType(domain.WikiTypeSpecial)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		switch {
		case strings.HasPrefix(line, "rank"):
			b.columns = strings.Split(line, ",")
		case strings.TrimSpace(line) == "":
		default:
			b.cat.rows++
			b.addRow(html.UnescapeString(line))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read wiki listing: %w", err)
	}

	b.addFixed("wikidata", "Wikidata", "www.wikidata.org")
	b.addFixed("testwikidata", "Test Wikidata", "test.wikidata.org")

	slog.Info("Finished loading wiki list",
		"rows", b.cat.rows,
		"wikis", len(b.cat.wikis),
		"types", len(b.cat.types),
		"languages", len(b.cat.languages),
	)
	return b.cat, nil
}

func (b *builder) addRow(line string) {
	if len(b.columns) == 0 {
		slog.Warn("Skipping wiki row before header", "line", line)
		return
	}

	fields := strings.Split(line, ",")
	columns := make(map[string]string, len(b.columns))
	for i, name := range b.columns {
		if i >= len(fields) {
			break
		}
		columns[name] = fields[i]
	}

	wikiType := columns["type"]
	if wikiType == "" || isDigits(wikiType) {
		slog.Warn("Skipping wiki with missing or invalid type", "row", line)
		return
	}
	prefix := columns["prefix"]

	if wikiType == domain.WikiTypeSpecial {
		code, name, ok := b.classifySpecial(prefix)
		if !ok {
			slog.Warn("Unable to determine wiki name for special wiki", "prefix", prefix)
			return
		}
		b.addWiki(domain.WikiMetadata{
			Code:          code,
			Type:          wikiType,
			Language:      columns["language"],
			LangCode:      domain.LanguageCodeMulti,
			LocalLanguage: columns["loclang"],
			DisplayName:   name,
			Prefix:        prefix,
			Columns:       columns,
		}, prefix)
		return
	}

	langCode := domain.LanguageCodeMulti
	if prefix != "" {
		b.addLanguage(prefix, columns["language"], columns["loclang"])
		langCode = prefix
	}

	b.addType(wikiType)
	b.addWiki(domain.WikiMetadata{
		Code:          prefix + "_" + wikiType,
		Type:          wikiType,
		Language:      columns["language"],
		LangCode:      langCode,
		LocalLanguage: columns["loclang"],
		DisplayName:   columns["language"] + " " + b.title.String(wikiType),
		Prefix:        prefix,
		Columns:       columns,
	}, prefix+"."+wikiType+".org")
}

func (b *builder) addWiki(m domain.WikiMetadata, host string) {
	if _, exists := b.cat.wikis[m.Code]; !exists {
		b.cat.codes = append(b.cat.codes, m.Code)
	}
	b.cat.wikis[m.Code] = m
	b.cat.hosts[host] = m.Code
}

// addFixed registers wikis the listing omits.
func (b *builder) addFixed(code, name, host string) {
	b.addWiki(domain.WikiMetadata{
		Code:        code,
		Type:        domain.WikiTypeSpecial,
		LangCode:    domain.LanguageCodeMulti,
		DisplayName: name,
	}, host)
}

func (b *builder) addType(t string) {
	if _, ok := b.types[t]; ok {
		return
	}
	slog.Debug("Adding wiki type", "type", t)
	b.types[t] = struct{}{}
	b.cat.types = append(b.cat.types, t)
}

// addLanguage keeps the first English name seen for a code.
func (b *builder) addLanguage(code, enName, localName string) {
	if existing, ok := b.cat.languages[code]; ok {
		if existing.EnName != enName {
			slog.Warn("Duplicate language code found",
				"code", code,
				"recorded", existing.EnName,
				"skipping", enName,
			)
		}
		return
	}
	b.cat.languages[code] = domain.Language{LangCode: code, EnName: enName, LocalName: localName}
	b.cat.langCodes = append(b.cat.langCodes, code)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
