package domain

import "encoding/json"

const (
	WikiTypeSpecial   = "special"
	LanguageMulti     = "multi"
	LanguageCodeMulti = "multi"
)

// WikiMetadata describes one wiki from the wikistats list. Columns holds the
// raw CSV row; it is flattened into the JSON form so clients see every column
// alongside the derived fields.
type WikiMetadata struct {
	Code          string
	Type          string
	Language      string
	LangCode      string
	LocalLanguage string
	DisplayName   string
	Prefix        string
	Columns       map[string]string
}

func (m WikiMetadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]string, len(m.Columns)+5)
	for k, v := range m.Columns {
		out[k] = v
	}
	out["code"] = m.Code
	out["type"] = m.Type
	out["display_name"] = m.DisplayName
	out["lang_code"] = m.LangCode
	if m.Language != "" {
		out["language"] = m.Language
	}
	if m.Prefix != "" {
		out["prefix"] = m.Prefix
	}
	return json.Marshal(out)
}

type Language struct {
	LangCode  string `json:"langCode"`
	EnName    string `json:"enName"`
	LocalName string `json:"localName"`
}

type WikiType struct {
	WikiType string `json:"wikiType"`
}

type WikiCode struct {
	WikiCode    string `json:"wikiCode"`
	DisplayName string `json:"displayName"`
}

// Catalog resolves upstream hostnames to wiki codes and codes to metadata.
// Implementations are immutable once built.
type Catalog interface {
	LookupByHostname(host string) (code string, ok bool)
	Metadata(code string) (WikiMetadata, bool)
}
