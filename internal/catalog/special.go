package catalog

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed special_wikis.yaml
var specialWikisYAML []byte

type specialWiki struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
}

func loadSpecialWikis() (map[string]specialWiki, error) {
	var table map[string]specialWiki
	if err := yaml.Unmarshal(specialWikisYAML, &table); err != nil {
		return nil, fmt.Errorf("parse special wiki table: %w", err)
	}
	return table, nil
}

// classifySpecial resolves a special wiki hostname to its code and display
// name. Hosts outside the table are accepted when they look like
// www.wikimedia.<cc> or <lang>.wikimedia.org chapter sites.
func (b *builder) classifySpecial(host string) (code, name string, ok bool) {
	if sw, found := b.special[host]; found {
		return sw.Code, sw.Name, true
	}

	parts := strings.Split(host, ".")
	if len(parts) != 3 || strings.TrimSpace(parts[0]) == "" || !strings.Contains(host, "wikimedia") {
		return "", "", false
	}

	switch {
	case strings.HasPrefix(host, "www."):
		code = parts[2] + "_wikimedia"
	case strings.HasSuffix(host, ".org"):
		code = parts[0] + "_wikimedia"
	default:
		return "", "", false
	}
	return code, b.title.String(code), true
}
