package vcf

import (
	"strconv"
	"strings"

	"github.com/inodb/vcfshark/internal/engine"
)

// DeclareKeys builds the key schema from the header: the FILTER column
// first, then INFO fields and FORMAT fields in header order. GT becomes
// the genotype key. FORMAT Integer/Float fields keep their numeric type
// only for Number=1 (one value per sample, reconstructible by
// position); other cardinalities fall back to text so the round trip
// stays exact.
func DeclareKeys(headerLines []string) []engine.KeyDesc {
	keys := []engine.KeyDesc{{
		ID:     0,
		Name:   "FILTER",
		Kind:   engine.KindFilter,
		Type:   engine.KeyText,
		Number: 1,
	}}

	for _, line := range headerLines {
		switch {
		case strings.HasPrefix(line, "##INFO=<"):
			if k, ok := parseDeclaration(line[len("##INFO=<"):], engine.KindInfo); ok {
				k.ID = len(keys)
				keys = append(keys, k)
			}
		case strings.HasPrefix(line, "##FORMAT=<"):
			if k, ok := parseDeclaration(line[len("##FORMAT=<"):], engine.KindFormat); ok {
				k.ID = len(keys)
				if k.Name == "GT" {
					k.Type = engine.KeyGT
				} else if (k.Type == engine.KeyInt || k.Type == engine.KeyReal) && k.Number != 1 {
					k.Type = engine.KeyText
				}
				keys = append(keys, k)
			}
		}
	}
	return keys
}

func parseDeclaration(body string, kind engine.KeyKind) (engine.KeyDesc, bool) {
	body = strings.TrimSuffix(body, ">")
	k := engine.KeyDesc{Kind: kind, Number: engine.NumberVariable}
	for _, attr := range splitAttrs(body) {
		name, value, ok := strings.Cut(attr, "=")
		if !ok {
			continue
		}
		switch name {
		case "ID":
			k.Name = value
		case "Number":
			if n, err := strconv.Atoi(value); err == nil && n >= 0 {
				k.Number = n
			}
		case "Type":
			switch value {
			case "Flag":
				k.Type = engine.KeyFlag
			case "Integer":
				k.Type = engine.KeyInt
			case "Float":
				k.Type = engine.KeyReal
			default:
				k.Type = engine.KeyText
			}
		}
	}
	if k.Type == engine.KeyFlag {
		k.Number = 0
	}
	return k, k.Name != ""
}

// splitAttrs splits a declaration body on commas outside quoted
// descriptions.
func splitAttrs(body string) []string {
	var attrs []string
	start := 0
	quoted := false
	for i := 0; i < len(body); i++ {
		switch body[i] {
		case '"':
			quoted = !quoted
		case ',':
			if !quoted {
				attrs = append(attrs, body[start:i])
				start = i + 1
			}
		}
	}
	return append(attrs, body[start:])
}
