package normalize

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/jmehdipour/innbot/internal/model"
	"golang.org/x/text/unicode/norm"
)

// Normalize maps a provider payload onto a CompanyRecord. It returns nil only
// when the payload is not JSON or no rule matched anything.
func Normalize(raw []byte) *model.CompanyRecord {
	doc, ok := decode(raw)
	if !ok {
		return nil
	}

	var rec model.CompanyRecord
	matched := false
	set := func(f field, dst *string) {
		if v, ok := extract(doc, rules[f]); ok {
			*dst = v
			matched = true
		}
	}

	set(fieldName, &rec.Name)
	set(fieldShortName, &rec.ShortName)
	set(fieldINN, &rec.INN)
	set(fieldOGRN, &rec.OGRN)
	set(fieldKPP, &rec.KPP)
	set(fieldStatus, &rec.Status)
	set(fieldAddress, &rec.Address)
	set(fieldHead, &rec.Head)
	set(fieldHeadPost, &rec.HeadPost)
	set(fieldRegisteredAt, &rec.RegisteredAt)

	if !matched {
		return nil
	}
	return &rec
}

// Recognized reports whether Normalize would produce a record.
func Recognized(raw []byte) bool {
	return Normalize(raw) != nil
}

func decode(raw []byte) (any, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, false
	}
	return doc, true
}

func extract(doc any, candidates []Rule) (string, bool) {
	for _, r := range candidates {
		s, ok := scalarAt(doc, r.Path)
		if !ok {
			continue
		}
		if r.Format != nil {
			s = r.Format(s)
		}
		if s = clean(s); s != "" {
			return s, true
		}
	}
	return "", false
}

func scalarAt(doc any, path string) (string, bool) {
	cur := doc
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return "", false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return "", false
			}
			cur = node[i]
		default:
			return "", false
		}
	}

	switch v := cur.(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	default:
		return "", false
	}
}

func clean(s string) string {
	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}
