// Package wire decodes the producer's newline-delimited regime protocol.
//
// One line is one flat JSON object, but the decoder is deliberately not a
// JSON parser: it is a tolerant textual scan over producer-controlled output.
// A malformed field degrades to its zero value while sibling fields on the
// same line are still extracted, which a strict parser cannot do.
package wire

import (
	"strconv"
	"strings"

	"regimesync/internal/domain/regime"
)

// ExtractScalar locates `"key":` in line and returns its scalar value.
// Quoted values are cut at the next quote with no escape processing; bare
// tokens run to the next ',' or '}' and are trimmed. The second return is
// false when the key is absent.
func ExtractScalar(line, key string) (string, bool) {
	marker := `"` + key + `":`
	idx := strings.Index(line, marker)
	if idx < 0 {
		return "", false
	}

	rest := line[idx+len(marker):]
	rest = strings.TrimLeft(rest, " \t")
	if rest == "" {
		return "", true
	}

	if rest[0] == '"' {
		rest = rest[1:]
		if end := strings.IndexByte(rest, '"'); end >= 0 {
			return rest[:end], true
		}
		// Unterminated string: take what is there
		return rest, true
	}

	end := len(rest)
	for i := 0; i < len(rest); i++ {
		if rest[i] == ',' || rest[i] == '}' {
			end = i
			break
		}
	}
	return strings.TrimSpace(rest[:end]), true
}

// ExtractLevels locates the `"arrayKey":[...]` field, walks the balanced
// bracket span and decodes every balanced `{...}` object inside it as a raw
// gamma level. An unterminated or missing array yields an empty list, never
// an error; an unparsable strike or gex defaults to 0.
func ExtractLevels(line, arrayKey string) []regime.RawLevel {
	marker := `"` + arrayKey + `":`
	idx := strings.Index(line, marker)
	if idx < 0 {
		return nil
	}

	rest := line[idx+len(marker):]
	open := strings.IndexByte(rest, '[')
	if open < 0 {
		return nil
	}

	// Bracket-depth scan for the matching close. The producer format does
	// not nest arrays, but depth tracking keeps this safe if it ever does.
	depth := 0
	end := -1
	for i := open; i < len(rest); i++ {
		switch rest[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				end = i
			}
		}
		if end >= 0 {
			break
		}
	}
	if end < 0 {
		return nil
	}

	body := rest[open+1 : end]

	var levels []regime.RawLevel
	for i := 0; i < len(body); i++ {
		if body[i] != '{' {
			continue
		}

		// Brace-depth scan for one balanced object
		braces := 0
		objEnd := -1
		for j := i; j < len(body); j++ {
			switch body[j] {
			case '{':
				braces++
			case '}':
				braces--
				if braces == 0 {
					objEnd = j
				}
			}
			if objEnd >= 0 {
				break
			}
		}
		if objEnd < 0 {
			break
		}

		obj := body[i : objEnd+1]
		levels = append(levels, regime.RawLevel{
			Strike: extractNumber(obj, "strike"),
			GEX:    extractNumber(obj, "gex"),
		})
		i = objEnd
	}

	return levels
}

// extractNumber finds key in obj, skips forward to the first numeric-looking
// character and parses the numeric token after it. Missing keys and
// unparsable tokens yield 0.
func extractNumber(obj, key string) float64 {
	idx := strings.Index(obj, key)
	if idx < 0 {
		return 0
	}

	rest := obj[idx+len(key):]

	// Skip forward to the first numeric-looking character, but never past
	// the end of this value: a non-numeric value must default to 0 rather
	// than borrow digits from the next field.
	start := -1
	for i := 0; i < len(rest); i++ {
		if isNumberStart(rest[i]) {
			start = i
			break
		}
		if rest[i] == ',' || rest[i] == '}' {
			break
		}
	}
	if start < 0 {
		return 0
	}

	end := start
	for end < len(rest) && isNumberChar(rest[end]) {
		end++
	}

	value, err := strconv.ParseFloat(rest[start:end], 64)
	if err != nil {
		return 0
	}
	return value
}

func isNumberStart(c byte) bool {
	return c == '-' || c == '+' || c == '.' || (c >= '0' && c <= '9')
}

func isNumberChar(c byte) bool {
	return isNumberStart(c) || c == 'e' || c == 'E'
}

// DecodeUpdate extracts one regime update from a wire line. Every field
// degrades independently: a missing regime yields the UNKNOWN label, a
// malformed code yields 0, and price/levels are only read when the affinity
// names producer fields to read them from.
func DecodeUpdate(line string, affinity regime.Affinity) regime.Update {
	u := regime.Update{Regime: regime.LabelUnknown}

	if label, ok := ExtractScalar(line, "regime"); ok && label != "" {
		u.Regime = label
	}

	if raw, ok := ExtractScalar(line, "regime_code"); ok {
		if code, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
			u.Code = code
		}
	}

	if field := affinity.SpotField(); field != "" {
		if raw, ok := ExtractScalar(line, field); ok {
			if spot, err := strconv.ParseFloat(raw, 64); err == nil {
				u.IndexSpot = spot
			}
		}
	}

	if field := affinity.LevelsField(); field != "" {
		u.Levels = ExtractLevels(line, field)
	}

	return u
}
