package scan

import (
	"errors"
	"fmt"
	"strings"
)

// groupSeparator terminates a variable-length GS1 field (FNC1 in the data stream).
const groupSeparator = '\x1d'

// GS1 holds the application identifiers the warehouse labels carry.
type GS1 struct {
	GTIN   string // (01) 14 digits
	Expiry string // (17) YYYYMM
	Lot    string // (10)
	Serial string // (21)
}

// maxLen for variable-length AIs
var maxLen = map[string]int{
	"10": 20,
	"21": 20,
}

var errNotGS1 = errors.New("not a GS1 element string")

// ParseGS1 decodes a GS1 element string starting with AI (01).
func ParseGS1(code string) (*GS1, error) {
	if len(code) < 16 || !strings.HasPrefix(code, "01") {
		return nil, errNotGS1
	}

	res := &GS1{}
	i := 0
	n := len(code)
	for i < n {
		if code[i] == groupSeparator {
			i++
			continue
		}
		if i+2 > n {
			break
		}
		ai := code[i : i+2]
		switch ai {
		case "01":
			if i+16 > n {
				return nil, fmt.Errorf("AI(01): short data at %d", i)
			}
			res.GTIN = code[i+2 : i+16]
			i += 16
		case "17":
			if i+8 > n {
				return nil, fmt.Errorf("AI(17): short data at %d", i)
			}
			yymmdd := code[i+2 : i+8]
			res.Expiry = "20" + yymmdd[0:2] + yymmdd[2:4]
			i += 8
		case "10", "21":
			start := i + 2
			end := variableEnd(code, start, maxLen[ai])
			if ai == "10" {
				res.Lot = code[start:end]
			} else {
				res.Serial = code[start:end]
			}
			i = end
		default:
			// unknown AI: the rest cannot be split reliably
			i = n
		}
	}

	if !isDigits(res.GTIN) {
		return nil, fmt.Errorf("AI(01): GTIN %q is not numeric", res.GTIN)
	}
	return res, nil
}

// variableEnd finds the end of a variable-length field: a group separator, the
// max length, or the start of a complete fixed-length AI.
func variableEnd(code string, start, limit int) int {
	end := start
	for end < len(code) {
		if code[end] == groupSeparator || end-start >= limit {
			break
		}
		rest := code[end:]
		if end > start && strings.HasPrefix(rest, "01") && len(rest) >= 16 && isDigits(rest[2:16]) {
			break
		}
		if end > start && strings.HasPrefix(rest, "17") && len(rest) >= 8 && isDigits(rest[2:8]) {
			break
		}
		end++
	}
	return end
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// validCheckDigit reports whether the last digit of an EAN/GTIN is the mod-10 check digit.
func validCheckDigit(s string) bool {
	if !isDigits(s) || len(s) < 2 {
		return false
	}
	sum := 0
	body := s[:len(s)-1]
	for i := len(body) - 1; i >= 0; i-- {
		d := int(body[i] - '0')
		if (len(body)-1-i)%2 == 0 {
			d *= 3
		}
		sum += d
	}
	check := (10 - sum%10) % 10
	return check == int(s[len(s)-1]-'0')
}
