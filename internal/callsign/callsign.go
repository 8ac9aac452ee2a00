// Package callsign maps commercial IATA flight designators to the ICAO
// callsign family broadcast over ADS-B. Position lookups key on the ICAO
// form ("UAL100") while users type the IATA form ("UA100").
package callsign

import "strings"

// icaoPrefixes maps 1–2 letter IATA airline designators to their 3-letter
// ICAO equivalents. The table is intentionally static: an unknown prefix is
// passed through unchanged rather than treated as an error, because plenty
// of operators broadcast their IATA code verbatim.
var icaoPrefixes = map[string]string{
	"UA": "UAL", // United
	"AA": "AAL", // American
	"DL": "DAL", // Delta
	"BA": "BAW", // British Airways
	"AF": "AFR", // Air France
	"LH": "DLH", // Lufthansa
	"EK": "UAE", // Emirates
	"QF": "QFA", // Qantas
	"SQ": "SIA", // Singapore
	"CX": "CPA", // Cathay Pacific
	"JL": "JAL", // Japan Airlines
	"NH": "ANA", // All Nippon
	"KL": "KLM", // KLM
	"IB": "IBE", // Iberia
	"WN": "SWA", // Southwest
	"B6": "JBU", // JetBlue
	"AS": "ASA", // Alaska
	"F9": "FFT", // Frontier
	"NK": "NKS", // Spirit
	"AC": "ACA", // Air Canada
	"VS": "VIR", // Virgin Atlantic
	"TK": "THY", // Turkish
	"EY": "ETD", // Etihad
	"QR": "QTR", // Qatar
	"EI": "EIN", // Aer Lingus
	"AY": "FIN", // Finnair
	"SK": "SAS", // SAS
	"TP": "TAP", // TAP Portugal
	"LX": "SWR", // Swiss
	"OS": "AUA", // Austrian
}

// Normalize converts an IATA flight designator ("ua100") into the ICAO
// callsign form used by the position provider ("UAL100"). It is total and
// deterministic: unrecognized airline prefixes pass through unchanged, and
// input with no leading letters is returned uppercased as-is.
func Normalize(iataCode string) string {
	code := strings.ToUpper(strings.TrimSpace(iataCode))

	// Designators like "B6" contain a digit, so check the two-letter table
	// before splitting on the first digit.
	if len(code) > 2 && isDigit(code[2]) {
		if icao, ok := icaoPrefixes[code[:2]]; ok {
			return icao + code[2:]
		}
	}

	split := len(code)
	for i, r := range code {
		if r >= '0' && r <= '9' {
			split = i
			break
		}
	}
	if split > 2 && split != len(code) {
		// Prefix longer than two letters is already an ICAO-style callsign.
		return code
	}
	if split == 0 {
		return code
	}

	prefix, suffix := code[:split], code[split:]
	if icao, ok := icaoPrefixes[prefix]; ok {
		return icao + suffix
	}
	return code
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
