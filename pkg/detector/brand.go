// Package detector deduce el fabricante de una impresora a partir de su identidad SNMP
package detector

import (
	"strings"
)

// Generic se usa cuando ningún patrón coincide
const Generic = "Generic"

type brandRule struct {
	brand    string
	strong   []string // nombre de la marca: confianza alta
	patterns []string // líneas de producto
}

// El orden importa: "hp" es muy corto y debe evaluarse después de marcas
// cuyos modelos podrían contenerlo.
var rules = []brandRule{
	{"Xerox", []string{"xerox"}, []string{"docucentre", "workcentre", "docucolor", "versalink", "altalink"}},
	{"Brother", []string{"brother"}, []string{"hl-", "mfc-", "dcp-", "dcpl"}},
	{"Ricoh", []string{"ricoh"}, []string{"imagio", "lanier", "gestetner", "aficio"}},
	{"Canon", []string{"canon"}, []string{"imagerunner", "ir-adv", "i-sensys"}},
	{"KonicaMinolta", []string{"konica", "minolta"}, []string{"bizhub", "accurio"}},
	{"Kyocera", []string{"kyocera"}, []string{"mita", "taskalfa", "ecosys", "km-"}},
	{"Lexmark", []string{"lexmark"}, []string{"optra"}},
	{"Epson", []string{"epson"}, []string{"workforce"}},
	{"OKI", []string{"okidata", "oki data"}, []string{"c931", "c941", "mc5"}},
	{"Toshiba", []string{"toshiba"}, []string{"e-studio"}},
	{"Sharp", []string{"sharp"}, []string{"mx-", "ar-"}},
	{"Samsung", []string{"samsung"}, []string{"ml-", "sl-", "clp-"}},
	{"HP", []string{"hewlett packard", "hewlett-packard"}, []string{"laserjet", "officejet", "designjet", "pagewide", "jetdirect", "hp "}},
}

// Match es el resultado de la detección
type Match struct {
	Brand      string
	Confidence float64 // 0-1
}

// Detect busca la marca en los textos dados (típicamente sysDescr y modelo)
func Detect(texts ...string) Match {
	desc := strings.ToLower(strings.Join(texts, " "))

	for _, r := range rules {
		if matchesPatterns(desc, r.strong) {
			conf := 0.95
			if matchesPatterns(desc, r.patterns) {
				conf = 0.99
			}
			return Match{Brand: r.brand, Confidence: conf}
		}
	}

	for _, r := range rules {
		if matchesPatterns(desc, r.patterns) {
			return Match{Brand: r.brand, Confidence: 0.85}
		}
	}

	return Match{Brand: Generic, Confidence: 0.5}
}

// Brand devuelve solo el nombre del fabricante
func Brand(texts ...string) string {
	return Detect(texts...).Brand
}

// matchesPatterns verifica si descLower contiene alguno de los patrones
func matchesPatterns(descLower string, patterns []string) bool {
	for _, pattern := range patterns {
		if strings.Contains(descLower, pattern) {
			return true
		}
	}
	return false
}
