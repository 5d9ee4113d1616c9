package snmp

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gosnmp/gosnmp"
)

// isPresent indica si el varbind trae un valor real (no noSuchObject, etc)
func isPresent(pdu gosnmp.SnmpPDU) bool {
	switch pdu.Type {
	case gosnmp.NoSuchObject, gosnmp.NoSuchInstance, gosnmp.EndOfMibView, gosnmp.Null:
		return false
	}
	return pdu.Value != nil
}

// pduString convierte un PDU a string legible
func pduString(pdu gosnmp.SnmpPDU) string {
	if !isPresent(pdu) {
		return ""
	}

	switch v := pdu.Value.(type) {
	case string:
		return cleanText(v)
	case []byte:
		// 6 bytes exactos: dirección MAC en formato binario
		if len(v) == 6 && !isLikelyText(v) {
			h := hex.EncodeToString(v)
			return fmt.Sprintf("%s:%s:%s:%s:%s:%s", h[0:2], h[2:4], h[4:6], h[6:8], h[8:10], h[10:12])
		}
		if utf8.Valid(v) && isLikelyText(v) {
			return cleanText(string(v))
		}
		// Binario que no parece texto
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// pduInt convierte un PDU numérico a int64; nil si no es numérico
func pduInt(pdu gosnmp.SnmpPDU) *int64 {
	if !isPresent(pdu) {
		return nil
	}

	switch pdu.Type {
	case gosnmp.Integer, gosnmp.Counter32, gosnmp.Gauge32, gosnmp.TimeTicks, gosnmp.Counter64, gosnmp.Uinteger32:
		n := gosnmp.ToBigInt(pdu.Value)
		if !n.IsInt64() {
			return nil
		}
		v := n.Int64()
		return &v
	case gosnmp.OctetString:
		// Algunos firmwares reportan contadores como texto
		s := pduString(pdu)
		v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil
		}
		return &v
	}
	return nil
}

func cleanText(s string) string {
	return strings.TrimSpace(strings.TrimRight(s, "\x00"))
}

// isLikelyText verifica si bytes parecen ser texto (no caracteres de control raros)
func isLikelyText(b []byte) bool {
	b = []byte(strings.TrimRight(string(b), "\x00"))
	if len(b) == 0 {
		return false
	}

	printableCount := 0
	for _, c := range b {
		// ASCII imprimible, UTF-8 multibyte, tab/newline/carriage return
		if (c >= 32 && c <= 126) || c >= 0x80 || c == 9 || c == 10 || c == 13 {
			printableCount++
		}
	}

	// Si al menos el 80% de los bytes son imprimibles, parece texto
	return float64(printableCount)/float64(len(b)) >= 0.8
}
