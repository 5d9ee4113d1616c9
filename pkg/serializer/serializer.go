package serializer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
)

// Serializer convierte payloads (muestras, altas, entradas de cola, reportes) a JSON bytes
// Responsabilidad ÚNICA: Marshal a JSON
// NO escribe a disco, NO decide destino
type Serializer struct {
	indent string
}

// NewSerializer crea un serializador con indentación de 2 espacios
func NewSerializer() *Serializer {
	return &Serializer{indent: "  "}
}

// NewCompactSerializer crea un serializador sin indentación (cuerpos HTTP)
func NewCompactSerializer() *Serializer {
	return &Serializer{}
}

// Serialize convierte v a JSON bytes sin newline final
func (s *Serializer) Serialize(v any) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("payload cannot be nil")
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil, fmt.Errorf("payload cannot be nil")
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)

	// No escapear HTML para que "&" se vea como "&" y no como "\u0026"
	encoder.SetEscapeHTML(false)

	if s.indent != "" {
		encoder.SetIndent("", s.indent)
	}

	if err := encoder.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to serialize payload: %w", err)
	}

	// Encode agrega un newline final, lo removemos
	data := buf.Bytes()
	if len(data) > 0 && data[len(data)-1] == '\n' {
		data = data[:len(data)-1]
	}

	return data, nil
}
