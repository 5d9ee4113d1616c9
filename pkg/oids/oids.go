package oids

import "strings"

// OIDConsulta asocia un nombre legible a un OID de consulta directa
type OIDConsulta struct {
	Nombre string
	OID    string
}

// ExtractOIDs extrae solo los OIDs de una lista de OIDConsulta
func ExtractOIDs(consultas []OIDConsulta) []string {
	result := make([]string, len(consultas))
	for i, c := range consultas {
		result[i] = c.OID
	}
	return result
}

// Normalize quita el punto inicial que gosnmp antepone a los nombres de PDU
func Normalize(oid string) string {
	return strings.TrimPrefix(oid, ".")
}

// OIDs estándar (RFC 1213, HOST-RESOURCES-MIB, Printer-MIB RFC 3805)
const (
	// Grupo system
	SysDescr    = "1.3.6.1.2.1.1.1.0"
	SysObjectID = "1.3.6.1.2.1.1.2.0"
	SysUptime   = "1.3.6.1.2.1.1.3.0"
	SysName     = "1.3.6.1.2.1.1.5.0"
	SysLocation = "1.3.6.1.2.1.1.6.0"

	// HOST-RESOURCES-MIB
	Model           = "1.3.6.1.2.1.25.3.2.1.3.1" // hrDeviceDescr.1
	DeviceStatus    = "1.3.6.1.2.1.25.3.2.1.5.1" // hrDeviceStatus.1
	PrinterStatus   = "1.3.6.1.2.1.25.3.5.1.1.1" // hrPrinterStatus.1
	SerialNumber    = "1.3.6.1.2.1.43.5.1.1.17.1"
	TotalPageCount  = "1.3.6.1.2.1.43.10.2.1.4.1.1" // prtMarkerLifeCount.1.1
	SuppliesBase    = "1.3.6.1.2.1.43.11.1.1"
	SuppliesType    = "1.3.6.1.2.1.43.11.1.1.5.1" // prtMarkerSuppliesType.1.x
	SuppliesDesc    = "1.3.6.1.2.1.43.11.1.1.6.1" // prtMarkerSuppliesDescription.1.x
	SuppliesMax     = "1.3.6.1.2.1.43.11.1.1.8.1" // prtMarkerSuppliesMaxCapacity.1.x
	SuppliesLevel   = "1.3.6.1.2.1.43.11.1.1.9.1" // prtMarkerSuppliesLevel.1.x
	DefaultTonerIdx = "1"
)

// Valores de prtMarkerSuppliesType (RFC 3805)
const (
	SupplyTypeToner     = 3
	SupplyTypeOPC       = 9 // tambor fotoconductor
	SupplyTypeDeveloper = 10
)

// OIDsIdentidad se consultan en discovery en una única petición GET
var OIDsIdentidad = []OIDConsulta{
	{"sysDescr", SysDescr},
	{"sysObjectID", SysObjectID},
	{"sysName", SysName},
	{"sysLocation", SysLocation},
	{"model", Model},
	{"serialNumber", SerialNumber},
}

// OIDsTelemetria son los OIDs fijos del poll de monitoreo (los de consumibles
// se calculan por índice después del WALK de tipos)
var OIDsTelemetria = []OIDConsulta{
	{"totalPages", TotalPageCount},
	{"deviceStatus", DeviceStatus},
	{"printerStatus", PrinterStatus},
	{"model", Model},
	{"serialNumber", SerialNumber},
	{"sysUptime", SysUptime},
}

// SupplyLevelOID construye el OID de nivel para un índice de consumible
func SupplyLevelOID(index string) string {
	return SuppliesLevel + "." + index
}

// SupplyMaxOID construye el OID de capacidad máxima para un índice de consumible
func SupplyMaxOID(index string) string {
	return SuppliesMax + "." + index
}

// SupplyDescOID construye el OID de descripción para un índice de consumible
func SupplyDescOID(index string) string {
	return SuppliesDesc + "." + index
}

// LastIndex devuelve el último componente numérico de un OID
func LastIndex(oid string) string {
	oid = Normalize(oid)
	if i := strings.LastIndex(oid, "."); i >= 0 {
		return oid[i+1:]
	}
	return oid
}
