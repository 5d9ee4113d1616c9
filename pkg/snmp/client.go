// Package snmp implementa el sondeo SNMP v1/v2c de impresoras
package snmp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/asaavedra/printer-monitor/pkg/oids"
)

const (
	opIdentify  = "identify"
	opTelemetry = "telemetry"
)

// Options configura un Prober. Una instancia sirve para toda la flota.
type Options struct {
	Community      string
	Version        string // "1" | "2c"
	Port           uint16
	Timeout        time.Duration
	MaxRepetitions uint32
}

// DeviceInfo es la identidad de un dispositivo que respondió a SNMP
type DeviceInfo struct {
	IP           string
	SysDescr     string
	SysObjectID  string
	SysName      string
	Location     string
	Model        string
	SerialNumber string
	Attributes   map[string]string
	ResponseTime time.Duration
}

// Reading es una lectura cruda de telemetría (sin normalizar)
type Reading struct {
	IP               string
	TotalPages       *int64
	TonerLevel       *int64
	TonerMax         *int64
	TonerDescription string
	DrumLevel        *int64
	DrumMax          *int64
	DrumDescription  string
	DeviceStatus     *int
	PrinterStatus    *int
	Model            string
	SerialNumber     string
	UptimeTicks      *int64
	ResponseTime     time.Duration
}

// session es el subconjunto de gosnmp.GoSNMP que usa el prober
type session interface {
	Get(oids []string) (*gosnmp.SnmpPacket, error)
	BulkWalkAll(rootOid string) ([]gosnmp.SnmpPDU, error)
	WalkAll(rootOid string) ([]gosnmp.SnmpPDU, error)
	Close() error
}

type dialFunc func(ctx context.Context, ip string, opts Options) (session, error)

// Prober ejecuta los intercambios de identidad y telemetría
type Prober struct {
	opts Options
	dial dialFunc
}

// NewProber crea un prober con valores por defecto para los campos vacíos
func NewProber(opts Options) *Prober {
	if opts.Community == "" {
		opts.Community = "public"
	}
	if opts.Version == "" {
		opts.Version = "2c"
	}
	if opts.Port == 0 {
		opts.Port = 161
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.MaxRepetitions == 0 {
		opts.MaxRepetitions = 10
	}
	return &Prober{opts: opts, dial: dialGoSNMP}
}

// Options devuelve la configuración efectiva
func (p *Prober) Options() Options {
	return p.opts
}

// Identify obtiene la identidad del dispositivo en una única petición GET
func (p *Prober) Identify(ctx context.Context, ip string) (*DeviceInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	start := time.Now()

	s, err := p.dial(ctx, ip, p.opts)
	if err != nil {
		return nil, classify(ip, opIdentify, err)
	}
	defer s.Close()

	values, err := p.get(s, ip, opIdentify, oids.ExtractOIDs(oids.OIDsIdentidad))
	if err != nil {
		return nil, err
	}

	info := &DeviceInfo{
		IP:           ip,
		SysDescr:     pduString(values[oids.SysDescr]),
		SysObjectID:  pduString(values[oids.SysObjectID]),
		SysName:      pduString(values[oids.SysName]),
		Location:     pduString(values[oids.SysLocation]),
		Model:        pduString(values[oids.Model]),
		SerialNumber: pduString(values[oids.SerialNumber]),
		Attributes:   make(map[string]string),
		ResponseTime: time.Since(start),
	}

	for _, c := range oids.OIDsIdentidad {
		if v := pduString(values[c.OID]); v != "" {
			info.Attributes[c.Nombre] = v
		}
	}

	if info.SysDescr == "" && info.SysName == "" {
		return nil, protocolError(ip, opIdentify, errors.New("response without sysDescr or sysName"))
	}

	return info, nil
}

// ReadTelemetry localiza los consumibles con un WALK y lee la telemetría con un GET
func (p *Prober) ReadTelemetry(ctx context.Context, ip string) (*Reading, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	start := time.Now()

	s, err := p.dial(ctx, ip, p.opts)
	if err != nil {
		return nil, classify(ip, opTelemetry, err)
	}
	defer s.Close()

	tonerIdx, drumIdx, err := p.supplyIndexes(s)
	if err != nil {
		return nil, unreachable(ip, opTelemetry, err)
	}

	query := oids.ExtractOIDs(oids.OIDsTelemetria)
	query = append(query, oids.SupplyLevelOID(tonerIdx), oids.SupplyMaxOID(tonerIdx), oids.SupplyDescOID(tonerIdx))
	if drumIdx != "" {
		query = append(query, oids.SupplyLevelOID(drumIdx), oids.SupplyMaxOID(drumIdx), oids.SupplyDescOID(drumIdx))
	}

	values, err := p.get(s, ip, opTelemetry, query)
	if err != nil {
		return nil, err
	}

	r := &Reading{
		IP:               ip,
		TotalPages:       pduInt(values[oids.TotalPageCount]),
		TonerLevel:       pduInt(values[oids.SupplyLevelOID(tonerIdx)]),
		TonerMax:         pduInt(values[oids.SupplyMaxOID(tonerIdx)]),
		TonerDescription: pduString(values[oids.SupplyDescOID(tonerIdx)]),
		DeviceStatus:     toInt(pduInt(values[oids.DeviceStatus])),
		PrinterStatus:    toInt(pduInt(values[oids.PrinterStatus])),
		Model:            pduString(values[oids.Model]),
		SerialNumber:     pduString(values[oids.SerialNumber]),
		UptimeTicks:      pduInt(values[oids.SysUptime]),
		ResponseTime:     time.Since(start),
	}
	if drumIdx != "" {
		r.DrumLevel = pduInt(values[oids.SupplyLevelOID(drumIdx)])
		r.DrumMax = pduInt(values[oids.SupplyMaxOID(drumIdx)])
		r.DrumDescription = pduString(values[oids.SupplyDescOID(drumIdx)])
	}

	return r, nil
}

// supplyIndexes recorre prtMarkerSuppliesType buscando el tóner y el tambor.
// Solo un fallo de transporte es error; si el agente no expone la tabla se
// usa el índice de tóner por defecto.
func (p *Prober) supplyIndexes(s session) (toner, drum string, err error) {
	var pdus []gosnmp.SnmpPDU
	if p.opts.Version == "1" {
		pdus, err = s.WalkAll(oids.SuppliesType)
	} else {
		pdus, err = s.BulkWalkAll(oids.SuppliesType)
	}
	if err != nil {
		if isTransportFailure(err) {
			return "", "", err
		}
		pdus = nil
	}

	for _, pdu := range pdus {
		kind := pduInt(pdu)
		if kind == nil {
			continue
		}
		switch *kind {
		case oids.SupplyTypeToner:
			if toner == "" {
				toner = oids.LastIndex(pdu.Name)
			}
		case oids.SupplyTypeOPC:
			if drum == "" {
				drum = oids.LastIndex(pdu.Name)
			}
		}
	}

	if toner == "" {
		toner = oids.DefaultTonerIdx
	}
	return toner, drum, nil
}

// get ejecuta un GET y devuelve los varbinds indexados por OID sin punto inicial.
// En SNMPv1 un noSuchName invalida toda la petición, así que se reintenta OID por OID.
func (p *Prober) get(s session, ip, op string, oidList []string) (map[string]gosnmp.SnmpPDU, error) {
	values := make(map[string]gosnmp.SnmpPDU, len(oidList))

	pkt, err := s.Get(oidList)
	if err != nil {
		return nil, classify(ip, op, err)
	}
	if pkt == nil {
		return nil, protocolError(ip, op, errors.New("empty response"))
	}

	switch pkt.Error {
	case gosnmp.NoError:
	case gosnmp.NoSuchName:
		if len(oidList) == 1 {
			return values, nil
		}
		for _, oid := range oidList {
			single, err := s.Get([]string{oid})
			if err != nil {
				return nil, classify(ip, op, err)
			}
			if single == nil || single.Error == gosnmp.NoSuchName {
				continue
			}
			if single.Error != gosnmp.NoError {
				return nil, protocolError(ip, op, fmt.Errorf("error-status %s", single.Error))
			}
			collect(values, single.Variables)
		}
		return values, nil
	default:
		return nil, protocolError(ip, op, fmt.Errorf("error-status %s", pkt.Error))
	}

	collect(values, pkt.Variables)
	return values, nil
}

func collect(dst map[string]gosnmp.SnmpPDU, vars []gosnmp.SnmpPDU) {
	for _, v := range vars {
		dst[oids.Normalize(v.Name)] = v
	}
}

func toInt(v *int64) *int {
	if v == nil {
		return nil
	}
	n := int(*v)
	return &n
}

// gosnmpSession adapta *gosnmp.GoSNMP a session
type gosnmpSession struct {
	*gosnmp.GoSNMP
}

func (s gosnmpSession) Close() error {
	if s.Conn == nil {
		return nil
	}
	return s.Conn.Close()
}

// dialGoSNMP abre una sesión UDP. Sin reintentos: el timeout acota el sondeo.
func dialGoSNMP(ctx context.Context, ip string, opts Options) (session, error) {
	version := gosnmp.Version2c
	if opts.Version == "1" {
		version = gosnmp.Version1
	}

	params := &gosnmp.GoSNMP{
		Target:         ip,
		Port:           opts.Port,
		Community:      opts.Community,
		Version:        version,
		Timeout:        opts.Timeout,
		Retries:        0,
		MaxRepetitions: opts.MaxRepetitions,
		Context:        ctx,
	}

	if err := params.Connect(); err != nil {
		return nil, fmt.Errorf("connect %s:%d: %w", ip, opts.Port, err)
	}
	return gosnmpSession{params}, nil
}
