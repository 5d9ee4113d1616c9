package scanner

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// DefaultMaxHosts limita el tamaño de una expansión (equivale a un /16)
const DefaultMaxHosts = 65536

var (
	// ErrInvalidTarget indica un objetivo que no es CIDR, rango ni IP
	ErrInvalidTarget = errors.New("invalid scan target")

	// ErrTooManyHosts indica una expansión mayor que el máximo permitido
	ErrTooManyHosts = errors.New("scan target too large")
)

// ExpandTarget convierte un objetivo en la lista de IPs a sondear.
// Formatos: "192.168.1.0/24", "192.168.1.1-254" o una IP individual.
// En IPv4 se excluyen red y broadcast salvo en /31 y /32.
func ExpandTarget(target string, maxHosts int) ([]string, error) {
	target = strings.TrimSpace(target)
	if maxHosts <= 0 {
		maxHosts = DefaultMaxHosts
	}

	switch {
	case strings.Contains(target, "/"):
		return expandCIDR(target, maxHosts)
	case strings.Contains(target, "-"):
		start, end, _ := strings.Cut(target, "-")
		return parseRangeFormat(start, end)
	}

	addr, err := netip.ParseAddr(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTarget, target)
	}
	return []string{addr.String()}, nil
}

func expandCIDR(cidr string, maxHosts int) ([]string, error) {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidTarget, cidr, err)
	}
	prefix = prefix.Masked()

	hostBits := prefix.Addr().BitLen() - prefix.Bits()
	skipEdges := prefix.Addr().Is4() && prefix.Bits() <= 30

	if hostBits > 30 {
		return nil, fmt.Errorf("%w: %s", ErrTooManyHosts, cidr)
	}
	usable := 1 << hostBits
	if skipEdges {
		usable -= 2
	}
	if usable > maxHosts {
		return nil, fmt.Errorf("%w: %s expands to %d hosts (max %d)", ErrTooManyHosts, cidr, usable, maxHosts)
	}

	ips := make([]string, 0, usable)
	first := prefix.Addr()
	for addr := first; prefix.Contains(addr); addr = addr.Next() {
		if skipEdges && (addr == first || !prefix.Contains(addr.Next())) {
			continue
		}
		ips = append(ips, addr.String())
		if !addr.Next().IsValid() {
			break
		}
	}

	return ips, nil
}

// parseRangeFormat maneja rangos como "192.168.1.1" y "254"
func parseRangeFormat(startIP, endOctet string) ([]string, error) {
	ip, err := netip.ParseAddr(strings.TrimSpace(startIP))
	if err != nil || !ip.Is4() {
		return nil, fmt.Errorf("%w: IP inicial inválida: %s", ErrInvalidTarget, startIP)
	}

	endNum, err := strconv.Atoi(strings.TrimSpace(endOctet))
	if err != nil {
		return nil, fmt.Errorf("%w: octeto final inválido: %s", ErrInvalidTarget, endOctet)
	}

	b := ip.As4()
	startNum := int(b[3])
	if endNum < startNum || endNum > 255 {
		return nil, fmt.Errorf("%w: octeto fuera de rango (%d-255): %d", ErrInvalidTarget, startNum, endNum)
	}

	ips := make([]string, 0, endNum-startNum+1)
	for i := startNum; i <= endNum; i++ {
		b[3] = byte(i)
		ips = append(ips, netip.AddrFrom4(b).String())
	}

	return ips, nil
}
