package model

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// TransportType selects how bytes move between two peers.
type TransportType uint8

const (
	TRANSPORT_DEFAULT TransportType = iota
	TRANSPORT_SECURE
	TRANSPORT_UDP
)

var transportStr = []string{
	"DEFAULT",
	"SECURE",
	"UDP",
}

func (t TransportType) String() string {
	if int(t) < len(transportStr) {
		return transportStr[t]
	}
	return fmt.Sprintf("TransportType(%d)", uint8(t))
}

func ParseTransportType(s string) (TransportType, error) {
	for i, name := range transportStr {
		if strings.EqualFold(name, s) {
			return TransportType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown transport type %q", s)
}

// EndpointInfo is a reachable peer. Two endpoints are the same peer when address and
// port match, whatever transport they advertise.
type EndpointInfo struct {
	Address   string        `json:"Address" msgpack:"address"`
	Port      int           `json:"Port" msgpack:"port"`
	Transport TransportType `json:"Transport" msgpack:"transport"`
}

func NewEndpointInfo(address string, port int, transport TransportType) EndpointInfo {
	return EndpointInfo{Address: address, Port: port, Transport: transport}
}

// ParseEndpoint reads "host:port".
func ParseEndpoint(hostPort string, transport TransportType) (EndpointInfo, error) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(hostPort))
	if err != nil {
		return EndpointInfo{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return EndpointInfo{}, fmt.Errorf("invalid port in %q: %v", hostPort, err)
	}
	return NewEndpointInfo(host, port, transport), nil
}

func (e EndpointInfo) HostPort() string {
	return net.JoinHostPort(e.Address, strconv.Itoa(e.Port))
}

// Key identifies the peer for map lookups.
func (e EndpointInfo) Key() string {
	return e.HostPort()
}

func (e EndpointInfo) Equal(o EndpointInfo) bool {
	return e.Address == o.Address && e.Port == o.Port
}

func (e EndpointInfo) String() string {
	return fmt.Sprintf("{ IP: [%s] - Port: [%d] - Communication type: [%s] }", e.Address, e.Port, e.Transport)
}
