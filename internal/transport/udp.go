package transport

import (
	"net"
	"time"

	"github.com/pkg/errors"
)

// MaxDatagramSize is the receive buffer; larger payloads are refused on send.
const MaxDatagramSize = 1500

// Datagram is a UDP endpoint used for discovery. Every datagram is one whole frame, with
// no length prefix.
type Datagram struct {
	conn    *net.UDPConn
	timeout time.Duration
}

// ListenUDP binds port on every interface; port 0 picks a free one. broadcast binds IPv4
// only, where broadcast addresses exist.
func ListenUDP(port int, broadcast bool) (*Datagram, error) {
	network := "udp"
	if broadcast {
		network = "udp4"
	}
	conn, err := net.ListenUDP(network, &net.UDPAddr{Port: port})
	if err != nil {
		return nil, errors.Wrapf(err, "listen udp :%d", port)
	}
	return &Datagram{conn: conn}, nil
}

func (d *Datagram) SendTo(b []byte, addr *net.UDPAddr) error {
	if len(b) > MaxDatagramSize {
		return errors.Wrapf(ErrDatagramTooLarge, "%d bytes, max %d", len(b), MaxDatagramSize)
	}
	_, err := d.conn.WriteToUDP(b, addr)
	return classify(err, "send datagram")
}

func (d *Datagram) ReceiveFrom() ([]byte, *net.UDPAddr, error) {
	if d.timeout > 0 {
		_ = d.conn.SetReadDeadline(time.Now().Add(d.timeout))
	} else {
		_ = d.conn.SetReadDeadline(time.Time{})
	}
	buf := make([]byte, MaxDatagramSize)
	n, addr, err := d.conn.ReadFromUDP(buf)
	if err != nil {
		return nil, nil, classify(err, "receive datagram")
	}
	return buf[:n], addr, nil
}

func (d *Datagram) SetTimeout(t time.Duration) {
	d.timeout = t
}

func (d *Datagram) LocalPort() int {
	return d.conn.LocalAddr().(*net.UDPAddr).Port
}

func (d *Datagram) Close() error {
	return d.conn.Close()
}

// BroadcastAddrs lists the IPv4 broadcast address of every up, non-loopback interface.
func BroadcastAddrs() []net.IP {
	var out []net.IP
	ifaces, err := net.Interfaces()
	if err != nil {
		return out
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagBroadcast == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil {
				continue
			}
			mask := ipNet.Mask
			if len(mask) == net.IPv6len {
				mask = mask[12:]
			}
			if len(mask) != net.IPv4len {
				continue
			}
			bcast := make(net.IP, 4)
			for i := range ip4 {
				bcast[i] = ip4[i] | ^mask[i]
			}
			out = append(out, bcast)
		}
	}
	return out
}
