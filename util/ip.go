package util

import (
	"encoding/binary"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// GetOutboundIP returns the local address used for outbound traffic. No
// packet is sent.
func GetOutboundIP() (net.IP, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return nil, errors.Wrap(err, "outbound ip")
	}
	defer conn.Close()

	return conn.LocalAddr().(*net.UDPAddr).IP, nil
}

// GetExternalIP asks a public echo service for this host's address.
func GetExternalIP() string {
	client := http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://myexternalip.com/raw")
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	content, _ := io.ReadAll(io.LimitReader(resp.Body, 64))
	return strings.TrimSpace(string(content))
}

// GetLocalIP returns the first non loopback IPv4 address.
func GetLocalIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}

	for _, address := range addrs {
		if ipnet, ok := address.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}
	return ""
}

// IPToUint32 packs an IPv4 address in network byte order.
func IPToUint32(ip net.IP) (uint32, bool) {
	v4 := ip.To4()
	if nil == v4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(v4), true
}

func Uint32ToIP(v uint32) net.IP {
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, v)
	return ip
}

// SplitAddr parses "a.b.c.d:port" into the packed wire form.
func SplitAddr(addr string) (uint32, uint16, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if nil != err {
		return 0, 0, errors.Wrapf(err, "address %q", addr)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if nil != err {
		return 0, 0, errors.Wrapf(err, "port of %q", addr)
	}
	ip := net.ParseIP(host)
	if "" == host || "localhost" == host {
		ip = net.IPv4(127, 0, 0, 1)
	}
	v, ok := IPToUint32(ip)
	if !ok {
		return 0, 0, errors.Errorf("address %q is not IPv4", addr)
	}
	return v, uint16(port), nil
}

// JoinAddr is the inverse of SplitAddr.
func JoinAddr(host uint32, port uint16) string {
	return net.JoinHostPort(Uint32ToIP(host).String(), strconv.Itoa(int(port)))
}

// Port returns the numeric port of addr.
func Port(addr string) (uint16, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if nil != err {
		return 0, errors.Wrapf(err, "address %q", addr)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	return uint16(port), errors.Wrapf(err, "port of %q", addr)
}
