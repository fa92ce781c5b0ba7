// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Volanti Avionics

package cyphal

import (
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/net/ipv4"
)

// TransportStats counts socket-level outcomes.
type TransportStats struct {
	DatagramsSent     uint64
	DatagramsReceived uint64
	SendErrors        uint64
	RecvErrors        uint64
	RecvTimeouts      uint64
	GroupsJoined      uint64
	GroupsLeft        uint64
}

// UDPTransport owns the single datagram socket, its multicast group
// membership, and the mutex serializing send/recv/membership changes.
type UDPTransport struct {
	mu        sync.Mutex
	conn      *net.UDPConn
	packet    *ipv4.PacketConn
	iface     *net.Interface
	port      uint16
	endpoints EndpointMap
	groups    map[uint32]struct{}
	stats     TransportStats
}

// NewUDPTransport returns an uninitialized transport; Init opens the socket.
func NewUDPTransport() *UDPTransport {
	return &UDPTransport{
		endpoints: DefaultEndpoints(),
		groups:    make(map[uint32]struct{}),
	}
}

// Init binds the datagram socket to port on the named interface (empty for
// the default route), adopts the endpoint map for group validation, joins
// its subject base group, and prepares deadline-bounded receive.
func (t *UDPTransport) Init(ifaceName string, port uint16, endpoints EndpointMap) error {
	if port == 0 {
		return fmt.Errorf("%w: udp port must be nonzero", ErrInvalidConfig)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return fmt.Errorf("%w: transport already initialized", ErrInitFailed)
	}

	var iface *net.Interface
	if ifaceName != "" {
		var err error
		iface, err = net.InterfaceByName(ifaceName)
		if err != nil {
			return fmt.Errorf("%w: interface %q: %v", ErrNetworkUnavail, ifaceName, err)
		}
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: int(port)})
	if err != nil {
		return fmt.Errorf("%w: bind :%d: %v", ErrInitFailed, port, err)
	}

	t.conn = conn
	t.packet = ipv4.NewPacketConn(conn)
	t.iface = iface
	t.port = port
	if endpoints.Valid() {
		t.endpoints = endpoints
	}

	if err := t.joinLocked(t.endpoints.Subject); err != nil {
		conn.Close()
		t.conn = nil
		t.packet = nil
		return err
	}
	return nil
}

// Deinit leaves all joined groups and closes the socket.
func (t *UDPTransport) Deinit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	for g := range t.groups {
		t.packet.LeaveGroup(t.iface, &net.UDPAddr{IP: AddrToIP(g)})
		delete(t.groups, g)
	}
	err := t.conn.Close()
	t.conn = nil
	t.packet = nil
	return err
}

// Initialized reports whether the socket is open.
func (t *UDPTransport) Initialized() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Send transmits one datagram to dest:destPort. Failures are reported but
// never retried here; retry policy belongs to the TX task.
func (t *UDPTransport) Send(data []byte, dest uint32, destPort uint16) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return ErrNotInitialized
	}
	_, err := t.conn.WriteToUDP(data, &net.UDPAddr{IP: AddrToIP(dest), Port: int(destPort)})
	if err != nil {
		t.stats.SendErrors++
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	t.stats.DatagramsSent++
	return nil
}

// Recv reads one datagram into buf, waiting at most timeout. It returns the
// byte count plus the source address and port. An expired wait fails with
// ErrTimeout, distinguishable from hard socket errors.
func (t *UDPTransport) Recv(buf []byte, timeout time.Duration) (int, uint32, uint16, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return 0, 0, 0, ErrNotInitialized
	}
	if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.stats.RecvErrors++
		return 0, 0, 0, fmt.Errorf("%w: set deadline: %v", ErrReceiveFailed, err)
	}
	n, addr, err := t.conn.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			t.stats.RecvTimeouts++
			return 0, 0, 0, ErrTimeout
		}
		t.stats.RecvErrors++
		return 0, 0, 0, fmt.Errorf("%w: %v", ErrReceiveFailed, err)
	}
	t.stats.DatagramsReceived++
	return n, IPToAddr(addr.IP), uint16(addr.Port), nil
}

// JoinGroup adds membership in a UAVCAN multicast group.
func (t *UDPTransport) JoinGroup(group uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return ErrNotInitialized
	}
	return t.joinLocked(group)
}

func (t *UDPTransport) joinLocked(group uint32) error {
	if !t.endpoints.IsValidMulticast(group) {
		return fmt.Errorf("%w: 0x%08X is not a UAVCAN multicast address", ErrInvalidParameter, group)
	}
	if _, ok := t.groups[group]; ok {
		return nil
	}
	if err := t.packet.JoinGroup(t.iface, &net.UDPAddr{IP: AddrToIP(group)}); err != nil {
		return fmt.Errorf("%w: join 0x%08X: %v", ErrNetworkUnavail, group, err)
	}
	t.groups[group] = struct{}{}
	t.stats.GroupsJoined++
	return nil
}

// LeaveGroup drops membership in a UAVCAN multicast group.
func (t *UDPTransport) LeaveGroup(group uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return ErrNotInitialized
	}
	if !t.endpoints.IsValidMulticast(group) {
		return fmt.Errorf("%w: 0x%08X is not a UAVCAN multicast address", ErrInvalidParameter, group)
	}
	if _, ok := t.groups[group]; !ok {
		return nil
	}
	if err := t.packet.LeaveGroup(t.iface, &net.UDPAddr{IP: AddrToIP(group)}); err != nil {
		return fmt.Errorf("%w: leave 0x%08X: %v", ErrNetworkUnavail, group, err)
	}
	delete(t.groups, group)
	t.stats.GroupsLeft++
	return nil
}

// Port returns the bound UDP port.
func (t *UDPTransport) Port() uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port
}

// Stats returns a snapshot of the socket counters.
func (t *UDPTransport) Stats() TransportStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}
