// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Volanti Avionics

package cyphal

import (
	"encoding/binary"
	"net"
)

// EndpointMap derives multicast group addresses from a configured base
// pair. Deployments that relocate the bus to private address space override
// the standard bases here.
type EndpointMap struct {
	Subject uint32
	Service uint32
}

// DefaultEndpoints returns the standard UAVCAN/UDP base pair.
func DefaultEndpoints() EndpointMap {
	return EndpointMap{Subject: SubjectBase, Service: ServiceBase}
}

// Valid reports whether the pair is usable: nonzero distinct bases with a
// zero low half, leaving room for the subject or node-ID.
func (e EndpointMap) Valid() bool {
	return e.Subject != 0 && e.Service != 0 &&
		e.Subject&0xFFFF == 0 && e.Service&0xFFFF == 0 &&
		e.Subject != e.Service
}

// SubjectEndpoint returns the multicast group address for a subject-ID.
func (e EndpointMap) SubjectEndpoint(subject uint16) uint32 {
	return e.Subject | uint32(subject)
}

// ServiceEndpoint returns the multicast group address for service transfers
// destined to the given node.
func (e EndpointMap) ServiceEndpoint(node NodeID) uint32 {
	return e.Service | uint32(node)
}

// IsValidMulticast reports whether addr is a well-formed endpoint under the
// map: the upper half matches the subject or service base, and in the
// service case the low half is a valid concrete node-ID.
func (e EndpointMap) IsValidMulticast(addr uint32) bool {
	switch addr & 0xFFFF0000 {
	case e.Subject:
		return addr&0xFFFF <= SubjectIDMax
	case e.Service:
		return NodeID(addr&0xFFFF) != NodeIDUnset && addr&0xFFFF <= NodeIDMax
	}
	return false
}

// SubjectEndpoint returns the multicast group address for a subject-ID
// under the standard bases.
func SubjectEndpoint(subject uint16) uint32 {
	return DefaultEndpoints().SubjectEndpoint(subject)
}

// ServiceEndpoint returns the multicast group address for service transfers
// destined to the given node, under the standard bases.
func ServiceEndpoint(node NodeID) uint32 {
	return DefaultEndpoints().ServiceEndpoint(node)
}

// IsValidMulticast reports whether addr is a well-formed UAVCAN endpoint
// under the standard bases.
func IsValidMulticast(addr uint32) bool {
	return DefaultEndpoints().IsValidMulticast(addr)
}

// AddrToIP converts a network-byte-order IPv4 address into a net.IP at the
// socket boundary.
func AddrToIP(addr uint32) net.IP {
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, addr)
	return ip
}

// IPToAddr converts a net.IP into a network-byte-order IPv4 address.
// Non-IPv4 addresses map to zero.
func IPToAddr(ip net.IP) uint32 {
	v4 := ip.To4()
	if v4 == nil {
		return 0
	}
	return binary.BigEndian.Uint32(v4)
}
