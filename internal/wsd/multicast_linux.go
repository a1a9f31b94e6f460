//go:build linux

package wsd

import (
	"net"

	"golang.org/x/sys/unix"
)

// setMulticastAllOff disables IP_MULTICAST_ALL, a Linux-only socket option
// that otherwise delivers multicast traffic for groups this socket never
// joined. Matches udp_server.cpp's `#ifdef __linux__` branch.
func setMulticastAllOff(conn *net.UDPConn) {
	setIPOption(conn, unix.IPPROTO_IP, unix.IP_MULTICAST_ALL)
}

// setMulticastAllOffV6 is a no-op: IP_MULTICAST_ALL has no IPv6
// counterpart in the Linux kernel, matching the source's v6 initAddresses
// (no `#ifdef __linux__` block there).
func setMulticastAllOffV6(conn *net.UDPConn) {}

func setIPOption(conn *net.UDPConn, level, name int) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return
	}
	_ = raw.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), level, name, 0)
	})
}
