//go:build !linux

package wsd

import "net"

// setMulticastAllOff is Linux-specific (IP_MULTICAST_ALL); other platforms
// never deliver unjoined multicast traffic to this socket, so there's
// nothing to disable.
func setMulticastAllOff(conn *net.UDPConn) {}

func setMulticastAllOffV6(conn *net.UDPConn) {}
