// Package nodeid assigns the static node id a service passes to
// snowflake.NewNode. Ids are either configured explicitly or taken from the
// host bits of the pod's private IPv4 address, which the cluster network
// already keeps unique among live pods.
package nodeid

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
)

var (
	ErrBadNodeID     = errors.New("node id invalid")
	ErrBadWorkerCIDR = errors.New("worker CIDR invalid")
	ErrBadPodIP      = errors.New("pod ip invalid")
	ErrMaskRange     = errors.New("the worker CIDR leaves more host bits than the node id can hold")
)

// Parse reads an explicit node id and checks it against maxNode.
func Parse(s string, maxNode int64) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%q: %v: %w", s, err, ErrBadNodeID)
	}
	if v < 0 || v > maxNode {
		return 0, fmt.Errorf("%d outside [0, %d]: %w", v, maxNode, ErrBadNodeID)
	}
	return v, nil
}

// FromPrivateIP returns the host part of podIP under workerCIDR. With
// "0.0.0.0/22" the low 10 bits of the address become the node id. Only the
// prefix length of workerCIDR matters.
func FromPrivateIP(workerCIDR, podIP string, maxNode int64) (int64, error) {
	hostBits, err := parseHostBits(workerCIDR)
	if err != nil {
		return 0, err
	}
	if hostBits == 0 || int64(1)<<hostBits-1 > maxNode {
		return 0, fmt.Errorf("%s - %d host bits, node ids stop at %d: %w", workerCIDR, hostBits, maxNode, ErrMaskRange)
	}

	ip, err := parseIP(podIP)
	if err != nil {
		return 0, err
	}
	host := binary.BigEndian.Uint32(ip) & (1<<hostBits - 1)
	return int64(host), nil
}

func parseHostBits(workerCIDR string) (int, error) {
	_, ipNet, err := net.ParseCIDR(workerCIDR)
	if err != nil {
		return 0, fmt.Errorf("%s - issue parsing CIDR: %v: %w", workerCIDR, err, ErrBadWorkerCIDR)
	}
	ones, bits := ipNet.Mask.Size()
	if bits != 32 {
		return 0, fmt.Errorf("%s - only IPv4 is supported: %w", workerCIDR, ErrBadWorkerCIDR)
	}
	return bits - ones, nil
}

// parseIP requires an address from a private IPv4 range.
func parseIP(podIP string) (net.IP, error) {
	ip := net.ParseIP(podIP)
	if ip == nil {
		return nil, fmt.Errorf("%s - issue parsing IP: %w", podIP, ErrBadPodIP)
	}
	if !ip.IsPrivate() {
		return nil, fmt.Errorf("%s - is not a private ip: %w", podIP, ErrBadPodIP)
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("%s - is not IPv4: %w", podIP, ErrBadPodIP)
	}
	return ip4, nil
}
