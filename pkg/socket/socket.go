// Package socket exposes POSIX-shaped entry points over the user-space
// stack. Descriptors owned by the transport engine are served in process;
// everything else falls through to the host kernel unmodified.
package socket

import (
	"net/netip"

	"golang.org/x/sys/unix"

	"firestige.xyz/anser/internal/stack"
	"firestige.xyz/anser/internal/tcp"
)

// engine returns the process transport engine, bringing the stack up on
// first use.
func engine() (*tcp.Engine, error) {
	s, err := stack.Default()
	if err != nil {
		return nil, err
	}
	return s.Transport, nil
}

// Socket creates an endpoint for communication. Only (AF_INET, SOCK_STREAM,
// 0 or IPPROTO_TCP) is served by the stack; other combinations go to the
// kernel.
func Socket(domain, typ, protocol int) (int, error) {
	if domain != unix.AF_INET || typ != unix.SOCK_STREAM ||
		(protocol != 0 && protocol != unix.IPPROTO_TCP) {
		return unix.Socket(domain, typ, protocol)
	}
	e, err := engine()
	if err != nil {
		return -1, err
	}
	return e.Socket()
}

// Bind assigns a local address to a socket. The wildcard address binds to
// the host's primary address.
func Bind(fd int, sa unix.Sockaddr) error {
	e, err := engine()
	if err != nil || !e.Owns(fd) {
		return unix.Bind(fd, sa)
	}
	sa4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return unix.EAFNOSUPPORT
	}
	return e.Bind(fd, netip.AddrFrom4(sa4.Addr), uint16(sa4.Port))
}

// Listen marks a socket passive.
func Listen(fd, backlog int) error {
	e, err := engine()
	if err != nil || !e.Owns(fd) {
		return unix.Listen(fd, backlog)
	}
	return e.Listen(fd, backlog)
}

// Connect initiates the three-way handshake and blocks until it completes
// or fails.
func Connect(fd int, sa unix.Sockaddr) error {
	e, err := engine()
	if err != nil || !e.Owns(fd) {
		return unix.Connect(fd, sa)
	}
	sa4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return unix.EAFNOSUPPORT
	}
	return e.Connect(fd, netip.AddrFrom4(sa4.Addr), uint16(sa4.Port))
}

// Accept blocks until a completed connection is available and returns its
// descriptor and peer address.
func Accept(fd int) (int, unix.Sockaddr, error) {
	e, err := engine()
	if err != nil || !e.Owns(fd) {
		return unix.Accept(fd)
	}
	nfd, addr, port, err := e.Accept(fd)
	if err != nil {
		return -1, nil, err
	}
	return nfd, &unix.SockaddrInet4{Port: int(port), Addr: addr.As4()}, nil
}

// Read reads from a connection, blocking until the requested length has
// arrived, the peer pushes, or the stream ends.
func Read(fd int, p []byte) (int, error) {
	e, err := engine()
	if err != nil || !e.Owns(fd) {
		return unix.Read(fd, p)
	}
	return e.Read(fd, p)
}

// Write writes to a connection, chunking by the peer's advertised window.
func Write(fd int, p []byte) (int, error) {
	e, err := engine()
	if err != nil || !e.Owns(fd) {
		return unix.Write(fd, p)
	}
	return e.Write(fd, p)
}

// Close releases a descriptor.
func Close(fd int) error {
	e, err := engine()
	if err != nil || !e.Owns(fd) {
		return unix.Close(fd)
	}
	return e.Close(fd)
}
