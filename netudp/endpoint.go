// Package netudp provides the single shared UDP endpoint every miIO
// component (handshake, discovery, fast-connect, orchestrated commands)
// sends and receives through. Only one request/response exchange is ever
// in flight at a time, matching the single-threaded, cooperative resource
// model the protocol was designed around.
package netudp

import (
	"context"
	"fmt"
	"net"
	"sync"
)

// Port is the UDP port miIO devices listen on.
const Port = 54321

// BroadcastAddr is the LAN broadcast address miIO hello frames are sent to
// during discovery.
var BroadcastAddr = &net.UDPAddr{IP: net.IPv4bcast, Port: Port}

// Endpoint wraps a single *net.UDPConn bound to an ephemeral local port,
// shared across every FSM and session in the process.
type Endpoint struct {
	mu   sync.Mutex
	conn *net.UDPConn
}

// Bind opens a new endpoint on an ephemeral local port (":0") with
// broadcast sends enabled.
func Bind() (*Endpoint, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	if err != nil {
		return nil, fmt.Errorf("netudp: bind: %w", err)
	}
	if err := enableBroadcast(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("netudp: enable broadcast: %w", err)
	}
	return &Endpoint{conn: conn}, nil
}

// Rebind closes the current socket, if any, and binds a fresh one on a new
// ephemeral port — used by soft-wake-up after a sleep cycle.
func (e *Endpoint) Rebind() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn != nil {
		e.conn.Close()
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	if err != nil {
		return fmt.Errorf("netudp: rebind: %w", err)
	}
	if err := enableBroadcast(conn); err != nil {
		conn.Close()
		return fmt.Errorf("netudp: enable broadcast: %w", err)
	}
	e.conn = conn
	return nil
}

// Close releases the underlying socket. Safe to call on an already-closed
// or nil-conn endpoint.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return nil
	}
	err := e.conn.Close()
	e.conn = nil
	return err
}

// SendTo writes b as a single datagram to addr.
func (e *Endpoint) SendTo(addr *net.UDPAddr, b []byte) error {
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("netudp: send on closed endpoint")
	}
	_, err := conn.WriteToUDP(b, addr)
	return err
}

// ReceiveFrom blocks for at most one datagram, honoring ctx's deadline (or
// cancellation). It returns a zero count and a non-nil context error
// (ctx.Err(), or context.DeadlineExceeded when the socket deadline fires
// first) on timeout or cancellation, which callers treat as "no packet
// this poll" rather than a hard error.
func (e *Endpoint) ReceiveFrom(ctx context.Context, buf []byte) (int, *net.UDPAddr, error) {
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	if conn == nil {
		return 0, nil, fmt.Errorf("netudp: receive on closed endpoint")
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = noDeadline
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return 0, nil, err
	}

	n, addr, err := conn.ReadFromUDP(buf)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			// The socket deadline can fire a moment before ctx reports it.
			return 0, nil, context.DeadlineExceeded
		}
		return 0, nil, err
	}
	return n, addr, nil
}
