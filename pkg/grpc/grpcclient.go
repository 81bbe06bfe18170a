// Package grpc adapts the teacher's gRPC dial-option bundle to the TCP
// connections pkg/transport/wire actually dials: this binding has no
// google.golang.org/grpc client underneath it, so KeepaliveTime and
// DialTimeout become net.Dialer settings instead of grpc.DialOptions.
package grpc

import (
	"net"
	"time"
)

// ClientOptions tunes how pkg/transport/wire.NewClientTransportWithOptions
// dials and keeps alive its per-call TCP connections.
type ClientOptions struct {
	// KeepaliveTime is the TCP keepalive interval on the dialed connection.
	KeepaliveTime time.Duration
	// KeepaliveTimeout is kept to mirror the teacher's option shape; Dialer
	// does not read it.
	KeepaliveTimeout time.Duration
	// DialTimeout bounds how long dialing the peer address may take.
	DialTimeout time.Duration
}

// DefaultClientOptions mirrors the teacher's defaults.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		KeepaliveTime:    10 * time.Second,
		KeepaliveTimeout: 3 * time.Second,
		DialTimeout:      10 * time.Second,
	}
}

// Dialer builds a net.Dialer honoring o's timeout and keepalive settings.
func (o ClientOptions) Dialer() *net.Dialer {
	return &net.Dialer{
		Timeout:   o.DialTimeout,
		KeepAlive: o.KeepaliveTime,
	}
}
