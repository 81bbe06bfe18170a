// Package credentials implements the channel- and call-credential objects
// and their composition algebra (spec.md C2/C3, §4.2-§4.3).
package credentials

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"strings"

	"github.com/corerpc/corerpc/pkg/metadata"
	"github.com/corerpc/corerpc/pkg/status"
)

// ProtocolInfo describes the security protocol a ChannelCredentials speaks.
type ProtocolInfo struct {
	SecurityProtocol string
	ServerName       string
}

// AuthInfo is whatever a channel credential's handshake yields about the
// authenticated peer.
type AuthInfo interface {
	AuthType() string
}

// TLSInfo implements AuthInfo for a TLS-authenticated connection.
type TLSInfo struct {
	State tls.ConnectionState
}

func (TLSInfo) AuthType() string { return "tls" }

// ChannelCredentials is an opaque handle for channel-level transport
// credentials: either the unique insecure sentinel, a composable secure
// (TLS) credential, or the non-composable composite produced by attaching
// call credentials to a composable one (spec.md §3 Credentials, §4.3 rule 1).
type ChannelCredentials struct {
	secure     bool
	composable bool
	tlsConfig  *tls.Config
	callCreds  *CallCredentials
}

var insecureSentinel = &ChannelCredentials{secure: false, composable: false}

// Insecure returns the unique, non-composable insecure channel credential.
func Insecure() *ChannelCredentials {
	return insecureSentinel
}

// NewTLS builds a composable channel credential from rootCerts and, if
// non-nil, privateKey: a tls.Certificate that carries the key and its
// certificate chain together, so one cannot be given without the other.
// The returned error is always nil.
func NewTLS(rootCerts *x509.CertPool, privateKey *tls.Certificate) (*ChannelCredentials, error) {
	cfg := &tls.Config{RootCAs: rootCerts, NextProtos: []string{"h2"}}
	if privateKey != nil {
		cfg.Certificates = []tls.Certificate{*privateKey}
	}
	return &ChannelCredentials{secure: true, composable: true, tlsConfig: cfg}, nil
}

// NewServerTLS builds a composable server-side channel credential from a
// certificate/key pair.
func NewServerTLS(cert tls.Certificate) *ChannelCredentials {
	return &ChannelCredentials{
		secure:     true,
		composable: true,
		tlsConfig:  &tls.Config{Certificates: []tls.Certificate{cert}, NextProtos: []string{"h2"}},
	}
}

// IsComposable reports whether call credentials may still be attached to c.
func (c *ChannelCredentials) IsComposable() bool {
	return c != nil && c.composable
}

// IsSecure reports whether c is a TLS credential (as opposed to insecure).
func (c *ChannelCredentials) IsSecure() bool {
	return c != nil && c.secure
}

// CallCredentials returns the call credential attached by composeChannel,
// or nil if c carries none (including the insecure sentinel and any
// not-yet-composed secure credential).
func (c *ChannelCredentials) CallCredentials() *CallCredentials {
	if c == nil {
		return nil
	}
	return c.callCreds
}

// TLSConfig returns the credential's TLS configuration, or nil for the
// insecure sentinel.
func (c *ChannelCredentials) TLSConfig() *tls.Config {
	if c == nil {
		return nil
	}
	return c.tlsConfig
}

// ClientHandshake performs the client-side TLS handshake, or passes the raw
// connection through unchanged for the insecure credential.
func (c *ChannelCredentials) ClientHandshake(ctx context.Context, authority string, raw net.Conn) (net.Conn, AuthInfo, error) {
	if !c.secure {
		return raw, nil, nil
	}
	cfg := c.tlsConfig.Clone()
	if cfg.ServerName == "" {
		if host, _, err := net.SplitHostPort(authority); err == nil {
			cfg.ServerName = host
		} else {
			cfg.ServerName = authority
		}
	}
	conn := tls.Client(raw, cfg)
	done := make(chan error, 1)
	go func() { done <- conn.Handshake() }()
	select {
	case err := <-done:
		if err != nil {
			return nil, nil, err
		}
		return conn, TLSInfo{conn.ConnectionState()}, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// ServerHandshake performs the server-side TLS handshake, or passes the raw
// connection through unchanged for the insecure credential.
func (c *ChannelCredentials) ServerHandshake(raw net.Conn) (net.Conn, AuthInfo, error) {
	if !c.secure {
		return raw, nil, nil
	}
	conn := tls.Server(raw, c.tlsConfig)
	if err := conn.Handshake(); err != nil {
		return nil, nil, err
	}
	return conn, TLSInfo{conn.ConnectionState()}, nil
}

// OverrideServerName sets the TLS ServerName used for hostname matching,
// mirroring the ssl_target_name_override client option (spec.md §4.7).
func (c *ChannelCredentials) OverrideServerName(name string) {
	if c.tlsConfig != nil {
		c.tlsConfig.ServerName = name
	}
}

// MetadataGeneratorFunc produces metadata for a call given the authority URI
// it is being sent to, per spec.md §4.2 fromMetadataGenerator. It may block
// (e.g. on a network round trip to a token endpoint).
type MetadataGeneratorFunc func(ctx context.Context, authorityURI string) (*metadata.MD, *status.Status, error)

// CallCredentials is an opaque handle wrapping a metadata-producing
// generator attached per call or composed into a channel credential.
type CallCredentials struct {
	generator MetadataGeneratorFunc
}

// FromMetadataGenerator wraps an arbitrary generator as a CallCredentials.
func FromMetadataGenerator(fn MetadataGeneratorFunc) *CallCredentials {
	return &CallCredentials{generator: fn}
}

// AccessTokenSource yields a bearer token for the common case of
// FromAccessTokenSource (spec.md §4.2): an external token source, such as a
// JWT minter or an OAuth2 flow, with the contract "given nothing in
// particular, yields a token valid right now".
type AccessTokenSource interface {
	Token(ctx context.Context) (string, error)
}

// AccessTokenSourceFunc adapts a function to AccessTokenSource.
type AccessTokenSourceFunc func(ctx context.Context) (string, error)

func (f AccessTokenSourceFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// FromAccessTokenSource builds a CallCredentials that emits a single
// "authorization: Bearer <token>" entry per call.
func FromAccessTokenSource(src AccessTokenSource) *CallCredentials {
	return FromMetadataGenerator(func(ctx context.Context, _ string) (*metadata.MD, *status.Status, error) {
		tok, err := src.Token(ctx)
		if err != nil {
			return nil, nil, err
		}
		return metadata.Pairs("authorization", "Bearer "+tok), nil, nil
	})
}

// GetRequestMetadata runs the generator, refreshing tokens if the
// implementation requires it.
func (c *CallCredentials) GetRequestMetadata(ctx context.Context, authorityURI string) (*metadata.MD, *status.Status, error) {
	if c == nil || c.generator == nil {
		return nil, nil, nil
	}
	return c.generator(ctx, authorityURI)
}

func invalidArgument(msg string) error {
	return status.ErrorOf(status.InvalidArgument, msg)
}

// ComposeCall combines two call credentials into one whose generator runs
// both and merges their metadata, preserving order (spec.md §4.3).
func ComposeCall(a, b *CallCredentials) (*CallCredentials, error) {
	if a == nil || b == nil {
		return nil, invalidArgument("composeCall: both call credentials must be present")
	}
	return FromMetadataGenerator(func(ctx context.Context, authority string) (*metadata.MD, *status.Status, error) {
		md1, st1, err := a.GetRequestMetadata(ctx, authority)
		if err != nil {
			return nil, nil, err
		}
		if st1 != nil && !st1.OK() {
			return nil, st1, nil
		}
		md2, st2, err := b.GetRequestMetadata(ctx, authority)
		if err != nil {
			return nil, nil, err
		}
		if st2 != nil && !st2.OK() {
			return nil, st2, nil
		}
		if md1 == nil {
			return md2, nil, nil
		}
		return md1.Merge(md2), nil, nil
	}), nil
}

// ComposeChannel attaches a call credential to a composable channel
// credential, producing a new channel credential. The result is itself
// non-composable (spec.md §4.3 rule 1): a further ComposeChannel on it
// fails, which is why Combine exists as the reduction spec.md rule 3
// describes.
func ComposeChannel(c *ChannelCredentials, k *CallCredentials) (*ChannelCredentials, error) {
	if c == nil || k == nil {
		return nil, invalidArgument("composeChannel: both a channel credential and a call credential must be present")
	}
	if !c.composable {
		return nil, invalidArgument("composeChannel: channel credential is not composable")
	}
	effective := k
	if c.callCreds != nil {
		merged, err := ComposeCall(c.callCreds, k)
		if err != nil {
			return nil, err
		}
		effective = merged
	}
	return &ChannelCredentials{
		secure:     c.secure,
		composable: false,
		tlsConfig:  c.tlsConfig,
		callCreds:  effective,
	}, nil
}

// Combine is the variadic convenience of spec.md §4.3 rule 3: it folds
// composeCall over calls and applies the result with a single
// composeChannel, so a chain of composeChannel(composeChannel(c,k1),k2)
// (forbidden by rule 1) is never required.
func Combine(c *ChannelCredentials, calls ...*CallCredentials) (*ChannelCredentials, error) {
	if len(calls) == 0 {
		return nil, invalidArgument("combine: at least one call credential is required")
	}
	merged := calls[0]
	if merged == nil {
		return nil, invalidArgument("combine: call credential must be present")
	}
	var err error
	for _, k := range calls[1:] {
		merged, err = ComposeCall(merged, k)
		if err != nil {
			return nil, err
		}
	}
	return ComposeChannel(c, merged)
}

// authorityHost strips the port from an authority string, for the common
// case of deriving a token-request URI from a dial target.
func authorityHost(authority string) string {
	if i := strings.LastIndex(authority, ":"); i != -1 {
		return authority[:i]
	}
	return authority
}
