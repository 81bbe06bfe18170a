// Package interop implements the named test-case matrix (spec.md §6) that
// drives testservice over pkg/transport/wire, plus the credential-backed
// cases' token minting.
package interop

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/corerpc/corerpc/pkg/credentials"
	"github.com/corerpc/corerpc/pkg/metadata"
	"github.com/corerpc/corerpc/testservice"
)

// jwtClaims mirrors the teacher's security service's JWTClaims: a handful
// of identity fields plus the standard registered claims.
type jwtClaims struct {
	Subject    string `json:"sub"`
	Audience   string `json:"aud"`
	OauthScope string `json:"scope"`
	jwt.RegisteredClaims
}

// ServiceAccountKey is the subset of a GCP-style service account JSON key
// file this harness needs to mint a self-signed JWT standing in for the
// real STS round trip jwt_token_creds/service_account_creds exercise
// against a live gRPC deployment.
type ServiceAccountKey struct {
	ClientEmail string
	PrivateKey  []byte // HMAC secret; stands in for the RSA key a real key file carries
}

// jwtTokenSource mints a fresh signed JWT on every Token call, matching the
// teacher's accessTokenObj.SignedString pattern but with HS256 since this
// harness has no real asymmetric service-account key to parse.
type jwtTokenSource struct {
	key      ServiceAccountKey
	audience string
	scope    string
	ttl      time.Duration
}

// NewJWTTokenSource builds an AccessTokenSource for jwt_token_creds: the
// audience is the server host being dialed, per the canonical interop's
// convention of a self-issued JWT whose audience equals the target.
func NewJWTTokenSource(key ServiceAccountKey, audience string, ttl time.Duration) credentials.AccessTokenSource {
	return &jwtTokenSource{key: key, audience: audience, ttl: ttl}
}

// NewServiceAccountTokenSource builds an AccessTokenSource for
// service_account_creds, identical in mechanism to jwt_token_creds but
// additionally carrying an OAuth2 scope claim, matching the distinction the
// canonical interop draws between the two cases.
func NewServiceAccountTokenSource(key ServiceAccountKey, audience, scope string, ttl time.Duration) credentials.AccessTokenSource {
	return &jwtTokenSource{key: key, audience: audience, scope: scope, ttl: ttl}
}

func (s *jwtTokenSource) Token(ctx context.Context) (string, error) {
	now := time.Now()
	claims := &jwtClaims{
		Subject:    s.key.ClientEmail,
		Audience:   s.audience,
		OauthScope: s.scope,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   s.key.ClientEmail,
			Audience:  jwt.ClaimStrings{s.audience},
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.key.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("interop: sign jwt: %w", err)
	}
	return signed, nil
}

// oauth2TokenSource is a fixed bearer token, for oauth2_auth_token and
// per_rpc_creds: both cases supply a token obtained out-of-band (a real
// OAuth2 flow in the canonical interop; a caller-supplied string here).
type oauth2TokenSource struct {
	token string
}

// NewOAuth2TokenSource builds an AccessTokenSource that always returns
// token, standing in for oauth2_auth_token's pre-fetched access token.
func NewOAuth2TokenSource(token string) credentials.AccessTokenSource {
	return &oauth2TokenSource{token: token}
}

func (s *oauth2TokenSource) Token(ctx context.Context) (string, error) {
	return s.token, nil
}

// StaticIdentity is a fixed bearer token recognized directly, for
// oauth2_auth_token/per_rpc_creds: both cases hand the server a token
// obtained out-of-band rather than a JWT this process minted itself.
type StaticIdentity struct {
	Token      string
	Username   string
	OauthScope string
}

// NewAuthenticator builds a testservice.Authenticator that validates either
// a JWT minted by this package's jwtTokenSource, or one of the given static
// bearer tokens, covering every credential-backed interop case.
func NewAuthenticator(secret []byte, audience string, static ...StaticIdentity) testservice.Authenticator {
	parse := ParseToken(secret, audience)
	return func(md *metadata.MD) (string, string, bool) {
		for _, v := range md.Get("authorization") {
			tok, ok := strings.CutPrefix(v, "Bearer ")
			if !ok {
				continue
			}
			for _, id := range static {
				if tok == id.Token {
					return id.Username, id.OauthScope, true
				}
			}
			if username, scope, ok := parse(tok); ok {
				return username, scope, true
			}
		}
		return "", "", false
	}
}

// ParseToken validates a token minted by this package's token sources and
// returns the identity/scope it carries, for testservice's Authenticator.
func ParseToken(secret []byte, audience string) func(tokenStr string) (username, scope string, ok bool) {
	return func(tokenStr string) (string, string, bool) {
		claims := &jwtClaims{}
		tok, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("interop: unexpected signing method %v", t.Method)
			}
			return secret, nil
		})
		if err != nil || !tok.Valid {
			return "", "", false
		}
		if audience != "" && claims.Audience != audience {
			return "", "", false
		}
		return claims.Subject, claims.OauthScope, true
	}
}
