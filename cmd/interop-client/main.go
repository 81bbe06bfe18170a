// Command interop-client drives testservice over pkg/transport/wire with
// the named test-case matrix implemented in package interop (spec.md §6).
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/corerpc/corerpc/interop"
	"github.com/corerpc/corerpc/pkg/client"
	"github.com/corerpc/corerpc/pkg/credentials"
	"github.com/corerpc/corerpc/pkg/transport"
	"github.com/corerpc/corerpc/pkg/transport/wire"
	"github.com/corerpc/corerpc/testservice"
)

var (
	serverHost            string
	serverPort            int
	serverHostOverride    string
	testCase              string
	useTLS                bool
	useTestCA             bool
	defaultServiceAccount string
	serviceAccountKeyFile string
	oauthScope            string
	oauth2Token           string
	deadlineSeconds       int
)

// rootCmd is interop-client's single command: spec.md §6 names a flat flag
// surface, not a subcommand tree.
var rootCmd = &cobra.Command{
	Use:   "interop-client",
	Short: "Drive a corerpc test server through one named interop case",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTestCase(cmd.Context())
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&serverHost, "server_host", "localhost", "The server host to connect to")
	flags.IntVar(&serverPort, "server_port", 8080, "The server port to connect to")
	flags.StringVar(&serverHostOverride, "server_host_override", "", "The server name used to verify the hostname returned by the TLS handshake")
	flags.StringVar(&testCase, "test_case", "empty_unary", "Name of the test case to execute")
	flags.BoolVar(&useTLS, "use_tls", false, "Connection uses TLS if true")
	flags.BoolVar(&useTestCA, "use_test_ca", false, "With use_tls, load the system root CA pool explicitly as the root set (no separate test CA is bundled)")
	flags.StringVar(&defaultServiceAccount, "default_service_account", "", "Email of the GCE default service account, for compute_engine_creds")
	flags.StringVar(&serviceAccountKeyFile, "service_account_key_file", "", "Service account signing secret, used as given (no file is read), for service_account_creds/jwt_token_creds")
	flags.StringVar(&oauthScope, "oauth_scope", "", "OAuth scope, for service_account_creds/compute_engine_creds")
	flags.StringVar(&oauth2Token, "oauth2_token", "", "Fixed bearer token, for oauth2_auth_token/per_rpc_creds")
	flags.IntVar(&deadlineSeconds, "deadline_seconds", 0, "Absolute deadline (now + N seconds) to attach to large_unary; 0 means no deadline")
}

func channelCredentials() (*credentials.ChannelCredentials, error) {
	if !useTLS {
		return credentials.Insecure(), nil
	}
	var pool *x509.CertPool
	if useTestCA {
		var err error
		pool, err = x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
	}
	var key *tls.Certificate
	return credentials.NewTLS(pool, key)
}

func dialClient(ctx context.Context) (*client.Client, error) {
	factory, err := client.NewFactory(testservice.ServiceName, testservice.ClientMethods())
	if err != nil {
		return nil, fmt.Errorf("build factory: %w", err)
	}
	creds, err := channelCredentials()
	if err != nil {
		return nil, fmt.Errorf("build channel credentials: %w", err)
	}
	addr := fmt.Sprintf("%s:%d", serverHost, serverPort)
	return factory.Dial(ctx, wireDialer, addr, creds, client.Options{SSLTargetNameOverride: serverHostOverride})
}

func wireDialer(_ context.Context, address string, creds *credentials.ChannelCredentials, _ client.Options) (transport.ClientTransport, error) {
	return wire.NewClientTransport(address, creds), nil
}

func runTestCase(ctx context.Context) error {
	c, err := dialClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	switch testCase {
	case "empty_unary":
		err = interop.DoEmptyUnary(ctx, c)
	case "large_unary":
		var opts []client.CallOption
		if deadlineSeconds > 0 {
			opts = append(opts, client.WithDeadlineProto(timestamppb.New(time.Now().Add(time.Duration(deadlineSeconds)*time.Second))))
		}
		err = interop.DoLargeUnary(ctx, c, opts...)
	case "client_streaming":
		err = interop.DoClientStreaming(ctx, c)
	case "server_streaming":
		err = interop.DoServerStreaming(ctx, c)
	case "ping_pong":
		err = interop.DoPingPong(ctx, c)
	case "empty_stream":
		err = interop.DoEmptyStream(ctx, c)
	case "cancel_after_begin":
		err = interop.DoCancelAfterBegin(ctx, c)
	case "cancel_after_first_response":
		err = interop.DoCancelAfterFirstResponse(ctx, c)
	case "timeout_on_sleeping_server":
		err = interop.DoTimeoutOnSleepingServer(ctx, c)
	case "custom_metadata":
		err = interop.DoCustomMetadata(ctx, c)
	case "status_code_and_message":
		err = interop.DoStatusCodeAndMessage(ctx, c)
	case "unimplemented_method":
		err = interop.DoUnimplementedMethod(ctx, c)
	case "unimplemented_service":
		var empty *client.Client
		empty, err = dialEmptyServiceClient(ctx)
		if err == nil {
			defer empty.Close()
			err = interop.DoUnimplementedService(ctx, empty)
		}
	case "compute_engine_creds":
		err = interop.DoComputeEngineCreds(ctx, c, defaultServiceAccount)
	case "service_account_creds":
		err = interop.DoServiceAccountCreds(ctx, c, serviceAccountKey(), oauthScope)
	case "jwt_token_creds":
		err = interop.DoJWTTokenCreds(ctx, c, serviceAccountKey())
	case "oauth2_auth_token":
		err = interop.DoOAuth2AuthToken(ctx, c, oauth2Token, defaultServiceAccount)
	case "per_rpc_creds":
		err = interop.DoPerRPCCreds(ctx, c, oauth2Token, defaultServiceAccount)
	default:
		err = fmt.Errorf("unknown test case %q", testCase)
	}
	if err != nil {
		return err
	}
	fmt.Printf("OK: %s\n", testCase)
	return nil
}

// dialEmptyServiceClient dials a client whose method map never matches
// anything the server registers, for the unimplemented_service case.
func dialEmptyServiceClient(ctx context.Context) (*client.Client, error) {
	factory, err := client.NewFactory("corerpc.testing.UnregisteredService", map[string]client.MethodDesc{})
	if err != nil {
		return nil, err
	}
	creds, err := channelCredentials()
	if err != nil {
		return nil, err
	}
	addr := fmt.Sprintf("%s:%d", serverHost, serverPort)
	return factory.Dial(ctx, wireDialer, addr, creds, client.Options{SSLTargetNameOverride: serverHostOverride})
}

// serviceAccountKey stands in for a real key file: serviceAccountKeyFile,
// when set, becomes the HMAC secret jwtTokenSource signs with.
func serviceAccountKey() interop.ServiceAccountKey {
	secret := serviceAccountKeyFile
	if secret == "" {
		secret = "interop-test-secret"
	}
	return interop.ServiceAccountKey{
		ClientEmail: defaultServiceAccount,
		PrivateKey:  []byte(secret),
	}
}

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	rootCmd.SetContext(ctx)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "FAIL: %s: %v\n", testCase, err)
		os.Exit(1)
	}
}
