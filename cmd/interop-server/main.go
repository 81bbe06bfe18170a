// Command interop-server hosts testservice over pkg/transport/wire,
// authenticating bearer tokens the interop credential-backed cases present.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/corerpc/corerpc/interop"
	"github.com/corerpc/corerpc/pkg/credentials"
	"github.com/corerpc/corerpc/pkg/health"
	"github.com/corerpc/corerpc/pkg/server"
	"github.com/corerpc/corerpc/pkg/service"
	"github.com/corerpc/corerpc/pkg/transport/wire"
	"github.com/corerpc/corerpc/testservice"
)

var (
	port        int
	useTLS      bool
	certFile    string
	keyFile     string
	authSecret  string
	authSubject string
)

var rootCmd = &cobra.Command{
	Use:   "interop-server",
	Short: "Host the corerpc reference test service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.IntVar(&port, "port", 8080, "The port to listen on")
	flags.BoolVar(&useTLS, "use_tls", false, "Whether to use TLS")
	flags.StringVar(&certFile, "tls_cert_file", "", "TLS certificate file, required when use_tls is set")
	flags.StringVar(&keyFile, "tls_key_file", "", "TLS key file, required when use_tls is set")
	flags.StringVar(&authSecret, "auth_secret", "interop-test-secret", "HMAC secret used to validate bearer tokens from the credential-backed test cases")
	flags.StringVar(&authSubject, "auth_subject", "", "Accepted service-account-style identity matched against static bearer tokens")
}

func listenerCredentials() (*credentials.ChannelCredentials, error) {
	if !useTLS {
		return credentials.Insecure(), nil
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load TLS key pair: %w", err)
	}
	return credentials.NewServerTLS(cert), nil
}

func runServer(ctx context.Context) error {
	creds, err := listenerCredentials()
	if err != nil {
		return err
	}

	ln, err := wire.NewListener(fmt.Sprintf(":%d", port), creds)
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", port, err)
	}

	var statics []interop.StaticIdentity
	if authSubject != "" {
		statics = append(statics,
			interop.StaticIdentity{Token: "compute-engine-token", Username: authSubject},
		)
	}
	authenticator := interop.NewAuthenticator([]byte(authSecret), "", statics...)

	srv := server.New()
	srv.Register(testservice.RegisterServer(&testservice.Service{Authenticator: authenticator}))

	runner := service.NewRunner("interop-server", "1.0.0")
	runner.HealthChecks = map[string]health.CheckFunc{
		"listener": func() error {
			if ln.Addr() == nil {
				return fmt.Errorf("listener not bound")
			}
			return nil
		},
	}
	runner.StartFunc = func(ctx context.Context) error {
		fmt.Printf("Server attaching to port %d\n", port)
		go func() {
			if err := srv.Serve(ctx, ln); err != nil {
				runner.Logger.Errorf("serve: %v", err)
			}
		}()
		return nil
	}
	runner.StopFunc = func(ctx context.Context, gracePeriod time.Duration) error {
		srv.Stop()
		return ln.Close()
	}

	return runner.Run(ctx)
}

func main() {
	rootCmd.SetContext(context.Background())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "interop-server: %v\n", err)
		os.Exit(1)
	}
}
