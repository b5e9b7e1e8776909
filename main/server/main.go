package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/apex/log"
	"github.com/spf13/cobra"

	"github.com/UCLA-IRL/go-ndncert/engine"
	"github.com/UCLA-IRL/go-ndncert/ndncert/challenge"
	"github.com/UCLA-IRL/go-ndncert/ndncert/server"
)

var (
	verbose bool
	network string
	address string
)

func main() {
	root := &cobra.Command{
		Use:   "ndncert-ca",
		Short: "NDNCERT certificate authority",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log.SetLevel(log.InfoLevel)
			if verbose {
				log.SetLevel(log.DebugLevel)
			}
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log packet level detail")
	root.AddCommand(serveCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the CA described by a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.WithField("module", "main")
			caConfig, err := server.LoadCaConfig(configPath)
			if err != nil {
				return err
			}
			caState, err := server.NewCaStateFromConfig(caConfig, operatorHooks())
			if err != nil {
				return err
			}
			defer caState.Close()

			face, err := engine.NewFace(network, address)
			if err != nil {
				return err
			}
			ndnEngine, err := engine.Start(face, nil)
			if err != nil {
				return fmt.Errorf("unable to connect to the forwarder at %s: %w", address, err)
			}
			defer ndnEngine.Shutdown()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err = caState.Serve(ctx, ndnEngine); err != nil {
				return err
			}
			if err = caState.Register(ndnEngine); err != nil {
				return err
			}
			fmt.Printf("Serving %s with certificate %s\n", caState.Profile().CaPrefix, caState.Certificate().Name())
			<-ctx.Done()
			logger.Info("Exiting")
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "ca.yml", "CA configuration file")
	cmd.Flags().StringVar(&network, "network", "unix", "forwarder network: unix, tcp or wss")
	cmd.Flags().StringVar(&address, "address", "/run/nfd/nfd.sock", "forwarder address")
	return cmd
}

// operatorHooks hands PINs and email outcomes to the operator through the log.
func operatorHooks() challenge.Hooks {
	logger := log.WithField("module", "main")
	return challenge.Hooks{
		OnNewPin: func(requestId []byte, pin string) {
			logger.Infof("PIN for request %x: %s", requestId, pin)
		},
		OnEmailSent: func(requestId []byte, to string) {
			logger.Infof("Sent challenge email for request %x to %s", requestId, to)
		},
		OnEmailError: func(requestId []byte, to string, err error) {
			logger.Errorf("Failed to send challenge email for request %x to %s: %s", requestId, to, err.Error())
		},
	}
}
