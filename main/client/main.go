package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/spf13/cobra"
	enc "github.com/zjkmxy/go-ndn/pkg/encoding"
	basic_engine "github.com/zjkmxy/go-ndn/pkg/engine/basic"
	"golang.org/x/term"

	"github.com/UCLA-IRL/go-ndncert/engine"
	"github.com/UCLA-IRL/go-ndncert/ndncert"
	"github.com/UCLA-IRL/go-ndncert/ndncert/challenge"
	"github.com/UCLA-IRL/go-ndncert/ndncert/client"
	"github.com/UCLA-IRL/go-ndncert/security"
)

var (
	verbose    bool
	network    string
	address    string
	caPrefix   string
	anchorPath string
	timeout    time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "ndncert-client",
		Short: "Request certificates from an NDNCERT CA",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log.SetLevel(log.WarnLevel)
			if verbose {
				log.SetLevel(log.DebugLevel)
			}
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log protocol progress")
	root.PersistentFlags().StringVar(&network, "network", "unix", "forwarder network: unix, tcp or wss")
	root.PersistentFlags().StringVar(&address, "address", "/run/nfd/nfd.sock", "forwarder address")
	root.PersistentFlags().StringVar(&caPrefix, "ca", "/ndn/edu/ucla", "CA prefix")
	root.PersistentFlags().StringVar(&anchorPath, "anchor", "", "trusted CA certificate file (default: trust on first use)")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "give up after this long")
	root.AddCommand(infoCmd(), probeCmd(), requestCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// connect attaches to the forwarder and fetches the CA profile.
func connect(ctx context.Context) (*basic_engine.Engine, *ndncert.Profile, error) {
	prefix, err := enc.NameFromStr(caPrefix)
	if err != nil {
		return nil, nil, err
	}
	var anchor *security.Certificate
	if anchorPath != "" {
		if anchor, err = readCertificate(anchorPath); err != nil {
			return nil, nil, err
		}
	}
	face, err := engine.NewFace(network, address)
	if err != nil {
		return nil, nil, err
	}
	ndnEngine, err := engine.Start(face, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to connect to the forwarder at %s: %w", address, err)
	}
	profile, err := client.FetchProfile(ctx, ndnEngine, prefix, anchor)
	if err != nil {
		ndnEngine.Shutdown()
		return nil, nil, err
	}
	return ndnEngine, profile, nil
}

func readCertificate(path string) (*security.Certificate, error) {
	wire, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return security.ParseCertificate(wire)
}

func infoCmd() *cobra.Command {
	var savePath string
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show the CA profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			ndnEngine, profile, err := connect(ctx)
			if err != nil {
				return err
			}
			defer ndnEngine.Shutdown()
			fmt.Printf("CA prefix:      %s\n", profile.CaPrefix)
			fmt.Printf("CA info:        %s\n", profile.CaInfo)
			fmt.Printf("Probe keys:     %s\n", strings.Join(profile.ProbeKeys, ", "))
			fmt.Printf("Max validity:   %s\n", profile.MaxValidity)
			fmt.Printf("CA certificate: %s\n", profile.Certificate.Name())
			fmt.Printf("  valid:        %s\n", profile.Certificate.Validity())
			if savePath != "" {
				return os.WriteFile(savePath, profile.Certificate.Wire(), 0o644)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&savePath, "save", "", "write the CA certificate to this file, for use with --anchor")
	return cmd
}

func parseParameters(args []string) ([]ndncert.Parameter, error) {
	params := make([]ndncert.Parameter, 0, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("parameter %q is not key=value", arg)
		}
		params = append(params, ndncert.Parameter{Key: key, Value: []byte(value)})
	}
	return params, nil
}

func probeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe key=value...",
		Short: "Ask the CA which names the parameters entitle you to",
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParameters(args)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			ndnEngine, profile, err := connect(ctx)
			if err != nil {
				return err
			}
			defer ndnEngine.Shutdown()
			probe, err := client.NewRequesterState(ndnEngine, profile).Probe(ctx, params)
			if err != nil {
				return err
			}
			for _, entry := range probe.Entries {
				if entry.MaxSuffixLength != nil {
					fmt.Printf("%s (up to %d more components)\n", entry.Name, *entry.MaxSuffixLength)
				} else {
					fmt.Println(entry.Name)
				}
			}
			for _, redirect := range probe.Redirects {
				fmt.Printf("redirect: %s\n", redirect)
			}
			return nil
		},
	}
}

// getCertNameFromEmailAddress follows the ndncert-cxx convention for email identities: username@domain.ext
// becomes <caPrefix>/ext/domain/username.
func getCertNameFromEmailAddress(caPrefix string, emailAddress string) string {
	atSplit := strings.Split(emailAddress, "@")
	if len(atSplit) != 2 {
		return ""
	}
	dotSplit := strings.Split(atSplit[1], ".")
	var stringBuilder strings.Builder
	stringBuilder.WriteString(strings.TrimSuffix(caPrefix, "/"))
	for i := len(dotSplit) - 1; i >= 0; i-- {
		stringBuilder.WriteString("/" + dotSplit[i])
	}
	stringBuilder.WriteString("/" + atSplit[0])
	return stringBuilder.String()
}

func promptCode(challengeStatus string) (string, error) {
	switch challengeStatus {
	case ndncert.ChallengeStatusWrongCode:
		fmt.Print("Wrong code, try again: ")
	default:
		fmt.Print("Enter the secret code you received: ")
	}
	code, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(code)), nil
}

func requestCmd() *cobra.Command {
	var (
		identity        string
		keyPath         string
		emailAddress    string
		challenges      []string
		validity        time.Duration
		outPath         string
		possessionCert  string
		possessionKey   string
		probeParameters []string
	)
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Enroll a key and save the issued certificate",
		RunE: func(cmd *cobra.Command, args []string) error {
			if identity == "" && emailAddress != "" {
				identity = getCertNameFromEmailAddress(caPrefix, emailAddress)
			}
			identityName, err := enc.NameFromStr(identity)
			if err != nil || len(identityName) == 0 {
				return fmt.Errorf("--identity or --email is required")
			}
			key, created, err := security.LoadOrCreatePrivateKey(keyPath)
			if err != nil {
				return err
			}
			if created {
				fmt.Printf("Generated a new key at %s\n", keyPath)
			}

			modules := make([]ndncert.ClientChallenge, 0, len(challenges))
			for _, id := range challenges {
				switch challenge.Kind(id) {
				case challenge.KindNop:
					modules = append(modules, &challenge.NopClient{})
				case challenge.KindPin:
					modules = append(modules, &challenge.PinClient{Prompt: promptCode})
				case challenge.KindEmail:
					modules = append(modules, &challenge.EmailClient{Address: emailAddress, Prompt: promptCode})
				case challenge.KindPossession:
					cert, err := readCertificate(possessionCert)
					if err != nil {
						return err
					}
					certKey, err := security.LoadPrivateKey(possessionKey)
					if err != nil {
						return err
					}
					modules = append(modules, &challenge.PossessionClient{Certificate: cert, Key: certKey})
				default:
					return fmt.Errorf("unknown challenge %q", id)
				}
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			ndnEngine, profile, err := connect(ctx)
			if err != nil {
				return err
			}
			defer ndnEngine.Shutdown()
			requesterState := client.NewRequesterState(ndnEngine, profile)

			opts := client.RequestOptions{
				KeyName:    security.MakeKeyName(identityName),
				Key:        key,
				Challenges: modules,
			}
			if validity > 0 {
				opts.Validity = security.NewValidityPeriod(time.Now(), validity)
			}
			if len(probeParameters) > 0 {
				params, err := parseParameters(probeParameters)
				if err != nil {
					return err
				}
				if opts.Probe, err = requesterState.Probe(ctx, params); err != nil {
					return err
				}
			}

			cert, err := requesterState.RequestCertificate(ctx, opts)
			if err != nil {
				return err
			}
			fmt.Printf("Issued %s\n  valid %s\n", cert.Name(), cert.Validity())
			if outPath == "" {
				outPath = strings.ReplaceAll(strings.Trim(identityName.String(), "/"), "/", "_") + ".cert"
			}
			return os.WriteFile(outPath, cert.Wire(), 0o644)
		},
	}
	cmd.Flags().StringVar(&identity, "identity", "", "identity to certify, e.g. /ndn/edu/ucla/alice")
	cmd.Flags().StringVar(&keyPath, "key", "key.pem", "private key file, created when missing")
	cmd.Flags().StringVar(&emailAddress, "email", "", "address for the email challenge")
	cmd.Flags().StringSliceVar(&challenges, "challenge", []string{"pin", "email", "nop"}, "challenges to accept, in preference order")
	cmd.Flags().DurationVar(&validity, "validity", 0, "requested validity (default: the CA maximum)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "where to write the issued certificate")
	cmd.Flags().StringVar(&possessionCert, "possession-cert", "", "existing certificate for the possession challenge")
	cmd.Flags().StringVar(&possessionKey, "possession-key", "", "key of the existing certificate")
	cmd.Flags().StringSliceVar(&probeParameters, "probe", nil, "PROBE the CA first with these key=value parameters")
	return cmd
}
