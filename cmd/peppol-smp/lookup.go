package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/brbxai/recommand-peppol-sub001/pkg/discovery"
	"github.com/brbxai/recommand-peppol-sub001/pkg/transport"
)

// lookupFlags are the flags of the discovery commands
type lookupFlags struct {
	testNetwork bool
	dnsServer   string
	timeout     time.Duration
}

func (f *lookupFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.testNetwork, "test", false, "Query the Peppol test network")
	cmd.Flags().StringVar(&f.dnsServer, "dns-server", "", "DNS server (ip:port), default from /etc/resolv.conf")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 30*time.Second, "Timeout of every registry request")
}

func (f *lookupFlags) client(logger *slog.Logger) *discovery.Client {
	httpCfg := transport.DefaultConfig()
	httpCfg.Timeout = f.timeout
	return newDiscoveryClient(discoveryOptions{
		dnsServer:  f.dnsServer,
		httpClient: transport.NewHTTPClient(httpCfg),
	}, logger)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func resolveCmd(opts *options) *cobra.Command {
	flags := &lookupFlags{}
	cmd := &cobra.Command{
		Use:   "resolve <scheme:value>",
		Short: "Print the SMP service group URL of a participant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := flags.client(newLogger(os.Stderr, opts.logLevel))
			smpURL, err := client.ResolveSMPURL(cmd.Context(), args[0], flags.testNetwork)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"address": args[0], "smpUrl": smpURL})
		},
	}
	flags.register(cmd)
	return cmd
}

func verifyCmd(opts *options) *cobra.Command {
	flags := &lookupFlags{}
	cmd := &cobra.Command{
		Use:   "verify <scheme:value> [document-type]",
		Short: "Check that a participant is registered, or that it accepts a document type",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := flags.client(newLogger(os.Stderr, opts.logLevel))
			if len(args) == 2 {
				support, err := client.VerifyDocumentSupport(cmd.Context(), args[0], args[1], flags.testNetwork)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), support)
			}
			recipient, err := client.VerifyRecipient(cmd.Context(), args[0], flags.testNetwork)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), recipient)
		},
	}
	flags.register(cmd)
	return cmd
}

func describeCmd(opts *options) *cobra.Command {
	flags := &lookupFlags{}
	cmd := &cobra.Command{
		Use:   "describe <scheme:value>",
		Short: "Print everything a participant publishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := flags.client(newLogger(os.Stderr, opts.logLevel))
			description, err := client.DescribeParticipant(cmd.Context(), args[0], flags.testNetwork)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), description)
		},
	}
	flags.register(cmd)
	return cmd
}
