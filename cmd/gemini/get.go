package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gemwire/gemini"
	"github.com/gemwire/gemini/tofu"
)

var getCmd = &cobra.Command{
	Use:   "get URL",
	Short: "Fetch a Gemini URL and print the body",
	Long: `Fetch a Gemini URL. A successful body is written to stdout; other
responses print their status and meta to stderr and exit non-zero.`,
	Args: cobra.ExactArgs(1),
	RunE: runGet,
}

func init() {
	f := getCmd.Flags()
	f.Duration("timeout", 0, "abort when no progress is made for this long")
	f.Int64("max-body-size", 0, "largest body accepted, in bytes (0 for unbounded)")
	f.Duration("max-transfer-duration", 0, "bound on the whole exchange")
	f.StringSlice("accept", nil, "media types whose bodies are downloaded")
	f.String("known-hosts", "", "known hosts file for trust on first use")
	f.Bool("strict-port", false, "fail on an invalid port instead of using 1965")
	f.Bool("header", false, "print the status line before the body")

	_ = viper.BindPFlag("client.timeout", f.Lookup("timeout"))
	_ = viper.BindPFlag("client.max_body_size", f.Lookup("max-body-size"))
	_ = viper.BindPFlag("client.max_transfer_duration", f.Lookup("max-transfer-duration"))
	_ = viper.BindPFlag("client.allowed_mime_types", f.Lookup("accept"))
	_ = viper.BindPFlag("client.known_hosts", f.Lookup("known-hosts"))
	_ = viper.BindPFlag("client.strict_port", f.Lookup("strict-port"))
}

func runGet(cmd *cobra.Command, args []string) error {
	_, shutdown, err := startTracing(cmd.Context())
	if err != nil {
		return err
	}
	defer shutdown()

	client := &gemini.Client{
		Resolver:   gemini.NewCachingResolver(gemini.NetResolver{}, 0),
		StrictPort: cfg.Client.StrictPort,
		Logger:     logger,
		Options: []gemini.RequestOption{
			gemini.WithTimeout(cfg.Client.Timeout),
			gemini.WithMaxBodySize(cfg.Client.MaxBodySize),
			gemini.WithMaxTransferDuration(cfg.Client.MaxTransferDuration),
			gemini.WithAllowedMediaTypes(cfg.Client.AllowedMIMETypes...),
		},
	}
	if path := cfg.Client.KnownHosts; path != "" {
		var hosts tofu.KnownHosts
		if err := hosts.Open(path); err != nil {
			return fmt.Errorf("known hosts: %w", err)
		}
		defer hosts.Close()
		client.TrustCertificate = hosts.TOFU
	}

	resp, err := client.Get(args[0])
	var rerr *gemini.ResultError
	if errors.As(err, &rerr) {
		return fmt.Errorf("%s: %s", args[0], rerr.Result)
	}
	if err != nil {
		return err
	}

	status := resp.GeminiStatus()
	if header, _ := cmd.Flags().GetBool("header"); header {
		fmt.Fprintf(os.Stderr, "%d %s\n", status, resp.Meta())
	}
	switch status.Class() {
	case gemini.ClassSuccess:
		_, err := os.Stdout.Write(resp.Body)
		return err
	case gemini.ClassInput:
		return fmt.Errorf("input requested: %s", resp.Meta())
	case gemini.ClassRedirect:
		return fmt.Errorf("redirected to %s", resp.Meta())
	}
	return fmt.Errorf("%d %s", status, resp.Meta())
}
