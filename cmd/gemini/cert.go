package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/gemwire/gemini/certificate"
	"github.com/gemwire/gemini/tofu"
)

var certCmd = &cobra.Command{
	Use:   "cert HOST...",
	Short: "Create a self-signed server certificate",
	Long: `Create a self-signed certificate valid for the given hostnames and IP
addresses. The certificate and key are written as HOST.crt and HOST.key in
the output directory, named after the first host, unless --cert and --key
are given.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCert,
}

func init() {
	f := certCmd.Flags()
	f.Duration("duration", certificate.DefaultDuration, "validity period")
	f.Bool("ed25519", false, "use an Ed25519 key instead of ECDSA P-256")
	f.StringP("out-dir", "o", ".", "output directory")
	f.String("cert", "", "certificate output path")
	f.String("key", "", "private key output path")
}

func runCert(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	duration, _ := f.GetDuration("duration")
	ed, _ := f.GetBool("ed25519")
	dir, _ := f.GetString("out-dir")
	certPath, _ := f.GetString("cert")
	keyPath, _ := f.GetString("key")
	if (certPath == "") != (keyPath == "") {
		return errors.New("--cert and --key must be given together")
	}
	if certPath == "" {
		certPath = filepath.Join(dir, args[0]+".crt")
		keyPath = filepath.Join(dir, args[0]+".key")
	}

	opts := certificate.ForHosts(duration, args...)
	opts.Ed25519 = ed
	cert, err := certificate.Create(opts)
	if err != nil {
		return fmt.Errorf("creating certificate: %w", err)
	}
	if err := certificate.Write(cert, certPath, keyPath); err != nil {
		return fmt.Errorf("writing certificate: %w", err)
	}

	fp, _ := tofu.Sum(tofu.SHA256, cert.Leaf.Raw)
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n%s\nSHA-256 %s\nexpires %s\n",
		certPath, keyPath, fp, cert.Leaf.NotAfter.Format(time.RFC3339))
	return nil
}
