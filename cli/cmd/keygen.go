package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tether/cipher"
)

// KeygenCommand writes a new RSA key pair into the configured key directory.
func KeygenCommand() *cli.Command {
	return &cli.Command{
		Name:  "keygen",
		Usage: "Generate the RSA key pair agents encrypt to",
		Flags: append(ConfigFlags(),
			&cli.IntFlag{
				Name:  "bits",
				Usage: "RSA modulus size",
				Value: cipher.DefaultKeyBits,
			},
			&cli.StringFlag{
				Name:  "public-key",
				Usage: "Public key file name inside the key directory",
				Value: "public.pem",
			},
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Overwrite existing key files",
			},
		),
		Action: keygenAction,
	}
}

func keygenAction(c *cli.Context) error {
	cfg, err := resolveConfig(c)
	if err != nil {
		return err
	}
	bits := c.Int("bits")
	if bits < 1024 {
		return cli.Exit(fmt.Sprintf("--bits must be at least 1024, got %d", bits), exitConfigError)
	}

	privPath := cfg.Crypto.PrivateKeyPath()
	pubPath := filepath.Join(cfg.Crypto.KeyDir, c.String("public-key"))
	key, err := cipher.WriteKeyPair(privPath, pubPath, bits, c.Bool("force"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("keygen: %v", err), exitFailure)
	}

	w := c.App.Writer
	fmt.Fprintf(w, "private key: %s\n", privPath)
	fmt.Fprintf(w, "public key:  %s\n", pubPath)
	fmt.Fprintf(w, "max plaintext per block: %d bytes\n", cipher.MaxPlaintextSize(&key.PublicKey))
	return nil
}
