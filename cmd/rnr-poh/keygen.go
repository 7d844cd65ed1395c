package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/LICODX/rnr-poh/pkg/identity"
)

const minPasswordLen = 8

func newKeygenCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create an encrypted node keystore",
		Long: `Generate a secp256k1 node key and store it encrypted with a password.
The password is read from RNR_KEY_PASSWORD or prompted for.`,
		Args: cobra.NoArgs,
	}
	cmd.Flags().StringP("output", "o", "", "keystore path (default node-<address>.json)")
	cmd.Flags().Bool("light", false, "cheaper scrypt parameters, for testing only")
	cmd.Flags().Bool("force", false, "overwrite an existing keystore")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		cfg, err := load(cmd, nil)
		if err != nil {
			return err
		}
		output, _ := cmd.Flags().GetString("output")
		light, _ := cmd.Flags().GetBool("light")
		force, _ := cmd.Flags().GetBool("force")

		id, err := identity.Generate()
		if err != nil {
			return err
		}
		if output == "" {
			output = fmt.Sprintf("node-%s.json", id.Address())
		}
		if identity.KeystoreExists(output) && !force {
			return fmt.Errorf("%s already exists, use --force to overwrite", output)
		}

		password := cfg.Key.Password
		if password == "" {
			if password, err = promptPassword(cmd); err != nil {
				return err
			}
		}
		if len(password) < minPasswordLen {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: password shorter than %d characters\n", minPasswordLen)
		}

		params := identity.StandardScrypt
		if light {
			params = identity.LightScrypt
		}
		if dir := filepath.Dir(output); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return err
			}
		}
		if err := identity.SaveKeystore(id, password, output, params); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "address:  %s\nkeystore: %s\n", id.Address(), output)
		return nil
	}
	return cmd
}

func promptPassword(cmd *cobra.Command) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no terminal for the password prompt, set RNR_KEY_PASSWORD")
	}
	errOut := cmd.ErrOrStderr()

	fmt.Fprint(errOut, "Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(errOut)
	if err != nil {
		return "", err
	}
	fmt.Fprint(errOut, "Confirm password: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(errOut)
	if err != nil {
		return "", err
	}
	if string(first) != string(second) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(first), nil
}
