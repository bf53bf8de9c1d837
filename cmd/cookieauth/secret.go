package main

import (
	"errors"
	"fmt"

	"github.com/mnehpets/cookieauth/secret"
	"github.com/spf13/cobra"
)

func newGenSecretCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "gen-secret",
		Short: "Print new random secrets for the secrets list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if n < 1 {
				return errors.New("-n must be at least 1")
			}
			for range n {
				s, err := secret.Generate()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), s)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "count", "n", 1, "number of secrets")
	return cmd
}
