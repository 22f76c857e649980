package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ashureev/vade/internal/config"
)

func keyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage assistant API keys in the OS keyring",
	}

	var value string
	set := &cobra.Command{
		Use:       "set <gemini|openai|anthropic>",
		Short:     "Store an API key; reads it from stdin unless --value is given",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"gemini", "openai", "anthropic"},
		RunE: func(cmd *cobra.Command, args []string) error {
			provider := strings.ToLower(args[0])
			switch provider {
			case "gemini", "openai", "anthropic":
			default:
				return fmt.Errorf("unknown provider %q", args[0])
			}

			key := value
			if key == "" {
				fmt.Fprint(os.Stderr, "API key: ")
				line, err := bufio.NewReader(os.Stdin).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read key: %w", err)
				}
				key = strings.TrimSpace(line)
			}

			if err := config.SetAPIKey(provider, key); err != nil {
				return err
			}
			fmt.Printf("Stored %s API key in keyring service %q\n", provider, config.KeyringService)
			return nil
		},
	}
	set.Flags().StringVar(&value, "value", "", "API key value")

	cmd.AddCommand(set)
	return cmd
}
