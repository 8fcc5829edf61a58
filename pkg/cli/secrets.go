package cli

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/JeremiahJRRoss/polaris-device-subclient/pkg/secrets"
)

var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Manage the encrypted secrets file",
}

var (
	secretsOutput     string
	secretsKeyFile    string
	secretsNewKeyFile string
	secretsValue      string
)

var secretsInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an empty encrypted secrets file and key",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := secrets.Init(secretsOutput, secretsKeyFile); err != nil {
			return err
		}
		fmt.Printf("Initialized: %s (key: %s)\n", secretsOutput, secretsKeyFile)
		return nil
	},
}

var secretsSetCmd = &cobra.Command{
	Use:   "set KEY",
	Short: "Store a secret in the encrypted file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		value := secretsValue
		if value == "" {
			// No --value given: prompt interactively, echoing the input as
			// asterisks so it never lands in shell history or scrollback.
			form := huh.NewForm(
				huh.NewGroup(
					huh.NewInput().
						Title(fmt.Sprintf("Value for %s", name)).
						EchoMode(huh.EchoModePassword).
						Value(&value),
				),
			)
			if err := form.Run(); err != nil {
				return err
			}
		}
		sf := secretsFile()
		if err := secrets.Set(sf, secretsKeyFile, name, value); err != nil {
			return err
		}
		fmt.Printf("Set: %s\n", name)
		return nil
	},
}

var secretsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored secret names (values are never shown)",
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := secrets.List(secretsFile(), secretsKeyFile)
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

var secretsRekeyCmd = &cobra.Command{
	Use:   "rekey",
	Short: "Re-encrypt the secrets store with a new key",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := secrets.Rekey(secretsFile(), secretsKeyFile, secretsNewKeyFile); err != nil {
			return err
		}
		fmt.Printf("Re-keyed with: %s\n", secretsNewKeyFile)
		return nil
	},
}

// secretsFile resolves the encrypted secrets file path from the
// POLARIS_SECRETS_FILE environment variable, falling back to the same
// default the pipeline itself uses.
func secretsFile() string {
	return envOr("POLARIS_SECRETS_FILE", defaultSecretsFile)
}

func init() {
	secretsInitCmd.Flags().StringVar(&secretsOutput, "output", "", "Path for the encrypted file")
	secretsInitCmd.Flags().StringVar(&secretsKeyFile, "key-file", "", "Path for the master key")
	secretsInitCmd.MarkFlagRequired("output")
	secretsInitCmd.MarkFlagRequired("key-file")

	secretsSetCmd.Flags().StringVar(&secretsValue, "value", "", "Secret value (prompted interactively if omitted)")
	secretsSetCmd.Flags().StringVar(&secretsKeyFile, "key-file", "", "Path to the master key")
	secretsSetCmd.MarkFlagRequired("key-file")

	secretsListCmd.Flags().StringVar(&secretsKeyFile, "key-file", "", "Path to the master key")
	secretsListCmd.MarkFlagRequired("key-file")

	secretsRekeyCmd.Flags().StringVar(&secretsKeyFile, "key-file", "", "Current master key path")
	secretsRekeyCmd.Flags().StringVar(&secretsNewKeyFile, "new-key-file", "", "New master key path")
	secretsRekeyCmd.MarkFlagRequired("key-file")
	secretsRekeyCmd.MarkFlagRequired("new-key-file")

	secretsCmd.AddCommand(secretsInitCmd, secretsSetCmd, secretsListCmd, secretsRekeyCmd)
}
