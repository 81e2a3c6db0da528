package cmds

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/veyra/pkg/settings"
)

func NewConfigGroupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show and edit the configuration",
	}
	cmd.AddCommand(newPrintConfigCommand(), newSetTokenCommand(), newConfigPathCommand())
	return cmd
}

func newPrintConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "print",
		Short: "Print the effective settings as yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := LoadSettings(cmd)
			if err != nil {
				return err
			}
			showSecrets, _ := cmd.Flags().GetBool("show-secrets")
			if !showSecrets {
				s = s.Redacted()
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(s); err != nil {
				return errors.Wrap(err, "could not encode settings")
			}
			return enc.Close()
		},
	}
	cmd.Flags().Bool("show-secrets", false, "Print tokens and keys unmasked")
	return cmd
}

func newSetTokenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set-token <token>",
		Short: "Store the bearer token in the config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configFile, err := configFilePath(cmd)
			if err != nil {
				return err
			}
			root, err := readAndParseConfig(configFile)
			if err != nil {
				return err
			}
			setScalar(root, "token", args[0])
			if err := writeConfig(configFile, root); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Token stored in %s\n", configFile)
			return nil
		},
	}
}

func newConfigPathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the path of the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			configFile, err := configFilePath(cmd)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), configFile)
			return nil
		},
	}
}

// configFilePath returns --config, the file viper found, or
// ~/.veyra/config.yaml.
func configFilePath(cmd *cobra.Command) (string, error) {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath != "" {
		return configPath, nil
	}
	v, err := settings.NewViper("")
	if err != nil {
		return "", err
	}
	if used := v.ConfigFileUsed(); used != "" {
		return used, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "could not find home directory")
	}
	return filepath.Join(home, ".veyra", "config.yaml"), nil
}

// readAndParseConfig returns an empty document for a missing file.
func readAndParseConfig(configFile string) (*yaml.Node, error) {
	data, err := os.ReadFile(configFile)
	if os.IsNotExist(err) {
		return &yaml.Node{Kind: yaml.DocumentNode}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	if root.Kind == 0 {
		root.Kind = yaml.DocumentNode
	}
	return &root, nil
}

func writeConfig(configFile string, root *yaml.Node) error {
	if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	f, err := os.OpenFile(configFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("error opening config file for writing: %w", err)
	}
	defer f.Close()

	encoder := yaml.NewEncoder(f)
	encoder.SetIndent(2)
	if err := encoder.Encode(root); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return encoder.Close()
}

func mappingNode(root *yaml.Node) *yaml.Node {
	if len(root.Content) > 0 && root.Content[0].Kind == yaml.MappingNode {
		return root.Content[0]
	}
	mapNode := &yaml.Node{Kind: yaml.MappingNode}
	root.Content = []*yaml.Node{mapNode}
	return mapNode
}

func setScalar(root *yaml.Node, key string, value string) {
	mapNode := mappingNode(root)
	for i := 0; i < len(mapNode.Content); i += 2 {
		if mapNode.Content[i].Value == key {
			mapNode.Content[i+1] = &yaml.Node{Kind: yaml.ScalarNode, Value: value}
			return
		}
	}
	mapNode.Content = append(mapNode.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Value: key},
		&yaml.Node{Kind: yaml.ScalarNode, Value: value},
	)
}

func removeKey(root *yaml.Node, key string) bool {
	if len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return false
	}
	mapNode := root.Content[0]
	for i := 0; i < len(mapNode.Content); i += 2 {
		if mapNode.Content[i].Value == key {
			mapNode.Content = append(mapNode.Content[:i], mapNode.Content[i+2:]...)
			return true
		}
	}
	return false
}
