package cmds

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/veyra/pkg/auth"
)

func NewLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and forget the stored token",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := LoadSettings(cmd)
			if err != nil {
				return err
			}
			configFile, err := configFilePath(cmd)
			if err != nil {
				return err
			}

			app := NewApp(s)
			err = auth.Logout(cmd.Context(), app.Tokens, app.Client, forgetToken(configFile))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return nil
		},
	}
}

// forgetToken removes the token stored in configFile. A token coming from
// the environment or a flag is left to the caller.
func forgetToken(configFile string) auth.SignOutFunc {
	return func(context.Context) error {
		root, err := readAndParseConfig(configFile)
		if err != nil {
			return err
		}
		if !removeKey(root, "token") {
			log.Debug().Str("config", configFile).Msg("no stored token")
			return nil
		}
		return writeConfig(configFile, root)
	}
}
