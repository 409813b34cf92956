/*
   Pulse is a websocket notification relay
   Copyright (C) 2026 Sieve Lab <dev@sievelab.io>

   This program is free software: you can redistribute it and/or modify
   it under the terms of the GNU Affero General Public License as
   published by the Free Software Foundation, either version 3 of the
   License, or (at your option) any later version.

   This program is distributed in the hope that it will be useful,
   but WITHOUT ANY WARRANTY; without even the implied warranty of
   MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
   GNU Affero General Public License for more details.

   You should have received a copy of the GNU Affero General Public License
   along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sievelab/pulse/internal/token"
)

// tokenCmd mints a token for connecting to, or notifying through, a pulse relay
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "pulse token generates a new token for authenticating to a relay",
	Long: `Set the operating parameters with environment variables, for example:

export PULSE_TOKEN_LIFETIME=3600
export PULSE_TOKEN_SECRET=somesecret
export PULSE_TOKEN_AUDIENCE=wss://pulse.example.io
export PULSE_TOKEN_USER=17
export PULSE_TOKEN_SCOPES=connect
bearer=$(pulse token)
`,

	Run: func(cmd *cobra.Command, args []string) {

		viper.SetEnvPrefix("PULSE_TOKEN")
		viper.AutomaticEnv()

		viper.SetDefault("lifetime", 3600)
		viper.SetDefault("scopes", []string{token.ScopeConnect})

		lifetime := viper.GetInt64("lifetime")
		audience := viper.GetString("audience")
		secret := viper.GetString("secret")
		user := viper.GetString("user")
		scopes := viper.GetStringSlice("scopes")

		// check inputs

		if secret == "" {
			fmt.Println("PULSE_TOKEN_SECRET not set")
			os.Exit(1)
		}
		if audience == "" {
			fmt.Println("PULSE_TOKEN_AUDIENCE not set")
			os.Exit(1)
		}
		if user == "" {
			fmt.Println("PULSE_TOKEN_USER not set")
			os.Exit(1)
		}

		iat := time.Now().Unix() - 1 //ensure immediately usable
		nbf := iat
		exp := iat + lifetime

		claims := token.New(audience, user, scopes, iat, nbf, exp)

		bearer, err := token.Sign(claims, secret)

		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		fmt.Println(bearer)
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}
