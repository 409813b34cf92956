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
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/client9/reopen"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sievelab/pulse/internal/relay"
	"github.com/sievelab/pulse/internal/token"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve the notification relay",
	Long: `Serve the websocket endpoint and the notifications API on one port.
Set parameters with environment variables, for example:

export PULSE_AUDIENCE=wss://pulse.example.io
export PULSE_SECRET=somesecret
export PULSE_PORT=3000
export PULSE_LOG_LEVEL=warn
export PULSE_LOG_FORMAT=json
export PULSE_LOG_FILE=/var/log/pulse/pulse.log
pulse serve

Notes:
PULSE_AUDIENCE must match the aud claim in tokens presented by clients
PULSE_LOG_FILE can be "stdout"; otherwise SIGHUP reopens it for rotation
`,
	Run: func(cmd *cobra.Command, args []string) {

		viper.SetEnvPrefix("PULSE")
		viper.AutomaticEnv()

		viper.SetDefault("audience", "") //so we can check it's been provided
		viper.SetDefault("log_file", "stdout")
		viper.SetDefault("log_format", "json")
		viper.SetDefault("log_level", "warn")
		viper.SetDefault("port", 3000)
		viper.SetDefault("secret", "") //so we can check it's been provided

		audience := viper.GetString("audience")
		logFile := viper.GetString("log_file")
		logFormat := viper.GetString("log_format")
		logLevel := viper.GetString("log_level")
		port := viper.GetInt("port")
		secret := viper.GetString("secret")

		// Sanity checks
		ok := true

		if audience == "" {
			fmt.Println("You must set PULSE_AUDIENCE")
			ok = false
		}

		if secret == "" {
			fmt.Println("You must set PULSE_SECRET")
			ok = false
		}

		if !ok {
			os.Exit(1)
		}

		// set up logging
		level, err := log.ParseLevel(strings.ToLower(logLevel))
		if err != nil {
			fmt.Println("PULSE_LOG_LEVEL can be trace, debug, info, warn, error, fatal or panic but not " + logLevel)
			os.Exit(1)
		}
		log.SetLevel(level)

		switch strings.ToLower(logFormat) {
		case "json":
			log.SetFormatter(&log.JSONFormatter{})
		case "text":
			log.SetFormatter(&log.TextFormatter{})
		default:
			fmt.Println("PULSE_LOG_FORMAT can be json or text but not " + logFormat)
			os.Exit(1)
		}

		if strings.ToLower(logFile) == "stdout" {

			log.SetOutput(os.Stdout)

		} else {

			file, err := reopen.NewFileWriter(logFile)
			if err != nil {
				log.Infof("Failed to log to %s, logging to default stderr", logFile)
			} else {
				log.SetOutput(file)

				// reopen the log file on SIGHUP so logrotate can do its job
				hup := make(chan os.Signal, 1)
				signal.Notify(hup, syscall.SIGHUP)
				go func() {
					for range hup {
						if err := file.Reopen(); err != nil {
							log.WithField("error", err).Error("failed to reopen log file")
						}
					}
				}()
			}
		}

		// Report useful info
		log.Infof("pulse version: %s", Version)
		log.Infof("Audience: [%s]", audience)
		log.Infof("Log file: [%s]", logFile)
		log.Infof("Log format: [%s]", logFormat)
		log.Infof("Log level: [%s]", logLevel)
		log.Infof("Port: [%d]", port)

		var wg sync.WaitGroup

		closed := make(chan struct{})

		c := make(chan os.Signal, 1)

		signal.Notify(c, os.Interrupt)

		go func() {
			for range c {
				close(closed)
				wg.Wait()
				os.Exit(0)
			}
		}()

		validator := token.Validator{
			Audience: audience,
			Secret:   secret,
		}

		server := relay.New(relay.Config{
			Listen:     port,
			Authorizer: validator,
			Validator:  validator,
		})

		wg.Add(1)

		go server.Run(closed, &wg)

		wg.Wait()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
