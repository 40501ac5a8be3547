package main

import (
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/qbloq/livesql/serv"
)

var (
	// These variables are set using -ldflags
	version string
	commit  string
	date    string
)

var (
	log   *zap.SugaredLogger
	conf  *serv.Config
	cpath string
)

// Cmd is the entry point for the CLI
func Cmd() {
	log = newLogger().Sugar()

	cobra.EnableCommandSorting = false
	rootCmd := &cobra.Command{
		Use:   "livesql",
		Short: BuildDetails(),
	}

	rootCmd.PersistentFlags().StringVar(&cpath,
		"path", "./config", "path to config files")

	rootCmd.AddCommand(servCmd())
	rootCmd.AddCommand(dbCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("%s", err)
	}
}

// setup is a helper function to read the config file
func setup(cpath string) {
	if conf != nil {
		return
	}

	cp, err := filepath.Abs(cpath)
	if err != nil {
		log.Fatal(err)
	}

	conf, err = serv.ReadInConfig(cp)
	if err != nil {
		log.Fatal(err)
	}
}

func newLogger() *zap.Logger {
	econf := zap.NewDevelopmentConfig()
	econf.DisableStacktrace = true
	l, _ := econf.Build()
	return l
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(BuildDetails())
		},
	}
}

// BuildDetails renders the version information set at build time
func BuildDetails() string {
	if version == "" {
		return `
livesql (unknown version)
For documentation, visit https://github.com/qbloq/livesql

To build with version information set main.version, main.commit
and main.date with go build -ldflags "-X ..."
`
	}

	return fmt.Sprintf(`
livesql %v
For documentation, visit https://github.com/qbloq/livesql

Commit SHA-1          : %v
Commit timestamp      : %v
Go version            : %v

Licensed under the Apache Public License 2.0
`, version, commit, date, runtime.Version())
}
