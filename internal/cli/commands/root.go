package commands

import (
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/adhocracy/adhocracy-client/internal/cli/ui"
)

var (
	// Version information - set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = "unknown"
)

// Output formats accepted by -o
const (
	OutputJSON = "json"
	OutputYAML = "yaml"
)

// globalOptions holds the persistent flags of the root command
type globalOptions struct {
	configFile string
	url        string
	output     string
	logLevel   string
	noColor    bool
}

var globals globalOptions

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "adhocracyctl",
		Short: "Command line client for the adhocracy REST API",
		Long: color.CyanString(`adhocracyctl - talk to an adhocracy backend

Reads and writes versioned resources, follows the LAST tag of items,
posts new versions without forking and commits batches of dependent
requests in one transaction.`) + `

Settings come from adhocracy.yml, ADHOCRACY_* environment variables and
the flags below, in increasing order of precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if globals.noColor {
				color.NoColor = true
			}
			return validateOutput(globals.output)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&globals.configFile, "config", "", "Config file (default ./adhocracy.yml)")
	flags.StringVar(&globals.url, "url", "", "Backend URL, overrides backend.url")
	flags.StringVarP(&globals.output, "output", "o", OutputJSON, "Output format: json or yaml")
	flags.StringVar(&globals.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	flags.BoolVar(&globals.noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(NewVersionCommand())
	rootCmd.AddCommand(NewGetCommand())
	rootCmd.AddCommand(NewLastCommand())
	rootCmd.AddCommand(NewOptionsCommand())
	rootCmd.AddCommand(NewPostCommand())
	rootCmd.AddCommand(NewPutCommand())
	rootCmd.AddCommand(NewNewVersionCommand())
	rootCmd.AddCommand(NewBatchCommand())
	rootCmd.AddCommand(NewMetaCommand())
	rootCmd.AddCommand(NewServeMockCommand())

	return rootCmd
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  "Display the adhocracyctl version, Git commit, build date, and Go version",
		Run: func(cmd *cobra.Command, args []string) {
			goVer := GoVersion
			if goVer == "unknown" {
				goVer = runtime.Version()
			}

			kv := ui.NewKeyValueTable(cmd.OutOrStdout(), globals.noColor)
			kv.AddRow("adhocracyctl version", Version)
			kv.AddRow("Git commit", GitCommit)
			kv.AddRow("Build date", BuildDate)
			kv.AddRow("Go version", goVer)
			kv.Render()
		},
	}
}

// Execute runs the root command and prints failures as an error report
func Execute() error {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		ui.WriteError(rootCmd.ErrOrStderr(), err, globals.noColor)
		return err
	}
	return nil
}
