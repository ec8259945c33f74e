package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// FlagDoc describes one command flag in the machine-readable help output.
type FlagDoc struct {
	Name        string `json:"name"`
	Shorthand   string `json:"shorthand,omitempty"`
	Type        string `json:"type"`
	Default     string `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
}

// CommandDoc describes one command, keyed by its full path from the root
// (e.g. "docpiped serve").
type CommandDoc struct {
	Path        string    `json:"path"`
	Use         string    `json:"use,omitempty"`
	Description string    `json:"description,omitempty"`
	Flags       []FlagDoc `json:"flags,omitempty"`
}

// DescribeCommands flattens a command tree into a list of command docs.
// Flags inherited from parent commands are included on each entry.
func DescribeCommands(root *cobra.Command) []CommandDoc {
	var docs []CommandDoc
	walkCommands(root, root.Name(), &docs)
	return docs
}

func walkCommands(cmd *cobra.Command, path string, docs *[]CommandDoc) {
	*docs = append(*docs, CommandDoc{
		Path:        path,
		Use:         cmd.Use,
		Description: cmd.Short,
		Flags:       describeFlags(cmd),
	})

	for _, sub := range cmd.Commands() {
		if sub.Name() == "help" || sub.Hidden {
			continue
		}
		walkCommands(sub, path+" "+sub.Name(), docs)
	}
}

func describeFlags(cmd *cobra.Command) []FlagDoc {
	var flags []FlagDoc

	collect := func(f *pflag.Flag) {
		if f.Name == "help" || f.Name == "help-json" {
			return
		}
		flags = append(flags, FlagDoc{
			Name:        f.Name,
			Shorthand:   f.Shorthand,
			Type:        f.Value.Type(),
			Default:     f.DefValue,
			Description: f.Usage,
		})
	}

	cmd.LocalFlags().VisitAll(collect)
	cmd.InheritedFlags().VisitAll(func(f *pflag.Flag) {
		for _, seen := range flags {
			if seen.Name == f.Name {
				return
			}
		}
		collect(f)
	})

	return flags
}

// AddHelpJSONFlag registers the --help-json flag on the root command.
func AddHelpJSONFlag(root *cobra.Command) {
	root.PersistentFlags().Bool("help-json", false, "Output command documentation as JSON")
}

// CheckHelpJSON scans os.Args for --help-json and, when present, prints the
// command documentation and exits. Call before Execute so the flag works
// even when other required arguments are missing.
func CheckHelpJSON(root *cobra.Command) {
	for _, arg := range os.Args[1:] {
		if arg == "--help-json" {
			printCommandDocs(root)
		}
	}
}

func printCommandDocs(root *cobra.Command) {
	output, err := json.MarshalIndent(DescribeCommands(root), "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error generating command documentation:", err)
		os.Exit(1)
	}
	fmt.Println(string(output))
	os.Exit(0)
}
