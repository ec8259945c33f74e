package cli

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescribeCommands(t *testing.T) {
	root := &cobra.Command{Use: "docpiped", Short: "root"}
	root.PersistentFlags().Bool("verbose", false, "Verbose output")

	sub := &cobra.Command{Use: "serve", Short: "start the server"}
	sub.Flags().StringP("port", "p", "8080", "Port to listen on")
	root.AddCommand(sub)

	docs := DescribeCommands(root)

	require.Len(t, docs, 2)
	assert.Equal(t, "docpiped", docs[0].Path)
	assert.Equal(t, "docpiped serve", docs[1].Path)

	var names []string
	for _, f := range docs[1].Flags {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "port")
	assert.Contains(t, names, "verbose")

	for _, f := range docs[1].Flags {
		if f.Name == "port" {
			assert.Equal(t, "p", f.Shorthand)
			assert.Equal(t, "8080", f.Default)
		}
	}
}

func TestDescribeCommands_SkipsHelpFlags(t *testing.T) {
	root := &cobra.Command{Use: "docpiped"}
	AddHelpJSONFlag(root)

	docs := DescribeCommands(root)
	require.Len(t, docs, 1)
	for _, f := range docs[0].Flags {
		assert.NotEqual(t, "help-json", f.Name)
	}
}
