package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/cobra"

	"github.com/odvcencio/mashup/pkg/jsonpatch"
)

func diffCmd() *cobra.Command {
	var unified bool

	cmd := &cobra.Command{
		Use:   "diff <from.json> <to.json>",
		Short: "Print the JSON patch between two documents",
		Long: `diff prints the patch a table edit would publish for the change from
one JSON document to another. With --unified it prints a line diff of
the indented documents instead.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := readJSONFile(args[0])
			if err != nil {
				return err
			}
			to, err := readJSONFile(args[1])
			if err != nil {
				return err
			}
			if unified {
				return writeUnified(cmd.OutOrStdout(), args[0], args[1], from, to)
			}
			return writePatch(cmd.OutOrStdout(), from, to)
		},
	}

	cmd.Flags().BoolVarP(&unified, "unified", "u", false, "print a unified text diff")
	return cmd
}

func readJSONFile(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, withExitCode(fmt.Errorf("%s: %w", path, err), exitConfig)
	}
	return v, nil
}

func writePatch(out io.Writer, from, to any) error {
	patch, err := jsonpatch.Create(from, to)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(patch)
}

func writeUnified(out io.Writer, fromName, toName string, from, to any) error {
	a, err := json.MarshalIndent(from, "", "  ")
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(to, "", "  ")
	if err != nil {
		return err
	}
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(a) + "\n"),
		B:        difflib.SplitLines(string(b) + "\n"),
		FromFile: fromName,
		ToFile:   toName,
		Context:  3,
	}
	return difflib.WriteUnifiedDiff(out, diff)
}
