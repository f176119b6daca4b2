package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"github.com/Skryldev/asset-manager/core"
)

func runInfo(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var g globals
	var asJSON bool
	fs := newFlagSet("info", &g, stderr)
	fs.BoolVar(&asJSON, "json", false, "print metadata as a JSON object")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest, err := expectArgs(fs, 1, "FILE")
	if err != nil {
		return err
	}
	cfg, err := g.config()
	if err != nil {
		return err
	}
	m, release, err := g.manager(cfg)
	if err != nil {
		return err
	}
	defer release()

	a, err := m.ReadFile(ctx, rest[0])
	if err != nil {
		return err
	}
	return printMetadata(stdout, a, asJSON)
}

func printMetadata(w io.Writer, a *core.Asset, asJSON bool) error {
	md := a.Metadata()
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(md)
	}
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "size\t%d\n", a.Size())
	for _, k := range keys {
		fmt.Fprintf(tw, "%s\t%v\n", k, md[k])
	}
	return tw.Flush()
}
