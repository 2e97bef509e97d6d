package main

import (
	"context"
	"fmt"
	"os"
	"slices"

	json "github.com/goccy/go-json"
	"github.com/gian-ai/recommendations/task"
	"github.com/gian-ai/recommendations/wire"
	"github.com/invopop/jsonschema"
	"github.com/urfave/cli/v3"
)

func schemas() map[string]*jsonschema.Schema {
	out := task.Schemas()
	out["frame"] = wire.Schema()
	return out
}

func schemaCmd() *cli.Command {
	return &cli.Command{
		Name:      "schema",
		Usage:     "print the JSON schema of a frame or payload",
		ArgsUsage: "[frame|query|solution|observation]",
		Action: func(_ context.Context, cmd *cli.Command) error {
			all := schemas()
			names := cmd.Args().Slice()
			if len(names) == 0 {
				for name := range all {
					names = append(names, name)
				}
				slices.Sort(names)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			for _, name := range names {
				s, ok := all[name]
				if !ok {
					return fmt.Errorf("unknown schema %q", name)
				}
				if err := enc.Encode(s); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
