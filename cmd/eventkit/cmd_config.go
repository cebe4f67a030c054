package main

import (
	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const redacted = "<redacted>"

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}

	var format string
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := *a.cfg
			if cfg.Bus.Token != "" {
				cfg.Bus.Token = redacted
			}
			if cfg.Bus.Password != "" {
				cfg.Bus.Password = redacted
			}

			switch {
			case a.jsonOutput:
				return a.printJSON(cfg)
			case format == "yaml":
				enc := yaml.NewEncoder(a.out)
				enc.SetIndent(2)
				if err := enc.Encode(cfg); err != nil {
					return err
				}
				return enc.Close()
			default:
				return toml.NewEncoder(a.out).Encode(cfg)
			}
		},
	}
	show.Flags().StringVar(&format, "format", "toml", "output format: toml or yaml")

	cmd.AddCommand(show)
	return cmd
}
