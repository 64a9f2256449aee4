// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/absmach/vproxy/pkg/route"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newAddRouteCmd() *cobra.Command {
	var r route.Route

	cmd := &cobra.Command{
		Use:   "add-route",
		Short: "Append a route to the routes file",
		Example: `  vproxy add-route -domain example.com -lhost 127.0.0.1 -lport 3000
  vproxy add-route --domain api.example.com --lhost 10.0.0.5 --lport 8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := route.AppendFile(cfg.RoutesFile, r); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added route %s -> %s\n", r.Domain, r.Upstream.Addr())
			return nil
		},
	}

	cmd.Flags().StringVar(&r.Domain, "domain", "", "Domain matched against the Host header")
	cmd.Flags().StringVar(&r.Upstream.Host, "lhost", "", "Upstream host")
	cmd.Flags().Uint16Var(&r.Upstream.Port, "lport", 0, "Upstream port")
	_ = cmd.MarkFlagRequired("domain")
	_ = cmd.MarkFlagRequired("lhost")
	_ = cmd.MarkFlagRequired("lport")

	return cmd
}

func newRoutesCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:     "routes",
		Aliases: []string{"ls"},
		Short:   "List the routes in the routes file",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			table, err := route.LoadFile(cfg.RoutesFile)
			if err != nil {
				return err
			}
			routes := table.Routes()

			switch output {
			case "yaml":
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				if err := enc.Encode(routes); err != nil {
					return err
				}
				return enc.Close()
			case "text":
				if len(routes) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No routes in %s\n", cfg.RoutesFile)
					return nil
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "DOMAIN\tUPSTREAM")
				for _, r := range routes {
					fmt.Fprintf(w, "%s\t%s\n", r.Domain, r.Upstream.Addr())
				}
				return w.Flush()
			default:
				return fmt.Errorf("unknown output format %q (want text or yaml)", output)
			}
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format: text or yaml")
	return cmd
}
