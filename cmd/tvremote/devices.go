package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/HerbHall/tvremote/internal/registry"
	"github.com/HerbHall/tvremote/pkg/models"
	"github.com/spf13/cobra"
)

func newDevicesCmd(open opener) *cobra.Command {
	var (
		check  bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:     "devices",
		Aliases: []string{"ls"},
		Short:   "List saved TVs",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			devs := a.devices.List()
			var reach map[string]bool
			if check {
				ips := make([]string, 0, len(devs))
				for _, d := range devs {
					ips = append(ips, d.Address)
				}
				reach = a.reach.CheckAll(cmd.Context(), ips)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				for i := range devs {
					devs[i].AuthToken = ""
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(devs)
			}
			printDevices(out, devs, reach)
			fmt.Fprintf(out, "\n%d of %s saved\n", a.devices.Count(), limitText(a))
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "ping each TV")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")

	cmd.AddCommand(
		newDevicesAddCmd(open),
		newDevicesRemoveCmd(open),
		newDevicesRenameCmd(open),
		newDevicesSetIPCmd(open),
	)
	return cmd
}

func limitText(a *app) string {
	if a.ent.IsEntitled() {
		return "unlimited"
	}
	return fmt.Sprint(a.devices.Limit())
}

func printDevices(w io.Writer, devs []models.TVDevice, reach map[string]bool) {
	if len(devs) == 0 {
		fmt.Fprintln(w, "no saved TVs; run \"tvremote discover\" or \"tvremote devices add\"")
		return
	}
	now := time.Now()
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tBRAND\tPLATFORM\tADDRESS\tLAST CONNECTED\tSTATE")
	for _, d := range devs {
		last := "never"
		if d.LastConnected != nil {
			last = d.LastConnected.Local().Format(time.DateTime)
		}
		state := "recent"
		if d.IsStale(now) {
			state = "stale"
		}
		if reach != nil {
			if reach[d.Address] {
				state = "online"
			} else {
				state = "offline"
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			d.ID, d.Name, d.Brand.DisplayName(), d.Platform, d.Address, last, state)
	}
	tw.Flush()
}

func newDevicesAddCmd(open opener) *cobra.Command {
	var brand, platform, model string
	cmd := &cobra.Command{
		Use:   "add NAME IP",
		Short: "Save a TV by address",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			b := models.ParseBrand(brand)
			p := models.ParsePlatform(platform)
			if p == models.PlatformUnknown {
				p = models.PlatformForBrand(b)
			}
			d := models.NewTVDevice(args[0], args[1], b, p)
			d.Model = model

			saved, err := a.devices.Add(cmd.Context(), d)
			if errors.Is(err, registry.ErrDeviceLimit) {
				return fmt.Errorf("the free tier saves %d TV; remove one first", a.devices.Limit())
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s (%s) as %s\n", saved.Name, saved.Platform, saved.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&brand, "brand", "", "manufacturer, e.g. samsung, lg, roku, hisense, sony")
	cmd.Flags().StringVar(&platform, "platform", "", "override the platform: tizen, webos, androidtv, roku, vidaa")
	cmd.Flags().StringVar(&model, "model", "", "model number")
	return cmd
}

func newDevicesRemoveCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:     "rm ID",
		Aliases: []string{"remove"},
		Short:   "Forget a saved TV",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.devices.Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}
}

func newDevicesRenameCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "rename ID NAME",
		Short: "Change a saved TV's name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			d, err := a.devices.Rename(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "renamed %s to %q\n", d.ID, d.Name)
			return nil
		},
	}
}

func newDevicesSetIPCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "set-ip ID IP",
		Short: "Change a saved TV's address",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			d, err := a.devices.UpdateAddress(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now at %s\n", d.Name, d.Address)
			return nil
		},
	}
}
