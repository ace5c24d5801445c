package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/HerbHall/tvremote/internal/event"
	"github.com/HerbHall/tvremote/pkg/models"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newDiscoverCmd(open opener) *cobra.Command {
	var (
		timeout time.Duration
		asJSON  bool
		save    []int
	)
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Search the local network for TVs",
		Long: `Search the local network for TVs with SSDP and a subnet probe sweep.

Results are numbered; pass --save 1,3 to add those TVs to the saved list.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := open(cmd, func(v *viper.Viper) {
				if timeout > 0 {
					v.Set("discovery.session_timeout", timeout)
				}
			})
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if !asJSON {
				unsub := a.bus.Subscribe(event.TopicDeviceFound, func(_ context.Context, e event.Event) {
					if p, ok := e.Payload.(event.DeviceFoundPayload); ok {
						fmt.Fprintf(out, "found %s (%s) at %s\n", p.Device.Name, p.Device.Brand.DisplayName(), p.Device.Address)
					}
				})
				defer unsub()
				fmt.Fprintln(out, "searching...")
			}

			found, err := a.engine.Run(cmd.Context())
			if err != nil && cmd.Context().Err() == nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(found); err != nil {
					return err
				}
			} else {
				printSightings(out, found)
			}

			for _, n := range save {
				if n < 1 || n > len(found) {
					return fmt.Errorf("--save %d: no such result", n)
				}
				d, err := a.devices.Add(cmd.Context(), found[n-1].ToTVDevice())
				if err != nil {
					return fmt.Errorf("save %s: %w", found[n-1].Name, err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "saved %s as %s\n", d.Name, d.ID)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "session length (default from config, 15s)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	cmd.Flags().IntSliceVar(&save, "save", nil, "result numbers to save")
	return cmd
}

func printSightings(w io.Writer, found []models.DiscoveredDevice) {
	if len(found) == 0 {
		fmt.Fprintln(w, "no TVs found")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tNAME\tBRAND\tPLATFORM\tADDRESS\tSOURCE")
	for i, d := range found {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			strconv.Itoa(i+1), d.Name, d.Brand.DisplayName(), d.Platform, d.Address, d.Source)
	}
	tw.Flush()
}
