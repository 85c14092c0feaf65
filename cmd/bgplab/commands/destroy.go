package commands

import (
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/dantte-lp/bgplab/internal/topofile"
)

func destroyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "destroy <topology.yaml>",
		Short: "Remove a topology's leftovers from this host",
		Long: "destroy removes every container and bridge the topology declares, " +
			"by name, whether or not this process built them.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if unix.Geteuid() != 0 {
				return errNeedsRoot
			}

			topo, err := topofile.Load(args[0])
			if err != nil {
				return err
			}

			lab, _, err := newLab(topo)
			if err != nil {
				return err
			}

			if err := topofile.Destroy(cmd.Context(), lab, topo); err != nil {
				return err
			}

			logger.Info("topology destroyed")
			return nil
		},
	}
}
