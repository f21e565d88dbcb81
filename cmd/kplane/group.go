package main

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kplane/kplane/pkg/kplane"
)

var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Manage legacy and coordinator consumer groups",
}

var (
	groupTypeFlag      string
	groupTopicsFlag    []string
	groupCatchUpFlag   time.Duration
	resetTopicFlag     string
	resetPartitionFlag int32
	resetToFlag        string
)

func init() {
	groupCmd.PersistentFlags().DurationVar(&groupCatchUpFlag, "catch-up", 5*time.Second,
		"how long to wait for the offsets topic to be read before answering")

	groupDescribeCmd.Flags().StringVar(&groupTypeFlag, "type", "", `force the group type, "old" or "new"`)
	groupDescribeCmd.Flags().StringSliceVar(&groupTopicsFlag, "topic", nil, "only describe these topics")
	groupOffsetsCmd.Flags().StringSliceVar(&groupTopicsFlag, "topic", nil, "only fetch these topics")

	groupResetCmd.Flags().StringVar(&groupTypeFlag, "type", "", `group type, "old" or "new"`)
	groupResetCmd.Flags().StringVar(&resetTopicFlag, "topic", "", "topic to reset")
	groupResetCmd.Flags().Int32Var(&resetPartitionFlag, "partition", 0, "partition to reset")
	groupResetCmd.Flags().StringVar(&resetToFlag, "to", "", `"earliest", "latest", or an offset`)
	for _, f := range []string{"type", "topic", "to"} {
		_ = groupResetCmd.MarkFlagRequired(f)
	}

	groupCmd.AddCommand(
		groupListCmd,
		groupByTopicCmd,
		groupDescribeCmd,
		groupOffsetsCmd,
		groupResetCmd,
		groupCommitTimesCmd,
		groupDeleteCmd,
	)
}

// withGroups builds a stack that tails the offsets topic and waits for it
// to catch up before running fn.
func withGroups(ctx context.Context, fn func(cl *kplane.Client) error) error {
	s, err := newStack(cfg, log, true)
	if err != nil {
		return err
	}
	defer s.Close()

	catchCtx, cancel := context.WithTimeout(ctx, groupCatchUpFlag)
	s.catchUp(catchCtx)
	cancel()

	return fn(s.cl)
}

func printListing(cmd *cobra.Command, l kplane.GroupListing) error {
	return newPrinter(cmd).emit(l, func(w *tabwriter.Writer) {
		row(w, "GROUP", "TYPE")
		for _, g := range l.Legacy {
			row(w, g, kplane.GenerationLegacy)
		}
		for _, g := range l.Coordinator {
			row(w, g, kplane.GenerationCoordinator)
		}
	})
}

var groupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every legacy and coordinator group",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		return withGroups(ctx, func(cl *kplane.Client) error {
			l, err := cl.ListGroups(ctx)
			if err != nil {
				return err
			}
			return printListing(cmd, l)
		})
	},
}

var groupByTopicCmd = &cobra.Command{
	Use:   "by-topic TOPIC",
	Short: "List the groups that consume a topic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		return withGroups(ctx, func(cl *kplane.Client) error {
			l, err := cl.ListGroupsByTopic(ctx, args[0])
			if err != nil {
				return err
			}
			return printListing(cmd, l)
		})
	},
}

var groupDescribeCmd = &cobra.Command{
	Use:   "describe GROUP",
	Short: "Describe a group's offsets, lag, and owners",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var gen kplane.Generation
		if groupTypeFlag != "" {
			var err error
			if gen, err = kplane.ParseGeneration(groupTypeFlag); err != nil {
				return err
			}
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()
		return withGroups(ctx, func(cl *kplane.Client) error {
			describe := cl.DescribeGroup
			switch gen {
			case kplane.GenerationLegacy:
				describe = cl.DescribeLegacyGroup
			case kplane.GenerationCoordinator:
				describe = cl.DescribeCoordinatorGroup
			}
			d, err := describe(ctx, args[0], groupTopicsFlag...)
			if err != nil {
				return err
			}
			return newPrinter(cmd).emit(d, func(w *tabwriter.Writer) {
				row(w, "GROUP", d.Group, d.Generation)
				row(w, "TOTAL LAG", d.TotalLag())
				row(w)
				row(w, "TOPIC", "PARTITION", "CURRENT", "END", "LAG", "OWNER", "HOST", "STATE")
				for _, p := range d.Sorted() {
					state := p.State.String()
					if p.Err != nil {
						state = p.Err.Error()
					}
					row(w, p.Topic, p.Partition, p.CurrentOffset, p.LogEndOffset, p.Lag, p.OwnerID, p.Host, state)
				}
			})
		})
	},
}

var groupOffsetsCmd = &cobra.Command{
	Use:   "offsets GROUP",
	Short: "Fetch a legacy group's committed offsets and owners",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		return withClient(func(cl *kplane.Client) error {
			offsets, err := cl.FetchLegacyOffsets(ctx, args[0], groupTopicsFlag...)
			if err != nil {
				return err
			}
			sorted := offsets.Sorted()
			return newPrinter(cmd).emit(sorted, func(w *tabwriter.Writer) {
				row(w, "TOPIC", "PARTITION", "OFFSET", "OWNER", "ERROR")
				for _, o := range sorted {
					errStr := ""
					if o.Err != nil {
						errStr = o.Err.Error()
					}
					row(w, o.Topic, o.Partition, o.Offset, o.Owner, errStr)
				}
			})
		})
	},
}

var groupResetCmd = &cobra.Command{
	Use:   "reset GROUP",
	Short: "Reset one partition's committed offset of an inactive group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		gen, err := kplane.ParseGeneration(groupTypeFlag)
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		return withGroups(ctx, func(cl *kplane.Client) error {
			at, err := cl.ResetOffset(ctx, kplane.ResetRequest{
				Group:      args[0],
				Topic:      resetTopicFlag,
				Partition:  resetPartitionFlag,
				Generation: gen,
				Target:     resetToFlag,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %s group %s on %s/%d to %d\n", gen, args[0], resetTopicFlag, resetPartitionFlag, at)
			return nil
		})
	},
}

var groupCommitTimesCmd = &cobra.Command{
	Use:   "commit-times GROUP TOPIC",
	Short: "Print when a group last committed each partition of a topic",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		return withGroups(ctx, func(cl *kplane.Client) error {
			times, err := cl.LastCommitTimes(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			byType := make(map[string]map[int32]time.Time, len(times))
			for gen, ps := range times {
				byType[gen.String()] = ps
			}
			return newPrinter(cmd).emit(byType, func(w *tabwriter.Writer) {
				row(w, "TYPE", "PARTITION", "COMMITTED")
				for _, gen := range []kplane.Generation{kplane.GenerationLegacy, kplane.GenerationCoordinator} {
					ps := times[gen]
					for _, p := range slices.Sorted(maps.Keys(ps)) {
						row(w, gen, p, ps[p].UTC().Format(time.RFC3339))
					}
				}
			})
		})
	},
}

var groupDeleteCmd = &cobra.Command{
	Use:   "delete GROUP",
	Short: "Delete an inactive legacy group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		return withClient(func(cl *kplane.Client) error {
			if err := cl.DeleteLegacyGroup(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted group %s\n", args[0])
			return nil
		})
	},
}
