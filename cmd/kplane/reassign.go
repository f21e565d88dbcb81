package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kplane/kplane/pkg/kplane"
)

var reassignCmd = &cobra.Command{
	Use:   "reassign",
	Short: "Generate, execute, and verify partition reassignments",
}

var (
	reassignBrokersFlag    []int32
	reassignTopicsFlag     []string
	reassignTopicsFileFlag string
	reassignPlanFileFlag   string
)

func init() {
	reassignGenerateCmd.Flags().Int32SliceVar(&reassignBrokersFlag, "brokers", nil, "target broker ids")
	reassignGenerateCmd.Flags().StringSliceVar(&reassignTopicsFlag, "topics", nil, "topics to move")
	reassignGenerateCmd.Flags().StringVar(&reassignTopicsFileFlag, "topics-to-move-json-file", "",
		`file listing topics to move, {"version":1,"topics":[{"topic":"foo"}]}`)
	_ = reassignGenerateCmd.MarkFlagRequired("brokers")
	reassignGenerateCmd.MarkFlagsOneRequired("topics", "topics-to-move-json-file")

	for _, c := range []*cobra.Command{reassignExecuteCmd, reassignVerifyCmd} {
		c.Flags().StringVar(&reassignPlanFileFlag, "reassignment-json-file", "", "target assignment in the reassignment JSON format")
		_ = c.MarkFlagRequired("reassignment-json-file")
	}

	reassignCmd.AddCommand(reassignGenerateCmd, reassignExecuteCmd, reassignVerifyCmd)
}

var reassignGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Print the current assignment of topics and a proposed assignment onto brokers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		topics := reassignTopicsFlag
		if reassignTopicsFileFlag != "" {
			raw, err := os.ReadFile(reassignTopicsFileFlag)
			if err != nil {
				return err
			}
			if topics, err = kplane.DecodeTopicsToMove(raw); err != nil {
				return err
			}
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()
		return withClient(func(cl *kplane.Client) error {
			plan, err := cl.PlanReassignment(ctx, kplane.PlanRequest{
				Brokers: reassignBrokersFlag,
				Topics:  topics,
			})
			if err != nil {
				return err
			}
			current, err := kplane.EncodeAssignment(plan.Current)
			if err != nil {
				return err
			}
			target, err := kplane.EncodeAssignment(plan.Target)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Current partition replica assignment\n%s\n\n", current)
			fmt.Fprintf(out, "Proposed partition reassignment configuration\n%s\n", target)
			return nil
		})
	},
}

func readPlan() (kplane.ReassignmentPlan, error) {
	raw, err := os.ReadFile(reassignPlanFileFlag)
	if err != nil {
		return kplane.ReassignmentPlan{}, err
	}
	target, err := kplane.DecodeAssignment(raw)
	if err != nil {
		return kplane.ReassignmentPlan{}, err
	}
	return kplane.ReassignmentPlan{Target: target}, nil
}

func printStatuses(cmd *cobra.Command, statuses map[kplane.TopicPartition]kplane.ReassignmentStatus) error {
	tps := make(kplane.TopicPartitions, 0, len(statuses))
	for tp := range statuses {
		tps = append(tps, tp)
	}
	tps.Sort()

	byPartition := make(map[string]string, len(statuses))
	for tp, s := range statuses {
		byPartition[tp.String()] = s.String()
	}
	return newPrinter(cmd).emit(byPartition, func(w *tabwriter.Writer) {
		row(w, "TOPIC", "PARTITION", "STATUS")
		for _, tp := range tps {
			row(w, tp.Topic, tp.Partition, statuses[tp])
		}
	})
}

var reassignExecuteCmd = &cobra.Command{
	Use:   "execute",
	Short: "Submit a reassignment",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		plan, err := readPlan()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		return withClient(func(cl *kplane.Client) error {
			statuses, err := cl.ExecuteReassignment(ctx, plan)
			if err != nil {
				return err
			}
			return printStatuses(cmd, statuses)
		})
	},
}

var reassignVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Report the status of a submitted reassignment",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		plan, err := readPlan()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		return withClient(func(cl *kplane.Client) error {
			statuses, err := cl.CheckReassignment(ctx, plan)
			if err != nil {
				return err
			}
			return printStatuses(cmd, statuses)
		})
	},
}
