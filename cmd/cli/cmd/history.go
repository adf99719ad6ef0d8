package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/antisplit/internal/repository"
	"github.com/antisplit/pkg/model"
	"github.com/antisplit/pkg/writer"
)

var (
	historyLimit  int
	historyFormat string
	historyTID    string
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded merges",
	Long:  `List the most recent merges recorded in the history database, or show one merge with --tid.`,
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of merges to list")
	historyCmd.Flags().StringVarP(&historyFormat, "format", "f", "text", "Output format: text, yaml or json")
	historyCmd.Flags().StringVar(&historyTID, "tid", "", "Show the merge with this task id")
}

func runHistory(cmd *cobra.Command, args []string) error {
	repos, err := repository.Open(&cfg.Database)
	if err != nil {
		return err
	}
	defer repos.Close()

	var tasks []*model.MergeTask
	if historyTID != "" {
		task, err := repos.Task.GetByTID(cmd.Context(), historyTID)
		if err != nil {
			return err
		}
		tasks = []*model.MergeTask{task}
	} else if tasks, err = repos.Task.ListRecent(cmd.Context(), historyLimit); err != nil {
		return err
	}

	if historyFormat != "text" {
		w, err := writer.ForFormat[[]*model.MergeTask](historyFormat)
		if err != nil {
			return err
		}
		return w.Write(tasks, cmd.OutOrStdout())
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TID\tSTARTED\tSTATUS\tPHASE\tMODULES\tDURATION\tOUTPUT")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			t.TaskUUID, t.CreateTime.Local().Format(time.DateTime), t.Status, t.Phase,
			len(t.Modules), t.Duration.Round(time.Millisecond), t.Output)
	}
	return tw.Flush()
}
