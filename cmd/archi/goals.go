package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"archi/internal/config"
	"archi/internal/goals"
	"archi/internal/logging"
)

func newGoalsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "goals",
		Short: "Inspect and manage the goal queue",
	}
	cmd.AddCommand(newGoalsListCmd(), newGoalsAddCmd(), newGoalsPruneCmd())
	return cmd
}

func newGoalsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List goals and their tasks",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg := loadConfig()
			store := newGoalStore(cfg)
			list := store.Goals()
			if len(list) == 0 {
				fmt.Println(gray("no goals"))
				return nil
			}
			for _, g := range list {
				printGoal(g)
			}
			return nil
		},
	}
}

func newGoalsAddCmd() *cobra.Command {
	var priority int

	cmd := &cobra.Command{
		Use:   "add <description>",
		Short: "Add a goal (decomposition happens in the background loop)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg := loadConfig()
			store := newGoalStore(cfg)
			goal := store.CreateGoal(strings.Join(args, " "), "", priority)
			fmt.Printf("%s %s\n", green("added"), goal.ID)
			return nil
		},
	}
	cmd.Flags().IntVarP(&priority, "priority", "p", 5, "goal priority, 1 (low) to 10 (high)")
	return cmd
}

func newGoalsPruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Remove near-duplicate undecomposed goals",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg := loadConfig()
			store := newGoalStore(cfg)
			removed := store.PruneDuplicates()
			fmt.Printf("removed %d duplicate goal(s)\n", removed)
			return nil
		},
	}
}

func newGoalStore(cfg config.Config) *goals.Store {
	return goals.NewStore(cfg.DataDir, logging.NewComponentLogger("Goals"))
}

func printGoal(g *goals.Goal) {
	status := fmt.Sprintf("%.0f%%", g.CompletionPercent())
	if g.IsComplete() {
		status = green("done")
	} else if !g.Decomposed {
		status = yellow("pending decomposition")
	}
	fmt.Printf("%s %s %s\n", bold(g.ID[:8]), g.Description, gray("["+status+"]"))
	for _, t := range g.Tasks {
		marker := gray("·")
		switch t.Status {
		case goals.TaskCompleted:
			marker = green("✓")
		case goals.TaskFailed:
			marker = red("✗")
		case goals.TaskInProgress:
			marker = cyan("▸")
		case goals.TaskBlocked:
			marker = yellow("■")
		}
		fmt.Printf("  %s %s\n", marker, t.Description)
	}
}
