package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat [message]",
		Short: "Chat with the agent (interactive without arguments)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			rt, err := buildRuntime(cfg)
			if err != nil {
				return err
			}
			defer rt.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if len(args) > 0 {
				return oneShot(ctx, rt, strings.Join(args, " "))
			}

			fmt.Printf("%s %s\n", bold("archi"), gray("interactive chat, /quit to exit"))
			scanner := bufio.NewScanner(os.Stdin)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for {
				fmt.Print(bold("> "))
				if !scanner.Scan() {
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				switch {
				case line == "":
					continue
				case line == "/quit" || line == "/exit":
					return nil
				case line == "/budget":
					printSummary(rt.ledger.GetSummary("today"), rt.cfg.Budget.DailyHardStopUSD)
					continue
				}
				if err := oneShot(ctx, rt, line); err != nil {
					fmt.Println(red(err.Error()))
				}
				if ctx.Err() != nil {
					return nil
				}
			}
		},
	}
}

func oneShot(ctx context.Context, rt *runtime, message string) error {
	res := rt.agent.HandleMessage(ctx, message)
	switch {
	case res.Blocked:
		fmt.Println(yellow("budget exhausted: ") + res.Error)
	case !res.Success:
		return fmt.Errorf("completion failed: %s", res.Error)
	default:
		fmt.Println(res.Text)
		meta := fmt.Sprintf("[%s", res.Provider)
		if res.Cached {
			meta += ", cached"
		}
		if res.CostUSD > 0 {
			meta += fmt.Sprintf(", $%.4f", res.CostUSD)
		}
		fmt.Println(gray(meta + "]"))
	}
	return nil
}
