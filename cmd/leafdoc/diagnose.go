// cmd/leafdoc/diagnose.go
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/signalnine/leafdoc/internal/kernel"
	"github.com/signalnine/leafdoc/internal/protocol"
	"github.com/signalnine/leafdoc/internal/render"
)

var (
	problem     string
	interactive bool
)

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose PLANT_ID",
	Short: "Start (or continue) a diagnosis for a plant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		k, err := a.kernel(cmd.Context())
		if err != nil {
			return err
		}
		view, err := k.Start(cmd.Context(), args[0], problem)
		if err != nil {
			return err
		}
		if !interactive {
			return a.printer.View(view)
		}
		return converse(cmd.Context(), k, a.printer, view, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

var replyCmd = &cobra.Command{
	Use:   "reply SESSION_ID ANSWER...",
	Short: "Answer the pending question of a diagnosis",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		k, err := a.kernel(cmd.Context())
		if err != nil {
			return err
		}
		view, err := k.Resume(cmd.Context(), args[0], strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		return a.printer.View(view)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history PLANT_ID",
	Short: "List a plant's diagnoses, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		list, err := a.readOnlyKernel().History(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return a.printer.Summaries(list)
	},
}

var sessionCmd = &cobra.Command{
	Use:   "session SESSION_ID",
	Short: "Show the full transcript of a diagnosis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		sess, err := a.readOnlyKernel().Session(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("session %s: %w", args[0], err)
		}
		return a.printer.Session(sess)
	},
}

// resumer is the part of the kernel the interactive loop needs
type resumer interface {
	Resume(ctx context.Context, sessionID, reply string) (*protocol.SessionView, error)
}

// converse prints each question, reads the answer from in and resumes until
// the diagnosis ends or input runs out
func converse(ctx context.Context, k resumer, p *render.Printer, view *protocol.SessionView, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for view.Status == protocol.StatusPendingUserInput {
		fmt.Fprintf(out, "\n%s\n> ", view.Question)
		var reply string
		for reply == "" {
			if !scanner.Scan() {
				if err := scanner.Err(); err != nil {
					return err
				}
				fmt.Fprintf(out, "\nStopped. Continue later with: leafdoc reply %s <answer>\n", view.SessionID)
				return nil
			}
			reply = strings.TrimSpace(scanner.Text())
		}

		next, err := k.Resume(ctx, view.SessionID, reply)
		if err != nil {
			return err
		}
		view = next
	}
	return p.View(view)
}

func init() {
	diagnoseCmd.Flags().StringVarP(&problem, "problem", "p", "", "what is wrong with the plant (required)")
	diagnoseCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "answer questions on stdin until the diagnosis ends")
	_ = diagnoseCmd.MarkFlagRequired("problem")
}

var _ resumer = (*kernel.Kernel)(nil)
