package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ckdt/internal/checklist"
	"ckdt/internal/domain"
	"ckdt/internal/engine"
	"ckdt/internal/session"
)

type itemRef struct {
	sectionID string
	itemID    string
}

func checklistCmd() *cobra.Command {
	c := &cobra.Command{Use: "checklist", Short: "Walk a service's documents at the counter"}
	c.AddCommand(checklistWalkCmd())
	c.AddCommand(checklistProgressCmd())
	return c
}

func checklistWalkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "walk <service-id>",
		Short: "Check documents interactively",
		Long:  "Type an item number to check or uncheck it, 'r' to reset, 'q' to leave. Nothing is saved.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				store := session.NewStore(e, session.Config{Logger: log.New(os.Stderr, "", 0)})
				return walk(ctx, store, args[0], cmd.InOrStdin(), cmd.OutOrStdout())
			})
		},
	}
}

func walk(ctx context.Context, store *session.Store, serviceID string, in io.Reader, out io.Writer) error {
	v, err := store.Open(ctx, serviceID)
	if err != nil {
		return err
	}
	defer store.Leave(v.SessionID)
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprintf(out, "%s [%s]\n", v.Service.Title, v.Service.Category)
		refs := renderChecklist(out, v.Service, &v.Summary)
		if v.Summary.Complete {
			fmt.Fprintln(out, "All required documents checked.")
		}
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		cmd := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(cmd) {
		case "":
			continue
		case "q", "quit":
			return nil
		case "r", "reset":
			if v, err = store.Reset(ctx, v.SessionID); err != nil {
				return err
			}
			continue
		}
		n, convErr := strconv.Atoi(cmd)
		if convErr != nil || n < 1 || n > len(refs) {
			fmt.Fprintf(out, "unknown choice %q\n", cmd)
			continue
		}
		ref := refs[n-1]
		if v, err = store.Toggle(ctx, v.SessionID, ref.sectionID, ref.itemID); err != nil {
			return err
		}
	}
}

func checklistProgressCmd() *cobra.Command {
	var checked []string
	cmd := &cobra.Command{
		Use:   "progress <service-id>",
		Short: "Evaluate a service against a set of checked item ids",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				svc, err := e.GetService(ctx, args[0])
				if err != nil {
					return err
				}
				st := checklist.State{}
				for _, id := range checked {
					st[strings.TrimSpace(id)] = struct{}{}
				}
				view := st.Apply(checklist.NormalizeLegacyGroups(svc))
				sum := checklist.Summarize(view)
				if viper.GetBool("json") {
					return printJSON(sum)
				}
				fmt.Printf("%s [%s]\n", view.Title, view.Category)
				renderChecklist(os.Stdout, view, &sum)
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&checked, "checked", nil, "checked item ids")
	return cmd
}

// renderChecklist prints one numbered row per item and returns the item
// behind each number. Section status columns are shown when sum is set.
func renderChecklist(w io.Writer, svc domain.Service, sum *checklist.Summary) []itemRef {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"#", "", "Document", "Tags", "Observation"})
	var refs []itemRef
	for i, s := range svc.Sections {
		title := s.Title
		switch {
		case s.IsAlternative:
			title += " (one of)"
		case s.IsOptional:
			title += " (optional)"
		}
		if sum != nil && i < len(sum.Sections) {
			status := fmt.Sprintf("%.0f%%", sum.Sections[i].Percentage)
			if sum.Sections[i].Complete {
				status = "ok"
			}
			title += " [" + status + "]"
		}
		tw.AppendSeparator()
		tw.AppendRow(table.Row{"", "", text.Bold.Sprint(title), "", ""})
		for _, it := range s.Items {
			refs = append(refs, itemRef{sectionID: s.ID, itemID: it.ID})
			mark := "[ ]"
			if it.IsCompleted {
				mark = "[x]"
			}
			doc := it.Text
			if it.IsOptional {
				doc += " (optional)"
			}
			tags := make([]string, 0, len(it.Tags))
			for _, tag := range it.Tags {
				tags = append(tags, string(tag))
			}
			tw.AppendRow(table.Row{len(refs), mark, doc, strings.Join(tags, ", "), it.Observation})
		}
	}
	if sum != nil {
		tw.AppendFooter(table.Row{"", "", fmt.Sprintf("%d/%d sections, %.0f%%", sum.Progress.CompletedCount, sum.Progress.TotalCount, sum.Progress.Percentage),
			fmt.Sprintf("%d/%d items", sum.Items.Completed, sum.Items.Total), ""})
	}
	tw.Render()
	return refs
}
