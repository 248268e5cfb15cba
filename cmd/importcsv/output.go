package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	importrepo "github.com/FACorreiaa/smart-expense-tagger/internal/domain/import/repository"
	importservice "github.com/FACorreiaa/smart-expense-tagger/internal/domain/import/service"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow, color.Bold)
	red    = color.New(color.FgRed)
	faint  = color.New(color.Faint)
	tagged = color.New(color.BgGreen, color.FgBlack)
)

func header(text string) {
	line := strings.Repeat("=", 60)
	green.Printf("\n%s\n  %s\n%s\n\n", line, text, line)
}

func info(text string) {
	fmt.Printf("  → %s\n", text)
}

func warning(text string) {
	yellow.Printf("  ⚠ %s\n", text)
}

func printError(text string) {
	red.Printf("Error: %s\n", text)
}

func printStaged(s *importservice.StagedImport) {
	rows := s.Rows()
	fmt.Println()
	for _, r := range rows {
		fmt.Printf("  %4d  %s  %12d  %-40s ", r.TempID, r.Date, r.Amount, truncate(r.Description, 40))
		if r.SelectedTag != nil {
			tagged.Printf(" %s ", *r.SelectedTag)
		} else {
			faint.Print(" untagged ")
		}
		fmt.Println()
		if r.DateWarning != "" {
			warning(r.DateWarning)
		}
	}
	for _, e := range s.Errors() {
		red.Printf("  row %d skipped: %s\n", e.Row, e.Reason)
	}
	fmt.Println()
	info(fmt.Sprintf("%d rows staged, %d skipped", len(rows), s.ErrorCount()))
}

func printProgress(p importservice.Progress) {
	fmt.Printf("\r  → saving %d/%d", p.Processed, p.Total)
	if p.Processed == p.Total {
		fmt.Println()
	}
}

func printResult(r *importservice.CommitResult) {
	c := green
	if r.Status != importrepo.StatusCompleted {
		c = yellow
	}
	c.Printf("\n  import %s %s: %d saved, %d failed of %d rows\n", r.ImportID, r.Status, r.SuccessCount, r.ErrorCount, r.RowCount)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
