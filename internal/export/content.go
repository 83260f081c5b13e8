package export

import (
	"fmt"
	"strings"

	"github.com/voice2action/voice2action/internal/types"
)

// documentTitle names the external artifact after the upload.
func documentTitle(job *types.JobRecord) string {
	return fmt.Sprintf("Meeting notes - %s (%s)", job.Filename, job.CreatedAt.Format("2006-01-02"))
}

// buildDocumentBody renders the analysis into the plain-text layout
// used for document exports: summary, key points, decisions, the task
// list and the full transcript as an appendix.
func buildDocumentBody(job *types.JobRecord) string {
	a := job.Analysis
	var b strings.Builder

	b.WriteString("SUMMARY\n\n")
	b.WriteString(a.Summary)
	b.WriteString("\n")

	if len(a.KeyPoints) > 0 {
		b.WriteString("\nKEY POINTS\n\n")
		for _, point := range a.KeyPoints {
			fmt.Fprintf(&b, "- %s\n", point)
		}
	}

	if len(a.Decisions) > 0 {
		b.WriteString("\nDECISIONS\n\n")
		for _, decision := range a.Decisions {
			fmt.Fprintf(&b, "- %s\n", decision)
		}
	}

	if len(a.Tasks) > 0 {
		b.WriteString("\nACTION ITEMS\n\n")
		for i, task := range a.Tasks {
			fmt.Fprintf(&b, "%d. %s\n   Deadline: %s | Assignee: %s | Priority: %s\n",
				i+1, task.Description, task.Deadline, task.Assignee, task.Priority)
		}
	}

	b.WriteString("\nTRANSCRIPT\n\n")
	b.WriteString(job.Transcript)
	b.WriteString("\n")

	return b.String()
}

// taskRows renders the header plus one row per extracted task for
// spreadsheet exports.
func taskRows(tasks []types.Task) [][]any {
	rows := make([][]any, 0, len(tasks)+1)
	rows = append(rows, []any{"Task", "Deadline", "Assignee", "Priority"})
	for _, task := range tasks {
		rows = append(rows, []any{task.Description, task.Deadline, task.Assignee, task.Priority})
	}
	return rows
}
