package export

import (
	"context"
	"fmt"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/voice2action/voice2action/internal/types"
)

// GoogleSheetsTarget publishes the extracted tasks as a spreadsheet.
type GoogleSheetsTarget struct {
	sheets *sheets.Service
	drive  *drive.Service
}

// NewGoogleSheetsTarget builds the Sheets export target from a
// service-account credentials file.
func NewGoogleSheetsTarget(ctx context.Context, credentialsFile string) (*GoogleSheetsTarget, error) {
	creds, err := googleCredentials(ctx, credentialsFile)
	if err != nil {
		return nil, err
	}

	sheetsService, err := sheets.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %v", err)
	}
	driveService, err := drive.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("unable to create Drive service: %v", err)
	}

	return &GoogleSheetsTarget{sheets: sheetsService, drive: driveService}, nil
}

func (t *GoogleSheetsTarget) Name() string        { return TargetSpreadsheet }
func (t *GoogleSheetsTarget) RequiresTasks() bool { return true }

// Export creates a spreadsheet with one row per extracted task and
// makes it link-readable.
func (t *GoogleSheetsTarget) Export(ctx context.Context, job *types.JobRecord) (string, error) {
	spreadsheet, err := t.sheets.Spreadsheets.Create(&sheets.Spreadsheet{
		Properties: &sheets.SpreadsheetProperties{Title: documentTitle(job)},
		Sheets: []*sheets.Sheet{{
			Properties: &sheets.SheetProperties{Title: "Tasks"},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("unable to create spreadsheet: %v", err)
	}

	_, err = t.sheets.Spreadsheets.Values.Update(spreadsheet.SpreadsheetId, "Tasks!A1",
		&sheets.ValueRange{Values: taskRows(job.Analysis.Tasks)}).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("unable to write task rows: %v", err)
	}

	if err := shareWithAnyone(t.drive, spreadsheet.SpreadsheetId); err != nil {
		return "", err
	}

	return fmt.Sprintf("https://docs.google.com/spreadsheets/d/%s/edit", spreadsheet.SpreadsheetId), nil
}
