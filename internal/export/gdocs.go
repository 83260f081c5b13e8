package export

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/docs/v1"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/voice2action/voice2action/internal/types"
)

// googleScopes covers document and spreadsheet creation plus the
// permission change that makes the artifact link-shareable.
var googleScopes = []string{
	docs.DocumentsScope,
	"https://www.googleapis.com/auth/spreadsheets",
	drive.DriveFileScope,
}

// googleCredentials loads service-account credentials from a file.
func googleCredentials(ctx context.Context, credentialsFile string) (*google.Credentials, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %v", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, googleScopes...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %v", err)
	}
	return creds, nil
}

// shareWithAnyone gives read access to anyone with the link, so the
// returned locator is directly usable.
func shareWithAnyone(driveService *drive.Service, fileID string) error {
	_, err := driveService.Permissions.Create(fileID, &drive.Permission{
		Type: "anyone",
		Role: "reader",
	}).Do()
	if err != nil {
		return fmt.Errorf("unable to share file: %v", err)
	}
	return nil
}

// GoogleDocsTarget publishes the meeting record as a Google Doc.
type GoogleDocsTarget struct {
	docs  *docs.Service
	drive *drive.Service
}

// NewGoogleDocsTarget builds the Docs export target from a
// service-account credentials file.
func NewGoogleDocsTarget(ctx context.Context, credentialsFile string) (*GoogleDocsTarget, error) {
	creds, err := googleCredentials(ctx, credentialsFile)
	if err != nil {
		return nil, err
	}

	docsService, err := docs.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("unable to create Docs service: %v", err)
	}
	driveService, err := drive.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("unable to create Drive service: %v", err)
	}

	return &GoogleDocsTarget{docs: docsService, drive: driveService}, nil
}

func (t *GoogleDocsTarget) Name() string        { return TargetDocument }
func (t *GoogleDocsTarget) RequiresTasks() bool { return false }

// Export creates a new document, inserts the rendered meeting record
// and makes it link-readable. Each call creates a fresh document; the
// coordinator is responsible for not calling twice.
func (t *GoogleDocsTarget) Export(ctx context.Context, job *types.JobRecord) (string, error) {
	doc, err := t.docs.Documents.Create(&docs.Document{
		Title: documentTitle(job),
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("unable to create document: %v", err)
	}

	_, err = t.docs.Documents.BatchUpdate(doc.DocumentId, &docs.BatchUpdateDocumentRequest{
		Requests: []*docs.Request{{
			InsertText: &docs.InsertTextRequest{
				Location: &docs.Location{Index: 1},
				Text:     buildDocumentBody(job),
			},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("unable to write document content: %v", err)
	}

	if err := shareWithAnyone(t.drive, doc.DocumentId); err != nil {
		return "", err
	}

	return fmt.Sprintf("https://docs.google.com/document/d/%s/edit", doc.DocumentId), nil
}
