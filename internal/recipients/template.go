package recipients

import (
	"fmt"
	"os"
)

// TemplateCSV is the starter recipient list written by the template
// command. Only the recipient column is required; the other columns
// override campaign defaults per row, and any extra column can be used
// as a {{placeholder}} in the subject or body.
const TemplateCSV = `recipient_email,name,subject,attachment_filename,body_content
alice@example.com,Alice,Welcome aboard,,"Hello {{name}}, glad to have you with us."
bob@example.com,Bob,,"""quarterly report.pdf"" notes.txt",
carol@example.com,,,,
`

// WriteTemplate writes the starter recipient list to path.
func WriteTemplate(path string) error {
	if err := os.WriteFile(path, []byte(TemplateCSV), 0644); err != nil {
		return fmt.Errorf("failed to write template: %w", err)
	}
	return nil
}
