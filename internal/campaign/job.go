// Package campaign turns a recipient list into per-recipient send jobs
// and executes them sequentially over a shared SMTP session, reporting
// progress as an ordered event stream.
package campaign

import (
	"github.com/mailrun/mailrun/internal/recipients"
)

// SendJob is one fully resolved send. All per-row overrides and
// placeholder substitutions are applied when the job is built, so a
// job carries everything needed to compose its message.
type SendJob struct {
	Recipient   string
	Subject     string
	Body        string
	Attachments []string
	Cc          []string
	Bcc         []string
}

// Options holds the campaign-level settings applied to every job.
type Options struct {
	// DefaultSubject and DefaultBody are used when a row has no
	// override of its own.
	DefaultSubject string
	DefaultBody    string

	// Cc and Bcc are shared by all jobs of the campaign.
	Cc  []string
	Bcc []string

	// Attachments are appended after any per-row attachments.
	Attachments []string
}

// BuildJobs resolves recipient rows into send jobs, in row order.
func BuildJobs(rows []recipients.Row, opts Options) []SendJob {
	jobs := make([]SendJob, 0, len(rows))

	for _, row := range rows {
		subject := row.Subject
		if subject == "" {
			subject = opts.DefaultSubject
		}
		body := row.Body
		if body == "" {
			body = opts.DefaultBody
		}

		var attachments []string
		if n := len(row.Attachments) + len(opts.Attachments); n > 0 {
			attachments = make([]string, 0, n)
			attachments = append(attachments, row.Attachments...)
			attachments = append(attachments, opts.Attachments...)
		}

		jobs = append(jobs, SendJob{
			Recipient:   row.Email,
			Subject:     renderTemplate(subject, row.Extra),
			Body:        renderTemplate(body, row.Extra),
			Attachments: attachments,
			Cc:          opts.Cc,
			Bcc:         opts.Bcc,
		})
	}

	return jobs
}
