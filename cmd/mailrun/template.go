package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mailrun/mailrun/internal/recipients"
)

var (
	templateOutput string
	templateForce  bool
)

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Write a starter recipient list",
	Long: `Write a starter recipient CSV with the accepted columns and a few
sample rows. Only the recipient column is required; subject, body and
attachment columns override campaign defaults per row, and any other
column becomes a {{placeholder}} usable in the subject and body.`,
	RunE: runTemplate,
}

func init() {
	templateCmd.Flags().StringVarP(&templateOutput, "output", "o", "recipients.csv", "Output file path")
	templateCmd.Flags().BoolVar(&templateForce, "force", false, "Overwrite an existing file")

	rootCmd.AddCommand(templateCmd)
}

func runTemplate(cmd *cobra.Command, args []string) error {
	if !templateForce {
		if _, err := os.Stat(templateOutput); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", templateOutput)
		}
	}

	if err := recipients.WriteTemplate(templateOutput); err != nil {
		return err
	}

	fmt.Printf("Template written to %s\n", templateOutput)
	fmt.Println("\nRecognized columns:")
	fmt.Println("  recipient_email | email | to          recipient address (required)")
	fmt.Println("  subject                               per-row subject override")
	fmt.Println("  body_content | body | message         per-row body override")
	fmt.Println("  attachment_filename | attachment      per-row attachments, space separated")
	fmt.Println("  (any other column)                    {{placeholder}} value")

	return nil
}
