package main

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mailrun/mailrun/internal/config"
)

var (
	initProvider string
	initHost     string
	initPort     int
	initUsername string
	initFrom     string
	initOutput   string
	initForce    bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a mailrun configuration file",
	Long: `Interactive wizard to create a mailrun configuration file.

Presets are available for common providers; pick "custom" for anything
else. The password is never written to the file: mailrun reads it from
the MAILRUN_SMTP_PASSWORD environment variable or prompts for it when a
campaign starts.

Examples:
  # Interactive mode - prompts for missing values
  mailrun init

  # Non-interactive with all flags
  mailrun init --provider gmail --username me@gmail.com --from me@gmail.com -o mailrun.yaml`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initProvider, "provider", "", "Provider preset: "+strings.Join(providerNames(), ", ")+", custom")
	initCmd.Flags().StringVar(&initHost, "host", "", "SMTP host (custom provider)")
	initCmd.Flags().IntVar(&initPort, "port", 0, "SMTP port (custom provider)")
	initCmd.Flags().StringVar(&initUsername, "username", "", "SMTP username")
	initCmd.Flags().StringVar(&initFrom, "from", "", "Sender address")
	initCmd.Flags().StringVarP(&initOutput, "output", "o", "mailrun.yaml", "Output configuration file path")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config file")

	rootCmd.AddCommand(initCmd)
}

func providerNames() []string {
	names := make([]string, 0, len(config.Presets))
	for name := range config.Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func runInit(cmd *cobra.Command, args []string) error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("Mailrun Configuration Wizard")
	fmt.Println("============================")
	fmt.Println()

	if initProvider == "" {
		initProvider = prompt(reader, "Provider ("+strings.Join(providerNames(), ", ")+", custom)", "custom")
	}

	preset, known := config.Presets[initProvider]
	if !known && initProvider != "custom" {
		return fmt.Errorf("unknown provider %q (expected one of: %s, custom)", initProvider, strings.Join(providerNames(), ", "))
	}

	if known {
		initHost = preset.Host
		initPort = preset.Port
	} else {
		if initHost == "" {
			initHost = prompt(reader, "SMTP host", "")
			if initHost == "" {
				return fmt.Errorf("smtp host is required")
			}
		}
		if initPort == 0 {
			portStr := prompt(reader, "SMTP port", "587")
			port, err := strconv.Atoi(portStr)
			if err != nil {
				return fmt.Errorf("invalid port %q", portStr)
			}
			initPort = port
		}
	}

	if initUsername == "" {
		initUsername = prompt(reader, "SMTP username", "")
	}

	if initFrom == "" {
		defaultFrom := initUsername
		if !strings.Contains(defaultFrom, "@") {
			defaultFrom = ""
		}
		initFrom = prompt(reader, "Sender address", defaultFrom)
		if initFrom == "" {
			return fmt.Errorf("sender address is required")
		}
	}

	if !initForce {
		if _, err := os.Stat(initOutput); err == nil {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", initOutput)
		}
	}

	encryption := config.EncryptionSTARTTLS
	if known {
		encryption = preset.Encryption
	} else if initPort == 465 {
		encryption = config.EncryptionTLS
	}

	content := generateConfig(encryption)
	if err := os.WriteFile(initOutput, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Println()
	fmt.Printf("Configuration saved to: %s\n", initOutput)
	fmt.Println()
	fmt.Println("The password is not stored. Before sending, either:")
	fmt.Println("  export MAILRUN_SMTP_PASSWORD=...")
	fmt.Println("or let mailrun prompt for it.")
	fmt.Println()
	fmt.Printf("Next: mailrun template && mailrun send -c %s recipients.csv\n", initOutput)

	return nil
}

func prompt(reader *bufio.Reader, question, defaultValue string) string {
	if defaultValue != "" {
		fmt.Printf("%s [%s]: ", question, defaultValue)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultValue
	}
	return input
}

func generateConfig(encryption string) string {
	return fmt.Sprintf(`smtp:
  host: "%s"
  port: %d
  encryption: "%s"
  username: "%s"
  # password is read from MAILRUN_SMTP_PASSWORD or prompted, never stored here
  from: "%s"
  timeout: 30s

send:
  delay: 5s
  jitter: true
  default_subject: ""
  default_body: ""
  # cc: []
  # bcc: []
  # attachments: []

# dkim:
#   enabled: true
#   domain: "example.com"
#   selector: "mailrun"
#   key_file: "dkim/example.com.key"

logging:
  level: "info"
  format: "text"

# metrics:
#   enabled: true
#   listen_addr: "127.0.0.1:9091"
`, initHost, initPort, encryption, initUsername, initFrom)
}
