package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/PipeOpsHQ/campaign-engine/app/campaigns"
	"github.com/PipeOpsHQ/campaign-engine/state"
)

func newImportCmd(opts *rootOptions) *cobra.Command {
	var (
		name        string
		agentID     string
		subject     string
		content     string
		contentFile string
		format      string
	)
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Create a draft campaign from a CSV or JSON recipient list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if contentFile != "" {
				raw, err := os.ReadFile(contentFile)
				if err != nil {
					return err
				}
				content = string(raw)
			}
			if strings.TrimSpace(name) == "" {
				name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}

			imported, err := campaigns.ParseRecipients(campaigns.ImportInput{
				Data:   data,
				Format: campaigns.Format(strings.ToLower(format)),
				Source: filepath.Base(args[0]),
			})
			if err != nil {
				return err
			}

			app, closeApp, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeApp()

			c, err := app.CreateCampaign(cmd.Context(), campaigns.CreateInput{
				Name:     name,
				AgentID:  agentID,
				Template: state.Template{Subject: subject, Content: content},
				Import:   imported,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			m := imported.Mapping
			_, _ = fmt.Fprintf(out, "mapped email=%q name=%q company=%q title=%q location=%q extra=%v\n",
				m.Email, m.Name, m.Company, m.Title, m.Location, m.Extra)
			_, _ = fmt.Fprintf(out, "%d rows, %d skipped, %d duplicates\n", imported.TotalRows, imported.Skipped, imported.Duplicates)
			printCampaign(out, c, false)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Campaign name (default: file name)")
	cmd.Flags().StringVar(&agentID, "agent", "", "Agent id used to write personalized emails")
	cmd.Flags().StringVar(&subject, "subject", "", "Template subject (handlebars)")
	cmd.Flags().StringVar(&content, "content", "", "Template body (handlebars)")
	cmd.Flags().StringVar(&contentFile, "content-file", "", "Read the template body from a file")
	cmd.Flags().StringVar(&format, "format", "", "Input format: csv or json (default: by extension)")
	return cmd
}

func newResetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Pause every processing campaign",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, closeApp, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeApp()

			ids, err := app.Reset(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "paused %d campaigns\n", len(ids))
			for _, id := range ids {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", id)
			}
			return nil
		},
	}
}

func newSettingsCmd(opts *rootOptions) *cobra.Command {
	var (
		sender    string
		name      string
		signature string
		delay     int
	)
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or update sender settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, closeApp, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeApp()

			settings, err := app.Store.LoadSettings(cmd.Context())
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			changed := false
			if flags.Changed("sender") {
				settings.DefaultSender, changed = strings.TrimSpace(sender), true
			}
			if flags.Changed("name") {
				settings.SenderName, changed = strings.TrimSpace(name), true
			}
			if flags.Changed("signature") {
				settings.Signature, changed = strings.ReplaceAll(signature, `\n`, "\n"), true
			}
			if flags.Changed("delay") {
				if delay <= 0 {
					return fmt.Errorf("delay must be positive")
				}
				settings.DelaySeconds, changed = delay, true
			}
			if changed {
				if err := app.Store.SaveSettings(cmd.Context(), settings); err != nil {
					return err
				}
			}

			settings = settings.Normalize()
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "from       %s\n", settings.From())
			_, _ = fmt.Fprintf(out, "delay      %s\n", settings.Delay())
			_, _ = fmt.Fprintf(out, "signature  %q\n", settings.Signature)
			return nil
		},
	}
	cmd.Flags().StringVar(&sender, "sender", "", "Sender address")
	cmd.Flags().StringVar(&name, "name", "", "Sender display name")
	cmd.Flags().StringVar(&signature, "signature", "", `Signature appended to every email ("\n" for line breaks)`)
	cmd.Flags().IntVar(&delay, "delay", 0, "Seconds between recipients")
	return cmd
}

func newAgentCmd(opts *rootOptions) *cobra.Command {
	var (
		name       string
		definition string
		tone       string
		language   string
	)
	cmd := &cobra.Command{
		Use:   "agent <agent-id>",
		Short: "Create or update the persona used for personalized campaigns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, closeApp, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeApp()

			agent, err := app.Store.LoadAgent(cmd.Context(), args[0])
			if err != nil && !isNotFound(err) {
				return err
			}
			agent.ID = args[0]
			flags := cmd.Flags()
			if flags.Changed("name") {
				agent.Name = name
			}
			if flags.Changed("definition") {
				agent.Definition = definition
			}
			if flags.Changed("tone") {
				agent.Tone = tone
			}
			if flags.Changed("language") {
				agent.Language = language
			}
			if strings.TrimSpace(agent.Definition) == "" {
				return fmt.Errorf("agent definition is required")
			}
			if err := app.Store.SaveAgent(cmd.Context(), agent); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "agent %s saved\n", agent.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&definition, "definition", "", "Persona and offer description")
	cmd.Flags().StringVar(&tone, "tone", "", "Writing tone")
	cmd.Flags().StringVar(&language, "language", "", "Language hint such as nl or de")
	return cmd
}
