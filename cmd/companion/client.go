package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ribeiromatosdavi25-ai/Companion-Core/pkg/config"
	"github.com/ribeiromatosdavi25-ai/Companion-Core/pkg/gateway"
)

func newAskCmd(stdout, stderr io.Writer) *cobra.Command {
	var (
		sessionID     string
		devToken      string
		allowExternal bool
		lang          string
	)
	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Resolve one message in process and print the response",
		Example: `
# Offline answer
companion ask "what time is it?"

# Elevated external lookup
companion ask --dev-token "$COMPANION_DEV_TOKEN" --allow-external "weather in Porto"
`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			gw, err := gateway.New(cfg, gateway.WithLogger(newLogger(cfg, stderr)))
			if err != nil {
				return err
			}

			q := gateway.Query{
				Message:        strings.Join(args, " "),
				SessionID:      sessionID,
				AcceptLanguage: lang,
			}
			if devToken != "" {
				q.DevMode = &gateway.DevMode{Token: devToken, AllowExternal: allowExternal}
			}
			resp, err := gw.Handle(commandContext(cmd), q)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session id")
	cmd.Flags().StringVar(&devToken, "dev-token", "", "Dev gate token")
	cmd.Flags().BoolVar(&allowExternal, "allow-external", false, "Request elevated external access")
	cmd.Flags().StringVar(&lang, "lang", "", "Accept-Language value")
	return cmd
}

func newHealthCmd(stdout io.Writer) *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check health of a running gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if url == "" {
				cfg, err := config.Load()
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				url = "http://localhost:" + cfg.Port + "/health"
			}

			report, err := probe(cmd, url)
			if err != nil {
				_, _ = fmt.Fprintf(stdout, "Health check failed: %v\n", err)
				return err
			}
			_, _ = fmt.Fprintf(stdout, "status=%s uptime=%ds\n", report.Status, report.UptimeS)
			for name, state := range report.Breakers {
				_, _ = fmt.Fprintf(stdout, "breaker %s=%s\n", name, state)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "Health endpoint (default http://localhost:$PORT/health)")
	return cmd
}

func probe(cmd *cobra.Command, url string) (gateway.HealthReport, error) {
	var report gateway.HealthReport
	req, err := http.NewRequestWithContext(commandContext(cmd), http.MethodGet, url, nil)
	if err != nil {
		return report, err
	}
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return report, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return report, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return report, fmt.Errorf("decode health: %w", err)
	}
	return report, nil
}
