// roamctl is the operator CLI for roamd.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	baseURL string
	owner   string
	natsURL string
	logger  *zap.Logger
)

func main() {
	logger, _ = zap.NewDevelopment()
	defer func() { _ = logger.Sync() }()

	root := &cobra.Command{
		Use:           "roamctl",
		Short:         "Control remote browser instances through roamd",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&baseURL, "addr", envOr("ROAMD_ADDR", "http://localhost:8080"), "roamd base URL")
	root.PersistentFlags().StringVar(&owner, "owner", envOr("ROAM_OWNER", ""), "owner identity")
	root.PersistentFlags().StringVar(&natsURL, "nats", envOr("NATS_URL", ""), "NATS URL for CLI events (optional)")

	root.AddCommand(
		launchCmd(), instancesCmd(), getInstanceCmd(), terminateCmd(), healthCmd(),
		sessionsCmd(), createSessionCmd(), closeSessionCmd(),
		execCmd(), getCommandCmd(), attachCmd(), detachCmd(),
	)

	if err := root.Execute(); err != nil {
		logger.Error("command failed", zap.Error(err))
		os.Exit(1)
	}
}

func launchCmd() *cobra.Command {
	var class, region string
	cmd := &cobra.Command{
		Use:   "launch",
		Short: "Launch a new browser instance",
		RunE: func(_ *cobra.Command, _ []string) error {
			err := post("/instances/launch", map[string]string{
				"instance_class": class,
				"region":         region,
			})
			if err == nil {
				publishCLIEvent(map[string]any{"event": "cli.launch", "owner": owner, "region": region})
			}
			return err
		},
	}
	cmd.Flags().StringVar(&class, "class", "t3.medium", "instance class")
	cmd.Flags().StringVar(&region, "region", "us-east-1", "region")
	return cmd
}

func instancesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "instances",
		Short: "List your instances",
		RunE: func(_ *cobra.Command, _ []string) error {
			return get("/instances")
		},
	}
}

func getInstanceCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Show one instance",
		RunE: func(_ *cobra.Command, _ []string) error {
			return get("/instances/get?id=" + id)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "instance id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func terminateCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "terminate",
		Short: "Terminate an instance",
		RunE: func(_ *cobra.Command, _ []string) error {
			return post("/instances/terminate", map[string]string{"id": id})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "instance id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func healthCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Run a health check against an instance",
		RunE: func(_ *cobra.Command, _ []string) error {
			return get("/instances/health?id=" + id)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "instance id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func sessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List your sessions",
		RunE: func(_ *cobra.Command, _ []string) error {
			return get("/sessions")
		},
	}
}

func createSessionCmd() *cobra.Command {
	var instanceID string
	cmd := &cobra.Command{
		Use:   "create-session",
		Short: "Open a browser session on a running instance",
		RunE: func(_ *cobra.Command, _ []string) error {
			return post("/sessions/create", map[string]string{"instance_id": instanceID})
		},
	}
	cmd.Flags().StringVar(&instanceID, "instance", "", "instance id")
	_ = cmd.MarkFlagRequired("instance")
	return cmd
}

func closeSessionCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "close-session",
		Short: "Close a browser session",
		RunE: func(_ *cobra.Command, _ []string) error {
			return post("/sessions/close", map[string]string{"id": id})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "session id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func execCmd() *cobra.Command {
	var instanceID, cmdType, paramsJSON string
	cmd := &cobra.Command{
		Use:   "exec",
		Short: "Execute an automation command",
		RunE: func(_ *cobra.Command, _ []string) error {
			params := map[string]any{}
			if paramsJSON != "" {
				if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
					return fmt.Errorf("invalid --params JSON: %w", err)
				}
			}
			return post("/commands/execute", map[string]any{
				"instance_id": instanceID,
				"type":        cmdType,
				"params":      params,
			})
		},
	}
	cmd.Flags().StringVar(&instanceID, "instance", "", "instance id")
	cmd.Flags().StringVar(&cmdType, "type", "navigate", "command type")
	cmd.Flags().StringVar(&paramsJSON, "params", "", "command parameters as JSON")
	_ = cmd.MarkFlagRequired("instance")
	return cmd
}

func getCommandCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "command",
		Short: "Show one command",
		RunE: func(_ *cobra.Command, _ []string) error {
			return get("/commands/get?id=" + id)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "command id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func attachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach",
		Short: "Attach an executor channel for your owner identity",
		RunE: func(_ *cobra.Command, _ []string) error {
			return post("/channels/attach", map[string]string{})
		},
	}
}

func detachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detach",
		Short: "Detach your executor channel (force-closes active sessions)",
		RunE: func(_ *cobra.Command, _ []string) error {
			return post("/channels/detach", map[string]string{})
		},
	}
}

func get(path string) error {
	req, err := http.NewRequest(http.MethodGet, baseURL+path, nil)
	if err != nil {
		return err
	}
	return do(req)
}

func post(path string, body any) error {
	bs, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, baseURL+path, bytes.NewReader(bs))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return do(req)
}

func do(req *http.Request) error {
	if owner != "" {
		req.Header.Set("X-Roam-Owner", owner)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, out, "", "  ") == nil {
		out = pretty.Bytes()
	}
	fmt.Println(string(out))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("roamd returned %s", resp.Status)
	}
	return nil
}

func publishCLIEvent(ev map[string]any) {
	if natsURL == "" {
		return
	}
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return
	}
	defer nc.Drain()
	b, _ := json.Marshal(ev)
	_ = nc.Publish("roam.events.cli", b)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
