package trayctl

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"llmtrayd/pkg/types"
)

// Main runs the CLI and returns the process exit code.
func Main() int {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

// buildRootCmd constructs the Cobra command tree over the API client.
func buildRootCmd() *cobra.Command {
	defaultAddr := "127.0.0.1:8080"
	if v := os.Getenv("TRAYCTL_ADDR"); v != "" {
		defaultAddr = v
	}

	var client *Client
	root := &cobra.Command{
		Use:           "trayctl",
		Short:         "Manage LLM backend connections, status and chat dispatch",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("addr", defaultAddr, "Daemon address (defaults TRAYCTL_ADDR or 127.0.0.1:8080)")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		addr, _ := cmd.Flags().GetString("addr")
		client = NewClient(addr)
	}

	// connections group
	connCmd := &cobra.Command{Use: "connections", Aliases: []string{"conn"}, Short: "Manage backend connections"}
	connLs := &cobra.Command{Use: "ls", Short: "List configured connections", RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := waitCtx()
		defer cancel()
		resp, err := client.Connections(ctx)
		if err != nil {
			return err
		}
		active := map[string]bool{}
		for _, id := range resp.Active {
			active[id] = true
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tKIND\tBASE URL\tACTIVE")
		for _, c := range resp.Connections {
			mark := ""
			if active[c.ID] {
				mark = "*"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.ID, c.Name, c.Kind, c.BaseURL, mark)
		}
		return tw.Flush()
	}}

	var addConn types.Connection
	var addKind string
	connAdd := &cobra.Command{Use: "add", Short: "Add a connection", Example: "  trayctl connections add --name local --kind container-managed --base-url http://127.0.0.1:11434 --container ollama", RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := waitCtx()
		defer cancel()
		addConn.Kind = types.ConnectionKind(addKind)
		added, err := client.AddConnection(ctx, addConn)
		if err != nil {
			return err
		}
		fmt.Println(added.ID)
		return nil
	}}
	connAdd.Flags().StringVar(&addConn.Name, "name", "", "Display name")
	connAdd.Flags().StringVar(&addKind, "kind", string(types.KindRemoteAPI), "Connection kind: container-managed|remote-api")
	connAdd.Flags().StringVar(&addConn.BaseURL, "base-url", "", "OpenAI-compatible base URL")
	connAdd.Flags().StringVar(&addConn.APIKey, "api-key", "", "Bearer credential (optional)")
	connAdd.Flags().StringVar(&addConn.Container, "container", "", "Container name (container-managed only)")

	connRm := &cobra.Command{Use: "rm <id>", Short: "Remove a connection", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := waitCtx()
		defer cancel()
		return client.RemoveConnection(ctx, args[0])
	}}
	connCmd.AddCommand(connLs, connAdd, connRm)
	root.AddCommand(connCmd)

	// active group
	activeCmd := &cobra.Command{Use: "active", Short: "Show or replace the active set"}
	activeGet := &cobra.Command{Use: "get", Short: "Show the active connection ids", RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := waitCtx()
		defer cancel()
		ids, err := client.Active(ctx)
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	}}
	activeSet := &cobra.Command{Use: "set <id>...", Short: "Replace the active set", Args: cobra.MinimumNArgs(0), RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := waitCtx()
		defer cancel()
		return client.SetActive(ctx, args)
	}}
	activeCmd.AddCommand(activeGet, activeSet)
	root.AddCommand(activeCmd)

	// status
	statusCmd := &cobra.Command{Use: "status", Short: "Show the latest status snapshot", RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := waitCtx()
		defer cancel()
		resp, err := client.Status(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CONNECTION\tREACHABILITY\tCOMPUTE\tCHECKED\tERROR")
		for id, st := range resp.Statuses {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", id, st.Reachability, st.ComputeMode, st.CheckedAt.Format("15:04:05"), st.LastError)
		}
		return tw.Flush()
	}}
	root.AddCommand(statusCmd)

	// chat
	var chatModel string
	var chatTargets []string
	var chatNoStream bool
	chatCmd := &cobra.Command{Use: "chat <prompt>", Short: "Send a prompt to the active set or explicit targets", Example: "  trayctl chat --model llama3 \"why is the sky blue\"\n  trayctl chat --target <id>=llama3 --target <id2>=gpt-4o \"compare yourselves\"", Args: cobra.MinimumNArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		req := types.ChatRequest{
			Messages: []types.ChatMessage{{Role: "user", Content: strings.Join(args, " ")}},
			Model:    chatModel,
			Stream:   !chatNoStream,
		}
		for _, t := range chatTargets {
			id, model, ok := strings.Cut(t, "=")
			if !ok {
				return fmt.Errorf("bad --target %q, want <connection-id>=<model>", t)
			}
			req.Targets = append(req.Targets, types.ChatTarget{ConnectionID: id, Model: model})
		}
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		return client.Chat(ctx, req, printChatEvent)
	}}
	chatCmd.Flags().StringVar(&chatModel, "model", "", "Model for active-set dispatch")
	chatCmd.Flags().StringArrayVar(&chatTargets, "target", nil, "Explicit target as <connection-id>=<model> (repeatable)")
	chatCmd.Flags().BoolVar(&chatNoStream, "no-stream", false, "Disable streamed deltas")
	root.AddCommand(chatCmd)

	// models group
	var modelsConn string
	modelsCmd := &cobra.Command{Use: "models", Short: "Manage models on the container-managed server"}
	modelsCmd.PersistentFlags().StringVar(&modelsConn, "connection", "", "Connection id (defaults to the sole container-managed one)")
	modelsLs := &cobra.Command{Use: "ls", Short: "List models", RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := waitCtx()
		defer cancel()
		resp, err := client.Models(ctx, modelsConn)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tDIGEST\tSIZE\tMODIFIED")
		for _, m := range resp.Models {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.Name, m.Digest, m.Size, m.Modified)
		}
		return tw.Flush()
	}}
	modelsPull := &cobra.Command{Use: "pull <name>", Short: "Pull a model, streaming progress", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		return client.PullModel(ctx, modelsConn, args[0], func(line string) error {
			fmt.Println(line)
			return nil
		})
	}}
	modelsRm := &cobra.Command{Use: "rm <name>", Short: "Remove a model", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := waitCtx()
		defer cancel()
		return client.RemoveModel(ctx, modelsConn, args[0])
	}}
	modelsCmd.AddCommand(modelsLs, modelsPull, modelsRm)
	root.AddCommand(modelsCmd)

	// server group
	var serverConn string
	serverCmd := &cobra.Command{Use: "server", Short: "Start or stop the container-managed server"}
	serverCmd.PersistentFlags().StringVar(&serverConn, "connection", "", "Connection id (defaults to the sole container-managed one)")
	serverStart := &cobra.Command{Use: "start", Short: "Start the server container", RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := waitCtx()
		defer cancel()
		return client.ServerStart(ctx, serverConn)
	}}
	serverStop := &cobra.Command{Use: "stop", Short: "Stop the server container", RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := waitCtx()
		defer cancel()
		return client.ServerStop(ctx, serverConn)
	}}
	serverPs := &cobra.Command{Use: "ps", Short: "List running containers on the runtime", RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := waitCtx()
		defer cancel()
		procs, err := client.Processes(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tIMAGE\tSTATUS")
		for _, p := range procs {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Name, p.Image, p.Status)
		}
		return tw.Flush()
	}}
	serverCmd.AddCommand(serverStart, serverStop, serverPs)
	root.AddCommand(serverCmd)

	// settings group
	settingsCmd := &cobra.Command{Use: "settings", Short: "Show or adjust daemon settings"}
	settingsGet := &cobra.Command{Use: "get", Short: "Show current settings", RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := waitCtx()
		defer cancel()
		s, err := client.Settings(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("poll interval: %ds\nprobe timeout: %ds\n", s.PollIntervalSeconds, s.ProbeTimeoutSeconds)
		return nil
	}}
	settingsInterval := &cobra.Command{Use: "set-interval <seconds>", Short: "Set the status polling interval", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("seconds must be a positive integer")
		}
		ctx, cancel := waitCtx()
		defer cancel()
		s, err := client.SetPollInterval(ctx, n)
		if err != nil {
			return err
		}
		fmt.Printf("poll interval: %ds\n", s.PollIntervalSeconds)
		return nil
	}}
	settingsTimeout := &cobra.Command{Use: "set-timeout <seconds>", Short: "Set the per-connection probe timeout", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("seconds must be a positive integer")
		}
		ctx, cancel := waitCtx()
		defer cancel()
		s, err := client.SetProbeTimeout(ctx, n)
		if err != nil {
			return err
		}
		fmt.Printf("probe timeout: %ds\n", s.ProbeTimeoutSeconds)
		return nil
	}}
	settingsCmd.AddCommand(settingsGet, settingsInterval, settingsTimeout)
	root.AddCommand(settingsCmd)

	return root
}

// printChatEvent renders one dispatch event. With multiple targets the
// deltas interleave, so each is prefixed with its connection id.
func printChatEvent(ev types.ChatEvent) error {
	if ev.Record != nil {
		rec := ev.Record
		switch rec.State {
		case types.RecordComplete:
			fmt.Printf("\n[%s] done", ev.ConnectionID)
			if rec.Usage != nil {
				fmt.Printf(" (%d tokens)", rec.Usage.TotalTokens)
			}
			fmt.Println()
		case types.RecordFailed:
			fmt.Printf("\n[%s] failed: %s\n", ev.ConnectionID, rec.Err)
		}
		return nil
	}
	if ev.Delta != "" {
		fmt.Printf("[%s] %s", ev.ConnectionID, ev.Delta)
	}
	return nil
}
