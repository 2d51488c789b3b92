package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/genloop"
	"github.com/hupe1980/genloop/config"
	"github.com/hupe1980/genloop/core"
	"github.com/hupe1980/genloop/engine"
	"github.com/hupe1980/genloop/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "genloop",
	Short:         "Tool-using image generation over a language model",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat API over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		g, err := genloop.New(ctx, *cfg)
		if err != nil {
			return err
		}
		return g.Server().ListenAndServe(ctx, cfg.Server.Addr)
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Run a single chat request and write the generated images",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		historyPath, _ := cmd.Flags().GetString("history")
		outDir, _ := cmd.Flags().GetString("out")
		selectSpec, _ := cmd.Flags().GetString("select")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		history, err := readHistory(historyPath)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		g, err := genloop.New(ctx, *cfg)
		if err != nil {
			return err
		}

		message := strings.Join(args, " ")
		res, err := g.Run(ctx, engine.RunRequest{Message: message, History: history})
		if err != nil {
			return err
		}

		if res.Pending != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "Found %d reference image(s)\n", len(res.Pending.Candidates))
			indices, err := parseSelection(selectSpec, len(res.Pending.Candidates))
			if err != nil {
				g.Cancel(*res.Pending)
				return err
			}
			images := make([]core.Image, 0, len(indices))
			for _, i := range indices {
				images = append(images, res.Pending.Candidates[i])
			}
			res, err = g.Resume(ctx, engine.ResumeRequest{Message: message, History: res.Pending.History, Images: images})
			if err != nil {
				return err
			}
		}

		return writeResult(cmd, res, historyPath, outDir)
	},
}

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools offered by the configured MCP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if !cfg.MCPEnabled() {
			return errors.New("no tool server configured (set MCP_SERVER_URL and MCP_AUTH_TOKEN)")
		}
		client, err := genloop.NewToolClient(cfg.MCP, logging.NoOpLogger{})
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), genloop.DiscoveryTimeout)
		defer cancel()

		defs, err := client.ListTools(ctx)
		if err != nil {
			return err
		}
		if len(defs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No tools offered")
			return nil
		}
		for _, d := range defs {
			fmt.Fprintf(cmd.OutOrStdout(), "%-24s %s\n", d.Function.Name, d.Function.Description)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")

	serveCmd.Flags().String("addr", "", "Listen address (overrides server.addr)")

	chatCmd.Flags().String("history", "", "JSON file holding the conversation; updated after the run")
	chatCmd.Flags().String("out", ".", "Directory for generated images")
	chatCmd.Flags().String("select", "all", "Reference images to use in selection mode: all, none or a list like 0,2")
	chatCmd.Flags().Duration("timeout", 5*time.Minute, "Overall request timeout")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(toolsCmd)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Name() == "tools" {
		return cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readHistory(path string) (core.History, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	var history core.History
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("parse history %s: %w", path, err)
	}
	return history, nil
}

// parseSelection turns "all", "none" or "0,2" into candidate indices.
func parseSelection(choice string, n int) ([]int, error) {
	switch strings.ToLower(strings.TrimSpace(choice)) {
	case "", "all":
		indices := make([]int, n)
		for i := range indices {
			indices[i] = i
		}
		return indices, nil
	case "none":
		return []int{}, nil
	}

	var indices []int
	for _, field := range strings.Split(choice, ",") {
		i, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			return nil, fmt.Errorf("invalid selection %q: %w", field, err)
		}
		if i < 0 || i >= n {
			return nil, fmt.Errorf("selection %d out of range [0,%d)", i, n)
		}
		indices = append(indices, i)
	}
	return indices, nil
}

func writeResult(cmd *cobra.Command, res *engine.Result, historyPath, outDir string) error {
	out := cmd.OutOrStdout()
	if res.Final.Text != "" {
		fmt.Fprintln(out, res.Final.Text)
	}
	if res.CapReached {
		fmt.Fprintln(out, "(tool round limit reached)")
	}

	if len(res.Final.Images) > 0 {
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return err
		}
	}
	for i, img := range res.Final.Images {
		data, err := base64.StdEncoding.DecodeString(img.Data)
		if err != nil {
			return fmt.Errorf("decode image %d: %w", i, err)
		}
		name := filepath.Join(outDir, fmt.Sprintf("%s-%d%s", res.RunID, i, extension(img.MimeType)))
		if err := os.WriteFile(name, data, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(out, "wrote %s\n", name)
	}

	if historyPath == "" {
		return nil
	}
	data, err := json.MarshalIndent(res.History, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	return os.WriteFile(historyPath, data, 0o600)
}

func extension(mime string) string {
	switch mime {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".jpg"
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
