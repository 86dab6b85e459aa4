package commands

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/modinspect/modinspect/internal/cli/ui"
	"github.com/modinspect/modinspect/internal/inspector"
	"github.com/modinspect/modinspect/internal/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewInspectCommand creates the inspect command
func NewInspectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Scan node_modules once and print the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, projectBindings)
			if err != nil {
				return err
			}
			asJSON, _ := cmd.Flags().GetBool("json")

			ctx := cmd.Context()
			handles, err := storage.OpenHandles(ctx, cfg.StorageOptions())
			if err != nil {
				return ui.Wrap("storage unavailable", err, "Check the storage section of modinspect.yml")
			}
			defer storage.CloseAll(handles)

			svc := inspector.NewService(inspector.Config{
				Cwd:     cfg.Project.Cwd,
				Mode:    cfg.ModeValue(),
				Version: Version,
				NpmMeta: handles[storage.NpmMeta],
				Publint: handles[storage.Publint],
				Logger:  zap.NewNop(),
			})

			payload, err := svc.GetPayload(ctx, false)
			if err != nil {
				return err
			}
			md, err := svc.GetMetadata(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Metadata *inspector.Metadata `json:"metadata"`
					Payload  *inspector.Payload  `json:"payload"`
				}{md, payload})
			}

			kv := ui.NewKeyValueTable(out, color.NoColor)
			kv.AddRow("Project", md.Cwd)
			kv.AddRow("Agent", agentOrUnknown(md.Agent))
			kv.AddRow("Packages", strconv.Itoa(len(payload.Packages)))
			kv.Render()
			fmt.Fprintln(out)

			table := ui.NewTable(out, color.NoColor, "NAME", "VERSION", "LICENSE", "DEPTH", "PATH")
			for _, node := range payload.Packages {
				table.AddRow(node.Name, node.Version, node.License, strconv.Itoa(node.Depth), node.Path)
			}
			table.Render()
			return nil
		},
	}

	addProjectFlags(cmd)
	cmd.Flags().Bool("json", false, "print metadata and payload as JSON")

	return cmd
}

func agentOrUnknown(agent string) string {
	if agent == "" {
		return "unknown"
	}
	return agent
}
