// Package mcpserver registers MCP tools that expose the migration
// status and its operator controls.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/alexjbarnes/dav-sync/internal/migration"
	"github.com/alexjbarnes/dav-sync/internal/trigger"
)

// MigrationStatus reads the orchestrator's persisted state.
type MigrationStatus interface {
	Current() (migration.State, error)
	UIDisabled() (bool, error)
}

// Engine is the read side of a sync engine plus its sync request.
type Engine interface {
	Domain() string
	RequestSync()
	TimeLastSync() (int64, bool)
	SyncInProgress(account string) bool
}

// AutoSync is the device-wide master auto-sync switch.
type AutoSync interface {
	AutoSync() bool
	SetAutoSync(enabled bool) error
}

// Deps holds what the tools operate on.
type Deps struct {
	Account   string
	Migration MigrationStatus
	Kicker    trigger.Kickable
	Engines   []Engine
	AutoSync  AutoSync
}

// RegisterTools adds all tools to the given MCP server.
func RegisterTools(server *mcp.Server, d Deps) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "migration_status",
		Description: "Report the encryption upgrade state of the account, whether editing is blocked, the master auto-sync switch, and the last completed pass of each sync engine.",
	}, statusHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "migration_kick",
		Description: "Queue one run of the encryption upgrade. Runs are coalesced, so repeated kicks are cheap.",
	}, kickHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "manual_resync",
		Description: "Request a sync pass on every engine and queue an upgrade run.",
	}, resyncHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "set_auto_sync",
		Description: "Turn the device-wide automatic sync switch on or off. The upgrade cannot finish while it is off.",
	}, setAutoSyncHandler(d))
}

// --- Input types ---

// StatusInput has no parameters.
type StatusInput struct{}

// KickInput has no parameters.
type KickInput struct{}

// ResyncInput has no parameters.
type ResyncInput struct{}

// SetAutoSyncInput holds parameters for set_auto_sync.
type SetAutoSyncInput struct {
	Enabled bool `json:"enabled" jsonschema:"true to enable automatic sync, false to disable"`
}

// --- Results ---

// EngineStatus describes one sync engine.
type EngineStatus struct {
	Domain     string `json:"domain"`
	LastSync   string `json:"last_sync,omitempty"`
	InProgress bool   `json:"in_progress"`
}

// StatusResult is returned by migration_status.
type StatusResult struct {
	Account     string         `json:"account"`
	State       string         `json:"state"`
	StateCode   int            `json:"state_code"`
	Description string         `json:"description"`
	InProgress  bool           `json:"in_progress"`
	UIDisabled  bool           `json:"ui_disabled"`
	AutoSync    bool           `json:"auto_sync"`
	Engines     []EngineStatus `json:"engines"`
}

// ActionResult is returned by the control tools.
type ActionResult struct {
	Queued   bool  `json:"queued"`
	AutoSync *bool `json:"auto_sync,omitempty"`
}

// --- Handlers ---

func statusHandler(d Deps) mcp.ToolHandlerFor[StatusInput, *StatusResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ StatusInput) (*mcp.CallToolResult, *StatusResult, error) {
		s, err := d.Migration.Current()
		if err != nil {
			return nil, nil, fmt.Errorf("reading migration state: %w", err)
		}

		disabled, err := d.Migration.UIDisabled()
		if err != nil {
			return nil, nil, fmt.Errorf("reading migration state: %w", err)
		}

		result := &StatusResult{
			Account:     d.Account,
			State:       s.String(),
			StateCode:   int(s),
			Description: migration.ProgressText(s),
			InProgress:  s.InProgress(),
			UIDisabled:  disabled,
			AutoSync:    d.AutoSync.AutoSync(),
			Engines:     make([]EngineStatus, 0, len(d.Engines)),
		}

		for _, e := range d.Engines {
			es := EngineStatus{Domain: e.Domain(), InProgress: e.SyncInProgress(d.Account)}
			if ts, ok := e.TimeLastSync(); ok {
				es.LastSync = time.UnixMilli(ts).UTC().Format(time.RFC3339)
			}

			result.Engines = append(result.Engines, es)
		}

		return textResult(result), result, nil
	}
}

func kickHandler(d Deps) mcp.ToolHandlerFor[KickInput, *ActionResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ KickInput) (*mcp.CallToolResult, *ActionResult, error) {
		d.Kicker.Kick()

		result := &ActionResult{Queued: true}

		return textResult(result), result, nil
	}
}

func resyncHandler(d Deps) mcp.ToolHandlerFor[ResyncInput, *ActionResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ ResyncInput) (*mcp.CallToolResult, *ActionResult, error) {
		syncers := make([]trigger.Syncer, 0, len(d.Engines))
		for _, e := range d.Engines {
			syncers = append(syncers, e)
		}

		trigger.Resync(syncers, d.Kicker)

		result := &ActionResult{Queued: true}

		return textResult(result), result, nil
	}
}

func setAutoSyncHandler(d Deps) mcp.ToolHandlerFor[SetAutoSyncInput, *ActionResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input SetAutoSyncInput) (*mcp.CallToolResult, *ActionResult, error) {
		if err := d.AutoSync.SetAutoSync(input.Enabled); err != nil {
			return nil, nil, fmt.Errorf("setting auto-sync: %w", err)
		}

		// A wait step blocked on the switch can proceed now.
		if input.Enabled {
			d.Kicker.Kick()
		}

		enabled := input.Enabled
		result := &ActionResult{Queued: input.Enabled, AutoSync: &enabled}

		return textResult(result), result, nil
	}
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
