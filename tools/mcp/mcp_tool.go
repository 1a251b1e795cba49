// Package mcp exposes the tools of external MCP servers as analyzer tools.
package mcp

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/volary-ai/analyzer-agent/errors"
	"github.com/volary-ai/analyzer-agent/tools"
)

// ServerConfig describes how to start one MCP server.
type ServerConfig struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// Client manages the connection to a single MCP server subprocess.
type Client struct {
	Name  string
	cmd   *exec.Cmd
	conn  *mcpsdk.ClientSession
	tools []*Tool
	log   zerolog.Logger
}

// Connect starts the MCP server subprocess and discovers its tools.
func Connect(ctx context.Context, cfg ServerConfig, log zerolog.Logger) (*Client, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Stderr = os.Stderr
	log = log.With().Str("mcp_server", cfg.Name).Logger()

	sdk := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "volary-analyzer", Version: "v1.0.0"}, nil)
	conn, err := sdk.Connect(ctx, mcpsdk.NewCommandTransport(cmd))
	if err != nil {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		return nil, errors.Wrapf(err, "failed to connect to MCP server '%s'", cfg.Name)
	}
	c := &Client{Name: cfg.Name, cmd: cmd, conn: conn, log: log}

	params := &mcpsdk.ListToolsParams{}
	for {
		list, err := conn.ListTools(ctx, params)
		if err != nil {
			_ = c.Close()
			return nil, errors.Wrapf(err, "failed to list tools from MCP server '%s'", cfg.Name)
		}
		for _, t := range list.Tools {
			schema, err := convertSchema(t.InputSchema)
			if err != nil {
				log.Warn().Err(err).Str("tool", t.Name).Msg("skipping MCP tool with unusable input schema")
				continue
			}
			c.tools = append(c.tools, &Tool{name: t.Name, description: t.Description, params: schema, client: c})
		}
		if list.NextCursor == "" {
			break
		}
		params.Cursor = list.NextCursor
	}

	log.Info().Int("tools", len(c.tools)).Msg("initialized MCP client")
	return c, nil
}

// convertSchema re-reads the server's JSON schema as a tools.Schema. A server
// that declares no schema gets an empty object.
func convertSchema(in any) (*tools.Schema, error) {
	out := &tools.Schema{Type: "object", Properties: map[string]*tools.Schema{}}
	if in == nil {
		return out, nil
	}
	data, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	if string(data) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return nil, err
	}
	if out.Type == "" {
		out.Type = "object"
	}
	return out, nil
}

// Tools returns the tools the server provides.
func (c *Client) Tools() []tools.Tool {
	out := make([]tools.Tool, 0, len(c.tools))
	for _, t := range c.tools {
		out = append(out, t)
	}
	return out
}

// Close ends the session and terminates the MCP server subprocess.
func (c *Client) Close() error {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		c.log.Debug().Msg("terminating MCP server")
		return c.cmd.Process.Kill()
	}
	return nil
}

// ConnectAll starts every configured server. On failure the servers already
// started are closed again.
func ConnectAll(ctx context.Context, cfgs []ServerConfig, log zerolog.Logger) ([]*Client, error) {
	var clients []*Client
	for _, cfg := range cfgs {
		c, err := Connect(ctx, cfg, log)
		if err != nil {
			CloseAll(clients)
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, nil
}

// CloseAll closes every client, ignoring errors.
func CloseAll(clients []*Client) {
	for _, c := range clients {
		_ = c.Close()
	}
}

// Tool is a tool provided by an external MCP server.
type Tool struct {
	name        string
	description string
	params      *tools.Schema
	client      *Client
}

// Name returns the tool's short name. Server-qualified names such as
// "server:tool" are rejected by some providers.
func (t *Tool) Name() string { return t.name }

func (t *Tool) Description() string { return t.description }

func (t *Tool) Parameters() *tools.Schema { return t.params }

// Call forwards the arguments to the server and concatenates the text content
// of the reply.
func (t *Tool) Call(ctx context.Context, raw json.RawMessage) (tools.Result, error) {
	args := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return tools.Result{}, errors.Wrapf(err, "invalid arguments for %s", t.name)
		}
	}
	res, err := t.client.conn.CallTool(ctx, &mcpsdk.CallToolParams{Name: t.name, Arguments: args})
	if err != nil {
		return tools.Result{}, errors.Wrapf(err, "failed to call tool '%s'", t.name)
	}
	var sb strings.Builder
	for _, c := range res.Content {
		if text, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(text.Text)
		}
	}
	if res.IsError {
		return tools.Result{}, errors.New("tool '%s' failed: %s", t.name, sb.String())
	}
	return tools.Text(sb.String()), nil
}
