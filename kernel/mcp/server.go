package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/openziti/hostctl/kernel/engine"
	"github.com/openziti/hostctl/kernel/model"
	"github.com/pkg/errors"
)

const StatusUri = "hostctl://status"

// Backend is satisfied by api.Client (a remote controller) and by ControllerBackend (in-process).
type Backend interface {
	Resources(ctx context.Context) ([]engine.StateView, error)
	State(ctx context.Context, resourceId string) (engine.StateView, error)
	Request(ctx context.Context, resourceId string, kind model.OperationKind) (*engine.Accepted, error)
}

type HostctlMCPServer struct {
	server  *server.MCPServer
	backend Backend
}

func NewHostctlMCPServer(b Backend) *HostctlMCPServer {
	srv := server.NewMCPServer(
		"hostctl",
		"v1.0.0",
		server.WithResourceCapabilities(true, true),
		server.WithToolCapabilities(true),
	)

	hs := &HostctlMCPServer{
		server:  srv,
		backend: b,
	}

	hs.registerTools()
	hs.registerResources()

	return hs
}

func (hs *HostctlMCPServer) ServeStdio() error {
	return server.ServeStdio(hs.server)
}

func (hs *HostctlMCPServer) registerTools() {
	hs.server.AddTool(mcp.NewTool("list_resources",
		mcp.WithDescription("List every controlled host and service with its lifecycle state"),
	), hs.listResourcesHandler)

	hs.server.AddTool(mcp.NewTool("get_state",
		mcp.WithDescription("Get the lifecycle state of one resource, including any pending operation and its remaining timeout"),
		mcp.WithString("resource_id",
			mcp.Description("Resource id from list_resources"),
			mcp.Required(),
		),
	), hs.getStateHandler)

	kinds := make([]string, 0, 4)
	for _, k := range model.OperationKinds() {
		kinds = append(kinds, string(k))
	}
	hs.server.AddTool(mcp.NewTool("request_operation",
		mcp.WithDescription("Request a power or service operation. The resource enters its transitional state at once; "+
			"poll get_state to see it confirmed or reverted."),
		mcp.WithString("resource_id",
			mcp.Description("Resource id from list_resources"),
			mcp.Required(),
		),
		mcp.WithString("operation",
			mcp.Description("Operation to perform"),
			mcp.Required(),
			mcp.Enum(kinds...),
		),
	), hs.requestOperationHandler)
}

func (hs *HostctlMCPServer) registerResources() {
	resource := mcp.NewResource(StatusUri, "hostctl status",
		mcp.WithResourceDescription("Current lifecycle state of all controlled resources"),
		mcp.WithMIMEType("application/json"),
	)
	hs.server.AddResource(resource, hs.statusHandler)
}

func (hs *HostctlMCPServer) listResourcesHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	views, err := hs.backend.Resources(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list resources: %v", err)), nil
	}
	return jsonResult(map[string]interface{}{"count": len(views), "resources": views})
}

func (hs *HostctlMCPServer) getStateHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("resource_id")
	if err != nil {
		return mcp.NewToolResultError("resource_id argument is required"), nil
	}
	view, err := hs.backend.State(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(view)
}

func (hs *HostctlMCPServer) requestOperationHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("resource_id")
	if err != nil {
		return mcp.NewToolResultError("resource_id argument is required"), nil
	}
	raw, err := request.RequireString("operation")
	if err != nil {
		return mcp.NewToolResultError("operation argument is required"), nil
	}
	kind, err := model.ParseOperationKind(raw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	accepted, err := hs.backend.Request(ctx, id, kind)
	if accepted == nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(accepted)
}

func (hs *HostctlMCPServer) statusHandler(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	views, err := hs.backend.Resources(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	data, err := json.Marshal(map[string]interface{}{"count": len(views), "resources": views})
	if err != nil {
		return nil, errors.Wrap(err, "unable to encode status")
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      StatusUri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "unable to encode result")
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ControllerBackend serves the tools from an in-process controller.
type ControllerBackend struct {
	Controller *engine.Controller
}

func (b ControllerBackend) Resources(context.Context) ([]engine.StateView, error) {
	return b.Controller.Resources(), nil
}

func (b ControllerBackend) State(_ context.Context, resourceId string) (engine.StateView, error) {
	return b.Controller.GetState(resourceId)
}

func (b ControllerBackend) Request(ctx context.Context, resourceId string, kind model.OperationKind) (*engine.Accepted, error) {
	return b.Controller.RequestOperation(ctx, resourceId, kind)
}
