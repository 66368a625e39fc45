// Package agent provides an agentic client for MCP tool servers backed
// by the Anthropic API.
//
// An [mcp.Registry] holds named server configurations and their live
// protocol clients; an [Agent] resolves one connected server per query,
// sanitizes its tool schemas for the completion API, and runs a bounded
// tool-use loop that feeds tool results back to the model until it
// answers in plain text.
//
// # Quick Start
//
//	reg := mcp.NewRegistry()
//	reg.UpsertServer("weather", mcp.ServerConfig{
//	    Transport: mcp.TransportSSE,
//	    URL:       "https://weather.example.com/sse",
//	})
//
//	a := agent.New(reg, agent.WithModel(anthropic.ModelClaudeSonnet4_5))
//	res, err := a.Query(ctx, agent.QueryRequest{
//	    Server: "weather",
//	    Prompt: "What's the forecast for Rotterdam tomorrow?",
//	})
//
// # Sub-packages
//
//   - [mcp] provides the server registry, protocol clients, and the
//     SSE / streamable-HTTP session transports.
//   - [permission] provides glob rules restricting which tools the
//     loop may dispatch.
package agent
