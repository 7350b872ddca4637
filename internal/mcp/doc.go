// Package mcp exposes the skill store and the reviewer desk as MCP tools.
//
// It uses the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp) and calls
// internal packages directly. Tools: skill_search, skill_get, skill_pending,
// skill_promote, skill_stats and, when a review desk is attached, review_pending
// and review_submit.
package mcp
