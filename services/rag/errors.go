package rag

import "errors"

var (
	// ErrLLMTransport marks failures reaching the Anthropic API. These are
	// fatal to the current query; domain-level misses never carry it.
	ErrLLMTransport = errors.New("llm transport failure")

	// ErrMissingToolName and ErrDuplicateTool are configuration defects
	// surfaced at registration time so startup stops instead of silently
	// shadowing a tool.
	ErrMissingToolName = errors.New("tool must have a name")
	ErrDuplicateTool   = errors.New("tool already registered")
)
