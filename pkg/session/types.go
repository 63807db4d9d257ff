// Package session persists chat sessions — the interactive, independently
// managed sibling surface to investigation tasks (models.Session). A
// session owns an ordered list of messages and survives process restarts,
// unlike the ephemeral per-investigation models.ChatHistory kept in memory
// by pkg/investigation for a single sub-agent call.
package session

import "github.com/agentkube/kroot-orchestrator/pkg/models"

// ListFilters narrows a session listing.
type ListFilters = models.SessionFilters
