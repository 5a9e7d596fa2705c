package domain

// ToolGroups is the closed tool-group expansion table from spec.md §6.
// Unknown group names are not present here; callers must skip and log
// rather than fail open or closed (spec.md §4.1 step 4a/4b).
var ToolGroups = map[string][]string{
	"group:memory":     {"memory_search", "memory_get"},
	"group:web":        {"web_search", "web_fetch"},
	"group:fs":         {"read", "write", "edit", "apply_patch"},
	"group:runtime":    {"exec", "process"},
	"group:sessions":   {"sessions_list", "sessions_history", "sessions_send", "sessions_spawn", "subagents", "session_status"},
	"group:ui":         {"browser", "canvas"},
	"group:automation": {"cron", "gateway"},
	"group:messaging":  {"message"},
	"group:nodes":      {"nodes"},
}

// ToolAliases is the closed tool-name alias table from spec.md §6.
var ToolAliases = map[string]string{
	"bash":        "exec",
	"apply-patch": "apply_patch",
}
